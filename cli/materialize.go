package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"osmcore.dev/logging"
	"osmcore.dev/materializer"
	"osmcore.dev/version"
)

var materializeCmd = &cobra.Command{
	Use:   "materialize",
	Short: "run the spatial materializer only, with no HTTP facade",
	Run:   runMaterialize,
}

func runMaterialize(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	log := logging.ServiceLogger("osmcore-materialize", version.GetModuleVersion())
	entry := logrus.NewEntry(logging.Logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := openStore(ctx, cfg)
	if err != nil {
		log.WithError(err).Fatal("failed to open store")
	}
	defer st.Close()

	rdb := openRedis(cfg)
	defer rdb.Close()

	engine := materializer.NewEngine(materializer.EngineConfig{
		Shards:            cfg.MaterializerShards,
		BatchMax:          cfg.BatchMax,
		BatchSeqWindow:    storeSequenceID(cfg.BatchSequenceWindow),
		VisibilityTimeout: cfg.VisibilityTimeout,
		PollInterval:      cfg.VisibilityTimeout / 4,
		RelationMaxDepth:  cfg.RelationMaxDepth,
		Build: materializer.BuildConfig{
			ReferencePolicy: cfg.MaterializerReferencePolicy(),
		},
	}, st, rdb, entry)

	if l := startCommitListener(ctx, st, engine, entry); l != nil {
		defer l.Stop()
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		log.Info("shutting down")
		cancel()
	}()

	if err := engine.Run(ctx); err != nil && ctx.Err() == nil {
		log.WithError(err).Fatal("materialize failed")
	}
	fmt.Fprintln(os.Stdout, "osmcore materialize stopped")
}
