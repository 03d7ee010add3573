package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"osmcore.dev/httpapi"
	"osmcore.dev/httpserver"
	"osmcore.dev/logging"
	"osmcore.dev/materializer"
	"osmcore.dev/queryapi"
	"osmcore.dev/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "run the spatial materializer and the read-only HTTP facade",
	Run:   runServe,
}

// runServe starts the materializer's shard pool and an Echo server wrapping
// QueryAPI. Writes (commit.Pipeline) are a library surface for an external
// writer process, not something this daemon exposes over HTTP (no-auth
// read-only facade is an explicit scope boundary), so serve never
// constructs a Pipeline of its own.
func runServe(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	log := logging.ServiceLogger("osmcore", version.GetModuleVersion())
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

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return engine.Run(gctx) })

	api := queryapi.New(st, engine, queryapi.Config{MaxResults: cfg.MaxQueryResults})
	handler := httpapi.New(api, version.GetModuleVersion())

	httpCfg := httpserver.DefaultConfig()
	httpCfg.Port = cfg.HTTPPort
	e := httpserver.New(httpCfg)
	handler.RegisterRoutes(e.Group(""))
	engine.State().RegisterRoutes(e.Group("/debug"))

	g.Go(func() error { return httpserver.Start(gctx, e, httpCfg) })

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		log.Info("shutting down")
		cancel()
	}()

	if err := g.Wait(); err != nil && gctx.Err() == nil {
		log.WithError(err).Fatal("serve failed")
	}
	fmt.Fprintln(os.Stdout, "osmcore serve stopped")
}
