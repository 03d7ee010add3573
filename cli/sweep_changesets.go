package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"osmcore.dev/changeset"
	"osmcore.dev/logging"
	"osmcore.dev/version"
)

var sweepChangesetsCmd = &cobra.Command{
	Use:   "sweep-changesets",
	Short: "close changesets that have gone idle or exceeded their max lifetime",
	Run:   runSweepChangesets,
}

func runSweepChangesets(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	log := logging.ServiceLogger("osmcore-sweep", version.GetModuleVersion())
	entry := logrus.NewEntry(logging.Logger)

	db, err := changeset.Open(cfg.ChangesetDSN)
	if err != nil {
		log.WithError(err).Fatal("failed to open changeset db")
	}
	if err := changeset.Migrate(db); err != nil {
		log.WithError(err).Fatal("failed to migrate changeset db")
	}

	mgr := changeset.New(db, changeset.Options{
		MaxChangesetSize: cfg.MaxChangesetSize,
		IdleTimeout:      cfg.ChangesetIdleTimeout,
		MaxLifetime:      cfg.ChangesetMaxLifetime,
	})

	sweeper := changeset.NewSweeper(mgr, sweepInterval(cfg.ChangesetIdleTimeout), entry)

	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		log.Info("shutting down")
		sweeper.Stop()
		cancel()
	}()

	sweeper.Run(ctx)
	fmt.Fprintln(os.Stdout, "osmcore sweep-changesets stopped")
}

// sweepInterval checks for idle/aged changesets at a quarter of the idle
// timeout, so a changeset is closed within one interval of going idle.
func sweepInterval(idleTimeout time.Duration) time.Duration {
	interval := idleTimeout / 4
	if interval < time.Second {
		return time.Second
	}
	return interval
}
