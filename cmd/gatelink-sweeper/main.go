// gatelink-sweeper runs the invite retention sweep as a standalone job for
// deployments that prefer an external scheduler over the in-process loop.
// Expired invites older than the retention window are deleted, consumed or
// not; everything younger stays visible for audit.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/cpike5/gatelink/pkg/storage"
	"github.com/cpike5/gatelink/pkg/storage/postgres"
)

var (
	dbURL     = flag.String("db-url", getEnv("GATELINK_POSTGRES_URL", "postgres://localhost/gatelink?sslmode=disable"), "PostgreSQL connection URL")
	schedule  = flag.String("schedule", "0 * * * *", "Cron schedule for the retention sweep (default: hourly)")
	retention = flag.Duration("retention", 7*24*time.Hour, "How long expired invites are kept before deletion")
	runOnce   = flag.Bool("run-once", false, "Run one sweep and exit")
)

func main() {
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	if *retention <= 0 {
		log.Fatal("retention must be positive")
	}

	db, err := postgres.Open(storage.Config{
		PostgresURL:      *dbURL,
		PostgresMaxConns: 2,
		PostgresMinConns: 1,
		PostgresTimeout:  10 * time.Second,
	})
	if err != nil {
		log.WithError(err).Fatal("failed to connect to database")
	}
	defer db.Close()

	store := postgres.NewStore(db)

	if *runOnce {
		if err := sweep(context.Background(), store, *retention, log); err != nil {
			log.WithError(err).Fatal("sweep failed")
		}
		return
	}

	c := cron.New()
	_, err = c.AddFunc(*schedule, func() {
		if err := sweep(context.Background(), store, *retention, log); err != nil {
			log.WithError(err).Error("sweep failed")
		}
	})
	if err != nil {
		log.WithError(err).Fatal("failed to schedule sweep")
	}

	c.Start()
	log.WithFields(logrus.Fields{
		"schedule":  *schedule,
		"retention": retention.String(),
	}).Info("gatelink sweeper started")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	ctx := c.Stop()
	<-ctx.Done()
	log.Info("gatelink sweeper stopped")
}

func sweep(ctx context.Context, store *postgres.Store, retention time.Duration, log *logrus.Logger) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	cutoff := time.Now().UTC().Add(-retention)
	removed, err := store.DeleteExpiredBefore(ctx, cutoff)
	if err != nil {
		return err
	}

	log.WithFields(logrus.Fields{
		"removed": removed,
		"cutoff":  cutoff.Format(time.RFC3339),
	}).Info("retention sweep completed")
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
