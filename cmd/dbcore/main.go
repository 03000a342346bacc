// Command dbcore wires a Database end to end: it loads configuration,
// selects a blob store backend, starts the metrics endpoint, opens the
// default branch, and runs a small smoke sequence through it. It exists
// to exercise the wiring, not as a user-facing CLI.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/embedgraph/core/db"
	"github.com/embedgraph/core/internal/blobstore"
	"github.com/embedgraph/core/internal/config"
	"github.com/embedgraph/core/internal/logging"
	"github.com/embedgraph/core/internal/metrics"
	"github.com/embedgraph/core/internal/query"
)

func main() {
	if err := run(); err != nil {
		slog.Error("dbcore exited with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.NewConfig()

	logger, cleanup, err := logging.Setup(logging.Config{
		Level:         cfg.Server.LogLevel,
		FilePath:      logging.DefaultLogPath(),
		MaxSizeMB:     10,
		MaxFiles:      5,
		WriteToStderr: true,
	})
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	defer cleanup()
	slog.SetDefault(logger)

	adapter, err := newAdapter(cfg)
	if err != nil {
		return fmt.Errorf("build blob store adapter: %w", err)
	}

	reg := metrics.NewRegistry()
	metricsServer := metrics.NewServer(cfg.Server.MetricsAddr, reg)
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil {
			slog.Error("metrics server stopped", "error", err)
		}
	}()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(ctx)
	}()

	ctx := context.Background()
	database, err := db.Open(ctx, cfg, adapter, reg)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer database.Close()

	branch, err := database.Branch(ctx, db.DefaultBranch)
	if err != nil {
		return fmt.Errorf("open default branch: %w", err)
	}

	if err := smokeTest(ctx, branch); err != nil {
		return fmt.Errorf("smoke test: %w", err)
	}

	slog.Info("dbcore smoke test completed")
	return nil
}

// newAdapter selects and constructs the configured Blob Store Adapter
// backend, wrapping it with transient-error retry (spec.md §4.1, §5).
func newAdapter(cfg *config.Config) (blobstore.Adapter, error) {
	var inner blobstore.Adapter
	var err error

	switch cfg.Storage.Backend {
	case "memory":
		inner = blobstore.NewMemoryAdapter()
	case "s3":
		inner, err = blobstore.NewS3Adapter(context.Background(),
			cfg.Storage.S3.Bucket, cfg.Storage.S3.Region, cfg.Storage.S3.Endpoint, cfg.Storage.S3.Prefix)
	default:
		inner, err = blobstore.NewLocalAdapter(cfg.Storage.RootDir)
	}
	if err != nil {
		return nil, err
	}

	return blobstore.NewRetryingAdapter(inner, blobstore.RetryConfig{
		MaxAttempts:  cfg.Storage.Retry.MaxAttempts,
		InitialDelay: cfg.Storage.Retry.InitialDelay,
		MaxDelay:     cfg.Storage.Retry.MaxDelay,
	}), nil
}

// smokeTest exercises add/relate/search/statistics against branch so a
// fresh deployment's wiring is verified before serving real traffic.
func smokeTest(ctx context.Context, branch *db.Branch) error {
	alice, err := branch.Add(ctx, db.NounInput{
		Type:     "Concept",
		Vector:   []float32{1, 0, 0, 0},
		Metadata: map[string]any{"label": "alice"},
	})
	if err != nil {
		return err
	}

	bob, err := branch.Add(ctx, db.NounInput{
		Type:     "Concept",
		Vector:   []float32{0.9, 0.1, 0, 0},
		Metadata: map[string]any{"label": "bob"},
	})
	if err != nil {
		return err
	}

	if _, err := branch.Relate(ctx, db.VerbInput{
		SourceID: alice.ID,
		TargetID: bob.ID,
		Type:     "knows",
		Weight:   1,
	}); err != nil {
		return err
	}

	stats, err := branch.Statistics()
	if err != nil {
		return err
	}
	slog.Info("branch statistics", "nouns", stats.NounCount, "verbs", stats.VerbCount)

	result, err := branch.Search(ctx, query.Plan{
		NounType: "Concept",
		Vector:   &query.VectorQuery{Query: []float32{1, 0, 0, 0}, K: 5},
		Weights:  query.Weights{Vector: 1},
		Limit:    5,
	})
	if err != nil {
		return err
	}
	slog.Info("search completed", "hits", len(result.Hits))
	return nil
}
