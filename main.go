package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"

	"tsflow/api/pkg/clients/blob"
	"tsflow/api/pkg/config"
	"tsflow/api/pkg/db"
	"tsflow/api/services/dag"
	"tsflow/api/services/datasets"
	"tsflow/api/services/operations"
	"tsflow/api/services/storage"
	"tsflow/api/services/workflow"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func setupLogger(cfg *config.Config) {
	logHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel(),
	})
	slog.SetDefault(slog.New(logHandler))
}

// app holds every wired component. close releases them in reverse order of
// creation.
type app struct {
	cfg      *config.Config
	pool     *pgxpool.Pool
	blobs    blob.Client
	store    *storage.PgStorage
	datasets *datasets.Store
	ops      *operations.Registry
	runner   *workflow.Runner
	workflow *workflow.Service

	closers []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func openBlobs(ctx context.Context, cfg *config.Config) (blob.Client, io.Closer, error) {
	switch cfg.Storage.Backend {
	case "gcs":
		c, err := blob.NewGCSClient(ctx, cfg.Storage.Bucket, cfg.Storage.CredentialsFile)
		if err != nil {
			return nil, nil, err
		}
		return c, c, nil
	default:
		c, err := blob.NewBadgerClient(blob.BadgerConfig{
			Path:       cfg.Storage.Path,
			InMemory:   cfg.Storage.InMemory,
			SyncWrites: true,
			GCInterval: cfg.Storage.GCInterval,
			Logger:     slog.Default(),
		})
		if err != nil {
			return nil, nil, err
		}
		return c, c, nil
	}
}

// newApp connects to PostgreSQL and the blob backend and wires the engine.
func newApp(ctx context.Context, cfg *config.Config) (_ *app, err error) {
	a := &app{cfg: cfg}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	dbCfg, err := cfg.DB()
	if err != nil {
		return nil, err
	}
	a.pool, err = db.Connect(ctx, dbCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	a.closers = append(a.closers, a.pool.Close)

	if cfg.Database.Migrate {
		if err := db.Migrate(ctx, a.pool); err != nil {
			return nil, err
		}
		slog.Info("database schema applied")
	}

	blobs, closer, err := openBlobs(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s blob store: %w", cfg.Storage.Backend, err)
	}
	a.blobs = blobs
	a.closers = append(a.closers, func() {
		if err := closer.Close(); err != nil {
			slog.Error("close blob store", "error", err)
		}
	})

	if a.store, err = storage.NewInstance(a.pool); err != nil {
		return nil, err
	}
	if a.datasets, err = datasets.NewStore(a.blobs, a.store, slog.Default()); err != nil {
		return nil, err
	}
	a.ops = operations.NewRegistry()

	gw, err := workflow.NewGateway(a.store, a.datasets)
	if err != nil {
		return nil, err
	}
	exec, err := dag.NewExecutor(a.ops, gw,
		dag.WithWorkers(cfg.Executor.Workers),
		dag.WithNodeTimeout(cfg.Executor.NodeTimeout),
		dag.WithLogger(slog.Default()),
	)
	if err != nil {
		return nil, err
	}
	if a.runner, err = workflow.NewRunner(exec, gw, slog.Default()); err != nil {
		return nil, err
	}
	if a.workflow, err = workflow.NewService(a.store, a.ops, a.datasets, a.runner); err != nil {
		return nil, err
	}
	return a, nil
}
