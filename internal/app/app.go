// Package app wires configuration, storage and the pipeline components
// together and manages the service lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	"golang.org/x/sync/errgroup"

	"github.com/edgard/bizcircle/internal/config"
	"github.com/edgard/bizcircle/internal/database"
	"github.com/edgard/bizcircle/internal/extractor"
	"github.com/edgard/bizcircle/internal/identity"
	"github.com/edgard/bizcircle/internal/pipeline"
	"github.com/edgard/bizcircle/internal/scheduler"
	"github.com/edgard/bizcircle/internal/tasks"
)

// App holds the components shared by every command.
type App struct {
	Config *config.Config
	Logger *slog.Logger
	DB     *sqlx.DB
	Store  database.Store
}

// New opens the database, applies migrations and creates the store.
func New(cfg *config.Config, log *slog.Logger) (*App, error) {
	db, err := database.NewDB(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return &App{
		Config: cfg,
		Logger: log,
		DB:     db,
		Store:  database.NewStore(db, log, cfg.Database.PartitionSpan),
	}, nil
}

// Close releases the database.
func (a *App) Close() {
	database.CloseDB(a.DB)
}

// Orchestrator creates the pipeline orchestrator with the configured
// extraction service.
func (a *App) Orchestrator(ctx context.Context) (*pipeline.Orchestrator, error) {
	service, err := extractor.NewService(ctx, a.Config.Extractor, a.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create extraction service: %w", err)
	}
	return pipeline.NewOrchestrator(pipeline.Deps{
		Store:     a.Store,
		Extractor: extractor.NewAdapter(service, a.Logger),
		Resolver:  identity.NewResolver(a.Store, a.Logger),
		Config:    a.Config.Pipeline,
		Logger:    a.Logger,
	}), nil
}

// Importer creates the CSV importer.
func (a *App) Importer() *identity.Importer {
	return identity.NewImporter(a.Store, a.Logger)
}

// Serve runs the scheduled tasks until ctx is cancelled or the scheduler fails.
func (a *App) Serve(ctx context.Context) error {
	log := a.Logger
	log.Info("Starting service...")

	orch, err := a.Orchestrator(ctx)
	if err != nil {
		return err
	}
	taskMap := tasks.RegisterAllTasks(tasks.TaskDeps{
		Logger:   log,
		Store:    a.Store,
		Pipeline: orch,
	})
	sched, err := scheduler.NewScheduler(log, &a.Config.Scheduler, taskMap)
	if err != nil {
		return err
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := a.Store.Ping(gCtx); err != nil {
			return fmt.Errorf("database is not reachable: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		log.Info("Starting scheduler...")
		if err := sched.Start(gCtx); err != nil {
			log.Error("Failed to start scheduler", "error", err)
			return fmt.Errorf("failed to start scheduler: %w", err)
		}

		<-gCtx.Done()
		log.Info("Shutdown signal received, stopping scheduler...")

		if err := sched.Stop(); err != nil {
			log.Error("Error stopping scheduler", "error", err)
		}
		return nil
	})

	log.Info("Service running. Waiting for shutdown signal or error...")
	err = g.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error("Service stopped due to error", "error", err)
		return err
	}

	log.Info("Service stopped gracefully.")
	return nil
}
