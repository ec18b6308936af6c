// Package app wires configuration, stores, the job client and the
// services into one App shared by every cobra command.
package app

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"fabula/internal/config"
	"fabula/internal/services"
	"fabula/internal/store"
	"fabula/internal/store/primary"
	"fabula/internal/store/sqlite"
	"fabula/internal/store/vector"
)

type App struct {
	Config *config.Config
	Log    *logrus.Logger

	CatalogStore        store.CatalogStore
	RecommendationStore store.RecommendationStore
	RunStore            store.RunStore
	// VectorStore is nil unless engine.snapshot_vectors is enabled.
	VectorStore store.VectorStore
	JobClient   store.JobClient

	RecommendationService *services.RecommendationService
	CatalogService        *services.CatalogService

	// closers run in reverse registration order on Close.
	closers []func() error
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	app := &App{Config: cfg}

	if err := app.initLogger(); err != nil {
		return nil, err
	}
	if err := app.initPrimaryStore(ctx); err != nil {
		return nil, err
	}
	if err := app.initVectorStore(ctx); err != nil {
		app.cleanupPartialInit()
		return nil, err
	}
	if err := app.initJobClient(); err != nil {
		app.cleanupPartialInit()
		return nil, err
	}
	app.initServices()

	app.Log.WithFields(logrus.Fields{
		"driver":           cfg.Database.Driver,
		"snapshot_vectors": cfg.Engine.SnapshotVectors,
	}).Debug("application initialization complete")
	return app, nil
}

// Close releases every store and client the app opened, in reverse
// order. It is safe after a partial initialization.
func (a *App) Close() error {
	var firstErr error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Log.WithError(err).Warn("error during shutdown")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	a.closers = nil
	return firstErr
}

// --- Private Helper Methods ---

func (a *App) initLogger() error {
	log := logrus.New()
	level, err := logrus.ParseLevel(a.Config.Log.Level)
	if err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	log.SetLevel(level)
	if a.Config.Log.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	}
	a.Log = log
	return nil
}

func (a *App) initPrimaryStore(ctx context.Context) error {
	switch a.Config.Database.Driver {
	case "sqlite":
		st, err := sqlite.NewStore(a.Config.Database.SQLite.Path)
		if err != nil {
			return fmt.Errorf("init sqlite store: %w", err)
		}
		if err := st.EnsureSchema(ctx); err != nil {
			st.Close()
			return fmt.Errorf("init sqlite schema: %w", err)
		}
		a.CatalogStore = st
		a.RecommendationStore = st
		a.RunStore = st
		a.closers = append(a.closers, st.Close)
	default:
		ps, err := primary.NewPrimaryStore(ctx, a.Config.Database.Primary.DSN)
		if err != nil {
			return fmt.Errorf("init primary store: %w", err)
		}
		a.CatalogStore = ps
		a.RecommendationStore = ps
		a.RunStore = ps
		a.closers = append(a.closers, func() error {
			ps.Close()
			return nil
		})
	}
	return nil
}

func (a *App) initVectorStore(ctx context.Context) error {
	if !a.Config.Engine.SnapshotVectors {
		return nil
	}
	vs, err := vector.NewStore(ctx, a.Config.VectorDSN())
	if err != nil {
		return fmt.Errorf("init vector store: %w", err)
	}
	a.VectorStore = vs
	a.closers = append(a.closers, vs.Close)
	return nil
}

func (a *App) initJobClient() error {
	jc := store.NewAsynqJobClient(asynq.RedisClientOpt{
		Addr:     a.Config.Redis.Address,
		Password: a.Config.Redis.Password,
		DB:       a.Config.Redis.DB,
	}, a.Log)
	a.JobClient = jc
	a.closers = append(a.closers, jc.Close)
	return nil
}

func (a *App) initServices() {
	a.CatalogService = services.NewCatalogService(a.CatalogStore)
	a.RecommendationService = services.NewRecommendationService(services.RecommendationServiceDeps{
		Catalog:         a.CatalogStore,
		Recommendations: a.RecommendationStore,
		Runs:            a.RunStore,
		Vectors:         a.VectorStore,
		Config:          a.Config,
		Log:             a.Log,
	})
}

func (a *App) cleanupPartialInit() {
	if err := a.Close(); err != nil {
		a.Log.WithError(err).Warn("cleanup after failed initialization")
	}
}
