// Package agent owns the process-wide run lifecycle. A Services
// container wires the storage, routing, runtime, and event components
// from configuration; a Controller on top of it holds the singleton
// agent state and starts, stops, and reports pipeline runs.
package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/curator-ai/curator/internal/config"
	"github.com/curator-ai/curator/internal/db"
	"github.com/curator-ai/curator/internal/db/driver"
	"github.com/curator-ai/curator/internal/errors"
	"github.com/curator-ai/curator/internal/estimate"
	"github.com/curator-ai/curator/internal/events"
	"github.com/curator-ai/curator/internal/model"
	"github.com/curator-ai/curator/internal/model/backends"
	"github.com/curator-ai/curator/internal/orchestrator"
	"github.com/curator-ai/curator/internal/pipeline"
	"github.com/curator-ai/curator/internal/probe"
	"github.com/curator-ai/curator/internal/retry"
	"github.com/curator-ai/curator/internal/store"
	"github.com/curator-ai/curator/internal/telemetry"
)

// bridge is the common surface of the optional event broker bridges.
type bridge interface {
	Start(ctx context.Context)
	Close()
}

// Services is the wired component graph of one agent process. All
// cross-component state lives here; packages keep no mutable globals.
type Services struct {
	Config    *config.Config
	DB        *db.Store
	Items     *store.ItemStore
	Stats     *store.StatsStore
	Router    *model.Router
	Runtime   *orchestrator.Runtime
	Retries   *retry.Manager
	Estimator *estimate.Estimator
	Bus       events.Publisher
	Events    *events.PublishHelper
	Engine    *pipeline.Engine
	Prober    *probe.Prober
	Logger    *slog.Logger

	// Metrics and Telemetry are nil unless telemetry is enabled.
	Metrics   *telemetry.Metrics
	Telemetry *telemetry.Emitter

	bridges []bridge
}

// BuildOption adjusts service construction.
type BuildOption func(*buildOptions)

type buildOptions struct {
	backends map[string]model.Backend
	syncer   pipeline.Syncer
	store    *db.Store
}

// WithBackends replaces the backends built from provider config.
func WithBackends(b map[string]model.Backend) BuildOption {
	return func(o *buildOptions) { o.backends = b }
}

// WithSyncer sets the git-sync collaborator for the pipeline.
func WithSyncer(s pipeline.Syncer) BuildOption {
	return func(o *buildOptions) { o.syncer = s }
}

// WithStore uses an already-open store instead of opening one from the
// database config.
func WithStore(s *db.Store) BuildOption {
	return func(o *buildOptions) { o.store = s }
}

// Build wires the full component graph from configuration. The caller
// owns the result: Start it before use and Close it on shutdown.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...BuildOption) (*Services, error) {
	if cfg == nil {
		return nil, errors.ErrConfigMissing("config")
	}
	if logger == nil {
		logger = slog.Default()
	}
	var bo buildOptions
	for _, opt := range opts {
		opt(&bo)
	}

	dbs := bo.store
	if dbs == nil {
		var err error
		dbs, err = OpenStore(cfg)
		if err != nil {
			return nil, err
		}
	}

	items := store.NewItemStore(dbs, logger)
	stats := store.NewStatsStore(dbs)
	retries := retry.NewManager(cfg.Retry, logger)

	backendMap := bo.backends
	if backendMap == nil {
		backendMap = backends.Build(ctx, cfg, logger)
	}
	router := model.NewRouter(cfg.Models, backendMap, logger)

	estimator := estimate.NewEstimator(stats, logger,
		estimate.WithWindowSize(cfg.Estimates.WindowSize),
		estimate.WithSeeds(cfg.Estimates.Seeds))

	bus := events.NewPersistentPublisher(store.NewEventSink(dbs), "agent", logger,
		events.WithBatchSize(cfg.Events.PersistBatchSize),
		events.WithFlushInterval(cfg.Events.PersistFlushInterval))
	helper := events.NewPublishHelper(bus)

	runtime, err := orchestrator.NewRuntime(orchestrator.Options{
		Config: cfg.Runtime,
		Store:  dbs,
		Retry:  retries,
	})
	if err != nil {
		bus.Close()
		_ = dbs.Close()
		return nil, err
	}

	engine, err := pipeline.NewEngine(pipeline.Options{
		Config:    cfg,
		Items:     items,
		Stats:     stats,
		Router:    router,
		Runtime:   runtime,
		Retries:   retries,
		Estimator: estimator,
		DB:        dbs,
		Events:    helper,
		Syncer:    bo.syncer,
		Logger:    logger,
	})
	if err != nil {
		bus.Close()
		_ = dbs.Close()
		return nil, err
	}

	svc := &Services{
		Config:    cfg,
		DB:        dbs,
		Items:     items,
		Stats:     stats,
		Router:    router,
		Runtime:   runtime,
		Retries:   retries,
		Estimator: estimator,
		Bus:       bus,
		Events:    helper,
		Engine:    engine,
		Logger:    logger,
	}
	svc.Prober = probe.New(cfg, dbs, router, runtime)

	if cfg.Telemetry.Enabled {
		svc.Metrics = telemetry.New()
		svc.Telemetry = telemetry.NewEmitter(svc.Metrics, bus, svc.Prober, runtime, logger,
			telemetry.WithListen(cfg.Telemetry.Listen))
	}

	if ec := cfg.Events.Redis; ec.Enabled {
		rb, err := events.NewRedisBridge(bus, ec.Addr, ec.Channel, logger)
		if err != nil {
			logger.Warn("redis event bridge unavailable", "addr", ec.Addr, "error", err)
		} else {
			svc.bridges = append(svc.bridges, rb)
		}
	}
	if ec := cfg.Events.NATS; ec.Enabled {
		nb, err := events.NewNATSBridge(bus, ec.URL, ec.Subject, logger)
		if err != nil {
			logger.Warn("nats event bridge unavailable", "url", ec.URL, "error", err)
		} else {
			svc.bridges = append(svc.bridges, nb)
		}
	}

	return svc, nil
}

// Start brings up the task runtime and the event bridges. ctx is the
// base context jobs run under.
func (s *Services) Start(ctx context.Context) error {
	if err := s.Runtime.Start(ctx); err != nil {
		return err
	}
	for _, b := range s.bridges {
		b.Start(ctx)
	}
	if s.Telemetry != nil {
		if err := s.Telemetry.Start(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Close shuts the graph down in dependency order: telemetry and bridges
// first so no subscriber reads a closed bus, then the runtime, bus, and
// store.
func (s *Services) Close() {
	if s.Telemetry != nil {
		if err := s.Telemetry.Close(); err != nil {
			s.Logger.Warn("close telemetry", "error", err)
		}
	}
	for _, b := range s.bridges {
		b.Close()
	}
	s.Runtime.Stop()
	s.Bus.Close()
	if err := s.DB.Close(); err != nil {
		s.Logger.Warn("close store", "error", err)
	}
}

// OpenStore opens the configured database backend and migrates it.
// Read-only consumers such as the status and listing commands use it
// without building the rest of the service graph.
func OpenStore(cfg *config.Config) (*db.Store, error) {
	switch cfg.Database.Driver {
	case "", "sqlite":
		path := cfg.Database.SQLite.Path
		if path == "" {
			return db.OpenStore(".")
		}
		return db.OpenStoreWithDialect(path, driver.DialectSQLite)
	case "postgres":
		pc := cfg.Database.Postgres
		dsn := fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
			pc.Host, pc.Port, pc.Database, pc.User, pc.Password, pc.SSLMode)
		return db.OpenStoreWithDialect(dsn, driver.DialectPostgres)
	default:
		return nil, errors.ErrConfigInvalid("database.driver",
			fmt.Sprintf("unknown driver %q", cfg.Database.Driver))
	}
}
