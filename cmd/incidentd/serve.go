package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/akave-ai/incidentd/internal/config"
	"github.com/akave-ai/incidentd/internal/database"
	"github.com/akave-ai/incidentd/internal/dedup"
	"github.com/akave-ai/incidentd/internal/ingest"
	"github.com/akave-ai/incidentd/internal/logger"
	"github.com/akave-ai/incidentd/internal/metrics"
	"github.com/akave-ai/incidentd/internal/model"
	"github.com/akave-ai/incidentd/internal/repository"
	"github.com/akave-ai/incidentd/internal/server"
	"github.com/akave-ai/incidentd/internal/service"
	"github.com/akave-ai/incidentd/internal/signature"
	"github.com/akave-ai/incidentd/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the configured ingest inputs",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// stores is the persistence backend picked by database.driver.
type stores struct {
	incidents repository.IncidentStore
	events    repository.EventStore
	close     func()
}

func openStores(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*stores, error) {
	switch cfg.Database.Driver {
	case "postgres":
		if err := database.Migrate(ctx, cfg.Database.DSN(), log); err != nil {
			return nil, fmt.Errorf("migrations: %w", err)
		}
		pool, err := database.NewPool(ctx, cfg.Database, log)
		if err != nil {
			return nil, fmt.Errorf("database pool: %w", err)
		}
		return &stores{
			incidents: repository.NewIncidentRepository(pool),
			events:    repository.NewEventRepository(pool),
			close:     pool.Close,
		}, nil
	case "sqlite":
		db, err := repository.OpenSQLite(cfg.Database.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("sqlite: %w", err)
		}
		return &stores{incidents: db, events: db, close: func() { _ = db.Close() }}, nil
	default:
		log.Warn().Msg("using in-memory store; incidents are lost on restart")
		mem := repository.NewMemoryStore()
		return &stores{incidents: mem, events: mem, close: func() {}}, nil
	}
}

func builderConfig(cfg config.SignatureConfig) signature.Config {
	out := signature.Config{
		TopFrames:             cfg.TopFrames,
		IncludeLineNumber:     cfg.IncludeLineNumber,
		FilterStdlibFrames:    cfg.FilterStdlibFrames,
		FilterFrameworkFrames: cfg.FilterFrameworkFrames,
	}
	if len(cfg.ExtraPrefixes) > 0 {
		out.ExtraFilters = []signature.Filter{{Name: "configured", Prefixes: cfg.ExtraPrefixes}}
	}
	return out
}

// reportCreated sends an incident_created custom event to New Relic.
func reportCreated(app *newrelic.Application) func(context.Context, *model.Incident) {
	if app == nil {
		return nil
	}
	return func(_ context.Context, inc *model.Incident) {
		app.RecordCustomEvent("incident_created", map[string]any{
			"incident_id":     inc.ID.String(),
			"service_name":    inc.ServiceName,
			"signature_hash":  inc.SignatureHash,
			"exception_class": inc.ExceptionClassName,
		})
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	ls, err := logger.New(cfg.Observability)
	if err != nil {
		return err
	}
	defer ls.Shutdown()
	log := ls.Logger

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.close()

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(promReg)

	builder, err := signature.NewBuilder(builderConfig(cfg.Signature))
	if err != nil {
		return err
	}

	svcOpts := service.Options{ConflictRetries: cfg.Dedup.ConflictRetries, Logger: log, Metrics: m}
	var o3 *storage.O3Client
	if cfg.Storage != nil {
		if o3, err = storage.NewO3Client(cfg.Storage.O3); err != nil {
			return fmt.Errorf("o3 client: %w", err)
		}
	}
	if o3 != nil {
		if err := o3.EnsureBucket(ctx); err != nil {
			log.Warn().Err(err).Msg("o3 ensure bucket failed; archiving may fail")
		}
		svcOpts.Archiver = o3
	}

	engine := dedup.NewEngine(builder, st.incidents, st.events, dedup.Options{
		ConflictRetries: cfg.Dedup.ConflictRetries,
		Logger:          log.With().Str("component", "dedup").Logger(),
		Metrics:         m,
		OnCreate:        reportCreated(ls.NR),
	})
	incidents := service.NewIncidentService(st.incidents, st.events, svcOpts)
	pipeline := ingest.NewPipeline(engine, ingest.Options{
		Workers:   cfg.Ingest.Workers,
		QueueSize: cfg.Ingest.QueueSize,
		Logger:    log.With().Str("component", "ingest").Logger(),
		Metrics:   m,
	})

	srv := server.New(server.Deps{
		Config:    cfg,
		Logger:    log,
		NewRelic:  ls.NR,
		Ingester:  engine,
		Incidents: incidents,
		Pipeline:  pipeline,
		Archives:  o3,
		Gatherer:  promReg,
	})
	return srv.Start(ctx)
}
