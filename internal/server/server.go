package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/akave-ai/incidentd/internal/config"
	"github.com/akave-ai/incidentd/internal/handler"
	"github.com/akave-ai/incidentd/internal/infrastructure/inputs"
	_ "github.com/akave-ai/incidentd/internal/infrastructure/inputs/httpinput"
	_ "github.com/akave-ai/incidentd/internal/infrastructure/inputs/kafkainput"
	"github.com/akave-ai/incidentd/internal/ingest"
	"github.com/akave-ai/incidentd/internal/response"
	"github.com/akave-ai/incidentd/internal/storage"
)

const ingestPrefix = "/ingest"

// IncidentAPI is the incident service as the server uses it.
type IncidentAPI interface {
	handler.IncidentOperations
	FailureRecorder
}

// Deps is everything the HTTP server needs. Pipeline, Archives, NewRelic and
// Gatherer are optional.
type Deps struct {
	Config    *config.Config
	Logger    zerolog.Logger
	NewRelic  *newrelic.Application
	Ingester  handler.EventIngester
	Incidents IncidentAPI
	Pipeline  *ingest.Pipeline
	Archives  *storage.O3Client
	Registry  *inputs.Registry
	Gatherer  prometheus.Gatherer
}

// Server holds the Echo app and the ingest inputs it runs.
type Server struct {
	Echo   *echo.Echo
	Config *config.Config

	logger      zerolog.Logger
	serviceName string
	failures    FailureRecorder
	registry    *inputs.Registry
	pipeline    *ingest.Pipeline
	dispatcher  *IngestDispatcher
	running     []inputs.MessageInput
}

// New builds the Echo server and registers routes.
func New(deps Deps) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	registry := deps.Registry
	if registry == nil {
		registry = inputs.GlobalRegistry
	}
	s := &Server{
		Echo:        e,
		Config:      deps.Config,
		logger:      deps.Logger,
		serviceName: deps.Config.Observability.ServiceName,
		failures:    deps.Incidents,
		registry:    registry,
		pipeline:    deps.Pipeline,
		dispatcher:  NewIngestDispatcher(ingestPrefix),
	}
	e.HTTPErrorHandler = s.errorHandler
	e.Use(traceID(), requestLogger(deps.Logger), recoverer(deps.Logger), newRelic(deps.NewRelic))
	if origins := deps.Config.Server.CORSAllowedOrigins; len(origins) > 0 {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins:  origins,
			ExposeHeaders: []string{response.TraceHeader},
		}))
	}

	incidents := &handler.IncidentHandler{
		Ingester:  deps.Ingester,
		Incidents: deps.Incidents,
		Archives:  deps.Archives,
	}
	inputHandler := &handler.InputHandler{Registry: registry}

	e.GET("/health", incidents.Health)
	if deps.Gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	api := e.Group("/api/v1")
	api.POST("/events", incidents.IngestEvent)
	api.GET("/incidents", incidents.ListIncidents)
	api.GET("/incidents/:id", incidents.GetIncident)
	api.GET("/incidents/:id/events", incidents.ListEvents)
	api.PATCH("/incidents/:id/status", incidents.ChangeStatus)
	api.GET("/inputs/types", inputHandler.ListTypes)
	api.GET("/inputs/types/:type", inputHandler.GetTypeInfo)
	api.GET("/archives", incidents.ListArchives)
	api.GET("/archives/content", incidents.GetArchive)

	e.Any(ingestPrefix+"/*", echo.WrapHandler(s.dispatcher))

	s.logger.Info().Strs("input_types", registry.ListRegistered()).Msg("routes registered")
	return s
}

// inputSpecs turns the ingest config into the inputs to start.
func (s *Server) inputSpecs() []inputs.InputSpec {
	cfg := s.Config.Ingest
	specs := inputs.HTTPSpecs(ingestPrefix, cfg.HTTPEndpoints)
	if cfg.Kafka.Enabled {
		specs = append(specs, inputs.InputSpec{
			Type:        "kafka",
			Description: cfg.Kafka.Topic,
			Config: inputs.Config{
				"brokers": cfg.Kafka.Brokers,
				"topic":   cfg.Kafka.Topic,
				"group":   cfg.Kafka.Group,
				"start":   cfg.Kafka.Start,
			},
		})
	}
	return specs
}

// startIngest starts the pipeline workers and every configured input.
func (s *Server) startIngest(ctx context.Context) error {
	if s.pipeline == nil {
		return nil
	}
	s.pipeline.Start(ctx)
	running, err := s.registry.StartAll(ctx, s.inputSpecs(), s.pipeline, s.logger, s.dispatcher.Mount)
	if err != nil {
		return errors.Join(err, s.pipeline.Stop())
	}
	s.running = running
	s.logger.Info().Strs("endpoints", s.dispatcher.Paths()).Int("inputs", len(running)).Msg("ingest inputs started")
	return nil
}

// Start serves HTTP until ctx is cancelled or the listener fails, then shuts down.
func (s *Server) Start(ctx context.Context) error {
	if err := s.startIngest(ctx); err != nil {
		return err
	}

	srv := s.Config.Server
	s.Echo.Server.ReadTimeout = time.Duration(srv.ReadTimeout) * time.Second
	s.Echo.Server.WriteTimeout = time.Duration(srv.WriteTimeout) * time.Second
	s.Echo.Server.IdleTimeout = time.Duration(srv.IdleTimeout) * time.Second

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + srv.Port
		s.logger.Info().Str("addr", addr).Msg("http server listening")
		errCh <- s.Echo.Start(addr)
	}()

	select {
	case err := <-errCh:
		shutdownErr := s.Shutdown(context.Background())
		if errors.Is(err, http.ErrServerClosed) {
			return shutdownErr
		}
		return errors.Join(fmt.Errorf("http server: %w", err), shutdownErr)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	}
}

// Shutdown stops accepting requests, stops the inputs, then drains the ingest queue.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.Echo.Shutdown(ctx)
	for _, in := range s.running {
		if ep, ok := in.(inputs.HTTPEndpointInput); ok {
			s.dispatcher.Unmount(ep.Path())
		}
	}
	err = errors.Join(err, inputs.StopAll(s.running))
	s.running = nil
	if s.pipeline != nil {
		err = errors.Join(err, s.pipeline.Stop())
	}
	return err
}
