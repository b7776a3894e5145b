package httpinput

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/akave-ai/incidentd/internal/infrastructure/inputs"
)

const maxBodyBytes = 1 << 20

// Input is an HTTP ingest endpoint that hands request bodies to an InputBuffer.
// It does not depend on the backend (store, engine, handlers).
type Input struct {
	path       string
	listenAddr string
	buffer     inputs.InputBuffer
	logger     zerolog.Logger
	server     *http.Server
}

// NewInput creates an HTTP input. listenAddr is optional; if set, Start binds to that address.
func NewInput(basePath, description string, buffer inputs.InputBuffer, listenAddr string, logger zerolog.Logger) *Input {
	basePath = "/" + strings.Trim(strings.TrimSpace(basePath), "/")
	desc := strings.Trim(strings.TrimSpace(description), "/")
	return &Input{
		path:       strings.TrimSuffix(basePath, "/") + "/" + desc,
		listenAddr: listenAddr,
		buffer:     buffer,
		logger:     logger,
	}
}

// Path is where the dispatcher mounts the handler.
func (i *Input) Path() string { return i.path }

// Handler accepts POSTed event payloads.
func (i *Input) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			http.Error(w, "read error", http.StatusBadRequest)
			return
		}
		if len(body) == 0 || !json.Valid(body) {
			http.Error(w, "body must be a JSON event or array of events", http.StatusBadRequest)
			return
		}

		err = i.buffer.Insert(r.Context(), body)
		switch {
		case err == nil:
			w.WriteHeader(http.StatusAccepted)
		case errors.Is(err, inputs.ErrBufferFull), errors.Is(err, context.Canceled):
			w.Header().Set("Retry-After", "1")
			http.Error(w, "ingest queue full", http.StatusServiceUnavailable)
		default:
			i.logger.Error().Err(err).Str("path", i.path).Msg("buffer insert failed")
			http.Error(w, "ingest failed", http.StatusInternalServerError)
		}
		i.logger.Debug().Str("path", i.path).Int("bytes", len(body)).Err(err).Msg("ingest request")
	})
}

func (i *Input) Start(context.Context) error {
	if i.listenAddr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle(i.path, i.Handler())
	i.server = &http.Server{
		Addr:              i.listenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := i.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			i.logger.Error().Err(err).Str("listen", i.listenAddr).Msg("ingest listener stopped")
		}
	}()
	i.logger.Info().Str("listen", i.listenAddr).Str("path", i.path).Msg("ingest listening")
	return nil
}

func (i *Input) Stop() error {
	if i.server != nil {
		return i.server.Close()
	}
	return nil
}
