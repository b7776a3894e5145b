// Package ingest queues raw event payloads from inputs and feeds them to the
// dedup engine on a fixed pool of workers.
package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/akave-ai/incidentd/internal/infrastructure/inputs"
	"github.com/akave-ai/incidentd/internal/metrics"
	"github.com/akave-ai/incidentd/internal/model"
)

// ErrClosed is returned by Insert after Stop.
var ErrClosed = errors.New("ingest pipeline stopped")

// Handler is what the workers call per decoded event; *dedup.Engine satisfies it.
type Handler interface {
	Handle(ctx context.Context, ev model.ErrorEvent) (*model.Incident, error)
}

// Options sizes the pipeline. Zero values fall back to defaults.
type Options struct {
	Workers   int
	QueueSize int
	Logger    zerolog.Logger
	Metrics   *metrics.Metrics
}

// Pipeline implements inputs.InputBuffer.
type Pipeline struct {
	handler Handler
	workers int
	logger  zerolog.Logger
	metrics *metrics.Metrics

	mu     sync.RWMutex
	queue  chan []byte
	closed bool
	group  *errgroup.Group
}

var _ inputs.InputBuffer = (*Pipeline)(nil)

// NewPipeline returns a stopped pipeline feeding h.
func NewPipeline(h Handler, opts Options) *Pipeline {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1
	}
	return &Pipeline{
		handler: h,
		workers: opts.Workers,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		queue:   make(chan []byte, opts.QueueSize),
	}
}

// Start launches the workers. Cancelling ctx does not abandon queued
// payloads; Stop drains them.
func (p *Pipeline) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.group != nil || p.closed {
		return
	}
	work := context.WithoutCancel(ctx)
	p.group = &errgroup.Group{}
	for n := 0; n < p.workers; n++ {
		p.group.Go(func() error {
			for payload := range p.queue {
				p.metrics.SetQueueDepth(len(p.queue))
				p.process(work, payload)
			}
			return nil
		})
	}
	p.logger.Info().Int("workers", p.workers).Int("queue_size", cap(p.queue)).Msg("ingest pipeline started")
}

// Insert queues payload without blocking. A full queue returns
// inputs.ErrBufferFull.
func (p *Pipeline) Insert(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	cp := make([]byte, len(payload))
	copy(cp, payload)
	select {
	case p.queue <- cp:
		p.metrics.SetQueueDepth(len(p.queue))
		return nil
	default:
		p.metrics.IngestFailure(metrics.StageEnqueue)
		return inputs.ErrBufferFull
	}
}

// Stop refuses new payloads and waits for the workers to drain the queue.
func (p *Pipeline) Stop() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	g := p.group
	p.mu.Unlock()

	if g == nil {
		return nil
	}
	err := g.Wait()
	p.metrics.SetQueueDepth(0)
	p.logger.Info().Msg("ingest pipeline drained")
	return err
}

func (p *Pipeline) process(ctx context.Context, payload []byte) {
	events, err := Decode(payload)
	if err != nil {
		p.metrics.IngestFailure(metrics.StageDecode)
		p.logger.Warn().Err(err).Int("bytes", len(payload)).Msg("drop undecodable payload")
		return
	}
	for _, ev := range events {
		inc, err := p.handler.Handle(ctx, ev)
		if err != nil {
			p.metrics.IngestFailure(metrics.StageHandle)
			level := zerolog.ErrorLevel
			if errors.Is(err, model.ErrInvalidArgument) {
				level = zerolog.WarnLevel
			}
			p.logger.WithLevel(level).Err(err).Str("service", ev.ServiceName).Msg("event not ingested")
			continue
		}
		p.logger.Debug().Str("incident_id", inc.ID.String()).Int64("occurrences", inc.OccurrenceCount).Msg("event ingested")
	}
}

// Decode accepts one JSON error event or a JSON array of them.
func Decode(payload []byte) ([]model.ErrorEvent, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty payload: %w", model.ErrInvalidArgument)
	}
	if trimmed[0] == '[' {
		var events []model.ErrorEvent
		if err := json.Unmarshal(trimmed, &events); err != nil {
			return nil, fmt.Errorf("decode event array: %v: %w", err, model.ErrInvalidArgument)
		}
		return events, nil
	}
	var ev model.ErrorEvent
	if err := json.Unmarshal(trimmed, &ev); err != nil {
		return nil, fmt.Errorf("decode event: %v: %w", err, model.ErrInvalidArgument)
	}
	return []model.ErrorEvent{ev}, nil
}
