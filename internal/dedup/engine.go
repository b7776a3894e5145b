// Package dedup folds incoming error events into incidents.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/akave-ai/incidentd/internal/metrics"
	"github.com/akave-ai/incidentd/internal/model"
	"github.com/akave-ai/incidentd/internal/repository"
	"github.com/akave-ai/incidentd/internal/signature"
)

// Window is how far back an OPEN incident may have last been seen and still
// absorb a new event. It slides: every merge moves LastSeenAt forward.
const Window = 5 * time.Minute

const defaultConflictRetries = 3

// Options tunes an Engine. Zero values are usable.
type Options struct {
	ConflictRetries int
	Clock           model.Clock
	Logger          zerolog.Logger
	Metrics         *metrics.Metrics

	// OnCreate runs after a new incident is persisted.
	OnCreate func(ctx context.Context, inc *model.Incident)
}

// Result reports what Handle did with an event.
type Result struct {
	Incident *model.Incident
	Created  bool
}

// Engine decides whether an event extends an OPEN incident or opens a new one.
type Engine struct {
	builder   *signature.Builder
	incidents repository.IncidentStore
	events    repository.EventStore
	opts      Options
}

// NewEngine wires an Engine. If incidents also implements
// repository.SignatureLocker, find-then-write runs inside its lock scope.
func NewEngine(builder *signature.Builder, incidents repository.IncidentStore, events repository.EventStore, opts Options) *Engine {
	if opts.ConflictRetries <= 0 {
		opts.ConflictRetries = defaultConflictRetries
	}
	if opts.Clock == nil {
		opts.Clock = model.SystemClock{}
	}
	return &Engine{builder: builder, incidents: incidents, events: events, opts: opts}
}

// Handle ingests ev and returns the incident it now belongs to.
func (e *Engine) Handle(ctx context.Context, ev model.ErrorEvent) (*model.Incident, error) {
	res, err := e.HandleEvent(ctx, ev)
	if err != nil {
		return nil, err
	}
	return res.Incident, nil
}

// HandleEvent is Handle that also reports whether a new incident was opened.
func (e *Engine) HandleEvent(ctx context.Context, ev model.ErrorEvent) (Result, error) {
	if err := ev.Validate(); err != nil {
		e.opts.Metrics.EventIngested(metrics.OutcomeRejected)
		return Result{}, err
	}

	sig := e.builder.FromStacktrace(ev.Stacktrace)
	threshold := ev.OccurredAt.Add(-Window)

	var res Result
	err := e.withLock(ctx, ev.ServiceName, sig.Hash(), func(store repository.IncidentStore) error {
		for attempt := 0; ; attempt++ {
			var err error
			res, err = e.upsert(ctx, store, ev, sig, threshold)
			if err == nil {
				return nil
			}
			if !errors.Is(err, model.ErrConflict) || attempt >= e.opts.ConflictRetries {
				return err
			}
			e.opts.Metrics.Conflict("dedup")
			e.opts.Logger.Debug().
				Str("service", ev.ServiceName).
				Str("signature", sig.Hash()).
				Int("attempt", attempt+1).
				Msg("incident changed concurrently, reloading")
		}
	})
	if err != nil {
		e.opts.Metrics.EventIngested(metrics.OutcomeFailed)
		return Result{}, fmt.Errorf("handle event for %s: %w", ev.ServiceName, err)
	}

	evType := model.EventIngested
	outcome := metrics.OutcomeMerged
	if res.Created {
		evType = model.EventIncidentCreated
		outcome = metrics.OutcomeCreated
	}
	e.appendEvent(ctx, res.Incident, evType, ev)
	e.opts.Metrics.EventIngested(outcome)

	if res.Created && e.opts.OnCreate != nil {
		e.opts.OnCreate(ctx, res.Incident)
	}
	return res, nil
}

func (e *Engine) withLock(ctx context.Context, service, hash string, fn func(repository.IncidentStore) error) error {
	if locker, ok := e.incidents.(repository.SignatureLocker); ok {
		return locker.WithSignatureLock(ctx, service, hash, fn)
	}
	return fn(e.incidents)
}

func (e *Engine) upsert(ctx context.Context, store repository.IncidentStore, ev model.ErrorEvent, sig signature.Signature, threshold time.Time) (Result, error) {
	existing, err := store.FindOpenBySignature(ctx, ev.ServiceName, sig.Hash(), threshold)
	if err != nil {
		return Result{}, err
	}
	now := e.opts.Clock.Now()

	if existing != nil {
		existing.RecordOccurrence(ev.OccurredAt, now)
		if err := store.Save(ctx, existing); err != nil {
			return Result{}, err
		}
		return Result{Incident: existing}, nil
	}

	inc := model.NewSignatureIncident(ev, sig.Hash(), ev.ExceptionClass, now)
	if err := store.Save(ctx, inc); err != nil {
		return Result{}, err
	}
	return Result{Incident: inc, Created: true}, nil
}

// appendEvent records the audit entry. The incident write already committed,
// so a failure here is logged and dropped.
func (e *Engine) appendEvent(ctx context.Context, inc *model.Incident, typ model.EventType, ev model.ErrorEvent) {
	if e.events == nil {
		return
	}
	err := e.events.Append(ctx, &model.IncidentEvent{
		IncidentID: inc.ID,
		Type:       typ,
		OccurredAt: ev.OccurredAt,
		TraceID:    ev.TraceID,
		Message:    ev.Message,
	})
	if err != nil {
		e.opts.Logger.Error().Err(err).
			Str("incident_id", inc.ID.String()).
			Str("event_type", string(typ)).
			Msg("append incident event failed")
	}
}
