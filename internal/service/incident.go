// Package service holds operator-facing incident operations.
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/akave-ai/incidentd/internal/metrics"
	"github.com/akave-ai/incidentd/internal/model"
	"github.com/akave-ai/incidentd/internal/repository"
)

const defaultConflictRetries = 3

// Archiver stores a closed incident and its history outside the primary store.
type Archiver interface {
	ArchiveIncident(ctx context.Context, inc *model.Incident, events []model.IncidentEvent) (string, error)
}

// Options tunes an IncidentService. Zero values are usable.
type Options struct {
	ConflictRetries int
	Clock           model.Clock
	Logger          zerolog.Logger
	Metrics         *metrics.Metrics
	Archiver        Archiver
}

// IncidentService applies operator actions and serves incident queries.
type IncidentService struct {
	incidents repository.IncidentStore
	events    repository.EventStore
	opts      Options
}

// NewIncidentService wires the service to its stores. Zero Options are usable.
func NewIncidentService(incidents repository.IncidentStore, events repository.EventStore, opts Options) *IncidentService {
	if opts.ConflictRetries <= 0 {
		opts.ConflictRetries = defaultConflictRetries
	}
	if opts.Clock == nil {
		opts.Clock = model.SystemClock{}
	}
	return &IncidentService{incidents: incidents, events: events, opts: opts}
}

// ChangeStatus moves incident id to next. Illegal transitions are returned
// unchanged; lost compare-and-swap races reload and try again.
func (s *IncidentService) ChangeStatus(ctx context.Context, id uuid.UUID, next model.Status, note string) (*model.Incident, error) {
	for attempt := 0; ; attempt++ {
		inc, err := s.incidents.FindByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if inc == nil {
			return nil, fmt.Errorf("incident %s: %w", id, model.ErrNotFound)
		}

		from := inc.Status
		if err := inc.TransitionTo(next, note, s.opts.Clock.Now()); err != nil {
			return nil, err
		}
		if from == inc.Status {
			return inc, nil
		}

		err = s.incidents.Save(ctx, inc)
		if err == nil {
			s.afterTransition(ctx, inc, from, note)
			return inc, nil
		}
		if !errors.Is(err, model.ErrConflict) || attempt >= s.opts.ConflictRetries {
			return nil, err
		}
		s.opts.Metrics.Conflict("change_status")
		s.opts.Logger.Debug().Str("incident_id", id.String()).Int("attempt", attempt+1).Msg("status change raced, reloading")
	}
}

func (s *IncidentService) afterTransition(ctx context.Context, inc *model.Incident, from model.Status, note string) {
	s.opts.Metrics.Transition(string(from), string(inc.Status))
	s.opts.Logger.Info().
		Str("incident_id", inc.ID.String()).
		Str("from", string(from)).
		Str("to", string(inc.Status)).
		Msg("incident status changed")

	if s.events != nil {
		err := s.events.Append(ctx, &model.IncidentEvent{
			IncidentID: inc.ID,
			Type:       model.EventStatusChanged,
			Note:       fmt.Sprintf("%s -> %s%s", from, inc.Status, noteSuffix(note)),
			OccurredAt: inc.UpdatedAt,
		})
		if err != nil {
			s.opts.Logger.Error().Err(err).Str("incident_id", inc.ID.String()).Msg("append status event failed")
		}
	}

	if inc.Status.IsTerminal() {
		s.archive(ctx, inc)
	}
}

// archive is best-effort; a closed incident stays closed even if the upload fails.
func (s *IncidentService) archive(ctx context.Context, inc *model.Incident) {
	if s.opts.Archiver == nil {
		return
	}
	var history []model.IncidentEvent
	if s.events != nil {
		var err error
		if history, err = s.events.ListByIncident(ctx, inc.ID, 0); err != nil {
			s.opts.Logger.Warn().Err(err).Str("incident_id", inc.ID.String()).Msg("load history for archive")
		}
	}
	key, err := s.opts.Archiver.ArchiveIncident(ctx, inc, history)
	if err != nil {
		s.opts.Logger.Error().Err(err).Str("incident_id", inc.ID.String()).Msg("archive incident failed")
		return
	}
	s.opts.Logger.Info().Str("incident_id", inc.ID.String()).Str("key", key).Msg("incident archived")
}

// RecordRequestFailure opens a request-failure incident for one failed HTTP request.
func (s *IncidentService) RecordRequestFailure(ctx context.Context, in model.RequestIncidentInput) (*model.Incident, error) {
	if in.ServiceName == "" {
		return nil, fmt.Errorf("request incident needs a service name: %w", model.ErrInvalidArgument)
	}
	inc := model.NewRequestIncident(in, s.opts.Clock.Now())
	if err := s.incidents.Save(ctx, inc); err != nil {
		return nil, fmt.Errorf("save request incident: %w", err)
	}
	if s.events != nil {
		err := s.events.Append(ctx, &model.IncidentEvent{
			IncidentID: inc.ID,
			Type:       model.EventIncidentCreated,
			OccurredAt: inc.FirstSeenAt,
			TraceID:    in.TraceID,
			Message:    in.Message,
		})
		if err != nil {
			s.opts.Logger.Error().Err(err).Str("incident_id", inc.ID.String()).Msg("append request incident event failed")
		}
	}
	return inc, nil
}

// Get returns one incident or model.ErrNotFound.
func (s *IncidentService) Get(ctx context.Context, id uuid.UUID) (*model.Incident, error) {
	inc, err := s.incidents.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if inc == nil {
		return nil, fmt.Errorf("incident %s: %w", id, model.ErrNotFound)
	}
	return inc, nil
}

// List returns incidents matching filter, most recently seen first.
func (s *IncidentService) List(ctx context.Context, filter repository.ListFilter) ([]model.Incident, error) {
	return s.incidents.List(ctx, filter)
}

// Events returns the audit trail of an existing incident, newest first.
func (s *IncidentService) Events(ctx context.Context, id uuid.UUID, limit int) ([]model.IncidentEvent, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	if s.events == nil {
		return nil, nil
	}
	return s.events.ListByIncident(ctx, id, limit)
}

func noteSuffix(note string) string {
	if note == "" {
		return ""
	}
	return ": " + note
}
