package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/akave-ai/incidentd/internal/model"
)

const (
	defaultListLimit   = 100
	defaultEventsLimit = 50
)

// IncidentStore persists incidents. Save on an incident with Version 0 inserts
// it (assigning an ID when unset); any other Save is a compare-and-swap on
// Version and returns model.ErrConflict when the stored row moved on.
type IncidentStore interface {
	// FindOpenBySignature returns the OPEN incident for service+hash whose
	// LastSeenAt is strictly after threshold, most recent first. nil when none.
	FindOpenBySignature(ctx context.Context, service, hash string, threshold time.Time) (*model.Incident, error)
	// FindByID returns nil, nil when the incident does not exist.
	FindByID(ctx context.Context, id uuid.UUID) (*model.Incident, error)
	Save(ctx context.Context, inc *model.Incident) error
	List(ctx context.Context, filter ListFilter) ([]model.Incident, error)
}

// EventStore is the append-only audit trail.
type EventStore interface {
	// Append assigns ID and CreatedAt.
	Append(ctx context.Context, ev *model.IncidentEvent) error
	// ListByIncident returns events newest OccurredAt first.
	ListByIncident(ctx context.Context, incidentID uuid.UUID, limit int) ([]model.IncidentEvent, error)
}

// SignatureLocker runs fn with exclusive access to one service+hash pair.
// The store handed to fn must be used for every read and write inside the scope.
type SignatureLocker interface {
	WithSignatureLock(ctx context.Context, service, hash string, fn func(IncidentStore) error) error
}

// ListFilter narrows List. Zero values mean "any".
type ListFilter struct {
	Status      model.Status
	ServiceName string
	Limit       int
}

// incidentOrder is the row order shared by every store: most recently seen
// first, ties broken by creation time and then id.
const incidentOrder = "last_seen_at DESC, created_at DESC, id"

// before reports whether a sorts ahead of b under incidentOrder.
func before(a, b *model.Incident) bool {
	if !a.LastSeenAt.Equal(b.LastSeenAt) {
		return a.LastSeenAt.After(b.LastSeenAt)
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID.String() < b.ID.String()
}

func (f ListFilter) limit() int {
	if f.Limit <= 0 {
		return defaultListLimit
	}
	return f.Limit
}

func eventsLimit(limit int) int {
	if limit <= 0 {
		return defaultEventsLimit
	}
	return limit
}

func lockKey(service, hash string) string {
	return service + "|" + hash
}
