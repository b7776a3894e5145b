package model

import (
	"time"

	"github.com/google/uuid"
)

// EventType names what an IncidentEvent records.
type EventType string

const (
	EventIncidentCreated EventType = "INCIDENT_CREATED"
	EventIngested        EventType = "EVENT_INGESTED"
	EventStatusChanged   EventType = "STATUS_CHANGED"
)

// IncidentEvent is one append-only audit record attached to an incident.
// CreatedAt is assigned by the store.
type IncidentEvent struct {
	ID         uuid.UUID `json:"id" db:"id"`
	IncidentID uuid.UUID `json:"incident_id" db:"incident_id"`
	Type       EventType `json:"type" db:"event_type"`
	Note       string    `json:"note,omitempty" db:"note"`
	OccurredAt time.Time `json:"occurred_at" db:"occurred_at"`
	TraceID    string    `json:"trace_id,omitempty" db:"trace_id"`
	Message    string    `json:"message,omitempty" db:"message"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time { return time.Now().UTC() }
