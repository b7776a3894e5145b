package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind tells the two incident shapes apart.
type Kind string

const (
	// KindSignature incidents are grouped by stack-trace fingerprint.
	KindSignature Kind = "signature"
	// KindRequest incidents record one failed HTTP request each.
	KindRequest Kind = "request"
)

// RequestFailure holds the request-path fields of a KindRequest incident.
type RequestFailure struct {
	Category   string `json:"category" db:"category"`
	Severity   string `json:"severity" db:"severity"`
	StatusCode int    `json:"status_code" db:"status_code"`
	Method     string `json:"method" db:"method"`
	Path       string `json:"path" db:"path"`
}

// Incident is one distinct recurring failure.
type Incident struct {
	ID                 uuid.UUID       `json:"id" db:"id"`
	Kind               Kind            `json:"kind" db:"kind"`
	ServiceName        string          `json:"service_name" db:"service_name"`
	SignatureHash      string          `json:"signature_hash,omitempty" db:"signature_hash"`
	ExceptionClassName string          `json:"exception_class_name,omitempty" db:"exception_class_name"`
	FirstSeenAt        time.Time       `json:"first_seen_at" db:"first_seen_at"`
	LastSeenAt         time.Time       `json:"last_seen_at" db:"last_seen_at"`
	OccurrenceCount    int64           `json:"occurrence_count" db:"occurrence_count"`
	PrimaryTraceID     string          `json:"primary_trace_id,omitempty" db:"primary_trace_id"`
	SampleMessage      string          `json:"sample_message,omitempty" db:"sample_message"`
	Status             Status          `json:"status" db:"status"`
	CreatedAt          time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at" db:"updated_at"`
	AcknowledgedAt     *time.Time      `json:"acknowledged_at,omitempty" db:"acknowledged_at"`
	ResolvedAt         *time.Time      `json:"resolved_at,omitempty" db:"resolved_at"`
	ResolutionNote     string          `json:"resolution_note,omitempty" db:"resolution_note"`
	Version            int64           `json:"version" db:"version"`
	Request            *RequestFailure `json:"request,omitempty"`
}

// NewSignatureIncident opens an incident for the first event of a signature.
func NewSignatureIncident(ev ErrorEvent, hash, className string, now time.Time) *Incident {
	return &Incident{
		Kind:               KindSignature,
		ServiceName:        ev.ServiceName,
		SignatureHash:      hash,
		ExceptionClassName: className,
		FirstSeenAt:        ev.OccurredAt,
		LastSeenAt:         ev.OccurredAt,
		OccurrenceCount:    1,
		PrimaryTraceID:     normalize(ev.TraceID),
		SampleMessage:      normalize(ev.Message),
		Status:             StatusOpen,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

// RequestIncidentInput describes a failed request.
type RequestIncidentInput struct {
	ServiceName string
	TraceID     string
	Message     string
	Failure     RequestFailure
}

// NewRequestIncident opens a request-failure incident at now.
func NewRequestIncident(in RequestIncidentInput, now time.Time) *Incident {
	failure := in.Failure
	return &Incident{
		Kind:            KindRequest,
		ServiceName:     in.ServiceName,
		FirstSeenAt:     now,
		LastSeenAt:      now,
		OccurrenceCount: 1,
		PrimaryTraceID:  normalize(in.TraceID),
		SampleMessage:   normalize(in.Message),
		Status:          StatusOpen,
		CreatedAt:       now,
		UpdatedAt:       now,
		Request:         &failure,
	}
}

// Clone returns a deep copy so callers can mutate without affecting stored state.
func (i *Incident) Clone() *Incident {
	if i == nil {
		return nil
	}
	cp := *i
	if i.AcknowledgedAt != nil {
		t := *i.AcknowledgedAt
		cp.AcknowledgedAt = &t
	}
	if i.ResolvedAt != nil {
		t := *i.ResolvedAt
		cp.ResolvedAt = &t
	}
	if i.Request != nil {
		r := *i.Request
		cp.Request = &r
	}
	return &cp
}

func normalize(s string) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}
	return s
}
