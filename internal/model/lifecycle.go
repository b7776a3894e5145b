package model

import (
	"fmt"
	"strings"
	"time"
)

const defaultIgnoreNote = "ignored"

// TransitionTo moves the incident to next, stamping lifecycle timestamps.
// Requesting the current status is a no-op. A transition the table does not
// allow returns a *TransitionError and leaves the incident untouched.
func (i *Incident) TransitionTo(next Status, note string, now time.Time) error {
	if next == "" || !next.Valid() {
		return fmt.Errorf("target status %q: %w", next, ErrInvalidArgument)
	}
	if next == i.Status {
		return nil
	}
	if !CanTransition(i.Status, next) {
		return &TransitionError{From: i.Status, To: next}
	}

	i.Status = next
	i.UpdatedAt = now

	switch next {
	case StatusAcknowledged:
		i.AcknowledgedAt = &now
	case StatusResolved:
		i.ResolvedAt = &now
		if strings.TrimSpace(note) != "" {
			i.ResolutionNote = note
		}
	case StatusIgnored:
		if strings.TrimSpace(note) != "" {
			i.ResolutionNote = note
		} else {
			i.ResolutionNote = defaultIgnoreNote
		}
	}
	return nil
}

// RecordOccurrence folds one more matching event into the incident.
// LastSeenAt only moves forward; late events still count.
func (i *Incident) RecordOccurrence(occurredAt, now time.Time) {
	i.OccurrenceCount++
	if i.LastSeenAt.IsZero() || occurredAt.After(i.LastSeenAt) {
		i.LastSeenAt = occurredAt
	}
	i.UpdatedAt = now
}
