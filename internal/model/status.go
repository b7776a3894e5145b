package model

import (
	"fmt"
	"strings"
)

// Status is the lifecycle state of an incident.
type Status string

const (
	StatusOpen         Status = "OPEN"
	StatusAnalyzing    Status = "ANALYZING"
	StatusAnalyzed     Status = "ANALYZED"
	StatusAcknowledged Status = "ACKNOWLEDGED"
	StatusResolved     Status = "RESOLVED"
	StatusIgnored      Status = "IGNORED"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []Status{
	StatusOpen,
	StatusAnalyzing,
	StatusAnalyzed,
	StatusAcknowledged,
	StatusResolved,
	StatusIgnored,
}

type transition struct {
	from Status
	to   Status
}

// validTransitions is the complete lifecycle. Anything absent is illegal.
var validTransitions = map[transition]bool{
	{StatusOpen, StatusAnalyzing}:    true,
	{StatusOpen, StatusAcknowledged}: true,
	{StatusOpen, StatusResolved}:     true,
	{StatusOpen, StatusIgnored}:      true,

	{StatusAnalyzing, StatusAnalyzed}: true,
	{StatusAnalyzing, StatusIgnored}:  true,

	{StatusAnalyzed, StatusAcknowledged}: true,
	{StatusAnalyzed, StatusResolved}:     true,
	{StatusAnalyzed, StatusIgnored}:      true,

	{StatusAcknowledged, StatusResolved}: true,
	{StatusAcknowledged, StatusIgnored}:  true,
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no transition leaves s.
func (s Status) IsTerminal() bool {
	return s.Valid() && len(NextStatuses(s)) == 0
}

func (s Status) String() string { return string(s) }

// CanTransition reports whether the table allows from -> to.
// Same-state requests are handled by the caller as a no-op.
func CanTransition(from, to Status) bool {
	return validTransitions[transition{from, to}]
}

// NextStatuses returns the statuses reachable from s in lifecycle order.
func NextStatuses(s Status) []Status {
	next := make([]Status, 0, 4)
	for _, to := range AllStatuses {
		if CanTransition(s, to) {
			next = append(next, to)
		}
	}
	return next
}

// ParseStatus converts boundary input (case-insensitive) into a Status.
func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToUpper(strings.TrimSpace(raw)))
	if s == "" {
		return "", fmt.Errorf("status is required: %w", ErrInvalidArgument)
	}
	if !s.Valid() {
		return "", fmt.Errorf("unknown status %q: %w", raw, ErrInvalidArgument)
	}
	return s, nil
}
