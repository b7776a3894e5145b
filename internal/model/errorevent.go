package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ErrorEvent is one runtime error reported by a service.
// Ingest payloads should be JSON with these fields.
type ErrorEvent struct {
	ServiceName    string    `json:"service_name" validate:"required"`
	OccurredAt     time.Time `json:"occurred_at" validate:"required"`
	TraceID        string    `json:"trace_id,omitempty"`
	Message        string    `json:"message,omitempty"`
	ExceptionClass string    `json:"exception_class" validate:"required"`
	Stacktrace     string    `json:"stacktrace" validate:"required"`
}

// Validate checks required fields. Whitespace-only values count as missing.
func (e ErrorEvent) Validate() error {
	trimmed := e
	trimmed.ServiceName = strings.TrimSpace(e.ServiceName)
	trimmed.ExceptionClass = strings.TrimSpace(e.ExceptionClass)
	trimmed.Stacktrace = strings.TrimSpace(e.Stacktrace)
	if err := validate.Struct(trimmed); err != nil {
		return fmt.Errorf("error event: %v: %w", err, ErrInvalidArgument)
	}
	return nil
}
