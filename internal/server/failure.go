package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/labstack/echo/v4"

	"github.com/akave-ai/incidentd/internal/model"
	"github.com/akave-ai/incidentd/internal/response"
	"github.com/akave-ai/incidentd/internal/signature"
)

// Request failure categories.
const (
	CategoryNullDeref  = "BUG_NULL"
	CategoryValidation = "VALIDATION"
	CategoryTimeout    = "TIMEOUT"
	CategoryDatabase   = "DB"
	CategoryUnknown    = "UNKNOWN"
)

const (
	severityHigh   = "HIGH"
	unknownTraceID = "UNKNOWN"
)

// FailureRecorder opens request-failure incidents; *service.IncidentService implements it.
type FailureRecorder interface {
	RecordRequestFailure(ctx context.Context, in model.RequestIncidentInput) (*model.Incident, error)
}

// categorize buckets an unhandled error by what most likely caused it.
func categorize(err error) string {
	var rtErr runtime.Error
	var valErrs validator.ValidationErrors
	var pgErr *pgconn.PgError
	var connErr *pgconn.ConnectError
	switch {
	case errors.As(err, &rtErr) && strings.Contains(rtErr.Error(), "nil pointer"):
		return CategoryNullDeref
	case errors.As(err, &valErrs), errors.Is(err, model.ErrInvalidArgument):
		return CategoryValidation
	case errors.Is(err, context.DeadlineExceeded), pgconn.Timeout(err):
		return CategoryTimeout
	case errors.As(err, &pgErr), errors.As(err, &connErr):
		return CategoryDatabase
	default:
		return CategoryUnknown
	}
}

// failureMessage is the error text, or the root cause's type name when the text is blank.
func failureMessage(err error) string {
	if msg := strings.TrimSpace(err.Error()); msg != "" {
		return msg
	}
	return signature.TypeName(signature.RootCause(err))
}

// errorHandler answers every error a handler returns. Client errors are
// rendered as is; anything else becomes a 500 and a request-failure incident.
func (s *Server) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := response.StatusFor(err)
	message := http.StatusText(status)
	var he *echo.HTTPError
	if errors.As(err, &he) {
		status = he.Code
		message = fmt.Sprint(he.Message)
		if he.Internal != nil {
			err = he.Internal
		}
	}

	if status < http.StatusInternalServerError {
		s.respondError(c, status, message, err.Error())
		return
	}

	s.recordFailure(c, err)
	s.respondError(c, http.StatusInternalServerError, "internal server error", failureMessage(err))
}

func (s *Server) respondError(c echo.Context, status int, message, detail string) {
	var err error
	if c.Request().Method == http.MethodHead {
		err = c.NoContent(status)
	} else {
		err = response.Error(c, status, message, detail)
	}
	if err != nil {
		s.logger.Error().Err(err).Msg("write error response")
	}
}

// recordFailure never fails the response; a store error is only logged.
func (s *Server) recordFailure(c echo.Context, err error) {
	if s.failures == nil {
		return
	}
	traceID := TraceIDFrom(c)
	if traceID == "" {
		traceID = unknownTraceID
	}
	req := c.Request()
	in := model.RequestIncidentInput{
		ServiceName: s.serviceName,
		TraceID:     traceID,
		Message:     failureMessage(err),
		Failure: model.RequestFailure{
			Category:   categorize(err),
			Severity:   severityHigh,
			StatusCode: http.StatusInternalServerError,
			Method:     req.Method,
			Path:       req.URL.Path,
		},
	}
	inc, recErr := s.failures.RecordRequestFailure(context.WithoutCancel(req.Context()), in)
	if recErr != nil {
		s.logger.Error().Err(recErr).Str("trace_id", traceID).Msg("record request failure")
		return
	}
	s.logger.Warn().
		Str("incident_id", inc.ID.String()).
		Str("category", in.Failure.Category).
		Str("trace_id", traceID).
		Msg("request failure recorded")
}
