package server

import (
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/rs/zerolog"

	"github.com/akave-ai/incidentd/internal/response"
)

const traceIDKey = "trace_id"

// traceID reuses an incoming X-Trace-Id or makes an 8-character one, and
// echoes it on the response.
func traceID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id := strings.TrimSpace(c.Request().Header.Get(response.TraceHeader))
			if id == "" {
				id = uuid.NewString()[:8]
			}
			c.Set(traceIDKey, id)
			c.Response().Header().Set(response.TraceHeader, id)
			return next(c)
		}
	}
}

// TraceIDFrom returns the trace id set by the middleware, or "".
func TraceIDFrom(c echo.Context) string {
	id, _ := c.Get(traceIDKey).(string)
	return id
}

func requestLogger(logger zerolog.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			level := zerolog.InfoLevel
			if v.Error != nil || v.Status >= 500 {
				level = zerolog.ErrorLevel
			}
			logger.WithLevel(level).
				Err(v.Error).
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("trace_id", TraceIDFrom(c)).
				Msg("request")
			return nil
		},
	})
}

func recoverer(logger zerolog.Logger) echo.MiddlewareFunc {
	return middleware.RecoverWithConfig(middleware.RecoverConfig{
		LogErrorFunc: func(c echo.Context, err error, stack []byte) error {
			logger.Error().Err(err).Str("trace_id", TraceIDFrom(c)).Bytes("stack", stack).Msg("panic recovered")
			return err
		},
	})
}

// newRelic starts a web transaction per request and puts it in the request
// context so database segments attach to it.
func newRelic(app *newrelic.Application) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		if app == nil {
			return next
		}
		return func(c echo.Context) error {
			req := c.Request()
			txn := app.StartTransaction(req.Method + " " + c.Path())
			defer txn.End()

			txn.SetWebRequestHTTP(req)
			c.Response().Writer = txn.SetWebResponse(c.Response().Writer)
			c.SetRequest(req.WithContext(newrelic.NewContext(req.Context(), txn)))
			txn.AddAttribute("trace_id", TraceIDFrom(c))

			err := next(c)
			if err != nil {
				txn.NoticeError(err)
			}
			return err
		}
	}
}
