package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/akave-ai/incidentd/internal/dedup"
	"github.com/akave-ai/incidentd/internal/model"
	"github.com/akave-ai/incidentd/internal/repository"
	"github.com/akave-ai/incidentd/internal/response"
	"github.com/akave-ai/incidentd/internal/storage"
)

// EventIngester is the synchronous ingest path; *dedup.Engine implements it.
type EventIngester interface {
	HandleEvent(ctx context.Context, ev model.ErrorEvent) (dedup.Result, error)
}

// IncidentOperations is implemented by *service.IncidentService.
type IncidentOperations interface {
	ChangeStatus(ctx context.Context, id uuid.UUID, next model.Status, note string) (*model.Incident, error)
	Get(ctx context.Context, id uuid.UUID) (*model.Incident, error)
	List(ctx context.Context, filter repository.ListFilter) ([]model.Incident, error)
	Events(ctx context.Context, id uuid.UUID, limit int) ([]model.IncidentEvent, error)
}

// IncidentHandler serves /api/v1/events, /api/v1/incidents and /api/v1/archives.
type IncidentHandler struct {
	Ingester  EventIngester
	Incidents IncidentOperations

	// Archives is nil when O3 is not configured.
	Archives *storage.O3Client
}

type incidentView struct {
	*model.Incident
	NextStatuses []model.Status `json:"next_statuses"`
}

func viewOf(inc *model.Incident) incidentView {
	return incidentView{Incident: inc, NextStatuses: model.NextStatuses(inc.Status)}
}

type changeStatusRequest struct {
	Status string `json:"status"`
	Note   string `json:"note"`
}

// Health answers GET /health.
func (h *IncidentHandler) Health(c echo.Context) error {
	return c.String(http.StatusOK, "OK")
}

// IngestEvent folds one error event synchronously (POST /api/v1/events).
// 201 when it opened an incident, 200 when it merged into one.
func (h *IncidentHandler) IngestEvent(c echo.Context) error {
	var ev model.ErrorEvent
	if err := c.Bind(&ev); err != nil {
		return response.BadRequest(c, "invalid JSON body", err.Error())
	}
	res, err := h.Ingester.HandleEvent(c.Request().Context(), ev)
	if err != nil {
		return response.FromError(c, "event rejected", err)
	}
	if res.Created {
		return response.Created(c, viewOf(res.Incident), "incident created")
	}
	return response.OK(c, viewOf(res.Incident), "event merged")
}

// ListIncidents answers GET /api/v1/incidents?status=&service=&limit=.
func (h *IncidentHandler) ListIncidents(c echo.Context) error {
	var filter repository.ListFilter
	if raw := c.QueryParam("status"); raw != "" {
		status, err := model.ParseStatus(raw)
		if err != nil {
			return response.BadRequest(c, "invalid status", err.Error())
		}
		filter.Status = status
	}
	filter.ServiceName = c.QueryParam("service")
	limit, err := limitParam(c)
	if err != nil {
		return response.BadRequest(c, "invalid limit", err.Error())
	}
	filter.Limit = limit

	list, err := h.Incidents.List(c.Request().Context(), filter)
	if err != nil {
		return response.FromError(c, "list incidents failed", err)
	}
	out := make([]incidentView, 0, len(list))
	for i := range list {
		out = append(out, viewOf(&list[i]))
	}
	return response.OK(c, map[string]any{"incidents": out}, "")
}

// GetIncident answers GET /api/v1/incidents/:id.
func (h *IncidentHandler) GetIncident(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return response.BadRequest(c, "invalid incident id", err.Error())
	}
	inc, err := h.Incidents.Get(c.Request().Context(), id)
	if err != nil {
		return response.FromError(c, "incident not found", err)
	}
	return response.OK(c, viewOf(inc), "")
}

// ListEvents answers GET /api/v1/incidents/:id/events?limit=.
func (h *IncidentHandler) ListEvents(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return response.BadRequest(c, "invalid incident id", err.Error())
	}
	limit, err := limitParam(c)
	if err != nil {
		return response.BadRequest(c, "invalid limit", err.Error())
	}
	events, err := h.Incidents.Events(c.Request().Context(), id, limit)
	if err != nil {
		return response.FromError(c, "list events failed", err)
	}
	if events == nil {
		events = []model.IncidentEvent{}
	}
	return response.OK(c, map[string]any{"events": events}, "")
}

// ChangeStatus answers PATCH /api/v1/incidents/:id/status.
func (h *IncidentHandler) ChangeStatus(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return response.BadRequest(c, "invalid incident id", err.Error())
	}
	var req changeStatusRequest
	if err := c.Bind(&req); err != nil {
		return response.BadRequest(c, "invalid JSON body", err.Error())
	}
	next, err := model.ParseStatus(req.Status)
	if err != nil {
		return response.BadRequest(c, "invalid status", err.Error())
	}
	inc, err := h.Incidents.ChangeStatus(c.Request().Context(), id, next, req.Note)
	if err != nil {
		msg := "status change failed"
		if errors.Is(err, model.ErrIllegalTransition) {
			msg = "status change not allowed"
		}
		return response.FromError(c, msg, err)
	}
	return response.OK(c, viewOf(inc), "")
}

// ListArchives answers GET /api/v1/archives?prefix=.
func (h *IncidentHandler) ListArchives(c echo.Context) error {
	if h.Archives == nil {
		return response.OK(c, map[string]any{"objects": []storage.ObjectInfo{}}, "O3 not configured")
	}
	prefix := c.QueryParam("prefix")
	if prefix == "" {
		prefix = "incidents/"
	}
	list, err := h.Archives.ListObjects(c.Request().Context(), prefix)
	if err != nil {
		return response.InternalError(c, "list archives failed", err.Error())
	}
	return response.OK(c, map[string]any{"objects": list}, "")
}

// GetArchive answers GET /api/v1/archives/content?key=.
func (h *IncidentHandler) GetArchive(c echo.Context) error {
	if h.Archives == nil {
		return response.BadRequest(c, "O3 not configured", "O3 not configured")
	}
	key := c.QueryParam("key")
	if key == "" {
		return response.BadRequest(c, "missing key", "query param key is required")
	}
	doc, err := h.Archives.GetArchivedIncident(c.Request().Context(), key)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return response.NotFound(c, "archive not found", err.Error())
		}
		return response.InternalError(c, "get archive failed", err.Error())
	}
	return response.OK(c, map[string]any{"archive": doc, "key": key}, "")
}

func limitParam(c echo.Context) (int, error) {
	raw := c.QueryParam("limit")
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New("limit must be a non-negative integer")
	}
	return n, nil
}
