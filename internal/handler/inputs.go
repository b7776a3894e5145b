package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/akave-ai/incidentd/internal/infrastructure/inputs"
)

// InputHandler exposes the registered ingest input types.
type InputHandler struct {
	Registry *inputs.Registry
}

// ListTypes returns every registered input type with its config spec (GET /api/v1/inputs/types).
func (h *InputHandler) ListTypes(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"types": h.Registry.ListRegistered(),
		"info":  h.Registry.AllTypesInfo(),
	})
}

// GetTypeInfo returns config spec for one input type (GET /api/v1/inputs/types/:type).
func (h *InputHandler) GetTypeInfo(c echo.Context) error {
	typeName := c.Param("type")
	if typeName == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "missing type in path"})
	}
	info, ok := h.Registry.GetTypeInfo(typeName)
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "unknown input type: " + typeName})
	}
	return c.JSON(http.StatusOK, info)
}
