package handlers

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/snoutservices/relay/internal/audit"
	"github.com/snoutservices/relay/internal/policy"
)

// ModerationHandler exposes policy violations and the audit trail.
type ModerationHandler struct {
	logger     *slog.Logger
	violations *policy.Store
	audit      *audit.Service
}

func NewModerationHandler(log *slog.Logger, violations *policy.Store, auditService *audit.Service) *ModerationHandler {
	if log == nil {
		log = slog.Default()
	}
	return &ModerationHandler{
		logger:     log.With(slog.String("handler", "moderation")),
		violations: violations,
		audit:      auditService,
	}
}

func (h *ModerationHandler) Register(e *echo.Echo) {
	e.GET("/orgs/:org_id/violations", h.ListViolations)
	e.POST("/violations/:id/status", h.SetViolationStatus)
	e.GET("/orgs/:org_id/audit", h.ListAudit)
}

func (h *ModerationHandler) ListViolations(c echo.Context) error {
	records, err := h.violations.ListOpen(c.Request().Context(), c.Param("org_id"), 0)
	if err != nil {
		h.logger.Error("list violations failed", slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "list violations failed")
	}
	return c.JSON(http.StatusOK, records)
}

type violationStatusRequest struct {
	Status string `json:"status"`
}

func (h *ModerationHandler) SetViolationStatus(c echo.Context) error {
	var req violationStatusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request")
	}
	if err := h.violations.SetStatus(c.Request().Context(), c.Param("id"), req.Status); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *ModerationHandler) ListAudit(c echo.Context) error {
	entries, err := h.audit.ListByOrg(c.Request().Context(), c.Param("org_id"), 0)
	if err != nil {
		h.logger.Error("list audit failed", slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "list audit failed")
	}
	return c.JSON(http.StatusOK, entries)
}
