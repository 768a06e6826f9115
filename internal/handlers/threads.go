package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/snoutservices/relay/internal/assignment"
	"github.com/snoutservices/relay/internal/event"
	"github.com/snoutservices/relay/internal/number"
	"github.com/snoutservices/relay/internal/thread"
)

// ThreadsHandler exposes the console read API for threads, their events, and
// assignment windows.
type ThreadsHandler struct {
	logger  *slog.Logger
	threads *thread.Service
	events  *event.Service
	windows *assignment.Service
	numbers *number.Service
}

func NewThreadsHandler(log *slog.Logger, threads *thread.Service, events *event.Service, windows *assignment.Service, numbers *number.Service) *ThreadsHandler {
	if log == nil {
		log = slog.Default()
	}
	return &ThreadsHandler{
		logger:  log.With(slog.String("handler", "threads")),
		threads: threads,
		events:  events,
		windows: windows,
		numbers: numbers,
	}
}

func (h *ThreadsHandler) Register(e *echo.Echo) {
	e.GET("/orgs/:org_id/threads", h.List)
	e.GET("/threads/:id", h.Get)
	e.GET("/threads/:id/events", h.Events)
	e.POST("/threads/:id/archive", h.Archive)
	e.GET("/threads/:id/windows", h.Windows)
	e.POST("/threads/:id/windows", h.CreateWindow)
	e.POST("/windows/:id/close", h.CloseWindow)
}

func (h *ThreadsHandler) List(c echo.Context) error {
	threads, err := h.threads.ListByOrg(c.Request().Context(), c.Param("org_id"), 0)
	if err != nil {
		h.logger.Error("list threads failed", slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "list threads failed")
	}
	return c.JSON(http.StatusOK, threads)
}

func (h *ThreadsHandler) Get(c echo.Context) error {
	t, err := h.threads.GetByID(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, thread.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "thread not found")
		}
		h.logger.Error("get thread failed", slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "get thread failed")
	}
	return c.JSON(http.StatusOK, t)
}

func (h *ThreadsHandler) Events(c echo.Context) error {
	events, err := h.events.ListByThread(c.Request().Context(), c.Param("id"))
	if err != nil {
		h.logger.Error("list events failed", slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "list events failed")
	}
	return c.JSON(http.StatusOK, events)
}

func (h *ThreadsHandler) Archive(c echo.Context) error {
	ctx := c.Request().Context()
	t, err := h.threads.GetByID(ctx, c.Param("id"))
	if err != nil {
		if errors.Is(err, thread.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "thread not found")
		}
		h.logger.Error("archive thread failed", slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "archive thread failed")
	}
	if err := h.threads.Archive(ctx, t.ID); err != nil {
		h.logger.Error("archive thread failed", slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "archive thread failed")
	}
	if t.Status == thread.StatusOpen && t.NumberID != "" && t.NumberClass == string(number.ClassPool) {
		if err := h.numbers.ReleasePoolSlot(ctx, t.NumberID); err != nil {
			h.logger.Warn("pool slot release failed",
				slog.String("number_id", t.NumberID),
				slog.Any("error", err),
			)
		}
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *ThreadsHandler) Windows(c echo.Context) error {
	windows, err := h.windows.ActiveWindows(c.Request().Context(), c.Param("id"))
	if err != nil {
		h.logger.Error("list windows failed", slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "list windows failed")
	}
	return c.JSON(http.StatusOK, windows)
}

type createWindowRequest struct {
	SitterID    string    `json:"sitter_id"`
	ServiceType string    `json:"service_type"`
	StartsAt    time.Time `json:"starts_at"`
	EndsAt      time.Time `json:"ends_at"`
}

func (h *ThreadsHandler) CreateWindow(c echo.Context) error {
	var req createWindowRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request")
	}
	if req.SitterID == "" || req.StartsAt.IsZero() || req.EndsAt.IsZero() || !req.EndsAt.After(req.StartsAt) {
		return echo.NewHTTPError(http.StatusBadRequest, "sitter id and a valid interval are required")
	}
	w, err := h.windows.CreateWindow(c.Request().Context(), c.Param("id"), req.SitterID, req.ServiceType, req.StartsAt, req.EndsAt)
	if err != nil {
		h.logger.Error("create window failed", slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "create window failed")
	}
	return c.JSON(http.StatusCreated, w)
}

func (h *ThreadsHandler) CloseWindow(c echo.Context) error {
	if err := h.windows.CloseWindow(c.Request().Context(), c.Param("id")); err != nil {
		h.logger.Error("close window failed", slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "close window failed")
	}
	return c.NoContent(http.StatusNoContent)
}
