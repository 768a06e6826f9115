package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/snoutservices/relay/internal/config"
	"github.com/snoutservices/relay/internal/number"
	"github.com/snoutservices/relay/internal/provider"
	"github.com/snoutservices/relay/internal/routing"
)

const signatureHeader = "X-Twilio-Signature"

// InboundRouter is the routing surface the webhook handler dispatches to.
type InboundRouter interface {
	HandleInbound(ctx context.Context, msg provider.InboundMessage) (routing.Outcome, error)
	HandleStatus(ctx context.Context, cb provider.StatusCallback) error
}

// WebhookHandler terminates provider webhooks. The provider retries on
// non-2xx, so every failure past signature verification and recipient lookup
// is acknowledged with 200.
type WebhookHandler struct {
	logger   *slog.Logger
	provider provider.Client
	router   InboundRouter
	cfg      config.TwilioConfig
}

func NewWebhookHandler(log *slog.Logger, client provider.Client, router InboundRouter, cfg config.TwilioConfig) *WebhookHandler {
	if log == nil {
		log = slog.Default()
	}
	return &WebhookHandler{
		logger:   log.With(slog.String("handler", "webhook")),
		provider: client,
		router:   router,
		cfg:      cfg,
	}
}

func (h *WebhookHandler) Register(e *echo.Echo) {
	e.POST("/webhooks/twilio/inbound", h.Inbound)
	e.POST("/webhooks/twilio/status", h.Status)
}

// Inbound handles an inbound message webhook.
func (h *WebhookHandler) Inbound(c echo.Context) error {
	form, err := c.FormParams()
	if err != nil {
		h.logger.Warn("unreadable webhook form", slog.Any("error", err))
		return c.JSON(http.StatusOK, map[string]any{"received": false})
	}

	verify := h.provider.VerifySignature(h.cfg.WebhookURL, form, c.Request().Header.Get(signatureHeader))
	if verify == provider.VerifyInvalid {
		h.logger.Warn("invalid webhook signature", slog.String("remote_ip", c.RealIP()))
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Invalid signature"})
	}

	// Some provider configurations point status callbacks at the inbound URL.
	if provider.IsStatusCallback(form) {
		return h.applyStatus(c, form)
	}

	msg, err := h.provider.ParseInbound(form)
	if err != nil {
		if errors.Is(err, provider.ErrMalformedPayload) {
			h.logger.Warn("malformed inbound payload", slog.Any("error", err))
			return c.JSON(http.StatusOK, map[string]any{"received": false})
		}
		h.logger.Error("inbound parse failed", slog.Any("error", err))
		return c.JSON(http.StatusOK, map[string]any{"received": false})
	}
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = time.Now().UTC()
	}
	msg.Unverified = verify == provider.VerifyUnconfigured

	out, err := h.router.HandleInbound(c.Request().Context(), msg)
	if err != nil {
		if errors.Is(err, number.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "Unknown number"})
		}
		h.logger.Error("inbound routing failed",
			slog.String("provider_message_id", msg.MessageSID),
			slog.Any("error", err),
		)
		return c.JSON(http.StatusOK, map[string]any{"received": false})
	}

	resp := map[string]any{"received": true}
	if out.Result == routing.ResultBlocked {
		resp["blocked"] = true
	}
	return c.JSON(http.StatusOK, resp)
}

// Status handles a delivery-status callback webhook.
func (h *WebhookHandler) Status(c echo.Context) error {
	form, err := c.FormParams()
	if err != nil {
		h.logger.Warn("unreadable status form", slog.Any("error", err))
		return c.NoContent(http.StatusOK)
	}

	verifyURL := h.cfg.StatusCallbackURL
	if verifyURL == "" {
		verifyURL = h.cfg.WebhookURL
	}
	if h.provider.VerifySignature(verifyURL, form, c.Request().Header.Get(signatureHeader)) == provider.VerifyInvalid {
		h.logger.Warn("invalid status signature", slog.String("remote_ip", c.RealIP()))
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Invalid signature"})
	}
	return h.applyStatus(c, form)
}

func (h *WebhookHandler) applyStatus(c echo.Context, form url.Values) error {
	cb, err := h.provider.ParseStatusCallback(form)
	if err != nil {
		h.logger.Warn("malformed status payload", slog.Any("error", err))
		return c.NoContent(http.StatusOK)
	}
	if err := h.router.HandleStatus(c.Request().Context(), cb); err != nil {
		h.logger.Error("status handling failed",
			slog.String("provider_message_id", cb.MessageSID),
			slog.Any("error", err),
		)
	}
	return c.NoContent(http.StatusOK)
}
