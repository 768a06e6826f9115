package provider

import (
	"context"
	"errors"
	"net/url"
	"time"
)

// ErrMalformedPayload marks webhook payloads that cannot be normalized.
// Callers acknowledge the webhook without persisting anything.
var ErrMalformedPayload = errors.New("malformed payload")

// VerifyResult is the outcome of webhook signature verification.
type VerifyResult int

const (
	VerifyInvalid VerifyResult = iota
	VerifyValid
	// VerifyUnconfigured means no signing secret is set; the event is accepted
	// but flagged unverified.
	VerifyUnconfigured
)

// DeliveryStatus is the normalized delivery state of a message event.
type DeliveryStatus string

const (
	StatusReceived  DeliveryStatus = "received"
	StatusQueued    DeliveryStatus = "queued"
	StatusSent      DeliveryStatus = "sent"
	StatusDelivered DeliveryStatus = "delivered"
	StatusFailed    DeliveryStatus = "failed"
)

// InboundMessage is the canonical form of an inbound webhook payload.
type InboundMessage struct {
	From       string `validate:"required,e164"`
	To         string `validate:"required,e164"`
	Body       string
	MessageSID string `validate:"required"`
	MediaURLs  []string
	ReceivedAt time.Time
	// Unverified is set when the webhook signature was skipped because no
	// secret is configured.
	Unverified bool
}

// StatusCallback is the canonical form of a delivery-status callback.
type StatusCallback struct {
	MessageSID   string `validate:"required"`
	Status       DeliveryStatus
	ErrorCode    string
	ErrorMessage string
}

// SendRequest describes an outbound message.
type SendRequest struct {
	To   string
	From string
	Body string
}

// SendResult is the provider acknowledgment for a sent message.
type SendResult struct {
	MessageSID string
	Status     DeliveryStatus
}

// Client is the messaging-provider contract the routing engine consumes.
type Client interface {
	// VerifySignature checks the signature header against the exact webhook URL
	// and the decoded form parameters.
	VerifySignature(webhookURL string, form url.Values, signature string) VerifyResult
	// ParseInbound normalizes an inbound message payload.
	ParseInbound(form url.Values) (InboundMessage, error)
	// ParseStatusCallback normalizes a delivery-status payload.
	ParseStatusCallback(form url.Values) (StatusCallback, error)
	// SendMessage sends an outbound message.
	SendMessage(ctx context.Context, req SendRequest) (SendResult, error)
}

// IsStatusCallback reports whether a webhook form is a delivery-status
// callback rather than an inbound message. Only MessageStatus marks a status
// callback; inbound payloads carry SmsStatus=received and must not match.
func IsStatusCallback(form url.Values) bool {
	return form.Get("MessageStatus") != ""
}
