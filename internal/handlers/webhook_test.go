package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/snoutservices/relay/internal/config"
	"github.com/snoutservices/relay/internal/number"
	"github.com/snoutservices/relay/internal/provider"
	"github.com/snoutservices/relay/internal/routing"
)

type fakeProvider struct {
	verify     provider.VerifyResult
	inbound    provider.InboundMessage
	inboundErr error
	status     provider.StatusCallback
	statusErr  error
}

func (f *fakeProvider) VerifySignature(_ string, _ url.Values, _ string) provider.VerifyResult {
	return f.verify
}

func (f *fakeProvider) ParseInbound(_ url.Values) (provider.InboundMessage, error) {
	return f.inbound, f.inboundErr
}

func (f *fakeProvider) ParseStatusCallback(_ url.Values) (provider.StatusCallback, error) {
	return f.status, f.statusErr
}

func (f *fakeProvider) SendMessage(_ context.Context, _ provider.SendRequest) (provider.SendResult, error) {
	return provider.SendResult{}, nil
}

type fakeRouter struct {
	outcome     routing.Outcome
	inboundErr  error
	statusErr   error
	inboundSeen int
	statusSeen  int
}

func (f *fakeRouter) HandleInbound(_ context.Context, _ provider.InboundMessage) (routing.Outcome, error) {
	f.inboundSeen++
	return f.outcome, f.inboundErr
}

func (f *fakeRouter) HandleStatus(_ context.Context, _ provider.StatusCallback) error {
	f.statusSeen++
	return f.statusErr
}

func postForm(t *testing.T, h *WebhookHandler, path string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	h.Register(e)
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return body
}

func TestWebhookInvalidSignature(t *testing.T) {
	t.Parallel()
	router := &fakeRouter{}
	h := NewWebhookHandler(nil, &fakeProvider{verify: provider.VerifyInvalid}, router, config.TwilioConfig{})

	rec := postForm(t, h, "/webhooks/twilio/inbound", url.Values{"Body": {"hi"}})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if got := decodeBody(t, rec)["error"]; got != "Invalid signature" {
		t.Fatalf("expected invalid signature body, got %v", got)
	}
	if router.inboundSeen != 0 || router.statusSeen != 0 {
		t.Fatal("rejected webhook must not reach the router")
	}
}

func TestWebhookMalformedPayload(t *testing.T) {
	t.Parallel()
	router := &fakeRouter{}
	h := NewWebhookHandler(nil, &fakeProvider{
		verify:     provider.VerifyValid,
		inboundErr: fmt.Errorf("%w: missing sender", provider.ErrMalformedPayload),
	}, router, config.TwilioConfig{})

	rec := postForm(t, h, "/webhooks/twilio/inbound", url.Values{"To": {"+15550001111"}})
	if rec.Code != http.StatusOK {
		t.Fatalf("malformed payload must still ack 200, got %d", rec.Code)
	}
	if got := decodeBody(t, rec)["received"]; got != false {
		t.Fatalf("expected received false, got %v", got)
	}
	if router.inboundSeen != 0 {
		t.Fatal("malformed payload must not reach the router")
	}
}

func TestWebhookUnknownNumber(t *testing.T) {
	t.Parallel()
	router := &fakeRouter{inboundErr: fmt.Errorf("recipient +15550001111: %w", number.ErrNotFound)}
	h := NewWebhookHandler(nil, &fakeProvider{
		verify:  provider.VerifyValid,
		inbound: provider.InboundMessage{From: "+15559990000", To: "+15550001111", MessageSID: "SM1"},
	}, router, config.TwilioConfig{})

	rec := postForm(t, h, "/webhooks/twilio/inbound", url.Values{"Body": {"hi"}})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown number, got %d", rec.Code)
	}
}

func TestWebhookInboundStored(t *testing.T) {
	t.Parallel()
	router := &fakeRouter{outcome: routing.Outcome{Result: routing.ResultStored}}
	h := NewWebhookHandler(nil, &fakeProvider{
		verify:  provider.VerifyValid,
		inbound: provider.InboundMessage{From: "+15559990000", To: "+15550001111", MessageSID: "SM1"},
	}, router, config.TwilioConfig{})

	rec := postForm(t, h, "/webhooks/twilio/inbound", url.Values{"Body": {"hi"}})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["received"] != true {
		t.Fatalf("expected received true, got %v", body)
	}
	if _, ok := body["blocked"]; ok {
		t.Fatal("stored message must not be marked blocked")
	}
}

func TestWebhookInboundBlocked(t *testing.T) {
	t.Parallel()
	router := &fakeRouter{outcome: routing.Outcome{Result: routing.ResultBlocked}}
	h := NewWebhookHandler(nil, &fakeProvider{
		verify:  provider.VerifyValid,
		inbound: provider.InboundMessage{From: "+15559990000", To: "+15550001111", MessageSID: "SM1"},
	}, router, config.TwilioConfig{})

	rec := postForm(t, h, "/webhooks/twilio/inbound", url.Values{"Body": {"call me"}})
	if rec.Code != http.StatusOK {
		t.Fatalf("blocked message must still ack 200, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["received"] != true || body["blocked"] != true {
		t.Fatalf("expected received and blocked, got %v", body)
	}
}

func TestWebhookInboundWithSmsStatusRoutesInbound(t *testing.T) {
	t.Parallel()
	router := &fakeRouter{outcome: routing.Outcome{Result: routing.ResultStored}}
	h := NewWebhookHandler(nil, &fakeProvider{
		verify:  provider.VerifyValid,
		inbound: provider.InboundMessage{From: "+15559990000", To: "+15550001111", MessageSID: "SM1"},
	}, router, config.TwilioConfig{})

	// Real inbound webhooks carry SmsStatus=received alongside the message
	// fields; they must reach the inbound path, not the status path.
	rec := postForm(t, h, "/webhooks/twilio/inbound", url.Values{
		"From":       {"+15559990000"},
		"To":         {"+15550001111"},
		"Body":       {"hi"},
		"MessageSid": {"SM1"},
		"SmsStatus":  {"received"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if router.inboundSeen != 1 || router.statusSeen != 0 {
		t.Fatalf("inbound payload misrouted, inbound=%d status=%d", router.inboundSeen, router.statusSeen)
	}
	if got := decodeBody(t, rec)["received"]; got != true {
		t.Fatalf("expected received true, got %v", got)
	}
}

func TestWebhookInternalErrorStillAcks(t *testing.T) {
	t.Parallel()
	router := &fakeRouter{inboundErr: fmt.Errorf("db down")}
	h := NewWebhookHandler(nil, &fakeProvider{
		verify:  provider.VerifyValid,
		inbound: provider.InboundMessage{From: "+15559990000", To: "+15550001111", MessageSID: "SM1"},
	}, router, config.TwilioConfig{})

	rec := postForm(t, h, "/webhooks/twilio/inbound", url.Values{"Body": {"hi"}})
	if rec.Code != http.StatusOK {
		t.Fatalf("internal error must not leak a retryable status, got %d", rec.Code)
	}
}

func TestWebhookStatusOnInboundEndpoint(t *testing.T) {
	t.Parallel()
	router := &fakeRouter{}
	h := NewWebhookHandler(nil, &fakeProvider{
		verify: provider.VerifyValid,
		status: provider.StatusCallback{MessageSID: "SM1", Status: provider.StatusDelivered},
	}, router, config.TwilioConfig{})

	rec := postForm(t, h, "/webhooks/twilio/inbound", url.Values{"MessageStatus": {"delivered"}, "MessageSid": {"SM1"}})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if router.statusSeen != 1 || router.inboundSeen != 0 {
		t.Fatalf("status payload must go through the status path, inbound=%d status=%d", router.inboundSeen, router.statusSeen)
	}
}

func TestWebhookStatusAlwaysAcks(t *testing.T) {
	t.Parallel()
	router := &fakeRouter{statusErr: fmt.Errorf("db down")}
	h := NewWebhookHandler(nil, &fakeProvider{
		verify: provider.VerifyValid,
		status: provider.StatusCallback{MessageSID: "SM1", Status: provider.StatusFailed},
	}, router, config.TwilioConfig{})

	rec := postForm(t, h, "/webhooks/twilio/status", url.Values{"MessageStatus": {"failed"}, "MessageSid": {"SM1"}})
	if rec.Code != http.StatusOK {
		t.Fatalf("status callback must always ack 200, got %d", rec.Code)
	}
}
