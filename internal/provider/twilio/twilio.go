package twilio

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/snoutservices/relay/internal/config"
	"github.com/snoutservices/relay/internal/provider"
)

const (
	messagesPathFormat = "/2010-04-01/Accounts/%s/Messages.json"
	sendTimeout        = 10 * time.Second
)

// Adapter implements provider.Client against the Twilio REST API.
type Adapter struct {
	accountSID        string
	authToken         string
	apiBase           string
	statusCallbackURL string
	httpClient        *http.Client
	validate          *validator.Validate
	logger            *slog.Logger
}

var _ provider.Client = (*Adapter)(nil)

func New(log *slog.Logger, cfg config.TwilioConfig) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	apiBase := strings.TrimSuffix(cfg.APIBase, "/")
	if apiBase == "" {
		apiBase = config.DefaultTwilioAPIBase
	}
	return &Adapter{
		accountSID:        cfg.AccountSID,
		authToken:         cfg.AuthToken,
		apiBase:           apiBase,
		statusCallbackURL: cfg.StatusCallbackURL,
		httpClient:        &http.Client{Timeout: sendTimeout},
		validate:          validator.New(),
		logger:            log.With(slog.String("provider", "twilio")),
	}
}

// VerifySignature checks X-Twilio-Signature: base64(HMAC-SHA1(url + sorted
// form key/value pairs, auth token)).
func (a *Adapter) VerifySignature(webhookURL string, form url.Values, signature string) provider.VerifyResult {
	if a.authToken == "" {
		a.logger.Warn("auth token not configured, skipping signature verification")
		return provider.VerifyUnconfigured
	}
	if signature == "" {
		return provider.VerifyInvalid
	}

	keys := make([]string, 0, len(form))
	for key := range form {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var payload strings.Builder
	payload.WriteString(webhookURL)
	for _, key := range keys {
		payload.WriteString(key)
		payload.WriteString(form.Get(key))
	}

	mac := hmac.New(sha1.New, []byte(a.authToken))
	mac.Write([]byte(payload.String()))
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return provider.VerifyInvalid
	}
	return provider.VerifyValid
}

func (a *Adapter) ParseInbound(form url.Values) (provider.InboundMessage, error) {
	msg := provider.InboundMessage{
		From:       strings.TrimSpace(form.Get("From")),
		To:         strings.TrimSpace(form.Get("To")),
		Body:       form.Get("Body"),
		MessageSID: strings.TrimSpace(form.Get("MessageSid")),
		ReceivedAt: time.Now().UTC(),
	}

	numMedia, _ := strconv.Atoi(form.Get("NumMedia"))
	for i := 0; i < numMedia; i++ {
		if mediaURL := form.Get("MediaUrl" + strconv.Itoa(i)); mediaURL != "" {
			msg.MediaURLs = append(msg.MediaURLs, mediaURL)
		}
	}

	if msg.From == "" {
		return provider.InboundMessage{}, fmt.Errorf("%w: missing sender", provider.ErrMalformedPayload)
	}
	if msg.To == "" {
		return provider.InboundMessage{}, fmt.Errorf("%w: missing recipient", provider.ErrMalformedPayload)
	}
	if msg.MessageSID == "" {
		return provider.InboundMessage{}, fmt.Errorf("%w: missing message sid", provider.ErrMalformedPayload)
	}
	if err := a.validate.Struct(msg); err != nil {
		return provider.InboundMessage{}, fmt.Errorf("%w: %v", provider.ErrMalformedPayload, err)
	}
	return msg, nil
}

func (a *Adapter) ParseStatusCallback(form url.Values) (provider.StatusCallback, error) {
	cb := provider.StatusCallback{
		MessageSID:   strings.TrimSpace(form.Get("MessageSid")),
		Status:       mapStatus(form.Get("MessageStatus")),
		ErrorCode:    strings.TrimSpace(form.Get("ErrorCode")),
		ErrorMessage: strings.TrimSpace(form.Get("ErrorMessage")),
	}
	if cb.MessageSID == "" {
		return provider.StatusCallback{}, fmt.Errorf("%w: missing message sid", provider.ErrMalformedPayload)
	}
	return cb, nil
}

func mapStatus(raw string) provider.DeliveryStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "queued", "accepted", "sending":
		return provider.StatusQueued
	case "sent":
		return provider.StatusSent
	case "delivered", "read":
		return provider.StatusDelivered
	default:
		return provider.StatusFailed
	}
}

type sendResponse struct {
	SID     string `json:"sid"`
	Status  string `json:"status"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (a *Adapter) SendMessage(ctx context.Context, req provider.SendRequest) (provider.SendResult, error) {
	if a.accountSID == "" || a.authToken == "" {
		return provider.SendResult{}, fmt.Errorf("twilio credentials not configured")
	}
	if req.From == "" {
		return provider.SendResult{}, fmt.Errorf("from number is required")
	}

	form := url.Values{}
	form.Set("To", req.To)
	form.Set("From", req.From)
	form.Set("Body", req.Body)
	if a.statusCallbackURL != "" {
		form.Set("StatusCallback", a.statusCallbackURL)
	}

	endpoint := a.apiBase + fmt.Sprintf(messagesPathFormat, a.accountSID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return provider.SendResult{}, err
	}
	httpReq.SetBasicAuth(a.accountSID, a.authToken)
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return provider.SendResult{}, fmt.Errorf("send message: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return provider.SendResult{}, fmt.Errorf("read response: %w", err)
	}

	var parsed sendResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return provider.SendResult{}, fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return provider.SendResult{}, fmt.Errorf("twilio error %d: %s", parsed.Code, parsed.Message)
	}

	a.logger.Debug("message sent",
		slog.String("sid", parsed.SID),
		slog.String("to", req.To),
		slog.String("status", parsed.Status),
	)
	return provider.SendResult{MessageSID: parsed.SID, Status: mapStatus(parsed.Status)}, nil
}
