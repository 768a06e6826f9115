package routing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/snoutservices/relay/internal/assignment"
	"github.com/snoutservices/relay/internal/client"
	"github.com/snoutservices/relay/internal/config"
	"github.com/snoutservices/relay/internal/event"
	"github.com/snoutservices/relay/internal/number"
	"github.com/snoutservices/relay/internal/policy"
	"github.com/snoutservices/relay/internal/provider"
	"github.com/snoutservices/relay/internal/thread"
)

// NumberDirectory is the number-inventory surface the engine consumes.
type NumberDirectory interface {
	ResolveByE164(ctx context.Context, e164 string) (number.Number, error)
	FrontDesk(ctx context.Context, orgID string) (number.Number, error)
	FindForClass(ctx context.Context, orgID string, class number.Class, sitterID string) (number.Number, error)
	AcquirePoolSlot(ctx context.Context, numberID string) error
	ReleasePoolSlot(ctx context.Context, numberID string) error
	RecordFailure(ctx context.Context, numberID string) error
}

// ClientDirectory resolves sender identities.
type ClientDirectory interface {
	FindContactByE164(ctx context.Context, orgID, e164 string) (client.Contact, error)
	CreateGuest(ctx context.Context, orgID, e164 string) (client.Contact, error)
	IsOneTime(contact client.Contact) bool
}

// ThreadStore finds and creates conversation threads.
type ThreadStore interface {
	FindOpenByClient(ctx context.Context, orgID, clientID string) (thread.Thread, error)
	Create(ctx context.Context, input thread.CreateInput) (thread.Thread, error)
	FindOrCreateOwnerInbox(ctx context.Context, orgID string) (thread.Thread, error)
	EnsureParticipant(ctx context.Context, threadID string, role thread.Role, e164 string) error
	TouchInbound(ctx context.Context, threadID string, at time.Time, ownerUnread bool) error
	GetByID(ctx context.Context, threadID string) (thread.Thread, error)
}

// WindowResolver answers who is responsible for a thread at an instant.
type WindowResolver interface {
	Resolve(ctx context.Context, threadID string, at time.Time) (assignment.Decision, error)
}

// EventRecorder persists message events.
type EventRecorder interface {
	Record(ctx context.Context, input event.RecordInput) (event.Event, bool, error)
	UpdateDeliveryStatus(ctx context.Context, providerMessageID, status, failureCode, failureDetail string) (event.Event, bool, error)
}

// ViolationStore persists policy violations.
type ViolationStore interface {
	Create(ctx context.Context, orgID, eventID string, violation policy.Violation) (policy.ViolationRecord, error)
}

// AuditSink appends routing decisions, best effort.
type AuditSink interface {
	Log(orgID, action, outcome string, metadata map[string]any)
}

// Sender sends outbound messages (auto-responses).
type Sender interface {
	SendMessage(ctx context.Context, req provider.SendRequest) (provider.SendResult, error)
}

// Result summarizes how an inbound message was handled.
type Result string

const (
	ResultStored       Result = "stored"
	ResultDuplicate    Result = "duplicate"
	ResultBlocked      Result = "blocked"
	ResultPoolMismatch Result = "pool_mismatch"
)

// Outcome is the engine's answer for one inbound webhook call.
type Outcome struct {
	Result   Result
	ThreadID string
	EventID  string
	Decision assignment.Decision
}

// Engine is the inbound routing pipeline. Side effects that are best effort
// (auto-responses, audit, number binding) are caught and logged; they never
// block the acknowledgment.
type Engine struct {
	numbers    NumberDirectory
	clients    ClientDirectory
	threads    ThreadStore
	windows    WindowResolver
	events     EventRecorder
	violations ViolationStore
	audit      AuditSink
	sender     Sender
	cfg        config.MessagingConfig
	logger     *slog.Logger
}

func NewEngine(
	log *slog.Logger,
	cfg config.MessagingConfig,
	numbers NumberDirectory,
	clients ClientDirectory,
	threads ThreadStore,
	windows WindowResolver,
	events EventRecorder,
	violations ViolationStore,
	auditSink AuditSink,
	sender Sender,
) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		numbers:    numbers,
		clients:    clients,
		threads:    threads,
		windows:    windows,
		events:     events,
		violations: violations,
		audit:      auditSink,
		sender:     sender,
		cfg:        cfg,
		logger:     log.With(slog.String("service", "routing")),
	}
}

// HandleInbound runs the full pipeline for one normalized inbound message.
// number.ErrNotFound is the only error the HTTP layer surfaces as non-200.
func (e *Engine) HandleInbound(ctx context.Context, msg provider.InboundMessage) (Outcome, error) {
	recv, err := e.numbers.ResolveByE164(ctx, msg.To)
	if err != nil {
		if errors.Is(err, number.ErrNotFound) {
			return Outcome{}, fmt.Errorf("recipient %s: %w", msg.To, err)
		}
		return Outcome{}, fmt.Errorf("resolve recipient: %w", err)
	}

	contact, err := e.clients.FindContactByE164(ctx, recv.OrgID, msg.From)
	if errors.Is(err, client.ErrContactNotFound) {
		contact, err = e.clients.CreateGuest(ctx, recv.OrgID, msg.From)
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("resolve sender: %w", err)
	}

	existing, err := e.threads.FindOpenByClient(ctx, recv.OrgID, contact.ClientID)
	haveThread := err == nil
	if err != nil && !errors.Is(err, thread.ErrNotFound) {
		return Outcome{}, fmt.Errorf("find thread: %w", err)
	}

	// Pool numbers serve only senders whose open thread holds that number.
	// Anything else is a mismatch and must never land in an unrelated thread.
	if recv.Class == number.ClassPool {
		if !haveThread || existing.NumberID != recv.ID {
			return e.handlePoolMismatch(ctx, recv, msg)
		}
	}

	t := existing
	if !haveThread {
		t, err = e.createThread(ctx, recv, contact)
		if err != nil {
			return Outcome{}, err
		}
	}

	if err := e.threads.EnsureParticipant(ctx, t.ID, thread.RoleClient, msg.From); err != nil {
		e.logger.Warn("ensure participant failed", slog.String("thread_id", t.ID), slog.Any("error", err))
	}

	if detection := policy.Detect(msg.Body); detection.Detected {
		return e.handlePolicyBlock(ctx, recv, t, msg, detection)
	}

	decision, err := e.windows.Resolve(ctx, t.ID, msg.ReceivedAt)
	if err != nil {
		// Ambiguity-safe default: never guess a sitter when the window data
		// cannot be read.
		e.logger.Error("window resolution failed, routing to owner inbox",
			slog.String("thread_id", t.ID), slog.Any("error", err))
		decision = assignment.Decision{Target: assignment.TargetOwnerInbox, Reason: assignment.ReasonNoActiveWindow}
	}

	evt, duplicate, err := e.events.Record(ctx, event.RecordInput{
		OrgID:               recv.OrgID,
		ThreadID:            t.ID,
		Direction:           event.DirectionInbound,
		ActorType:           event.ActorClient,
		Body:                msg.Body,
		ProviderMessageID:   msg.MessageSID,
		DeliveryStatus:      string(provider.StatusReceived),
		ResponsibleSitterID: decision.SitterID,
		Unverified:          msg.Unverified,
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("record event: %w", err)
	}
	if duplicate {
		return Outcome{Result: ResultDuplicate, ThreadID: evt.ThreadID, EventID: evt.ID, Decision: decision}, nil
	}

	ownerUnread := decision.Target == assignment.TargetOwnerInbox
	if err := e.threads.TouchInbound(ctx, t.ID, msg.ReceivedAt, ownerUnread); err != nil {
		e.logger.Warn("thread activity update failed", slog.String("thread_id", t.ID), slog.Any("error", err))
	}

	e.audit.Log(recv.OrgID, "messaging.inboundRouted", "success", map[string]any{
		"thread_id":  t.ID,
		"event_id":   evt.ID,
		"number_id":  recv.ID,
		"target":     string(decision.Target),
		"reason":     string(decision.Reason),
		"sender":     redactE164(msg.From),
		"unverified": msg.Unverified,
	})

	e.logger.Info("inbound stored",
		slog.String("thread_id", t.ID),
		slog.String("event_id", evt.ID),
		slog.String("target", string(decision.Target)),
		slog.String("reason", string(decision.Reason)),
	)
	return Outcome{Result: ResultStored, ThreadID: t.ID, EventID: evt.ID, Decision: decision}, nil
}

// createThread classifies and binds a number for a first-contact sender. A
// binding failure is logged and the thread persists unbound; binding is
// retried on a later attempt.
func (e *Engine) createThread(ctx context.Context, recv number.Number, contact client.Contact) (thread.Thread, error) {
	oneTime := e.clients.IsOneTime(contact)
	class := number.DecideClass(recv.Class, recv.AssignedSitterID != "", false, oneTime)

	boundNumberID := ""
	acquiredPoolID := ""
	if class == recv.Class {
		boundNumberID = recv.ID
	} else {
		bound, err := e.numbers.FindForClass(ctx, recv.OrgID, class, recv.AssignedSitterID)
		if err == nil && bound.Class == number.ClassPool {
			err = e.numbers.AcquirePoolSlot(ctx, bound.ID)
			if err == nil {
				acquiredPoolID = bound.ID
			}
		}
		if err != nil {
			e.logger.Warn("number binding failed, thread persists unbound",
				slog.String("org_id", recv.OrgID),
				slog.String("class", string(class)),
				slog.Any("error", err),
			)
		} else {
			boundNumberID = bound.ID
		}
	}

	t, err := e.threads.Create(ctx, thread.CreateInput{
		OrgID:            recv.OrgID,
		ClientID:         contact.ClientID,
		NumberID:         boundNumberID,
		NumberClass:      string(class),
		AssignedSitterID: recv.AssignedSitterID,
		IsOneTimeClient:  oneTime,
	})

	// Create may fail or return a concurrently created thread that does not
	// hold our number. Either way the slot acquired above would leak.
	if acquiredPoolID != "" && (err != nil || t.NumberID != acquiredPoolID) {
		if relErr := e.numbers.ReleasePoolSlot(ctx, acquiredPoolID); relErr != nil {
			e.logger.Warn("pool slot release failed",
				slog.String("number_id", acquiredPoolID),
				slog.Any("error", relErr),
			)
		}
	}
	return t, err
}

func (e *Engine) handlePoolMismatch(ctx context.Context, recv number.Number, msg provider.InboundMessage) (Outcome, error) {
	ownerThread, err := e.threads.FindOrCreateOwnerInbox(ctx, recv.OrgID)
	if err != nil {
		return Outcome{}, fmt.Errorf("owner inbox: %w", err)
	}

	evt, duplicate, err := e.events.Record(ctx, event.RecordInput{
		OrgID:             recv.OrgID,
		ThreadID:          ownerThread.ID,
		Direction:         event.DirectionInbound,
		ActorType:         event.ActorClient,
		Body:              msg.Body,
		ProviderMessageID: msg.MessageSID,
		DeliveryStatus:    string(provider.StatusReceived),
		Unverified:        msg.Unverified,
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("record mismatch event: %w", err)
	}
	if duplicate {
		return Outcome{Result: ResultDuplicate, ThreadID: evt.ThreadID, EventID: evt.ID}, nil
	}

	autoResponseSent := e.sendAutoResponse(ctx, recv, ownerThread, msg.From, e.poolMismatchResponse(ctx, recv.OrgID))

	if err := e.threads.TouchInbound(ctx, ownerThread.ID, msg.ReceivedAt, true); err != nil {
		e.logger.Warn("thread activity update failed", slog.String("thread_id", ownerThread.ID), slog.Any("error", err))
	}

	e.audit.Log(recv.OrgID, "messaging.poolNumberMismatch", "success", map[string]any{
		"number_id":          recv.ID,
		"sender":             redactE164(msg.From),
		"owner_thread_id":    ownerThread.ID,
		"event_id":           evt.ID,
		"auto_response_sent": autoResponseSent,
		"reason":             "sender not mapped to active thread on pool number",
	})

	e.logger.Info("pool mismatch diverted to owner inbox",
		slog.String("number_id", recv.ID),
		slog.String("thread_id", ownerThread.ID),
		slog.Bool("auto_response_sent", autoResponseSent),
	)
	return Outcome{
		Result:   ResultPoolMismatch,
		ThreadID: ownerThread.ID,
		EventID:  evt.ID,
		Decision: assignment.Decision{Target: assignment.TargetOwnerInbox, Reason: assignment.ReasonNoActiveWindow},
	}, nil
}

func (e *Engine) handlePolicyBlock(ctx context.Context, recv number.Number, t thread.Thread, msg provider.InboundMessage, detection policy.Detection) (Outcome, error) {
	evt, duplicate, err := e.events.Record(ctx, event.RecordInput{
		OrgID:             recv.OrgID,
		ThreadID:          t.ID,
		Direction:         event.DirectionInbound,
		ActorType:         event.ActorClient,
		Body:              msg.Body,
		RedactedBody:      policy.Redact(msg.Body, detection.Violations),
		ProviderMessageID: msg.MessageSID,
		DeliveryStatus:    event.StatusBlocked,
		Unverified:        msg.Unverified,
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("record blocked event: %w", err)
	}
	if duplicate {
		return Outcome{Result: ResultDuplicate, ThreadID: evt.ThreadID, EventID: evt.ID}, nil
	}

	for _, violation := range detection.Violations {
		if _, err := e.violations.Create(ctx, recv.OrgID, evt.ID, violation); err != nil {
			e.logger.Warn("violation record failed",
				slog.String("event_id", evt.ID),
				slog.String("category", string(violation.Category)),
				slog.Any("error", err),
			)
		}
	}

	warned := false
	if e.cfg.WarnSenderOnPolicyBlock {
		warned = e.sendAutoResponse(ctx, recv, t, msg.From, policy.Warning(detection.Violations))
	}

	if err := e.threads.TouchInbound(ctx, t.ID, msg.ReceivedAt, true); err != nil {
		e.logger.Warn("thread activity update failed", slog.String("thread_id", t.ID), slog.Any("error", err))
	}

	e.audit.Log(recv.OrgID, "messaging.policyBlocked", "success", map[string]any{
		"thread_id":  t.ID,
		"event_id":   evt.ID,
		"sender":     redactE164(msg.From),
		"violations": len(detection.Violations),
		"warned":     warned,
	})

	e.logger.Info("message blocked by policy filter",
		slog.String("thread_id", t.ID),
		slog.String("event_id", evt.ID),
		slog.Int("violations", len(detection.Violations)),
	)
	return Outcome{Result: ResultBlocked, ThreadID: t.ID, EventID: evt.ID}, nil
}

// sendAutoResponse sends a system message back to the sender and records the
// outbound event. Both are best effort.
func (e *Engine) sendAutoResponse(ctx context.Context, recv number.Number, t thread.Thread, to, body string) bool {
	if e.sender == nil || body == "" {
		return false
	}
	result, err := e.sender.SendMessage(ctx, provider.SendRequest{To: to, From: recv.E164, Body: body})
	if err != nil {
		e.logger.Warn("auto-response send failed",
			slog.String("to", redactE164(to)),
			slog.Any("error", err),
		)
		return false
	}
	if _, _, err := e.events.Record(ctx, event.RecordInput{
		OrgID:             recv.OrgID,
		ThreadID:          t.ID,
		Direction:         event.DirectionOutbound,
		ActorType:         event.ActorSystem,
		Body:              body,
		ProviderMessageID: result.MessageSID,
		DeliveryStatus:    string(result.Status),
	}); err != nil {
		e.logger.Warn("auto-response event record failed", slog.Any("error", err))
	}
	return true
}

// poolMismatchResponse builds the acknowledgment sent to an unmapped pool
// sender, preferring the configured override.
func (e *Engine) poolMismatchResponse(ctx context.Context, orgID string) string {
	if e.cfg.PoolMismatchAutoResponse != "" {
		return e.cfg.PoolMismatchAutoResponse
	}

	frontDeskContact := "our front desk"
	if frontDesk, err := e.numbers.FrontDesk(ctx, orgID); err == nil {
		frontDeskContact = "front desk at " + frontDesk.E164
	}
	if e.cfg.BookingLink != "" {
		return fmt.Sprintf("Hi, this is Snout Services. To book again, please contact %s or use the booking link: %s", frontDeskContact, e.cfg.BookingLink)
	}
	return fmt.Sprintf("Hi, this is Snout Services. To book again, please contact %s.", frontDeskContact)
}

// HandleStatus applies a delivery-status callback. An unknown provider
// message id is a no-op; repeated failures count against the number's health.
func (e *Engine) HandleStatus(ctx context.Context, cb provider.StatusCallback) error {
	evt, found, err := e.events.UpdateDeliveryStatus(ctx, cb.MessageSID, string(cb.Status), cb.ErrorCode, cb.ErrorMessage)
	if err != nil {
		return fmt.Errorf("update delivery status: %w", err)
	}
	if !found {
		e.logger.Info("status callback for unknown message",
			slog.String("provider_message_id", cb.MessageSID),
			slog.String("status", string(cb.Status)),
		)
		return nil
	}

	e.logger.Debug("delivery status updated",
		slog.String("event_id", evt.ID),
		slog.String("status", string(cb.Status)),
		slog.String("error_code", cb.ErrorCode),
	)

	if cb.Status == provider.StatusFailed {
		t, err := e.threads.GetByID(ctx, evt.ThreadID)
		if err != nil || t.NumberID == "" {
			return nil
		}
		if err := e.numbers.RecordFailure(ctx, t.NumberID); err != nil {
			e.logger.Warn("number failure record failed",
				slog.String("number_id", t.NumberID),
				slog.Any("error", err),
			)
		}
	}
	return nil
}

func redactE164(e164 string) string {
	if len(e164) <= 4 {
		return "****"
	}
	return "****" + e164[len(e164)-4:]
}
