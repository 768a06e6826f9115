package event

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/snoutservices/relay/internal/db"
)

// Service persists immutable message events.
type Service struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewService(log *slog.Logger, pool *pgxpool.Pool) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		pool:   pool,
		logger: log.With(slog.String("service", "event")),
	}
}

const eventColumns = `id, org_id, thread_id, direction, actor_type, body, redacted_body,
	provider_message_id, delivery_status, failure_code, failure_detail,
	responsible_sitter_id, attempt_no, unverified, created_at`

func scanEvent(row pgx.Row) (Event, error) {
	var (
		e                           Event
		id, orgID, threadID         pgtype.UUID
		redactedBody, providerMsgID pgtype.Text
		failureCode, failureDetail  pgtype.Text
		sitterID                    pgtype.UUID
		createdAt                   pgtype.Timestamptz
	)
	err := row.Scan(&id, &orgID, &threadID, &e.Direction, &e.ActorType, &e.Body, &redactedBody,
		&providerMsgID, &e.DeliveryStatus, &failureCode, &failureDetail,
		&sitterID, &e.AttemptNo, &e.Unverified, &createdAt)
	if err != nil {
		return Event{}, err
	}
	e.ID = db.UUIDString(id)
	e.OrgID = db.UUIDString(orgID)
	e.ThreadID = db.UUIDString(threadID)
	e.RedactedBody = db.TextToString(redactedBody)
	e.ProviderMessageID = db.TextToString(providerMsgID)
	e.FailureCode = db.TextToString(failureCode)
	e.FailureDetail = db.TextToString(failureDetail)
	e.ResponsibleSitterID = db.UUIDString(sitterID)
	e.CreatedAt = createdAt.Time
	return e, nil
}

// Record inserts an event. For inbound events carrying a provider message id,
// a replayed delivery of the same message does not create a second event: the
// existing one is returned with duplicate set.
func (s *Service) Record(ctx context.Context, input RecordInput) (Event, bool, error) {
	pgOrgID, err := db.ParseUUID(input.OrgID)
	if err != nil {
		return Event{}, false, err
	}
	pgThreadID, err := db.ParseUUID(input.ThreadID)
	if err != nil {
		return Event{}, false, err
	}
	pgSitterID := pgtype.UUID{}
	if input.ResponsibleSitterID != "" {
		if pgSitterID, err = db.ParseUUID(input.ResponsibleSitterID); err != nil {
			return Event{}, false, err
		}
	}
	status := input.DeliveryStatus
	if status == "" {
		status = "received"
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO events (org_id, thread_id, direction, actor_type, body, redacted_body,
		                     provider_message_id, delivery_status, responsible_sitter_id, unverified)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (provider_message_id) WHERE direction = 'inbound' AND provider_message_id IS NOT NULL
		 DO NOTHING
		 RETURNING `+eventColumns,
		pgOrgID, pgThreadID, input.Direction, input.ActorType, input.Body,
		db.ToPgText(input.RedactedBody), db.ToPgText(input.ProviderMessageID),
		status, pgSitterID, input.Unverified)

	e, err := scanEvent(row)
	if err == nil {
		return e, false, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Event{}, false, fmt.Errorf("record event: %w", err)
	}

	// Conflict: this provider message id was already recorded.
	existing, found, err := s.FindInboundByProviderID(ctx, input.ProviderMessageID)
	if err != nil {
		return Event{}, false, err
	}
	if !found {
		return Event{}, false, fmt.Errorf("record event: conflict but no existing row for %s", input.ProviderMessageID)
	}
	s.logger.Info("duplicate inbound ignored",
		slog.String("provider_message_id", input.ProviderMessageID),
		slog.String("event_id", existing.ID),
	)
	return existing, true, nil
}

// FindInboundByProviderID loads the inbound event for a provider message id.
func (s *Service) FindInboundByProviderID(ctx context.Context, providerMessageID string) (Event, bool, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM events
		 WHERE direction = 'inbound' AND provider_message_id = $1`, providerMessageID)
	e, err := scanEvent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Event{}, false, nil
	}
	if err != nil {
		return Event{}, false, fmt.Errorf("find inbound event: %w", err)
	}
	return e, true, nil
}

// UpdateDeliveryStatus applies a delivery-status callback to the most recent
// event carrying the provider message id. A missing event is not an error;
// out-of-order and duplicate callbacks are expected.
func (s *Service) UpdateDeliveryStatus(ctx context.Context, providerMessageID, status, failureCode, failureDetail string) (Event, bool, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE events
		 SET delivery_status = $2, failure_code = $3, failure_detail = $4, attempt_no = attempt_no + 1
		 WHERE id = (
		     SELECT id FROM events WHERE provider_message_id = $1
		     ORDER BY created_at DESC LIMIT 1
		 )
		 RETURNING `+eventColumns,
		providerMessageID, status, db.ToPgText(failureCode), db.ToPgText(failureDetail))
	e, err := scanEvent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Event{}, false, nil
	}
	if err != nil {
		return Event{}, false, fmt.Errorf("update delivery status: %w", err)
	}
	return e, true, nil
}

// ListByThread returns a thread's events in order.
func (s *Service) ListByThread(ctx context.Context, threadID string) ([]Event, error) {
	pgThreadID, err := db.ParseUUID(threadID)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+eventColumns+` FROM events WHERE thread_id = $1 ORDER BY created_at`, pgThreadID)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
