package thread

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/snoutservices/relay/internal/db"
)

const uniqueViolation = "23505"

// Service finds and creates threads and their participants.
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
		logger: log.With(slog.String("service", "thread")),
	}
}

const threadColumns = `id, org_id, client_id, number_id, number_class, assigned_sitter_id,
	status, is_owner_inbox, is_one_time_client, owner_unread_count,
	last_inbound_at, last_message_at, created_at, updated_at`

func scanThread(row pgx.Row) (Thread, error) {
	var (
		t                            Thread
		id, orgID, clientID          pgtype.UUID
		numberID, sitterID           pgtype.UUID
		lastInboundAt, lastMessageAt pgtype.Timestamptz
		createdAt, updatedAt         pgtype.Timestamptz
	)
	err := row.Scan(&id, &orgID, &clientID, &numberID, &t.NumberClass, &sitterID,
		&t.Status, &t.IsOwnerInbox, &t.IsOneTimeClient, &t.OwnerUnreadCount,
		&lastInboundAt, &lastMessageAt, &createdAt, &updatedAt)
	if err != nil {
		return Thread{}, err
	}
	t.ID = db.UUIDString(id)
	t.OrgID = db.UUIDString(orgID)
	t.ClientID = db.UUIDString(clientID)
	t.NumberID = db.UUIDString(numberID)
	t.AssignedSitterID = db.UUIDString(sitterID)
	t.LastInboundAt = lastInboundAt.Time
	t.LastMessageAt = lastMessageAt.Time
	t.CreatedAt = createdAt.Time
	t.UpdatedAt = updatedAt.Time
	return t, nil
}

// FindOpenByClient returns the open thread for a (tenant, client) pair.
func (s *Service) FindOpenByClient(ctx context.Context, orgID, clientID string) (Thread, error) {
	pgOrgID, err := db.ParseUUID(orgID)
	if err != nil {
		return Thread{}, err
	}
	pgClientID, err := db.ParseUUID(clientID)
	if err != nil {
		return Thread{}, err
	}
	row := s.pool.QueryRow(ctx,
		`SELECT `+threadColumns+` FROM threads
		 WHERE org_id = $1 AND client_id = $2 AND status = 'open' AND NOT is_owner_inbox`,
		pgOrgID, pgClientID)
	t, err := scanThread(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Thread{}, ErrNotFound
	}
	if err != nil {
		return Thread{}, fmt.Errorf("find open thread: %w", err)
	}
	return t, nil
}

// Create inserts a new open thread. Two concurrent first messages from the
// same client cannot both create one: the partial unique index rejects the
// loser, which then attaches to the winner's thread.
func (s *Service) Create(ctx context.Context, input CreateInput) (Thread, error) {
	pgOrgID, err := db.ParseUUID(input.OrgID)
	if err != nil {
		return Thread{}, err
	}
	pgClientID, err := db.ParseUUID(input.ClientID)
	if err != nil {
		return Thread{}, err
	}
	pgNumberID := pgtype.UUID{}
	if input.NumberID != "" {
		if pgNumberID, err = db.ParseUUID(input.NumberID); err != nil {
			return Thread{}, err
		}
	}
	pgSitterID := pgtype.UUID{}
	if input.AssignedSitterID != "" {
		if pgSitterID, err = db.ParseUUID(input.AssignedSitterID); err != nil {
			return Thread{}, err
		}
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO threads (org_id, client_id, number_id, number_class, assigned_sitter_id, is_one_time_client)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING `+threadColumns,
		pgOrgID, pgClientID, pgNumberID, input.NumberClass, pgSitterID, input.IsOneTimeClient)
	t, err := scanThread(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return s.FindOpenByClient(ctx, input.OrgID, input.ClientID)
		}
		return Thread{}, fmt.Errorf("create thread: %w", err)
	}
	s.logger.Info("thread created",
		slog.String("thread_id", t.ID),
		slog.String("org_id", t.OrgID),
		slog.String("number_class", t.NumberClass),
		slog.Bool("one_time_client", t.IsOneTimeClient),
	)
	return t, nil
}

// FindOrCreateOwnerInbox returns the tenant's owner inbox thread, creating it
// on first use.
func (s *Service) FindOrCreateOwnerInbox(ctx context.Context, orgID string) (Thread, error) {
	pgOrgID, err := db.ParseUUID(orgID)
	if err != nil {
		return Thread{}, err
	}
	row := s.pool.QueryRow(ctx,
		`SELECT `+threadColumns+` FROM threads
		 WHERE org_id = $1 AND is_owner_inbox AND status = 'open'`, pgOrgID)
	t, err := scanThread(row)
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Thread{}, fmt.Errorf("find owner inbox: %w", err)
	}

	row = s.pool.QueryRow(ctx,
		`INSERT INTO threads (org_id, number_class, is_owner_inbox)
		 VALUES ($1, 'front_desk', true)
		 RETURNING `+threadColumns, pgOrgID)
	t, err = scanThread(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return s.FindOrCreateOwnerInbox(ctx, orgID)
		}
		return Thread{}, fmt.Errorf("create owner inbox: %w", err)
	}
	return t, nil
}

// EnsureParticipant creates a participant lazily on first reference.
func (s *Service) EnsureParticipant(ctx context.Context, threadID string, role Role, e164 string) error {
	pgThreadID, err := db.ParseUUID(threadID)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO participants (thread_id, role, e164)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (thread_id, role, e164) DO NOTHING`,
		pgThreadID, role, e164)
	if err != nil {
		return fmt.Errorf("ensure participant: %w", err)
	}
	return nil
}

// TouchInbound updates thread activity after an inbound event. The owner
// unread counter moves only when the message landed in the owner's view.
func (s *Service) TouchInbound(ctx context.Context, threadID string, at time.Time, ownerUnread bool) error {
	pgThreadID, err := db.ParseUUID(threadID)
	if err != nil {
		return err
	}
	increment := 0
	if ownerUnread {
		increment = 1
	}
	_, err = s.pool.Exec(ctx,
		`UPDATE threads
		 SET last_inbound_at = $2, last_message_at = $2,
		     owner_unread_count = owner_unread_count + $3, updated_at = now()
		 WHERE id = $1`,
		pgThreadID, pgtype.Timestamptz{Time: at, Valid: true}, increment)
	if err != nil {
		return fmt.Errorf("touch thread: %w", err)
	}
	return nil
}

// GetByID loads one thread.
func (s *Service) GetByID(ctx context.Context, threadID string) (Thread, error) {
	pgThreadID, err := db.ParseUUID(threadID)
	if err != nil {
		return Thread{}, err
	}
	row := s.pool.QueryRow(ctx,
		`SELECT `+threadColumns+` FROM threads WHERE id = $1`, pgThreadID)
	t, err := scanThread(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Thread{}, ErrNotFound
	}
	if err != nil {
		return Thread{}, fmt.Errorf("get thread: %w", err)
	}
	return t, nil
}

// ListByOrg returns a tenant's threads, most recent activity first.
func (s *Service) ListByOrg(ctx context.Context, orgID string, limit int32) ([]Thread, error) {
	pgOrgID, err := db.ParseUUID(orgID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+threadColumns+` FROM threads
		 WHERE org_id = $1
		 ORDER BY last_message_at DESC NULLS LAST, created_at DESC
		 LIMIT $2`, pgOrgID, limit)
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	defer rows.Close()

	var threads []Thread
	for rows.Next() {
		t, err := scanThread(rows)
		if err != nil {
			return nil, err
		}
		threads = append(threads, t)
	}
	return threads, rows.Err()
}

// Archive closes a thread. Pool slot release is the caller's concern.
func (s *Service) Archive(ctx context.Context, threadID string) error {
	pgThreadID, err := db.ParseUUID(threadID)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`UPDATE threads SET status = 'archived', updated_at = now() WHERE id = $1`, pgThreadID)
	if err != nil {
		return fmt.Errorf("archive thread: %w", err)
	}
	return nil
}
