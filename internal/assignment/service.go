package assignment

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/snoutservices/relay/internal/db"
)

// Service reads and maintains assignment windows.
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
		logger: log.With(slog.String("service", "assignment")),
	}
}

// Resolve determines the responsible party for a thread at an instant.
func (s *Service) Resolve(ctx context.Context, threadID string, at time.Time) (Decision, error) {
	windows, err := s.ActiveWindows(ctx, threadID)
	if err != nil {
		return Decision{}, err
	}
	decision := Decide(windows, at)
	s.logger.Debug("assignment resolved",
		slog.String("thread_id", threadID),
		slog.String("target", string(decision.Target)),
		slog.String("reason", string(decision.Reason)),
	)
	return decision, nil
}

// ActiveWindows lists a thread's active windows.
func (s *Service) ActiveWindows(ctx context.Context, threadID string) ([]Window, error) {
	pgThreadID, err := db.ParseUUID(threadID)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, thread_id, sitter_id, starts_at, ends_at, status, created_at, updated_at
		 FROM assignment_windows
		 WHERE thread_id = $1 AND status = 'active'
		 ORDER BY starts_at`, pgThreadID)
	if err != nil {
		return nil, fmt.Errorf("active windows: %w", err)
	}
	defer rows.Close()

	var windows []Window
	for rows.Next() {
		var (
			w                    Window
			id, thread, sitter   pgtype.UUID
			startsAt, endsAt     pgtype.Timestamptz
			createdAt, updatedAt pgtype.Timestamptz
		)
		if err := rows.Scan(&id, &thread, &sitter, &startsAt, &endsAt, &w.Status, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		w.ID = db.UUIDString(id)
		w.ThreadID = db.UUIDString(thread)
		w.SitterID = db.UUIDString(sitter)
		w.StartsAt = startsAt.Time
		w.EndsAt = endsAt.Time
		w.CreatedAt = createdAt.Time
		w.UpdatedAt = updatedAt.Time
		windows = append(windows, w)
	}
	return windows, rows.Err()
}

// CreateWindow opens a window for a sitter over a booking span, widened by the
// service-type buffer.
func (s *Service) CreateWindow(ctx context.Context, threadID, sitterID, serviceType string, startsAt, endsAt time.Time) (Window, error) {
	pgThreadID, err := db.ParseUUID(threadID)
	if err != nil {
		return Window{}, err
	}
	pgSitterID, err := db.ParseUUID(sitterID)
	if err != nil {
		return Window{}, err
	}
	spanStart, spanEnd := ComputeSpan(serviceType, startsAt, endsAt)

	var id pgtype.UUID
	err = s.pool.QueryRow(ctx,
		`INSERT INTO assignment_windows (thread_id, sitter_id, starts_at, ends_at)
		 VALUES ($1, $2, $3, $4) RETURNING id`,
		pgThreadID, pgSitterID,
		pgtype.Timestamptz{Time: spanStart, Valid: true},
		pgtype.Timestamptz{Time: spanEnd, Valid: true}).Scan(&id)
	if err != nil {
		return Window{}, fmt.Errorf("create window: %w", err)
	}
	return Window{
		ID:       db.UUIDString(id),
		ThreadID: threadID,
		SitterID: sitterID,
		StartsAt: spanStart,
		EndsAt:   spanEnd,
		Status:   WindowActive,
	}, nil
}

// CloseWindow marks a window closed.
func (s *Service) CloseWindow(ctx context.Context, windowID string) error {
	pgID, err := db.ParseUUID(windowID)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`UPDATE assignment_windows SET status = 'closed', updated_at = now() WHERE id = $1`, pgID)
	if err != nil {
		return fmt.Errorf("close window: %w", err)
	}
	return nil
}

// CloseExpired closes windows whose span has passed. Returns how many closed.
func (s *Service) CloseExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE assignment_windows SET status = 'closed', updated_at = now()
		 WHERE status = 'active' AND ends_at < $1`,
		pgtype.Timestamptz{Time: now, Valid: true})
	if err != nil {
		return 0, fmt.Errorf("close expired windows: %w", err)
	}
	return tag.RowsAffected(), nil
}
