package policy

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/snoutservices/relay/internal/db"
)

// ViolationRecord is a persisted policy violation referencing the blocked
// event.
type ViolationRecord struct {
	ID             string
	OrgID          string
	EventID        string
	Category       Category
	MatchedContent string
	Status         string
	CreatedAt      time.Time
}

// Store persists policy violations.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewStore(log *slog.Logger, pool *pgxpool.Pool) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		pool:   pool,
		logger: log.With(slog.String("service", "policy")),
	}
}

// Create records one violation for a blocked event.
func (s *Store) Create(ctx context.Context, orgID, eventID string, violation Violation) (ViolationRecord, error) {
	pgOrgID, err := db.ParseUUID(orgID)
	if err != nil {
		return ViolationRecord{}, err
	}
	pgEventID, err := db.ParseUUID(eventID)
	if err != nil {
		return ViolationRecord{}, err
	}

	var id pgtype.UUID
	var createdAt pgtype.Timestamptz
	err = s.pool.QueryRow(ctx,
		`INSERT INTO policy_violations (org_id, event_id, category, matched_content)
		 VALUES ($1, $2, $3, $4) RETURNING id, created_at`,
		pgOrgID, pgEventID, violation.Category, violation.Content).Scan(&id, &createdAt)
	if err != nil {
		return ViolationRecord{}, fmt.Errorf("create violation: %w", err)
	}
	return ViolationRecord{
		ID:             db.UUIDString(id),
		OrgID:          orgID,
		EventID:        eventID,
		Category:       violation.Category,
		MatchedContent: violation.Content,
		Status:         "open",
		CreatedAt:      createdAt.Time,
	}, nil
}

// ListOpen returns a tenant's unresolved violations, newest first.
func (s *Store) ListOpen(ctx context.Context, orgID string, limit int32) ([]ViolationRecord, error) {
	pgOrgID, err := db.ParseUUID(orgID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, org_id, event_id, category, matched_content, status, created_at
		 FROM policy_violations
		 WHERE org_id = $1 AND status = 'open'
		 ORDER BY created_at DESC LIMIT $2`, pgOrgID, limit)
	if err != nil {
		return nil, fmt.Errorf("list violations: %w", err)
	}
	defer rows.Close()

	var records []ViolationRecord
	for rows.Next() {
		var (
			r                  ViolationRecord
			id, pgOrg, pgEvent pgtype.UUID
			createdAt          pgtype.Timestamptz
		)
		if err := rows.Scan(&id, &pgOrg, &pgEvent, &r.Category, &r.MatchedContent, &r.Status, &createdAt); err != nil {
			return nil, err
		}
		r.ID = db.UUIDString(id)
		r.OrgID = db.UUIDString(pgOrg)
		r.EventID = db.UUIDString(pgEvent)
		r.CreatedAt = createdAt.Time
		records = append(records, r)
	}
	return records, rows.Err()
}

// SetStatus resolves, dismisses, or overrides a violation.
func (s *Store) SetStatus(ctx context.Context, violationID, status string) error {
	pgID, err := db.ParseUUID(violationID)
	if err != nil {
		return err
	}
	switch status {
	case "resolved", "dismissed", "overridden":
	default:
		return fmt.Errorf("invalid violation status %q", status)
	}
	_, err = s.pool.Exec(ctx,
		`UPDATE policy_violations SET status = $2 WHERE id = $1`, pgID, status)
	if err != nil {
		return fmt.Errorf("set violation status: %w", err)
	}
	return nil
}
