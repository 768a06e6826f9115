package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/snoutservices/relay/internal/db"
)

const writeTimeout = 5 * time.Second

// Entry is an append-only record of one routing decision.
type Entry struct {
	ID        string
	OrgID     string
	Action    string
	Outcome   string
	Metadata  map[string]any
	CreatedAt time.Time
}

// Service appends audit entries. Writes are fire-and-forget: a failed append
// is logged locally and never surfaces to the caller.
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
		logger: log.With(slog.String("service", "audit")),
	}
}

// Log dispatches an audit append without blocking the caller.
func (s *Service) Log(orgID, action, outcome string, metadata map[string]any) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		if err := s.write(ctx, orgID, action, outcome, metadata); err != nil {
			s.logger.Warn("audit append failed",
				slog.String("action", action),
				slog.Any("error", err),
			)
		}
	}()
}

func (s *Service) write(ctx context.Context, orgID, action, outcome string, metadata map[string]any) error {
	pgOrgID, err := db.ParseUUID(orgID)
	if err != nil {
		return err
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	metaBytes, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("marshal audit metadata: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO audit_entries (org_id, action, outcome, metadata) VALUES ($1, $2, $3, $4)`,
		pgOrgID, action, outcome, metaBytes)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// ListByOrg returns a tenant's audit trail, newest first.
func (s *Service) ListByOrg(ctx context.Context, orgID string, limit int32) ([]Entry, error) {
	pgOrgID, err := db.ParseUUID(orgID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, org_id, action, outcome, metadata, created_at
		 FROM audit_entries
		 WHERE org_id = $1
		 ORDER BY created_at DESC LIMIT $2`, pgOrgID, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e         Entry
			id, pgOrg pgtype.UUID
			metaBytes []byte
			createdAt pgtype.Timestamptz
		)
		if err := rows.Scan(&id, &pgOrg, &e.Action, &e.Outcome, &metaBytes, &createdAt); err != nil {
			return nil, err
		}
		e.ID = db.UUIDString(id)
		e.OrgID = db.UUIDString(pgOrg)
		e.CreatedAt = createdAt.Time
		if len(metaBytes) > 0 {
			if err := json.Unmarshal(metaBytes, &e.Metadata); err != nil {
				s.logger.Warn("audit metadata unmarshal failed", slog.Any("error", err))
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
