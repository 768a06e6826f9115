package number

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/snoutservices/relay/internal/db"
)

// quarantineThreshold is how many delivery failures a number absorbs before
// it is pulled from rotation.
const quarantineThreshold = 5

// Service looks up and maintains the number inventory.
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
		logger: log.With(slog.String("service", "number")),
	}
}

const numberColumns = `id, org_id, e164, class, status, assigned_sitter_id,
	max_concurrent_threads, active_thread_count, failure_count, quarantined_at, created_at, updated_at`

func (s *Service) scanNumber(row pgx.Row) (Number, error) {
	var (
		n                        Number
		id, orgID, sitterID      pgtype.UUID
		quarantinedAt, createdAt pgtype.Timestamptz
		updatedAt                pgtype.Timestamptz
	)
	err := row.Scan(&id, &orgID, &n.E164, &n.Class, &n.Status, &sitterID,
		&n.MaxConcurrentThreads, &n.ActiveThreadCount, &n.FailureCount, &quarantinedAt, &createdAt, &updatedAt)
	if err != nil {
		return Number{}, err
	}
	n.ID = db.UUIDString(id)
	n.OrgID = db.UUIDString(orgID)
	n.AssignedSitterID = db.UUIDString(sitterID)
	n.QuarantinedAt = quarantinedAt.Time
	n.CreatedAt = createdAt.Time
	n.UpdatedAt = updatedAt.Time
	return n, nil
}

// ResolveByE164 maps a recipient number to its owning tenant. Only active
// numbers resolve; quarantined and inactive numbers behave as unknown.
func (s *Service) ResolveByE164(ctx context.Context, e164 string) (Number, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+numberColumns+` FROM numbers WHERE e164 = $1 AND status = 'active'`, e164)
	n, err := s.scanNumber(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Number{}, ErrNotFound
	}
	if err != nil {
		return Number{}, fmt.Errorf("resolve number: %w", err)
	}
	return n, nil
}

// FrontDesk returns the tenant's active front-desk number.
func (s *Service) FrontDesk(ctx context.Context, orgID string) (Number, error) {
	pgOrgID, err := db.ParseUUID(orgID)
	if err != nil {
		return Number{}, err
	}
	row := s.pool.QueryRow(ctx,
		`SELECT `+numberColumns+` FROM numbers
		 WHERE org_id = $1 AND class = 'front_desk' AND status = 'active'
		 ORDER BY created_at LIMIT 1`, pgOrgID)
	n, err := s.scanNumber(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Number{}, ErrNotFound
	}
	if err != nil {
		return Number{}, fmt.Errorf("front desk number: %w", err)
	}
	return n, nil
}

// FindForClass picks a bindable number of the given class. Pool numbers are
// chosen least-loaded first among those with remaining capacity.
func (s *Service) FindForClass(ctx context.Context, orgID string, class Class, sitterID string) (Number, error) {
	pgOrgID, err := db.ParseUUID(orgID)
	if err != nil {
		return Number{}, err
	}

	var row pgx.Row
	switch class {
	case ClassSitter:
		pgSitterID, err := db.ParseUUID(sitterID)
		if err != nil {
			return Number{}, fmt.Errorf("sitter number needs sitter id: %w", err)
		}
		row = s.pool.QueryRow(ctx,
			`SELECT `+numberColumns+` FROM numbers
			 WHERE org_id = $1 AND class = 'sitter' AND status = 'active' AND assigned_sitter_id = $2
			 LIMIT 1`, pgOrgID, pgSitterID)
	case ClassPool:
		row = s.pool.QueryRow(ctx,
			`SELECT `+numberColumns+` FROM numbers
			 WHERE org_id = $1 AND class = 'pool' AND status = 'active'
			   AND active_thread_count < max_concurrent_threads
			 ORDER BY active_thread_count LIMIT 1`, pgOrgID)
	default:
		return s.FrontDesk(ctx, orgID)
	}

	n, err := s.scanNumber(row)
	if errors.Is(err, pgx.ErrNoRows) {
		if class == ClassPool {
			return Number{}, ErrPoolExhausted
		}
		return Number{}, ErrNotFound
	}
	if err != nil {
		return Number{}, fmt.Errorf("find %s number: %w", class, err)
	}
	return n, nil
}

// AcquirePoolSlot atomically claims one unit of a pool number's capacity.
// Concurrent claims past capacity fail with ErrPoolExhausted.
func (s *Service) AcquirePoolSlot(ctx context.Context, numberID string) error {
	pgID, err := db.ParseUUID(numberID)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE numbers
		 SET active_thread_count = active_thread_count + 1, updated_at = now()
		 WHERE id = $1 AND status = 'active' AND active_thread_count < max_concurrent_threads`, pgID)
	if err != nil {
		return fmt.Errorf("acquire pool slot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPoolExhausted
	}
	return nil
}

// ReleasePoolSlot returns one unit of capacity when a thread is archived.
func (s *Service) ReleasePoolSlot(ctx context.Context, numberID string) error {
	pgID, err := db.ParseUUID(numberID)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`UPDATE numbers
		 SET active_thread_count = GREATEST(active_thread_count - 1, 0), updated_at = now()
		 WHERE id = $1`, pgID)
	if err != nil {
		return fmt.Errorf("release pool slot: %w", err)
	}
	return nil
}

// RecordFailure bumps a number's delivery failure counter and quarantines it
// once the threshold is crossed.
func (s *Service) RecordFailure(ctx context.Context, numberID string) error {
	pgID, err := db.ParseUUID(numberID)
	if err != nil {
		return err
	}
	var failureCount int
	err = s.pool.QueryRow(ctx,
		`UPDATE numbers SET failure_count = failure_count + 1, updated_at = now()
		 WHERE id = $1 RETURNING failure_count`, pgID).Scan(&failureCount)
	if err != nil {
		return fmt.Errorf("record failure: %w", err)
	}
	if failureCount < quarantineThreshold {
		return nil
	}
	_, err = s.pool.Exec(ctx,
		`UPDATE numbers SET status = 'quarantined', quarantined_at = now(), updated_at = now()
		 WHERE id = $1 AND status = 'active'`, pgID)
	if err != nil {
		return fmt.Errorf("quarantine number: %w", err)
	}
	s.logger.Warn("number quarantined",
		slog.String("number_id", numberID),
		slog.Int("failure_count", failureCount),
	)
	return nil
}

// LiftQuarantine reactivates numbers whose cooldown has elapsed and resets
// their failure counters. Returns how many numbers were reactivated.
func (s *Service) LiftQuarantine(ctx context.Context, cooldown time.Duration) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE numbers
		 SET status = 'active', failure_count = 0, quarantined_at = NULL, updated_at = now()
		 WHERE status = 'quarantined' AND quarantined_at < now() - $1::interval`,
		fmt.Sprintf("%d seconds", int(cooldown.Seconds())))
	if err != nil {
		return 0, fmt.Errorf("lift quarantine: %w", err)
	}
	return tag.RowsAffected(), nil
}
