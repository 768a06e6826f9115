package client

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

// ErrContactNotFound means no contact record exists for a sender.
var ErrContactNotFound = errors.New("contact not found")

// Contact is a phone identity attached to a client.
type Contact struct {
	ID        string
	OrgID     string
	ClientID  string
	E164      string
	Label     string
	Verified  bool
	IsGuest   bool
	Name      string
	CreatedAt time.Time
}

// Service resolves and creates client identities for inbound senders.
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
		logger: log.With(slog.String("service", "client")),
	}
}

// FindContactByE164 looks up the sender's contact within a tenant.
func (s *Service) FindContactByE164(ctx context.Context, orgID, e164 string) (Contact, error) {
	pgOrgID, err := db.ParseUUID(orgID)
	if err != nil {
		return Contact{}, err
	}
	row := s.pool.QueryRow(ctx,
		`SELECT cc.id, cc.org_id, cc.client_id, cc.e164, cc.label, cc.verified, c.is_guest, c.name, cc.created_at
		 FROM client_contacts cc
		 JOIN clients c ON c.id = cc.client_id
		 WHERE cc.org_id = $1 AND cc.e164 = $2`, pgOrgID, e164)
	contact, err := scanContact(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Contact{}, ErrContactNotFound
	}
	if err != nil {
		return Contact{}, fmt.Errorf("find contact: %w", err)
	}
	return contact, nil
}

// CreateGuest creates a guest client plus an unverified contact for an
// unknown sender. On a concurrent create the existing contact is returned.
func (s *Service) CreateGuest(ctx context.Context, orgID, e164 string) (Contact, error) {
	pgOrgID, err := db.ParseUUID(orgID)
	if err != nil {
		return Contact{}, err
	}

	// Both inserts run in one transaction so a lost contact race rolls the
	// guest client row back instead of orphaning it.
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Contact{}, fmt.Errorf("begin guest create: %w", err)
	}
	defer tx.Rollback(ctx)

	name := fmt.Sprintf("Guest (%s)", e164)
	var clientID pgtype.UUID
	err = tx.QueryRow(ctx,
		`INSERT INTO clients (org_id, name, is_guest) VALUES ($1, $2, true) RETURNING id`,
		pgOrgID, name).Scan(&clientID)
	if err != nil {
		return Contact{}, fmt.Errorf("create guest client: %w", err)
	}

	row := tx.QueryRow(ctx,
		`INSERT INTO client_contacts (org_id, client_id, e164, label, verified)
		 VALUES ($1, $2, $3, 'Mobile', false)
		 ON CONFLICT (org_id, e164) DO NOTHING
		 RETURNING id, created_at`, pgOrgID, clientID, e164)

	var contactID pgtype.UUID
	var createdAt pgtype.Timestamptz
	if err := row.Scan(&contactID, &createdAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Lost a creation race; drop our rows and defer to the winner.
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				return Contact{}, fmt.Errorf("rollback guest create: %w", rbErr)
			}
			return s.FindContactByE164(ctx, orgID, e164)
		}
		return Contact{}, fmt.Errorf("create guest contact: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Contact{}, fmt.Errorf("commit guest create: %w", err)
	}

	s.logger.Info("guest client created",
		slog.String("org_id", orgID),
		slog.String("client_id", db.UUIDString(clientID)),
	)
	return Contact{
		ID:        db.UUIDString(contactID),
		OrgID:     orgID,
		ClientID:  db.UUIDString(clientID),
		E164:      e164,
		Label:     "Mobile",
		Verified:  false,
		IsGuest:   true,
		Name:      name,
		CreatedAt: createdAt.Time,
	}, nil
}

// IsOneTime classifies a sender for thread creation. Guests and unverified
// contacts are treated as one-off; the flag is fixed at thread creation and
// never recomputed.
func (s *Service) IsOneTime(contact Contact) bool {
	return contact.IsGuest || !contact.Verified
}

func scanContact(row pgx.Row) (Contact, error) {
	var (
		contact             Contact
		id, orgID, clientID pgtype.UUID
		createdAt           pgtype.Timestamptz
	)
	err := row.Scan(&id, &orgID, &clientID, &contact.E164, &contact.Label, &contact.Verified,
		&contact.IsGuest, &contact.Name, &createdAt)
	if err != nil {
		return Contact{}, err
	}
	contact.ID = db.UUIDString(id)
	contact.OrgID = db.UUIDString(orgID)
	contact.ClientID = db.UUIDString(clientID)
	contact.CreatedAt = createdAt.Time
	return contact, nil
}
