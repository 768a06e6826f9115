package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"

	"github.com/snoutservices/relay/internal/db"
)

// ErrNotFound means no account matches the lookup.
var ErrNotFound = errors.New("account not found")

// Account is an operator login for the console API.
type Account struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	Role         string
	IsActive     bool
	CreatedAt    time.Time
}

// Service manages operator accounts.
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
		logger: log.With(slog.String("service", "account")),
	}
}

// FindByUsername loads an active account by username.
func (s *Service) FindByUsername(ctx context.Context, username string) (Account, error) {
	var (
		a         Account
		id        pgtype.UUID
		email     pgtype.Text
		createdAt pgtype.Timestamptz
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, username, email, password_hash, role, is_active, created_at
		 FROM accounts WHERE username = $1 AND is_active`, username).
		Scan(&id, &a.Username, &email, &a.PasswordHash, &a.Role, &a.IsActive, &createdAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, ErrNotFound
	}
	if err != nil {
		return Account{}, fmt.Errorf("find account: %w", err)
	}
	a.ID = db.UUIDString(id)
	a.Email = db.TextToString(email)
	a.CreatedAt = createdAt.Time
	return a, nil
}

// Count returns the number of accounts, used for first-boot admin seeding.
func (s *Service) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM accounts`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count accounts: %w", err)
	}
	return count, nil
}

// Create inserts an account with a bcrypt-hashed password.
func (s *Service) Create(ctx context.Context, username, email, password, role string) (Account, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return Account{}, err
	}
	var (
		id        pgtype.UUID
		createdAt pgtype.Timestamptz
	)
	err = s.pool.QueryRow(ctx,
		`INSERT INTO accounts (username, email, password_hash, role)
		 VALUES ($1, $2, $3, $4) RETURNING id, created_at`,
		username, db.ToPgText(email), string(hashed), role).Scan(&id, &createdAt)
	if err != nil {
		return Account{}, fmt.Errorf("create account: %w", err)
	}
	s.logger.Info("account created", slog.String("username", username), slog.String("role", role))
	return Account{
		ID:           db.UUIDString(id),
		Username:     username,
		Email:        email,
		PasswordHash: string(hashed),
		Role:         role,
		IsActive:     true,
		CreatedAt:    createdAt.Time,
	}, nil
}

// VerifyPassword checks a plaintext password against the stored hash.
func (s *Service) VerifyPassword(a Account, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(a.PasswordHash), []byte(password)) == nil
}
