// Package apikey manages service API keys in PostgreSQL. Keys are stored as
// SHA-256 digests; a presented key is valid when its digest matches an
// active, unexpired row of the api_keys table.
package apikey

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Document-QA-Platform/pkg/postgres"
)

var (
	ErrInvalidKey = errors.New("invalid api key")
	ErrExpiredKey = errors.New("api key expired")
)

// DefaultDescription labels the key installed by Bootstrap.
const DefaultDescription = "Default service API key"

const schema = `CREATE TABLE IF NOT EXISTS api_keys (
	id          SERIAL PRIMARY KEY,
	key_hash    TEXT NOT NULL UNIQUE,
	description TEXT NOT NULL DEFAULT '',
	rate_limit  INTEGER NOT NULL DEFAULT 60,
	is_active   BOOLEAN NOT NULL DEFAULT true,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	expires_at  TIMESTAMPTZ
)`

// KeyInfo holds metadata about a validated API key.
type KeyInfo struct {
	ID          string     `json:"id"`
	Description string     `json:"description"`
	RateLimit   int        `json:"rate_limit"`
	IsActive    bool       `json:"is_active"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// Validator validates and manages keys in the api_keys table.
type Validator struct {
	db     *postgres.Client
	now    func() time.Time
	logger *slog.Logger
}

func NewValidator(db *postgres.Client) *Validator {
	return &Validator{
		db:     db,
		now:    time.Now,
		logger: slog.Default().With("component", "apikey-validator"),
	}
}

// EnsureSchema creates the api_keys table when it does not exist.
func (v *Validator) EnsureSchema(ctx context.Context) error {
	if _, err := v.db.DB.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("creating api_keys table: %w", err)
	}
	return nil
}

// Bootstrap creates the schema and installs rawKey as the default service
// key unless it is already present. It reports whether a row was added.
func (v *Validator) Bootstrap(ctx context.Context, rawKey string, rateLimit int) (bool, error) {
	if rawKey == "" {
		return false, fmt.Errorf("bootstrapping api keys: service key is empty")
	}
	if err := v.EnsureSchema(ctx); err != nil {
		return false, err
	}
	var added bool
	err := v.db.InTx(ctx, func(tx *sql.Tx) error {
		var exists bool
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM api_keys WHERE key_hash = $1)`,
			HashKey(rawKey),
		).Scan(&exists); err != nil {
			return fmt.Errorf("looking up service key: %w", err)
		}
		if exists {
			return nil
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO api_keys (key_hash, description, rate_limit) VALUES ($1, $2, $3)`,
			HashKey(rawKey), DefaultDescription, rateLimit,
		); err != nil {
			return fmt.Errorf("inserting service key: %w", err)
		}
		added = true
		return nil
	})
	if err != nil {
		return false, err
	}
	v.logger.Info("api key bootstrap complete", "added", added)
	return added, nil
}

// Validate checks rawKey against the database. It returns ErrInvalidKey for
// unknown or revoked keys and ErrExpiredKey for expired ones.
func (v *Validator) Validate(ctx context.Context, rawKey string) (*KeyInfo, error) {
	var info KeyInfo
	var expiresAt sql.NullTime

	err := v.db.DB.QueryRowContext(ctx,
		`SELECT id, description, rate_limit, is_active, created_at, expires_at
		 FROM api_keys
		 WHERE key_hash = $1 AND is_active = true`,
		HashKey(rawKey),
	).Scan(&info.ID, &info.Description, &info.RateLimit, &info.IsActive, &info.CreatedAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInvalidKey
	}
	if err != nil {
		return nil, fmt.Errorf("querying api key: %w", err)
	}

	if expiresAt.Valid {
		if expiresAt.Time.Before(v.now()) {
			return nil, ErrExpiredKey
		}
		info.ExpiresAt = &expiresAt.Time
	}
	return &info, nil
}

// CreateKey generates a key, stores its digest and returns the raw key. The
// raw key cannot be retrieved again.
func (v *Validator) CreateKey(ctx context.Context, description string, rateLimit int, expiresAt *time.Time) (string, error) {
	rawKey, err := generateRawKey()
	if err != nil {
		return "", err
	}
	var expiry sql.NullTime
	if expiresAt != nil {
		expiry = sql.NullTime{Time: *expiresAt, Valid: true}
	}

	_, err = v.db.DB.ExecContext(ctx,
		`INSERT INTO api_keys (key_hash, description, rate_limit, expires_at) VALUES ($1, $2, $3, $4)`,
		HashKey(rawKey), description, rateLimit, expiry,
	)
	if err != nil {
		return "", fmt.Errorf("creating api key: %w", err)
	}
	v.logger.Info("api key created", "description", description, "rate_limit", rateLimit)
	return rawKey, nil
}

// RevokeKey deactivates rawKey.
func (v *Validator) RevokeKey(ctx context.Context, rawKey string) error {
	result, err := v.db.DB.ExecContext(ctx,
		`UPDATE api_keys SET is_active = false WHERE key_hash = $1 AND is_active = true`,
		HashKey(rawKey),
	)
	if err != nil {
		return fmt.Errorf("revoking api key: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrInvalidKey
	}
	v.logger.Info("api key revoked")
	return nil
}

// ListKeys returns the active keys, newest first.
func (v *Validator) ListKeys(ctx context.Context) ([]KeyInfo, error) {
	rows, err := v.db.DB.QueryContext(ctx,
		`SELECT id, description, rate_limit, is_active, created_at, expires_at
		 FROM api_keys WHERE is_active = true ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing api keys: %w", err)
	}
	defer rows.Close()

	var keys []KeyInfo
	for rows.Next() {
		var k KeyInfo
		var expiresAt sql.NullTime
		if err := rows.Scan(&k.ID, &k.Description, &k.RateLimit, &k.IsActive, &k.CreatedAt, &expiresAt); err != nil {
			return nil, fmt.Errorf("scanning api key row: %w", err)
		}
		if expiresAt.Valid {
			k.ExpiresAt = &expiresAt.Time
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// HashKey returns the SHA-256 hex digest of a raw API key.
func HashKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func generateRawKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating api key: %w", err)
	}
	return "qa_" + hex.EncodeToString(b), nil
}
