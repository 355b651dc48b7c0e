package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/gatepass-api/internal/models"
)

const tokenColumns = `id, request_id, value, uses_allowed, uses_count, status, expires_at, created_at, updated_at`

const (
	pqUniqueViolation            = "23505"
	tokenRequestUniqueConstraint = "gatepass_tokens_request_id_key"
)

// ErrTokenAlreadyIssued reports that the request already owns a token.
var ErrTokenAlreadyIssued = errors.New("gatepass token already issued for request")

// GatePassTokenRepository persists gate pass tokens and their usage log.
type GatePassTokenRepository struct {
	db *sqlx.DB
}

// NewGatePassTokenRepository constructs the repository.
func NewGatePassTokenRepository(db *sqlx.DB) *GatePassTokenRepository {
	return &GatePassTokenRepository{db: db}
}

func (r *GatePassTokenRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// InsertUnique stores the token unless its value collides with an existing
// one, in which case it returns false so the caller can regenerate. A second
// token for the same request fails with ErrTokenAlreadyIssued.
func (r *GatePassTokenRepository) InsertUnique(ctx context.Context, exec sqlx.ExtContext, token *models.GatePassToken) (bool, error) {
	if token.ID == "" {
		token.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if token.CreatedAt.IsZero() {
		token.CreatedAt = now
	}
	token.UpdatedAt = token.CreatedAt

	const query = `INSERT INTO gatepass_tokens
	(id, request_id, value, uses_allowed, uses_count, status, expires_at, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (value) DO NOTHING
	RETURNING id`
	var id string
	err := r.exec(exec).QueryRowxContext(ctx, query,
		token.ID, token.RequestID, token.Value, token.UsesAllowed, token.UsesCount,
		token.Status, token.ExpiresAt, token.CreatedAt, token.UpdatedAt,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation && pqErr.Constraint == tokenRequestUniqueConstraint {
			return false, ErrTokenAlreadyIssued
		}
		return false, fmt.Errorf("insert gatepass token: %w", err)
	}
	return true, nil
}

// GetByValue looks up a token by its opaque value.
func (r *GatePassTokenRepository) GetByValue(ctx context.Context, value string) (*models.GatePassToken, error) {
	query := `SELECT ` + tokenColumns + ` FROM gatepass_tokens WHERE value = $1`
	var token models.GatePassToken
	if err := r.db.GetContext(ctx, &token, query, value); err != nil {
		return nil, err
	}
	return &token, nil
}

// ListUsages returns the usage log of a token in scan order.
func (r *GatePassTokenRepository) ListUsages(ctx context.Context, tokenID string) ([]models.UsageEntry, error) {
	const query = `SELECT id, token_id, actor_id, usage_type, scanned_at FROM gatepass_token_usages
WHERE token_id = $1 ORDER BY scanned_at ASC, id ASC`
	var usages []models.UsageEntry
	if err := r.db.SelectContext(ctx, &usages, query, tokenID); err != nil {
		return nil, fmt.Errorf("list gatepass token usages: %w", err)
	}
	return usages, nil
}

// Retire moves an active token to a terminal status. It reports whether a
// row changed; repeating it is harmless.
func (r *GatePassTokenRepository) Retire(ctx context.Context, id string, status models.TokenStatus, at time.Time) (bool, error) {
	const query = `UPDATE gatepass_tokens SET status = $2, updated_at = $3 WHERE id = $1 AND status = $4`
	result, err := r.db.ExecContext(ctx, query, id, status, at, models.TokenStatusActive)
	if err != nil {
		return false, fmt.Errorf("retire gatepass token: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("check gatepass token retire rows: %w", err)
	}
	return rows > 0, nil
}

// Consume redeems one use only if the token is still active, unexpired, and
// its count matches seenCount. The status flips to used with the final use.
// A lost race yields sql.ErrNoRows.
func (r *GatePassTokenRepository) Consume(ctx context.Context, exec sqlx.ExtContext, id string, seenCount int, at time.Time) (*models.GatePassToken, error) {
	query := `UPDATE gatepass_tokens SET
	uses_count = uses_count + 1,
	status = CASE WHEN uses_count + 1 >= uses_allowed THEN $5 ELSE status END,
	updated_at = $3
WHERE id = $1 AND status = $4 AND uses_count = $2 AND uses_count < uses_allowed AND expires_at >= $3
RETURNING ` + tokenColumns
	var token models.GatePassToken
	if err := sqlx.GetContext(ctx, r.exec(exec), &token, query,
		id, seenCount, at, models.TokenStatusActive, models.TokenStatusUsed,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("consume gatepass token: %w", err)
	}
	return &token, nil
}

// AppendUsage records one redemption.
func (r *GatePassTokenRepository) AppendUsage(ctx context.Context, exec sqlx.ExtContext, usage *models.UsageEntry) error {
	if usage.ID == "" {
		usage.ID = uuid.NewString()
	}
	if usage.ScannedAt.IsZero() {
		usage.ScannedAt = time.Now().UTC()
	}
	const query = `INSERT INTO gatepass_token_usages (id, token_id, actor_id, usage_type, scanned_at)
	VALUES (:id, :token_id, :actor_id, :usage_type, :scanned_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, usage); err != nil {
		return fmt.Errorf("append gatepass token usage: %w", err)
	}
	return nil
}
