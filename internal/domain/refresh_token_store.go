package domain

import (
	"context"
	"errors"
	"time"
)

var (
	ErrRefreshTokenNotFound = errors.New("refresh token not found")
	ErrDuplicateTokenHash   = errors.New("refresh token hash already exists")
	ErrUserNotFound         = errors.New("user not found")
	ErrInvalidCredentials   = errors.New("invalid credentials")
)

// TokenCounts are raw aggregate counts over the refresh_tokens table.
// Expired and Revoked overlap: a token can be both.
type TokenCounts struct {
	Total   int64
	Expired int64
	Revoked int64
}

// RefreshTokenStore is the persistence contract used by the refresh token
// lifecycle. Implementations must give read-committed or stronger isolation
// inside Transaction, and the Revoke* / Mark* / RecordUse methods must only
// touch rows that are still live (compare-and-set on revoked_at / is_compromised).
type RefreshTokenStore interface {
	// Transaction runs fn against a store bound to a single transaction.
	// Returning an error from fn rolls the transaction back.
	Transaction(ctx context.Context, fn func(tx RefreshTokenStore) error) error

	Create(ctx context.Context, t *RefreshToken) error
	GetByHash(ctx context.Context, hash string) (*RefreshToken, error)
	// GetByHashForUpdate locks the row until the surrounding transaction ends
	// where the database supports row locks.
	GetByHashForUpdate(ctx context.Context, hash string) (*RefreshToken, error)
	ExistsByHash(ctx context.Context, hash string) (bool, error)
	ListValidByUser(ctx context.Context, userID int64, role Role, now time.Time) ([]RefreshToken, error)
	ListByFamily(ctx context.Context, familyID string) ([]RefreshToken, error)

	// RecordUse bumps use_count and last_used_at on a live token.
	RecordUse(ctx context.Context, id int64, at time.Time) (bool, error)
	// Revoke revokes a single live token. It reports false when the row was
	// already revoked or compromised.
	Revoke(ctx context.Context, id int64, reason string, at time.Time) (bool, error)
	RevokeFamily(ctx context.Context, familyID, reason string, at time.Time) (int64, error)
	RevokeByUser(ctx context.Context, userID int64, role Role, reason string, at time.Time) (int64, error)
	MarkFamilyCompromised(ctx context.Context, familyID string, at time.Time) (int64, error)

	Delete(ctx context.Context, id int64) error
	// DeleteExpiredBefore removes up to limit rows with expires_at < cutoff.
	// limit <= 0 removes all of them.
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error)

	Counts(ctx context.Context, now time.Time) (TokenCounts, error)
}
