package auth

import (
	"context"
	"time"

	"tokenkeeper/internal/domain"
	"tokenkeeper/internal/modules/refresh"
)

// RefreshTokens is the part of the refresh token lifecycle the session layer uses.
type RefreshTokens interface {
	Create(ctx context.Context, userID int64, role domain.Role) (string, error)
	Rotate(ctx context.Context, old string, role domain.Role) (*refresh.Rotation, error)
	Revoke(ctx context.Context, plaintext, reason string) error
	RevokeAllForUser(ctx context.Context, userID int64, role domain.Role, reason string) (int64, error)
	MarkFamilyCompromised(ctx context.Context, plaintext string) (int64, error)
	Stats(ctx context.Context) (refresh.Stats, error)
}

// AccessTokenIssuer signs short-lived access tokens.
type AccessTokenIssuer interface {
	GenerateToken(subject string, userID int64, role string) (string, error)
	TTL() time.Duration
}

// UserDirectory is the credential check and subject lookup at the edge.
type UserDirectory interface {
	VerifyCredentials(ctx context.Context, email, password string) (domain.Identity, error)
	SubjectFor(ctx context.Context, userID int64, role domain.Role) (string, error)
}
