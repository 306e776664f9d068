package domain

import "time"

// Role scopes a user id. The same numeric id may exist for different roles,
// so every refresh token is owned by the (UserID, UserRole) pair.
type Role string

const (
	RolePatient      Role = "patient"
	RolePsychologist Role = "psychologist"
	RoleAdmin        Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RolePatient, RolePsychologist, RoleAdmin:
		return true
	}
	return false
}

// Revocation reasons. They are written to RevokedReason for audit only and
// never returned to API callers.
const (
	ReasonRotated       = "Token rotated"
	ReasonFamilyRotated = "Family revoked due to rotation"
	ReasonLimitReached  = "Maximum tokens per user limit reached"
	ReasonLogout        = "User logout"
	ReasonLogoutAll     = "User logout (all sessions)"
	ReasonCompromised   = "Token compromised."
	ReasonUserInactive  = "User inactive or removed"
)

// TokenState is the derived lifecycle state of a refresh token.
type TokenState string

const (
	StateActive      TokenState = "active"
	StateRotated     TokenState = "rotated"
	StateRevoked     TokenState = "revoked"
	StateCompromised TokenState = "compromised"
	StateExpired     TokenState = "expired"
)

// RefreshToken stores refresh tokens for users.
//
// Security notes:
// - We never store the raw token in DB, only its SHA-256 digest (TokenHash).
// - FamilyID is set once when a login starts a family and copied unchanged on rotation.
// - RevokedAt/RevokedReason and IsCompromised are write-once; use Revoke and Compromise.
type RefreshToken struct {
	ID int64 `json:"id" gorm:"primaryKey"`

	TokenHash string `json:"-" gorm:"size:64;uniqueIndex;not null"`

	UserID   int64 `json:"user_id" gorm:"index:idx_refresh_tokens_owner;not null"`
	UserRole Role  `json:"user_role" gorm:"size:20;index:idx_refresh_tokens_owner;not null"`

	FamilyID string `json:"-" gorm:"size:64;index;not null"`

	ExpiresAt     time.Time  `json:"expires_at" gorm:"index;not null"`
	RevokedAt     *time.Time `json:"revoked_at" gorm:"index"`
	RevokedReason string     `json:"-" gorm:"size:100"`
	IsCompromised bool       `json:"is_compromised" gorm:"not null;default:false"`

	LastUsedAt *time.Time `json:"last_used_at"`
	UseCount   int        `json:"use_count" gorm:"not null;default:0"`

	CreatedAt time.Time `json:"created_at" gorm:"not null"`
}

func (RefreshToken) TableName() string { return "refresh_tokens" }

func (t *RefreshToken) IsExpired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

func (t *RefreshToken) IsRevoked() bool {
	return t.RevokedAt != nil
}

// IsValid reports !expired && !revoked && !compromised. Validity is never stored.
func (t *RefreshToken) IsValid(now time.Time) bool {
	return !t.IsExpired(now) && !t.IsRevoked() && !t.IsCompromised
}

// State derives the lifecycle state. Compromise wins over revocation and
// revocation wins over expiry.
func (t *RefreshToken) State(now time.Time) TokenState {
	switch {
	case t.IsCompromised:
		return StateCompromised
	case t.IsRevoked() && t.RetiredByRotation():
		return StateRotated
	case t.IsRevoked():
		return StateRevoked
	case t.IsExpired(now):
		return StateExpired
	default:
		return StateActive
	}
}

// RetiredByRotation reports whether the token was revoked because it (or a
// sibling in its family) was rotated. Presenting such a token again is a replay.
func (t *RefreshToken) RetiredByRotation() bool {
	return t.IsRevoked() && !t.IsCompromised &&
		(t.RevokedReason == ReasonRotated || t.RevokedReason == ReasonFamilyRotated)
}

// Revoke sets RevokedAt and RevokedReason once. It returns false when the
// token was already revoked; the first reason is kept.
func (t *RefreshToken) Revoke(reason string, at time.Time) bool {
	if t.RevokedAt != nil {
		return false
	}
	at = at.UTC()
	t.RevokedAt = &at
	t.RevokedReason = reason
	return true
}

// Compromise flags the token and revokes it if it was still live. It returns
// false when the token was already compromised.
func (t *RefreshToken) Compromise(at time.Time) bool {
	if t.IsCompromised {
		return false
	}
	t.IsCompromised = true
	t.Revoke(ReasonCompromised, at)
	return true
}

// MarkUsed records a successful validation.
func (t *RefreshToken) MarkUsed(at time.Time) {
	at = at.UTC()
	t.LastUsedAt = &at
	t.UseCount++
}
