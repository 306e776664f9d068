package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRefreshToken_RevokeIsWriteOnce(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	tok := &RefreshToken{ExpiresAt: now.Add(time.Hour)}

	assert.True(t, tok.Revoke(ReasonLogout, now))
	assert.False(t, tok.Revoke(ReasonRotated, now.Add(time.Minute)))

	assert.Equal(t, ReasonLogout, tok.RevokedReason)
	assert.Equal(t, now, *tok.RevokedAt)
	assert.False(t, tok.IsValid(now))
}

func TestRefreshToken_CompromiseKeepsFirstRevocation(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	tok := &RefreshToken{ExpiresAt: now.Add(time.Hour)}
	tok.Revoke(ReasonRotated, now)

	assert.True(t, tok.Compromise(now.Add(time.Minute)))
	assert.False(t, tok.Compromise(now.Add(2*time.Minute)))

	assert.True(t, tok.IsCompromised)
	assert.Equal(t, ReasonRotated, tok.RevokedReason)
	assert.Equal(t, StateCompromised, tok.State(now))
}

func TestRefreshToken_State(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	live := &RefreshToken{ExpiresAt: now.Add(time.Hour)}
	assert.Equal(t, StateActive, live.State(now))
	assert.True(t, live.IsValid(now))

	expired := &RefreshToken{ExpiresAt: now.Add(-time.Second)}
	assert.Equal(t, StateExpired, expired.State(now))

	rotated := &RefreshToken{ExpiresAt: now.Add(time.Hour)}
	rotated.Revoke(ReasonFamilyRotated, now)
	assert.Equal(t, StateRotated, rotated.State(now))
	assert.True(t, rotated.RetiredByRotation())

	loggedOut := &RefreshToken{ExpiresAt: now.Add(time.Hour)}
	loggedOut.Revoke(ReasonLogout, now)
	assert.Equal(t, StateRevoked, loggedOut.State(now))
	assert.False(t, loggedOut.RetiredByRotation())
}

func TestRefreshToken_MarkUsed(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	tok := &RefreshToken{ExpiresAt: now.Add(time.Hour)}

	tok.MarkUsed(now)
	tok.MarkUsed(now.Add(time.Second))

	assert.Equal(t, 2, tok.UseCount)
	assert.Equal(t, now.Add(time.Second), *tok.LastUsedAt)
}
