package refresh

import (
	"tokenkeeper/internal/domain"

	"github.com/sirupsen/logrus"
)

// AuditEvent names a refresh token lifecycle event in the audit log.
type AuditEvent string

const (
	EventIssued            AuditEvent = "refresh_issued"
	EventRotated           AuditEvent = "refresh_rotated"
	EventRevoked           AuditEvent = "refresh_revoked"
	EventQuotaEviction     AuditEvent = "refresh_quota_eviction"
	EventFamilyCompromised AuditEvent = "refresh_family_compromised"
	EventRejected          AuditEvent = "refresh_rejected"
	EventReplay            AuditEvent = "refresh_replay"
)

const hashPrefixLen = 8

// AuditLogger writes one structured entry per lifecycle event. Plaintext
// tokens never reach it; tokens are identified by a short hash prefix.
type AuditLogger struct {
	log logrus.FieldLogger
}

func NewAuditLogger(log logrus.FieldLogger) *AuditLogger {
	return &AuditLogger{log: log.WithField("component", "refresh_audit")}
}

func (a *AuditLogger) entry(event AuditEvent, t *domain.RefreshToken) logrus.FieldLogger {
	fields := logrus.Fields{"event": event}
	if t != nil {
		fields["user_id"] = t.UserID
		fields["role"] = t.UserRole
		fields["token"] = hashPrefix(t.TokenHash)
		fields["family"] = hashPrefix(t.FamilyID)
	}
	return a.log.WithFields(fields)
}

func (a *AuditLogger) Issued(t *domain.RefreshToken) {
	a.entry(EventIssued, t).Info("Issued refresh token")
}

func (a *AuditLogger) Rotated(old, next *domain.RefreshToken, familyRevoked int64) {
	a.entry(EventRotated, old).WithFields(logrus.Fields{
		"next_token":     hashPrefix(next.TokenHash),
		"family_revoked": familyRevoked,
	}).Info("Rotated refresh token")
}

func (a *AuditLogger) Revoked(t *domain.RefreshToken, reason string) {
	a.entry(EventRevoked, t).WithField("reason", reason).Info("Revoked refresh token")
}

func (a *AuditLogger) RevokedForUser(userID int64, role domain.Role, reason string, count int64) {
	a.log.WithFields(logrus.Fields{
		"event":   EventRevoked,
		"user_id": userID,
		"role":    role,
		"reason":  reason,
		"count":   count,
	}).Info("Revoked all refresh tokens for user")
}

func (a *AuditLogger) QuotaEviction(evicted *domain.RefreshToken, limit int) {
	a.entry(EventQuotaEviction, evicted).WithField("limit", limit).Info("Revoked oldest refresh token, per-user limit reached")
}

func (a *AuditLogger) FamilyCompromised(t *domain.RefreshToken, marked int64) {
	a.entry(EventFamilyCompromised, t).WithField("marked", marked).Warn("Marked refresh token family as compromised")
}

func (a *AuditLogger) Rejected(hash string, rej *RejectionError) {
	fields := logrus.Fields{
		"event":  EventRejected,
		"token":  hashPrefix(hash),
		"reason": rej.Reason,
	}
	if rej.RevokedReason != "" {
		fields["revoked_reason"] = rej.RevokedReason
	}
	a.log.WithFields(fields).Warn("Rejected refresh token")
}

// Replay is logged by the session layer when a retired token comes back.
func (a *AuditLogger) Replay(hash string, marked int64) {
	a.log.WithFields(logrus.Fields{
		"event":  EventReplay,
		"token":  hashPrefix(hash),
		"marked": marked,
	}).Warn("Refresh token replay detected, family contained")
}

func hashPrefix(s string) string {
	if len(s) <= hashPrefixLen {
		return s
	}
	return s[:hashPrefixLen]
}
