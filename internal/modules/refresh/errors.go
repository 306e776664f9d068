package refresh

import "errors"

var (
	// ErrMalformedToken is returned for empty or too-short input before any
	// store access.
	ErrMalformedToken = errors.New("malformed refresh token")

	// ErrInvalidToken covers not found, expired, revoked and compromised.
	// Callers outside this process must not be able to tell those apart.
	ErrInvalidToken = errors.New("invalid refresh token")
)

// RejectReason is the internal cause of an ErrInvalidToken. It is meant for
// audit logs and replay containment only.
type RejectReason string

const (
	RejectNotFound     RejectReason = "not_found"
	RejectExpired      RejectReason = "expired"
	RejectRevoked      RejectReason = "revoked"
	RejectRotated      RejectReason = "rotated"
	RejectCompromised  RejectReason = "compromised"
	RejectRoleMismatch RejectReason = "role_mismatch"
	RejectRaced        RejectReason = "concurrent_revoke"
)

// RejectionError carries the internal reason for a rejected token. Its
// Error() text is the same for every reason.
type RejectionError struct {
	Reason RejectReason
	// RevokedReason is the stored revocation reason, when there is one.
	RevokedReason string
}

func (e *RejectionError) Error() string { return ErrInvalidToken.Error() }

func (e *RejectionError) Is(target error) bool { return target == ErrInvalidToken }

// IsReplay reports whether err rejected a token that had already been retired
// by a rotation in its family. Presenting such a token means two parties hold
// the lineage.
func IsReplay(err error) bool {
	var rej *RejectionError
	if !errors.As(err, &rej) {
		return false
	}
	return rej.Reason == RejectRotated || rej.Reason == RejectRaced
}

func reject(reason RejectReason) *RejectionError {
	return &RejectionError{Reason: reason}
}
