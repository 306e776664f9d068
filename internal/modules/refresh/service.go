package refresh

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tokenkeeper/internal/domain"
	"tokenkeeper/internal/metrics"
	"tokenkeeper/internal/pkg/tokensec"

	"github.com/sirupsen/logrus"
)

const (
	DefaultTTL              = 7 * 24 * time.Hour
	DefaultMaxTokensPerUser = 5

	maxGenerateAttempts = 3
)

var errTokenSpaceExhausted = errors.New("could not generate an unused refresh token")

// Owner is the identity a refresh token is bound to.
type Owner struct {
	UserID int64
	Role   domain.Role
}

// Rotation is the result of a successful Rotate.
type Rotation struct {
	Token    string
	UserID   int64
	Role     domain.Role
	FamilyID string
}

// Stats are aggregate counts over every stored token.
//
// Active is derived as Total - Expired - Revoked. Expired and Revoked overlap
// (a token can be both), so Active undercounts whenever such tokens exist and
// is an approximation, not a partition.
type Stats struct {
	Total   int64 `json:"total"`
	Active  int64 `json:"active"`
	Expired int64 `json:"expired"`
	Revoked int64 `json:"revoked"`
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithTTL(ttl time.Duration) Option {
	return func(s *Service) { s.ttl = ttl }
}

func WithMaxTokensPerUser(n int) Option {
	return func(s *Service) { s.maxPerUser = n }
}

func WithMetrics(m metrics.API) Option {
	return func(s *Service) { s.metrics = m }
}

// WithTokenSource replaces the secret generator. Tests use it to force hash
// collisions.
func WithTokenSource(gen func() (string, error)) Option {
	return func(s *Service) { s.generate = gen }
}

// Service is the refresh token state machine. Every mutation runs in one
// store transaction; revocations are compare-and-set so that two callers
// racing on the same token cannot both succeed.
type Service struct {
	store      domain.RefreshTokenStore
	log        logrus.FieldLogger
	audit      *AuditLogger
	metrics    metrics.API
	now        func() time.Time
	generate   func() (string, error)
	ttl        time.Duration
	maxPerUser int
}

func NewService(store domain.RefreshTokenStore, log logrus.FieldLogger, opts ...Option) *Service {
	s := &Service{
		store:      store,
		log:        log,
		audit:      NewAuditLogger(log),
		metrics:    metrics.Noop{},
		now:        time.Now,
		generate:   tokensec.GenerateSecureToken,
		ttl:        DefaultTTL,
		maxPerUser: DefaultMaxTokensPerUser,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create starts a new token family for (userID, role) and returns the
// plaintext token. When the owner already holds the maximum number of valid
// tokens, the oldest one is revoked first; login never fails on quota.
func (s *Service) Create(ctx context.Context, userID int64, role domain.Role) (string, error) {
	if !role.Valid() {
		return "", fmt.Errorf("create refresh token: unknown role %q", role)
	}

	now := s.now().UTC()
	var (
		plaintext string
		issued    *domain.RefreshToken
		evicted   *domain.RefreshToken
	)
	err := s.store.Transaction(ctx, func(tx domain.RefreshTokenStore) error {
		var err error
		if evicted, err = s.enforceQuota(ctx, tx, userID, role, now); err != nil {
			return err
		}
		familyID, err := tokensec.GenerateFamilyID()
		if err != nil {
			return err
		}
		plaintext, issued, err = s.issue(ctx, tx, userID, role, familyID, now)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("create refresh token: %w", err)
	}

	if evicted != nil {
		s.audit.QuotaEviction(evicted, s.maxPerUser)
		s.metrics.QuotaEviction()
	}
	s.audit.Issued(issued)
	s.metrics.TokenIssued(role)
	return plaintext, nil
}

// Validate checks the token and records its use. Expired tokens are deleted
// as a side effect. Every failure other than ErrMalformedToken or a storage
// error is a *RejectionError that matches ErrInvalidToken.
func (s *Service) Validate(ctx context.Context, plaintext string) (Owner, error) {
	if tokensec.IsStructurallyInvalid(plaintext) {
		s.metrics.TokenRejected("malformed")
		return Owner{}, ErrMalformedToken
	}

	hash := tokensec.HashToken(plaintext)
	now := s.now().UTC()
	var (
		owner     Owner
		rejection *RejectionError
	)
	// A rejection is captured and the transaction commits, so an expired
	// token's deletion is kept.
	err := s.store.Transaction(ctx, func(tx domain.RefreshTokenStore) error {
		rec, rej, err := s.resolve(ctx, tx, hash, now)
		if err != nil {
			return err
		}
		if rej != nil {
			rejection = rej
			return nil
		}
		used, err := tx.RecordUse(ctx, rec.ID, now)
		if err != nil {
			return err
		}
		if !used {
			rejection = reject(RejectRaced)
			return nil
		}
		rec.MarkUsed(now)
		owner = Owner{UserID: rec.UserID, Role: rec.UserRole}
		return nil
	})
	if err != nil {
		return Owner{}, fmt.Errorf("validate refresh token: %w", err)
	}
	if rejection != nil {
		s.rejected(hash, rejection)
		return Owner{}, rejection
	}
	return owner, nil
}

// Rotate exchanges a valid token for a new one in the same family. The
// presented token is revoked as rotated and every other live token of the
// family is revoked with it, so only the newest token of a lineage is ever
// valid. An empty role accepts the role stored on the token; any other role
// must match it.
func (s *Service) Rotate(ctx context.Context, old string, role domain.Role) (*Rotation, error) {
	if tokensec.IsStructurallyInvalid(old) {
		s.metrics.TokenRejected("malformed")
		return nil, ErrMalformedToken
	}

	hash := tokensec.HashToken(old)
	now := s.now().UTC()
	var (
		rotation      *Rotation
		rejection     *RejectionError
		prev, next    *domain.RefreshToken
		familyRevoked int64
	)
	err := s.store.Transaction(ctx, func(tx domain.RefreshTokenStore) error {
		rec, rej, err := s.resolve(ctx, tx, hash, now)
		if err != nil {
			return err
		}
		if rej != nil {
			rejection = rej
			return nil
		}
		if role != "" && role != rec.UserRole {
			rejection = reject(RejectRoleMismatch)
			return nil
		}

		used, err := tx.RecordUse(ctx, rec.ID, now)
		if err != nil {
			return err
		}
		revoked := false
		if used {
			if revoked, err = tx.Revoke(ctx, rec.ID, domain.ReasonRotated, now); err != nil {
				return err
			}
		}
		if !revoked {
			rejection = reject(RejectRaced)
			return nil
		}
		rec.MarkUsed(now)
		rec.Revoke(domain.ReasonRotated, now)

		if familyRevoked, err = tx.RevokeFamily(ctx, rec.FamilyID, domain.ReasonFamilyRotated, now); err != nil {
			return err
		}

		plaintext, issued, err := s.issue(ctx, tx, rec.UserID, rec.UserRole, rec.FamilyID, now)
		if err != nil {
			return err
		}
		prev, next = rec, issued
		rotation = &Rotation{
			Token:    plaintext,
			UserID:   rec.UserID,
			Role:     rec.UserRole,
			FamilyID: rec.FamilyID,
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("rotate refresh token: %w", err)
	}
	if rejection != nil {
		s.rejected(hash, rejection)
		return nil, rejection
	}

	s.audit.Rotated(prev, next, familyRevoked)
	s.metrics.TokenRotated(next.UserRole)
	return rotation, nil
}

// Revoke revokes a single token. Unknown, malformed and already revoked
// tokens are a silent no-op.
func (s *Service) Revoke(ctx context.Context, plaintext, reason string) error {
	if tokensec.IsStructurallyInvalid(plaintext) {
		return nil
	}

	rec, err := s.store.GetByHash(ctx, tokensec.HashToken(plaintext))
	if errors.Is(err, domain.ErrRefreshTokenNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}

	revoked, err := s.store.Revoke(ctx, rec.ID, reason, s.now().UTC())
	if err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	if revoked {
		s.audit.Revoked(rec, reason)
	}
	return nil
}

// RevokeAllForUser revokes every live token of (userID, role) and returns how
// many were revoked.
func (s *Service) RevokeAllForUser(ctx context.Context, userID int64, role domain.Role, reason string) (int64, error) {
	n, err := s.store.RevokeByUser(ctx, userID, role, reason, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("revoke refresh tokens for user %d: %w", userID, err)
	}
	s.audit.RevokedForUser(userID, role, reason, n)
	return n, nil
}

// MarkFamilyCompromised flags every token in the presented token's family as
// compromised and revokes the live ones. Nothing in the lineage validates
// again. Unresolvable tokens are a no-op; a second call marks nothing.
func (s *Service) MarkFamilyCompromised(ctx context.Context, plaintext string) (int64, error) {
	if tokensec.IsStructurallyInvalid(plaintext) {
		return 0, nil
	}

	var (
		rec    *domain.RefreshToken
		marked int64
	)
	err := s.store.Transaction(ctx, func(tx domain.RefreshTokenStore) error {
		var err error
		rec, err = tx.GetByHash(ctx, tokensec.HashToken(plaintext))
		if errors.Is(err, domain.ErrRefreshTokenNotFound) {
			rec = nil
			return nil
		}
		if err != nil {
			return err
		}
		now := s.now().UTC()
		if marked, err = tx.MarkFamilyCompromised(ctx, rec.FamilyID, now); err != nil {
			return err
		}
		if marked > 0 {
			rec.Compromise(now)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("mark token family compromised: %w", err)
	}
	if rec != nil && marked > 0 {
		s.audit.FamilyCompromised(rec, marked)
		s.metrics.FamilyCompromised()
	}
	return marked, nil
}

func (s *Service) Stats(ctx context.Context) (Stats, error) {
	c, err := s.store.Counts(ctx, s.now().UTC())
	if err != nil {
		return Stats{}, fmt.Errorf("refresh token stats: %w", err)
	}
	st := Stats{
		Total:   c.Total,
		Active:  c.Total - c.Expired - c.Revoked,
		Expired: c.Expired,
		Revoked: c.Revoked,
	}
	s.metrics.TokenStats(st.Total, st.Active, st.Expired, st.Revoked)
	return st, nil
}

// resolve loads and locks the token by hash and classifies it. Expired
// tokens are deleted before the rejection is returned.
func (s *Service) resolve(ctx context.Context, tx domain.RefreshTokenStore, hash string, now time.Time) (*domain.RefreshToken, *RejectionError, error) {
	rec, err := tx.GetByHashForUpdate(ctx, hash)
	if errors.Is(err, domain.ErrRefreshTokenNotFound) {
		return nil, reject(RejectNotFound), nil
	}
	if err != nil {
		return nil, nil, err
	}

	// Expiry is checked first so the row is deleted even if it was also revoked.
	if rec.IsExpired(now) {
		if err := tx.Delete(ctx, rec.ID); err != nil {
			return nil, nil, err
		}
		return nil, reject(RejectExpired), nil
	}

	switch rec.State(now) {
	case domain.StateCompromised:
		return nil, &RejectionError{Reason: RejectCompromised, RevokedReason: rec.RevokedReason}, nil
	case domain.StateRotated:
		return nil, &RejectionError{Reason: RejectRotated, RevokedReason: rec.RevokedReason}, nil
	case domain.StateRevoked:
		return nil, &RejectionError{Reason: RejectRevoked, RevokedReason: rec.RevokedReason}, nil
	}
	return rec, nil, nil
}

// enforceQuota revokes the oldest valid token when the owner is at the limit.
func (s *Service) enforceQuota(ctx context.Context, tx domain.RefreshTokenStore, userID int64, role domain.Role, now time.Time) (*domain.RefreshToken, error) {
	if s.maxPerUser <= 0 {
		return nil, nil
	}
	valid, err := tx.ListValidByUser(ctx, userID, role, now)
	if err != nil {
		return nil, err
	}
	if len(valid) < s.maxPerUser {
		return nil, nil
	}

	oldest := valid[0]
	for i := range valid[1:] {
		if valid[i+1].CreatedAt.Before(oldest.CreatedAt) {
			oldest = valid[i+1]
		}
	}
	revoked, err := tx.Revoke(ctx, oldest.ID, domain.ReasonLimitReached, now)
	if err != nil || !revoked {
		return nil, err
	}
	oldest.Revoke(domain.ReasonLimitReached, now)
	return &oldest, nil
}

// issue generates a secret that does not collide with a stored hash and
// inserts its record.
func (s *Service) issue(ctx context.Context, tx domain.RefreshTokenStore, userID int64, role domain.Role, familyID string, now time.Time) (string, *domain.RefreshToken, error) {
	for attempt := 0; attempt < maxGenerateAttempts; attempt++ {
		secret, err := s.generate()
		if err != nil {
			return "", nil, err
		}
		hash := tokensec.HashToken(secret)
		exists, err := tx.ExistsByHash(ctx, hash)
		if err != nil {
			return "", nil, err
		}
		if exists {
			s.log.WithField("attempt", attempt+1).Warn("Generated refresh token collides with a stored hash, regenerating")
			continue
		}

		rec := &domain.RefreshToken{
			TokenHash: hash,
			UserID:    userID,
			UserRole:  role,
			FamilyID:  familyID,
			ExpiresAt: now.Add(s.ttl),
			CreatedAt: now,
		}
		if err := tx.Create(ctx, rec); err != nil {
			return "", nil, err
		}
		return secret, rec, nil
	}
	return "", nil, errTokenSpaceExhausted
}

func (s *Service) rejected(hash string, rej *RejectionError) {
	s.audit.Rejected(hash, rej)
	s.metrics.TokenRejected(string(rej.Reason))
}
