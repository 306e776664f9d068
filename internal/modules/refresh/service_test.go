package refresh

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"tokenkeeper/internal/database/databasetest"
	"tokenkeeper/internal/domain"
	"tokenkeeper/internal/pkg/tokensec"
	"tokenkeeper/internal/repository"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type MockMetrics struct {
	mock.Mock
}

func (m *MockMetrics) TokenIssued(role domain.Role)  { m.Called(role) }
func (m *MockMetrics) TokenRotated(role domain.Role) { m.Called(role) }
func (m *MockMetrics) TokenRejected(reason string)   { m.Called(reason) }
func (m *MockMetrics) QuotaEviction()                { m.Called() }
func (m *MockMetrics) FamilyCompromised()            { m.Called() }
func (m *MockMetrics) TokensSwept(count int64)       { m.Called(count) }
func (m *MockMetrics) TokenStats(total, active, expired, revoked int64) {
	m.Called(total, active, expired, revoked)
}

func quietLogger() logrus.FieldLogger {
	log := logrus.New()
	log.Out = io.Discard
	return log
}

func setup(t *testing.T, opts ...Option) (*Service, *repository.RefreshTokenRepository, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	repo := repository.NewRefreshTokenRepository(databasetest.Open(t))
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	return NewService(repo, quietLogger(), opts...), repo, clock
}

func stored(t *testing.T, repo *repository.RefreshTokenRepository, plaintext string) *domain.RefreshToken {
	t.Helper()
	rec, err := repo.GetByHash(context.Background(), tokensec.HashToken(plaintext))
	require.NoError(t, err)
	return rec
}

func requireRejected(t *testing.T, err error, reason RejectReason) {
	t.Helper()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidToken)
	var rej *RejectionError
	require.True(t, errors.As(err, &rej))
	assert.Equal(t, reason, rej.Reason)
	assert.Equal(t, ErrInvalidToken.Error(), err.Error(), "rejection text must not reveal the reason")
}

func TestService_CreateValidateRoundTrip(t *testing.T) {
	svc, repo, _ := setup(t)
	ctx := context.Background()

	token, err := svc.Create(ctx, 42, domain.RolePsychologist)
	require.NoError(t, err)
	assert.False(t, tokensec.IsStructurallyInvalid(token))

	rec := stored(t, repo, token)
	assert.NotEqual(t, token, rec.TokenHash, "plaintext must never be stored")
	assert.True(t, rec.ExpiresAt.Equal(rec.CreatedAt.Add(DefaultTTL)))
	assert.Zero(t, rec.UseCount)

	owner, err := svc.Validate(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), owner.UserID)
	assert.Equal(t, domain.RolePsychologist, owner.Role)

	rec = stored(t, repo, token)
	assert.Equal(t, 1, rec.UseCount)
	require.NotNil(t, rec.LastUsedAt)
}

func TestService_CreateRejectsUnknownRole(t *testing.T) {
	svc, _, _ := setup(t)
	_, err := svc.Create(context.Background(), 1, domain.Role("root"))
	assert.Error(t, err)
}

func TestService_CreateStartsNewFamilyEachLogin(t *testing.T) {
	svc, repo, _ := setup(t)
	ctx := context.Background()

	a, err := svc.Create(ctx, 1, domain.RolePatient)
	require.NoError(t, err)
	b, err := svc.Create(ctx, 1, domain.RolePatient)
	require.NoError(t, err)

	assert.NotEqual(t, stored(t, repo, a).FamilyID, stored(t, repo, b).FamilyID)
}

func TestService_ValidateMalformed(t *testing.T) {
	svc, _, _ := setup(t)
	ctx := context.Background()

	for _, token := range []string{"", "short", strings.Repeat("x", tokensec.MinTokenLength-1)} {
		_, err := svc.Validate(ctx, token)
		assert.ErrorIs(t, err, ErrMalformedToken)
		assert.NotErrorIs(t, err, ErrInvalidToken)
	}
}

func TestService_ValidateUnknown(t *testing.T) {
	svc, _, _ := setup(t)

	_, err := svc.Validate(context.Background(), strings.Repeat("a", 86))
	requireRejected(t, err, RejectNotFound)
}

func TestService_ValidateExpiredDeletesRecord(t *testing.T) {
	svc, repo, clock := setup(t, WithTTL(time.Hour))
	ctx := context.Background()

	token, err := svc.Create(ctx, 7, domain.RolePatient)
	require.NoError(t, err)

	clock.Advance(time.Hour + time.Second)

	_, err = svc.Validate(ctx, token)
	requireRejected(t, err, RejectExpired)

	exists, err := repo.ExistsByHash(ctx, tokensec.HashToken(token))
	require.NoError(t, err)
	assert.False(t, exists, "expired token must be deleted on validate")

	_, err = svc.Validate(ctx, token)
	requireRejected(t, err, RejectNotFound)
}

func TestService_RevokeIsIdempotent(t *testing.T) {
	svc, repo, clock := setup(t)
	ctx := context.Background()

	token, err := svc.Create(ctx, 3, domain.RolePatient)
	require.NoError(t, err)

	require.NoError(t, svc.Revoke(ctx, token, domain.ReasonLogout))
	first := stored(t, repo, token)

	clock.Advance(time.Minute)
	require.NoError(t, svc.Revoke(ctx, token, "something else"))
	second := stored(t, repo, token)

	assert.Equal(t, domain.ReasonLogout, second.RevokedReason)
	require.NotNil(t, second.RevokedAt)
	assert.True(t, first.RevokedAt.Equal(*second.RevokedAt))

	_, err = svc.Validate(ctx, token)
	requireRejected(t, err, RejectRevoked)

	assert.NoError(t, svc.Revoke(ctx, "", domain.ReasonLogout))
	assert.NoError(t, svc.Revoke(ctx, strings.Repeat("z", 86), domain.ReasonLogout))
}

func TestService_RotationChain(t *testing.T) {
	svc, repo, clock := setup(t)
	ctx := context.Background()

	a, err := svc.Create(ctx, 11, domain.RolePatient)
	require.NoError(t, err)

	clock.Advance(time.Minute)
	rb, err := svc.Rotate(ctx, a, domain.RolePatient)
	require.NoError(t, err)
	b := rb.Token

	clock.Advance(time.Minute)
	rc, err := svc.Rotate(ctx, b, "")
	require.NoError(t, err)
	c := rc.Token

	assert.Equal(t, int64(11), rc.UserID)
	assert.Equal(t, domain.RolePatient, rc.Role)

	family := stored(t, repo, a).FamilyID
	assert.Equal(t, family, stored(t, repo, b).FamilyID)
	assert.Equal(t, family, stored(t, repo, c).FamilyID)
	assert.Equal(t, family, rc.FamilyID)

	assert.Equal(t, domain.ReasonRotated, stored(t, repo, a).RevokedReason)
	assert.Equal(t, domain.ReasonRotated, stored(t, repo, b).RevokedReason)

	_, err = svc.Validate(ctx, a)
	requireRejected(t, err, RejectRotated)
	_, err = svc.Validate(ctx, b)
	requireRejected(t, err, RejectRotated)

	owner, err := svc.Validate(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, int64(11), owner.UserID)
}

func TestService_RotateRevokesWholeFamily(t *testing.T) {
	svc, repo, _ := setup(t)
	ctx := context.Background()

	a, err := svc.Create(ctx, 5, domain.RolePatient)
	require.NoError(t, err)
	rec := stored(t, repo, a)

	// A sibling that somehow stayed live in the same family.
	sibling := &domain.RefreshToken{
		TokenHash: tokensec.HashToken("sibling-secret-sibling-secret-sibling"),
		UserID:    5,
		UserRole:  domain.RolePatient,
		FamilyID:  rec.FamilyID,
		ExpiresAt: rec.ExpiresAt,
		CreatedAt: rec.CreatedAt,
	}
	require.NoError(t, repo.Create(ctx, sibling))

	_, err = svc.Rotate(ctx, a, domain.RolePatient)
	require.NoError(t, err)

	got, err := repo.GetByHash(ctx, sibling.TokenHash)
	require.NoError(t, err)
	assert.Equal(t, domain.ReasonFamilyRotated, got.RevokedReason)
}

func TestService_TheftDetection(t *testing.T) {
	svc, repo, clock := setup(t)
	ctx := context.Background()

	a, err := svc.Create(ctx, 21, domain.RolePatient)
	require.NoError(t, err)

	clock.Advance(time.Minute)
	rb, err := svc.Rotate(ctx, a, domain.RolePatient)
	require.NoError(t, err)

	// Attacker replays the already used token.
	clock.Advance(time.Minute)
	_, err = svc.Rotate(ctx, a, domain.RolePatient)
	requireRejected(t, err, RejectRotated)
	assert.True(t, IsReplay(err))

	marked, err := svc.MarkFamilyCompromised(ctx, rb.Token)
	require.NoError(t, err)
	assert.Equal(t, int64(2), marked)

	_, err = svc.Validate(ctx, rb.Token)
	requireRejected(t, err, RejectCompromised)
	assert.False(t, IsReplay(err))

	b := stored(t, repo, rb.Token)
	assert.True(t, b.IsCompromised)
	assert.Equal(t, domain.ReasonCompromised, b.RevokedReason)

	// Second marking is a no-op.
	marked, err = svc.MarkFamilyCompromised(ctx, rb.Token)
	require.NoError(t, err)
	assert.Zero(t, marked)
	assert.Equal(t, b.RevokedAt, stored(t, repo, rb.Token).RevokedAt)

	_, err = svc.Rotate(ctx, rb.Token, domain.RolePatient)
	requireRejected(t, err, RejectCompromised)
}

func TestService_MarkFamilyCompromisedUnknownToken(t *testing.T) {
	svc, _, _ := setup(t)
	ctx := context.Background()

	marked, err := svc.MarkFamilyCompromised(ctx, "")
	require.NoError(t, err)
	assert.Zero(t, marked)

	marked, err = svc.MarkFamilyCompromised(ctx, strings.Repeat("q", 86))
	require.NoError(t, err)
	assert.Zero(t, marked)
}

func TestService_RotateRoleMismatch(t *testing.T) {
	svc, repo, _ := setup(t)
	ctx := context.Background()

	token, err := svc.Create(ctx, 8, domain.RolePatient)
	require.NoError(t, err)

	_, err = svc.Rotate(ctx, token, domain.RoleAdmin)
	requireRejected(t, err, RejectRoleMismatch)

	assert.True(t, stored(t, repo, token).IsValid(time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)),
		"a mismatched role must not consume the token")
}

func TestService_QuotaEvictsOldest(t *testing.T) {
	m := &MockMetrics{}
	m.On("TokenIssued", domain.RolePatient).Return()
	m.On("QuotaEviction").Return().Once()

	svc, repo, clock := setup(t, WithMaxTokensPerUser(2), WithMetrics(m))
	ctx := context.Background()

	first, err := svc.Create(ctx, 99, domain.RolePatient)
	require.NoError(t, err)
	clock.Advance(time.Second)
	second, err := svc.Create(ctx, 99, domain.RolePatient)
	require.NoError(t, err)
	clock.Advance(time.Second)
	third, err := svc.Create(ctx, 99, domain.RolePatient)
	require.NoError(t, err)

	oldest := stored(t, repo, first)
	assert.True(t, oldest.IsRevoked())
	assert.Equal(t, domain.ReasonLimitReached, oldest.RevokedReason)

	valid, err := repo.ListValidByUser(ctx, 99, domain.RolePatient, clock.Now())
	require.NoError(t, err)
	require.Len(t, valid, 2)
	assert.Equal(t, tokensec.HashToken(second), valid[0].TokenHash)
	assert.Equal(t, tokensec.HashToken(third), valid[1].TokenHash)

	m.AssertExpectations(t)
	m.AssertNumberOfCalls(t, "TokenIssued", 3)
}

func TestService_QuotaIsPerRole(t *testing.T) {
	svc, repo, _ := setup(t, WithMaxTokensPerUser(1))
	ctx := context.Background()

	patient, err := svc.Create(ctx, 5, domain.RolePatient)
	require.NoError(t, err)
	_, err = svc.Create(ctx, 5, domain.RolePsychologist)
	require.NoError(t, err)

	assert.False(t, stored(t, repo, patient).IsRevoked())
}

func TestService_ConcurrentRotationHasOneWinner(t *testing.T) {
	svc, _, _ := setup(t)
	ctx := context.Background()

	token, err := svc.Create(ctx, 1, domain.RolePatient)
	require.NoError(t, err)

	const workers = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []string
		losers  int
		start   = make(chan struct{})
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			rot, err := svc.Rotate(ctx, token, domain.RolePatient)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				winners = append(winners, rot.Token)
				return
			}
			if errors.Is(err, ErrInvalidToken) {
				losers++
			}
		}()
	}
	close(start)
	wg.Wait()

	require.Len(t, winners, 1)
	assert.Equal(t, workers-1, losers)

	_, err = svc.Validate(ctx, winners[0])
	assert.NoError(t, err)
}

func TestService_RevokeAllForUser(t *testing.T) {
	svc, _, _ := setup(t)
	ctx := context.Background()

	a, err := svc.Create(ctx, 4, domain.RolePatient)
	require.NoError(t, err)
	b, err := svc.Create(ctx, 4, domain.RolePatient)
	require.NoError(t, err)
	other, err := svc.Create(ctx, 4, domain.RoleAdmin)
	require.NoError(t, err)

	n, err := svc.RevokeAllForUser(ctx, 4, domain.RolePatient, domain.ReasonLogoutAll)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	for _, tok := range []string{a, b} {
		_, err := svc.Validate(ctx, tok)
		requireRejected(t, err, RejectRevoked)
	}
	_, err = svc.Validate(ctx, other)
	assert.NoError(t, err)
}

func TestService_Stats(t *testing.T) {
	svc, _, clock := setup(t, WithTTL(time.Hour))
	ctx := context.Background()

	_, err := svc.Create(ctx, 1, domain.RolePatient)
	require.NoError(t, err)
	revoked, err := svc.Create(ctx, 2, domain.RolePatient)
	require.NoError(t, err)
	require.NoError(t, svc.Revoke(ctx, revoked, domain.ReasonLogout))

	clock.Advance(30 * time.Minute)
	_, err = svc.Create(ctx, 3, domain.RolePatient)
	require.NoError(t, err)

	clock.Advance(45 * time.Minute)

	st, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), st.Total)
	assert.Equal(t, int64(2), st.Expired)
	assert.Equal(t, int64(1), st.Revoked)
	// The revoked token is also expired, so the derived active count undercounts.
	assert.Equal(t, int64(0), st.Active)
}

func TestService_CollisionGuardRegenerates(t *testing.T) {
	secrets := []string{
		strings.Repeat("A", 86),
		strings.Repeat("A", 86),
		strings.Repeat("B", 86),
	}
	var i int
	gen := func() (string, error) {
		s := secrets[i%len(secrets)]
		i++
		return s, nil
	}
	svc, _, _ := setup(t, WithTokenSource(gen))
	ctx := context.Background()

	first, err := svc.Create(ctx, 1, domain.RolePatient)
	require.NoError(t, err)
	second, err := svc.Create(ctx, 2, domain.RolePatient)
	require.NoError(t, err)

	assert.Equal(t, secrets[0], first)
	assert.Equal(t, secrets[2], second)
}

func TestService_CollisionGuardGivesUp(t *testing.T) {
	gen := func() (string, error) { return strings.Repeat("C", 86), nil }
	svc, _, _ := setup(t, WithTokenSource(gen))
	ctx := context.Background()

	_, err := svc.Create(ctx, 1, domain.RolePatient)
	require.NoError(t, err)

	_, err = svc.Create(ctx, 2, domain.RolePatient)
	assert.ErrorIs(t, err, errTokenSpaceExhausted)
}

// racingStore lets another writer win the compare-and-set between the read
// and the write inside a transaction.
type racingStore struct {
	domain.RefreshTokenStore
	loseRecordUse bool
	loseRevoke    bool
}

func (s *racingStore) Transaction(ctx context.Context, fn func(tx domain.RefreshTokenStore) error) error {
	return s.RefreshTokenStore.Transaction(ctx, func(tx domain.RefreshTokenStore) error {
		return fn(&racingStore{RefreshTokenStore: tx, loseRecordUse: s.loseRecordUse, loseRevoke: s.loseRevoke})
	})
}

func (s *racingStore) RecordUse(ctx context.Context, id int64, at time.Time) (bool, error) {
	if s.loseRecordUse {
		return false, nil
	}
	return s.RefreshTokenStore.RecordUse(ctx, id, at)
}

func (s *racingStore) Revoke(ctx context.Context, id int64, reason string, at time.Time) (bool, error) {
	if s.loseRevoke {
		if _, err := s.RefreshTokenStore.Revoke(ctx, id, domain.ReasonRotated, at); err != nil {
			return false, err
		}
	}
	return s.RefreshTokenStore.Revoke(ctx, id, reason, at)
}

func racingSetup(t *testing.T, store *racingStore) (*Service, *repository.RefreshTokenRepository, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	repo := repository.NewRefreshTokenRepository(databasetest.Open(t))
	store.RefreshTokenStore = repo
	return NewService(store, quietLogger(), WithClock(clock.Now)), repo, clock
}

func TestService_RotateLosingRevokeRace(t *testing.T) {
	svc, repo, clock := racingSetup(t, &racingStore{loseRevoke: true})
	ctx := context.Background()

	token, err := svc.Create(ctx, 9, domain.RolePatient)
	require.NoError(t, err)

	rot, err := svc.Rotate(ctx, token, domain.RolePatient)
	assert.Nil(t, rot)
	requireRejected(t, err, RejectRaced)
	assert.True(t, IsReplay(err))

	live, err := repo.ListValidByUser(ctx, 9, domain.RolePatient, clock.Now())
	require.NoError(t, err)
	assert.Empty(t, live, "the loser must not issue a successor")

	family, err := repo.ListByFamily(ctx, stored(t, repo, token).FamilyID)
	require.NoError(t, err)
	assert.Len(t, family, 1)
}

func TestService_RotateLosingRecordUseRace(t *testing.T) {
	svc, repo, _ := racingSetup(t, &racingStore{loseRecordUse: true})
	ctx := context.Background()

	token, err := svc.Create(ctx, 9, domain.RolePatient)
	require.NoError(t, err)

	_, err = svc.Rotate(ctx, token, domain.RolePatient)
	requireRejected(t, err, RejectRaced)
	assert.True(t, IsReplay(err))

	family, err := repo.ListByFamily(ctx, stored(t, repo, token).FamilyID)
	require.NoError(t, err)
	assert.Len(t, family, 1)
	assert.False(t, family[0].IsRevoked())
}

func TestService_ValidateLosingRecordUseRace(t *testing.T) {
	svc, repo, _ := racingSetup(t, &racingStore{loseRecordUse: true})
	ctx := context.Background()

	token, err := svc.Create(ctx, 4, domain.RolePsychologist)
	require.NoError(t, err)

	owner, err := svc.Validate(ctx, token)
	assert.Zero(t, owner)
	requireRejected(t, err, RejectRaced)
	assert.True(t, IsReplay(err))

	rec := stored(t, repo, token)
	assert.Zero(t, rec.UseCount)
	assert.Nil(t, rec.LastUsedAt)
}

func TestService_ExpiryWinsOverRevocation(t *testing.T) {
	svc, repo, clock := setup(t, WithTTL(time.Hour))
	ctx := context.Background()

	token, err := svc.Create(ctx, 8, domain.RolePatient)
	require.NoError(t, err)
	require.NoError(t, svc.Revoke(ctx, token, domain.ReasonLogout))

	clock.Advance(2 * time.Hour)
	_, err = svc.Validate(ctx, token)
	requireRejected(t, err, RejectExpired)

	exists, err := repo.ExistsByHash(ctx, tokensec.HashToken(token))
	require.NoError(t, err)
	assert.False(t, exists)
}
