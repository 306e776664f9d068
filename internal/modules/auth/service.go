package auth

import (
	"context"
	"errors"
	"fmt"

	"tokenkeeper/internal/domain"
	"tokenkeeper/internal/modules/refresh"
	"tokenkeeper/internal/pkg/tokensec"

	"github.com/sirupsen/logrus"
)

const tokenTypeBearer = "Bearer"

// Tokens is what login and refresh hand back to the transport layer.
type Tokens struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresIn    int64 // access token lifetime in seconds
}

// Service is the session facade: it pairs access tokens with refresh token
// families for login, refresh and logout.
type Service struct {
	users             UserDirectory
	access            AccessTokenIssuer
	refresh           RefreshTokens
	log               logrus.FieldLogger
	audit             *refresh.AuditLogger
	replayContainment bool
}

func NewService(
	users UserDirectory,
	access AccessTokenIssuer,
	refreshTokens RefreshTokens,
	log logrus.FieldLogger,
	replayContainment bool,
) *Service {
	return &Service{
		users:             users,
		access:            access,
		refresh:           refreshTokens,
		log:               log,
		audit:             refresh.NewAuditLogger(log),
		replayContainment: replayContainment,
	}
}

// Authenticate checks email and password and starts a session.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*Tokens, error) {
	identity, err := s.users.VerifyCredentials(ctx, email, password)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidCredentials) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	return s.Login(ctx, identity)
}

// Login trusts an already verified identity and issues one access token and
// a brand-new refresh token family.
func (s *Service) Login(ctx context.Context, identity domain.Identity) (*Tokens, error) {
	if !identity.Role.Valid() {
		return nil, fmt.Errorf("login: unknown role %q", identity.Role)
	}

	accessToken, err := s.access.GenerateToken(identity.Subject, identity.UserID, string(identity.Role))
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	refreshToken, err := s.refresh.Create(ctx, identity.UserID, identity.Role)
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	return s.tokens(accessToken, refreshToken), nil
}

// Refresh rotates the presented refresh token and issues a new access token
// for the identity stored on it. Every token failure is ErrReauthenticate.
// When the token had already been rotated away, its whole family is marked
// compromised first.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*Tokens, error) {
	rot, err := s.refresh.Rotate(ctx, refreshToken, "")
	if err != nil {
		if errors.Is(err, refresh.ErrMalformedToken) {
			return nil, ErrReauthenticate
		}
		if !errors.Is(err, refresh.ErrInvalidToken) {
			return nil, err
		}
		if refresh.IsReplay(err) && s.replayContainment {
			s.contain(ctx, refreshToken)
		}
		return nil, ErrReauthenticate
	}

	subject, err := s.users.SubjectFor(ctx, rot.UserID, rot.Role)
	if err != nil {
		if !errors.Is(err, domain.ErrUserNotFound) {
			return nil, err
		}
		if revokeErr := s.refresh.Revoke(ctx, rot.Token, domain.ReasonUserInactive); revokeErr != nil {
			s.log.WithError(revokeErr).WithField("user_id", rot.UserID).Error("Failed to revoke refresh token of inactive user")
		}
		return nil, ErrReauthenticate
	}

	accessToken, err := s.access.GenerateToken(subject, rot.UserID, string(rot.Role))
	if err != nil {
		return nil, fmt.Errorf("refresh: %w", err)
	}
	return s.tokens(accessToken, rot.Token), nil
}

// Logout revokes the refresh token. Unknown or already revoked tokens are
// not an error.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	return s.refresh.Revoke(ctx, refreshToken, domain.ReasonLogout)
}

// LogoutAll ends every session of the identity.
func (s *Service) LogoutAll(ctx context.Context, userID int64, role domain.Role) (int64, error) {
	return s.refresh.RevokeAllForUser(ctx, userID, role, domain.ReasonLogoutAll)
}

func (s *Service) Stats(ctx context.Context) (refresh.Stats, error) {
	return s.refresh.Stats(ctx)
}

func (s *Service) contain(ctx context.Context, refreshToken string) {
	marked, err := s.refresh.MarkFamilyCompromised(ctx, refreshToken)
	if err != nil {
		s.log.WithError(err).Error("Failed to contain replayed refresh token family")
		return
	}
	s.audit.Replay(tokensec.HashToken(refreshToken), marked)
}

func (s *Service) tokens(accessToken, refreshToken string) *Tokens {
	return &Tokens{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    tokenTypeBearer,
		ExpiresIn:    int64(s.access.TTL().Seconds()),
	}
}
