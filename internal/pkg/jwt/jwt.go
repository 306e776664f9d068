package jwt

import (
	"errors"
	"fmt"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

const (
	// MinKeyBytes is the HS256 key floor (256 bits).
	MinKeyBytes      = 32
	DefaultAccessTTL = 15 * time.Minute
)

var (
	ErrWeakKey      = errors.New("jwt signing key is missing, too short or a known placeholder")
	ErrInvalidToken = errors.New("invalid token")
)

// placeholderKeys are values that show up in sample configs and must never sign tokens.
var placeholderKeys = map[string]struct{}{
	"key":                  {},
	"secret":               {},
	"changeme":             {},
	"change-me-jwt-secret": {},
	"defaultSecretKey12345678901234567890123467890": {},
	"your-256-bit-secret":                           {},
}

// IsPlaceholderKey reports whether secret is a documented placeholder value.
func IsPlaceholderKey(secret string) bool {
	_, ok := placeholderKeys[strings.TrimSpace(secret)]
	return ok
}

// CheckKey rejects empty, short and placeholder keys.
func CheckKey(secret string) error {
	trimmed := strings.TrimSpace(secret)
	switch {
	case trimmed == "":
		return fmt.Errorf("%w: key is empty", ErrWeakKey)
	case IsPlaceholderKey(trimmed):
		return fmt.Errorf("%w: key is a placeholder value", ErrWeakKey)
	case len(trimmed) < MinKeyBytes:
		return fmt.Errorf("%w: key is %d bytes, need at least %d", ErrWeakKey, len(trimmed), MinKeyBytes)
	}
	return nil
}

type Service struct {
	secret []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

type Claims struct {
	UserID int64  `json:"user_id,omitempty"`
	Role   string `json:"role,omitempty"`
	jwtlib.RegisteredClaims
}

// Verification is the outcome of Verify. Subject and identity fields are
// empty unless Valid is true.
type Verification struct {
	Valid   bool
	Subject string
	UserID  int64
	Role    string
}

type Option func(*Service)

func WithIssuer(issuer string) Option {
	return func(s *Service) { s.issuer = strings.TrimSpace(issuer) }
}

// WithClock replaces time.Now for issuance and verification.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New builds an HS256 signer. It fails when the key would be unsafe to sign with;
// callers are expected to abort startup on error. A ttl <= 0 issues tokens that
// are already expired.
func New(secret string, ttl time.Duration, opts ...Option) (*Service, error) {
	if err := CheckKey(secret); err != nil {
		return nil, err
	}
	s := &Service{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Service) TTL() time.Duration {
	return s.ttl
}

// GenerateToken signs {sub, iat, exp} plus the owner id and role.
func (s *Service) GenerateToken(subject string, userID int64, role string) (string, error) {
	now := s.now()
	claims := Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   subject,
			Issuer:    s.issuer,
			ExpiresAt: jwtlib.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwtlib.NewNumericDate(now),
		},
	}

	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// ValidateToken checks signature, algorithm, issuer and expiry in one pass.
// Every failure is reported as ErrInvalidToken.
func (s *Service) ValidateToken(tokenStr string) (*Claims, error) {
	options := []jwtlib.ParserOption{
		jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Alg()}),
		jwtlib.WithTimeFunc(s.now),
		jwtlib.WithExpirationRequired(),
		jwtlib.WithIssuedAt(),
	}
	if s.issuer != "" {
		options = append(options, jwtlib.WithIssuer(s.issuer))
	}

	token, err := jwtlib.NewParser(options...).ParseWithClaims(tokenStr, &Claims{}, func(t *jwtlib.Token) (any, error) {
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || claims.Subject == "" || claims.ExpiresAt == nil {
		return nil, ErrInvalidToken
	}
	// exp has second precision; a token whose exp is not strictly in the future is dead.
	if !s.now().Before(claims.ExpiresAt.Time) {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

func (s *Service) Verify(tokenStr string) Verification {
	claims, err := s.ValidateToken(tokenStr)
	if err != nil {
		return Verification{}
	}
	return Verification{
		Valid:   true,
		Subject: claims.Subject,
		UserID:  claims.UserID,
		Role:    claims.Role,
	}
}
