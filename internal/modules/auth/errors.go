package auth

import (
	"errors"

	"tokenkeeper/internal/domain"
)

var (
	ErrInvalidCredentials = domain.ErrInvalidCredentials
	// ErrReauthenticate is the only failure a refresh ever surfaces. Expired,
	// revoked, compromised and unknown tokens all look the same to the caller.
	ErrReauthenticate = errors.New("re-authentication required")
)
