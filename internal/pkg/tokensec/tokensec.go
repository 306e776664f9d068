// Package tokensec holds the stateless primitives behind refresh tokens:
// secret generation, family ids, the lookup digest and a cheap format check.
package tokensec

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
)

const (
	// TokenBytes is the entropy of a refresh token secret.
	TokenBytes = 64
	// FamilyIDBytes is the entropy of a family id.
	FamilyIDBytes = 32
	// MinTokenLength is the shortest string accepted before a store lookup.
	MinTokenLength = 32
)

var encoding = base64.RawURLEncoding

// reader is the process-wide CSPRNG shared by every generator.
var reader io.Reader = rand.Reader

// GenerateSecureToken returns TokenBytes random bytes, base64url without padding.
func GenerateSecureToken() (string, error) {
	return randomString(TokenBytes)
}

// GenerateFamilyID returns FamilyIDBytes random bytes drawn independently of
// any token secret.
func GenerateFamilyID() (string, error) {
	return randomString(FamilyIDBytes)
}

// HashToken returns the SHA-256 digest of the secret, base64url without padding.
// The secret already carries 512 bits of entropy, so a fast digest is enough.
func HashToken(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return encoding.EncodeToString(sum[:])
}

// IsStructurallyInvalid reports whether the token must be rejected without a
// lookup: empty or shorter than MinTokenLength. True means reject.
func IsStructurallyInvalid(token string) bool {
	return len(token) < MinTokenLength
}

func randomString(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(reader, buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return encoding.EncodeToString(buf), nil
}
