package authflow

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
)

// GenerateCodeVerifier returns a cryptographically random PKCE code verifier
// (43 characters of base64url, from 32 random bytes).
func GenerateCodeVerifier() (string, error) {
	return randomToken(32)
}

// GenerateState returns the opaque state value keying one flow session.
func GenerateState() (string, error) {
	return randomToken(32)
}

// GenerateNonce returns the OIDC nonce for providers that consume one.
func GenerateNonce() (string, error) {
	return randomToken(16)
}

// CodeChallengeS256 derives the S256 code challenge from a verifier:
// base64url(SHA256(verifier)), no padding.
func CodeChallengeS256(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func randomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
