package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownProvider is returned when a flow or scan names a provider id
	// that is not in the registry.
	ErrUnknownProvider = errors.New("unknown provider")

	// ErrInvalidOrExpiredState is returned when a callback carries a state
	// value with no live PKCE session behind it: never issued, already
	// consumed, or past its TTL.
	ErrInvalidOrExpiredState = errors.New("invalid or expired state")

	// ErrNoActiveConnection is returned when a scan is requested for a
	// provider with no valid credential.
	ErrNoActiveConnection = errors.New("no active connection")

	// ErrFeatureNotEnabled marks a provider sub-resource answering 404.
	// Scanners map it to an empty result set, never to a scan failure.
	ErrFeatureNotEnabled = errors.New("feature not enabled for this account")
)

// TokenExchangeError reports a non-2xx answer from a provider token endpoint
// during code exchange.
type TokenExchangeError struct {
	ProviderID string
	StatusCode int
	Body       string
}

func (e *TokenExchangeError) Error() string {
	return fmt.Sprintf("token exchange failed for %s: status %d: %s", e.ProviderID, e.StatusCode, e.Body)
}

// TokenRefreshError reports a failed refresh grant. It is terminal for that
// credential generation: the manager drops the credential and emits a
// ConnectionExpired event.
type TokenRefreshError struct {
	ProviderID string
	Err        error
}

func (e *TokenRefreshError) Error() string {
	return fmt.Sprintf("token refresh failed for %s: %v", e.ProviderID, e.Err)
}

func (e *TokenRefreshError) Unwrap() error { return e.Err }

// UserInfoError reports a failed identity fetch after a successful token
// exchange. It is non-fatal: the credential is still stored and returned.
type UserInfoError struct {
	ProviderID string
	Err        error
}

func (e *UserInfoError) Error() string {
	return fmt.Sprintf("user info fetch failed for %s: %v", e.ProviderID, e.Err)
}

func (e *UserInfoError) Unwrap() error { return e.Err }

// ProviderAPIError reports a hard (non-404, non-2xx) failure from a provider
// API call during a scan sub-fetch.
type ProviderAPIError struct {
	ProviderID string
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *ProviderAPIError) Error() string {
	return fmt.Sprintf("provider %s api error: %s: status %d: %s", e.ProviderID, e.Endpoint, e.StatusCode, e.Body)
}
