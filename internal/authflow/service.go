package authflow

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"

	"go.pilab.hu/cloudguard/domain"
	"go.pilab.hu/cloudguard/internal/providers"
)

// CredentialSink receives the credential produced by a successful callback.
// The lifecycle manager implements it.
type CredentialSink interface {
	Store(ctx context.Context, cred *domain.Credential) error
}

// AuthFlow is the caller-facing outcome of InitiateFlow. Surfacing the URL to
// the user (redirect or popup) is the caller's job.
type AuthFlow struct {
	AuthorizationURL string `json:"authorization_url"`
	State            string `json:"state"`
}

// Service drives the authorization flows: it builds authorization URLs,
// consumes provider callbacks and exchanges authorization codes for tokens.
type Service struct {
	registry     *providers.Registry
	sessions     SessionStore
	credentials  CredentialSink
	redirectBase string
}

// NewService creates the auth flow controller. redirectBase is the origin the
// per-provider callback path is appended to, e.g. "https://app.example.com".
func NewService(registry *providers.Registry, sessions SessionStore, credentials CredentialSink, redirectBase string) *Service {
	return &Service{
		registry:     registry,
		sessions:     sessions,
		credentials:  credentials,
		redirectBase: redirectBase,
	}
}

// RedirectURIForProvider returns "{origin}/auth/callback/{providerId}"; the
// provider's client configuration must register exactly this URI.
func (s *Service) RedirectURIForProvider(providerID string) string {
	base := s.redirectBase
	if base != "" && base[len(base)-1] == '/' {
		base = base[:len(base)-1]
	}
	return fmt.Sprintf("%s/auth/callback/%s", base, url.PathEscape(providerID))
}

// InitiateFlow starts an authorization flow for a provider. It generates the
// PKCE material, persists the flow session keyed by state, and returns the
// authorization URL to surface to the user. tenantID is optional and only
// meaningful for tenant-routed providers.
func (s *Service) InitiateFlow(ctx context.Context, providerID string, scopes []string, tenantID string) (*AuthFlow, error) {
	flow, err := s.registry.Flow(providerID)
	if err != nil {
		return nil, err
	}

	verifier, err := GenerateCodeVerifier()
	if err != nil {
		return nil, fmt.Errorf("failed to generate code verifier: %w", err)
	}
	state, err := GenerateState()
	if err != nil {
		return nil, fmt.Errorf("failed to generate state: %w", err)
	}
	nonce, err := GenerateNonce()
	if err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	authURL, err := flow.BuildAuthURL(providers.AuthRequest{
		State:         state,
		CodeChallenge: CodeChallengeS256(verifier),
		Nonce:         nonce,
		Scopes:        scopes,
		TenantID:      tenantID,
		RedirectURI:   s.RedirectURIForProvider(providerID),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build authorization url for %s: %w", providerID, err)
	}

	session := &domain.PkceSession{
		State:        state,
		ProviderID:   providerID,
		CodeVerifier: verifier,
		Scopes:       scopes,
		TenantID:     tenantID,
		Nonce:        nonce,
		CreatedAt:    time.Now(),
	}
	if err := s.sessions.Save(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to persist pkce session: %w", err)
	}

	log.Debug().Str("provider", providerID).Str("tenant", tenantID).Msg("authorization flow initiated")

	return &AuthFlow{AuthorizationURL: authURL, State: state}, nil
}

// HandleCallback consumes the provider callback: it validates and destroys
// the PKCE session, exchanges the code for tokens, fetches the user identity
// and hands the credential to the lifecycle manager.
//
// The session is consumed before the exchange, so a failed exchange still
// blocks replay of the same state.
//
// A failed identity fetch does not void the credential: the credential is
// stored and returned together with a *domain.UserInfoError the caller may
// treat as a warning.
func (s *Service) HandleCallback(ctx context.Context, providerID, code, state string) (*domain.Credential, error) {
	session, err := s.sessions.Consume(ctx, state)
	if err != nil {
		return nil, err
	}
	if session.ProviderID != providerID || session.Expired(time.Now()) {
		return nil, domain.ErrInvalidOrExpiredState
	}

	flow, err := s.registry.Flow(providerID)
	if err != nil {
		return nil, err
	}

	cred, err := flow.ExchangeCode(ctx, code, session.CodeVerifier, s.RedirectURIForProvider(providerID), session)
	if err != nil {
		log.Warn().Err(err).Str("provider", providerID).Msg("token exchange failed")
		return nil, err
	}

	var identityErr error
	identity, err := flow.FetchIdentity(ctx, cred)
	if err != nil {
		// Best-effort by policy: log, keep the credential, report the
		// error alongside it.
		var uiErr *domain.UserInfoError
		if !errors.As(err, &uiErr) {
			err = &domain.UserInfoError{ProviderID: providerID, Err: err}
		}
		log.Warn().Err(err).Str("provider", providerID).Msg("user info fetch failed, storing credential without identity")
		identityErr = err
	} else {
		cred.Identity = identity
	}

	if err := s.credentials.Store(ctx, cred); err != nil {
		return nil, fmt.Errorf("failed to store credential for %s: %w", providerID, err)
	}

	log.Info().Str("provider", providerID).Time("expires_at", cred.ExpiresAt).Msg("provider connected")

	return cred, identityErr
}
