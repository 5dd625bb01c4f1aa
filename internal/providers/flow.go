package providers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"go.pilab.hu/cloudguard/domain"
)

// AuthRequest carries everything a provider needs to build its authorization
// URL for one flow.
type AuthRequest struct {
	State         string
	CodeChallenge string
	Nonce         string
	Scopes        []string
	TenantID      string
	RedirectURI   string
}

// Flow encapsulates one provider's OAuth2/OIDC quirks: URL building, code
// exchange, refresh, and identity lookup. Implementations are selected from
// the Registry so provider branching never leaks into shared code.
type Flow interface {
	// ID returns the provider id this flow serves (e.g. "github").
	ID() string

	// BuildAuthURL constructs the authorization URL for the request.
	BuildAuthURL(req AuthRequest) (string, error)

	// ExchangeCode trades an authorization code plus the stored PKCE
	// verifier for a credential.
	ExchangeCode(ctx context.Context, code, verifier, redirectURI string, session *domain.PkceSession) (*domain.Credential, error)

	// Refresh obtains a new access token using the credential's refresh
	// token. The returned credential preserves the old refresh token when
	// the provider does not rotate it.
	Refresh(ctx context.Context, cred *domain.Credential) (*domain.Credential, error)

	// FetchIdentity retrieves basic user info with the credential's access
	// token. Callers treat failures here as best-effort.
	FetchIdentity(ctx context.Context, cred *domain.Credential) (*domain.Identity, error)
}

// baseFlow implements the standard PKCE authorization-code flow on top of
// golang.org/x/oauth2. Provider structs embed it and override the quirks.
type baseFlow struct {
	cfg *domain.ProviderConfig
	hc  *http.Client
}

func newBaseFlow(cfg *domain.ProviderConfig, hc *http.Client) baseFlow {
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return baseFlow{cfg: cfg, hc: hc}
}

func (b *baseFlow) ID() string { return b.cfg.ID }

// oauth2Config assembles the x/oauth2 config for one flow instance. The
// endpoint may depend on the tenant for tenant-routed providers.
func (b *baseFlow) oauth2Config(redirectURI string, scopes []string, tenantID string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     b.cfg.ClientID,
		ClientSecret: b.cfg.ClientSecret,
		RedirectURL:  redirectURI,
		Scopes:       scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  b.endpointURL(b.cfg.AuthURLTemplate, tenantID),
			TokenURL: b.endpointURL(b.cfg.TokenURLTemplate, tenantID),
		},
	}
}

// endpointURL substitutes the tenant segment into an endpoint template,
// falling back to the provider's generic multi-tenant route.
func (b *baseFlow) endpointURL(template, tenantID string) string {
	if !strings.Contains(template, "{tenant}") {
		return template
	}
	if tenantID == "" {
		tenantID = b.cfg.DefaultTenant
	}
	return strings.ReplaceAll(template, "{tenant}", tenantID)
}

func (b *baseFlow) BuildAuthURL(req AuthRequest) (string, error) {
	if b.cfg.ClientID == "" {
		return "", ErrProviderMisconfigured
	}
	conf := b.oauth2Config(req.RedirectURI, req.Scopes, req.TenantID)
	opts := []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("code_challenge", req.CodeChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	}
	if req.Nonce != "" {
		opts = append(opts, oauth2.SetAuthURLParam("nonce", req.Nonce))
	}
	return conf.AuthCodeURL(req.State, opts...), nil
}

func (b *baseFlow) ExchangeCode(ctx context.Context, code, verifier, redirectURI string, session *domain.PkceSession) (*domain.Credential, error) {
	conf := b.oauth2Config(redirectURI, session.Scopes, session.TenantID)
	ctx = context.WithValue(ctx, oauth2.HTTPClient, b.hc)

	token, err := conf.Exchange(ctx, code, oauth2.SetAuthURLParam("code_verifier", verifier))
	if err != nil {
		return nil, b.exchangeError(err)
	}
	return b.credentialFromToken(token, session.Scopes), nil
}

func (b *baseFlow) Refresh(ctx context.Context, cred *domain.Credential) (*domain.Credential, error) {
	if cred.RefreshToken == "" {
		return nil, &domain.TokenRefreshError{ProviderID: b.cfg.ID, Err: errors.New("no refresh token")}
	}
	conf := b.oauth2Config("", cred.Scopes, "")
	ctx = context.WithValue(ctx, oauth2.HTTPClient, b.hc)

	src := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: cred.RefreshToken})
	token, err := src.Token()
	if err != nil {
		return nil, &domain.TokenRefreshError{ProviderID: b.cfg.ID, Err: err}
	}

	next := b.credentialFromToken(token, cred.Scopes)
	if next.RefreshToken == "" {
		next.RefreshToken = cred.RefreshToken
	}
	next.Identity = cred.Identity
	next.ConnectedAt = cred.ConnectedAt
	return next, nil
}

// FetchIdentity fetches the provider's user info endpoint and extracts the
// common OIDC claims. Providers with non-standard user APIs override this.
func (b *baseFlow) FetchIdentity(ctx context.Context, cred *domain.Credential) (*domain.Identity, error) {
	if b.cfg.UserInfoURL == "" {
		return nil, &domain.UserInfoError{ProviderID: b.cfg.ID, Err: errors.New("no user info endpoint configured")}
	}
	raw, err := b.getJSON(ctx, b.cfg.UserInfoURL, cred.AccessToken)
	if err != nil {
		return nil, &domain.UserInfoError{ProviderID: b.cfg.ID, Err: err}
	}
	return identityFromClaims(raw), nil
}

func (b *baseFlow) credentialFromToken(token *oauth2.Token, requested []string) *domain.Credential {
	scopes := requested
	if granted, ok := token.Extra("scope").(string); ok && granted != "" {
		scopes = strings.Fields(strings.ReplaceAll(granted, ",", " "))
	}
	expiry := token.Expiry
	if expiry.IsZero() {
		// Some providers omit expires_in; bound the session anyway.
		expiry = time.Now().Add(8 * time.Hour)
	}
	return &domain.Credential{
		ProviderID:   b.cfg.ID,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.TokenType,
		ExpiresAt:    expiry,
		Scopes:       scopes,
		ConnectedAt:  time.Now(),
	}
}

// exchangeError maps an x/oauth2 retrieve error onto the exchange taxonomy,
// keeping the provider's status code and response body.
func (b *baseFlow) exchangeError(err error) error {
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		status := 0
		if rerr.Response != nil {
			status = rerr.Response.StatusCode
		}
		return &domain.TokenExchangeError{
			ProviderID: b.cfg.ID,
			StatusCode: status,
			Body:       string(rerr.Body),
		}
	}
	return &domain.TokenExchangeError{ProviderID: b.cfg.ID, Body: err.Error()}
}

// getJSON performs an authenticated GET and decodes the JSON body into a map.
func (b *baseFlow) getJSON(ctx context.Context, url, accessToken string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := b.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.New("unexpected status " + resp.Status + ": " + string(body))
	}
	return decodeJSONMap(body)
}
