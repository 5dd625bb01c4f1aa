package providers

import (
	"context"
	"net/http"
	"strconv"

	githuboauth "golang.org/x/oauth2/github"

	"go.pilab.hu/cloudguard/domain"
)

const ProviderGitHub = "github"

var githubUserInfoEndpoint = "https://api.github.com/user"

// GitHubFlow implements Flow for GitHub. GitHub is OAuth2 but not OIDC: there
// is no id_token and user info comes from the REST API.
type GitHubFlow struct {
	baseFlow
}

func NewGitHubFlow(s Settings, hc *http.Client) *GitHubFlow {
	cfg := &domain.ProviderConfig{
		ID:               ProviderGitHub,
		DisplayName:      "GitHub",
		AuthURLTemplate:  githuboauth.Endpoint.AuthURL,
		TokenURLTemplate: githuboauth.Endpoint.TokenURL,
		UserInfoURL:      githubUserInfoEndpoint,
		APIBaseURL:       "https://api.github.com",
		ClientID:         s.ClientID,
		ClientSecret:     s.ClientSecret,
		Scopes: domain.ScopeCatalog{
			domain.ScopePurposeIdentity:       {"read:user", "user:email"},
			domain.ScopePurposeSecurity:       {"repo", "security_events"},
			domain.ScopePurposeInfrastructure: {"read:org"},
		},
	}
	return &GitHubFlow{baseFlow: newBaseFlow(cfg, hc)}
}

// FetchIdentity maps GitHub's /user payload, which uses login/avatar fields
// instead of OIDC claims.
func (g *GitHubFlow) FetchIdentity(ctx context.Context, cred *domain.Credential) (*domain.Identity, error) {
	raw, err := g.getJSON(ctx, g.cfg.UserInfoURL, cred.AccessToken)
	if err != nil {
		return nil, &domain.UserInfoError{ProviderID: g.cfg.ID, Err: err}
	}
	id := &domain.Identity{RawData: raw}
	if v, ok := raw["id"].(float64); ok {
		id.Subject = strconv.FormatInt(int64(v), 10)
	}
	if v, ok := raw["login"].(string); ok {
		id.Username = v
	}
	if v, ok := raw["name"].(string); ok {
		id.Name = v
	}
	if v, ok := raw["email"].(string); ok {
		id.Email = v
	}
	return id, nil
}

var _ Flow = (*GitHubFlow)(nil)
