package providers

import (
	"net/http"

	googleoauth "golang.org/x/oauth2/google"

	"go.pilab.hu/cloudguard/domain"
)

const ProviderGoogle = "google"

// GoogleFlow implements Flow for Google Cloud. Standard OIDC: the base flow
// covers URL building, exchange, refresh and user info without overrides.
type GoogleFlow struct {
	baseFlow
}

func NewGoogleFlow(s Settings, hc *http.Client) *GoogleFlow {
	cfg := &domain.ProviderConfig{
		ID:               ProviderGoogle,
		DisplayName:      "Google Cloud",
		AuthURLTemplate:  googleoauth.Endpoint.AuthURL,
		TokenURLTemplate: googleoauth.Endpoint.TokenURL,
		UserInfoURL:      "https://openidconnect.googleapis.com/v1/userinfo",
		APIBaseURL:       "https://cloudresourcemanager.googleapis.com",
		ClientID:         s.ClientID,
		ClientSecret:     s.ClientSecret,
		Scopes: domain.ScopeCatalog{
			domain.ScopePurposeIdentity:       {"openid", "profile", "email"},
			domain.ScopePurposeSecurity:       {"https://www.googleapis.com/auth/cloud-platform.read-only"},
			domain.ScopePurposeInfrastructure: {"https://www.googleapis.com/auth/cloudplatformprojects.readonly"},
		},
	}
	return &GoogleFlow{baseFlow: newBaseFlow(cfg, hc)}
}

var _ Flow = (*GoogleFlow)(nil)
