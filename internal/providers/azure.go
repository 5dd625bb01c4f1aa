package providers

import (
	"net/http"

	"go.pilab.hu/cloudguard/domain"
)

const ProviderAzure = "azure"

// azureDefaultTenant is the generic multi-tenant route used when the caller
// supplies no workspace/tenant id.
const azureDefaultTenant = "organizations"

// AzureFlow implements Flow for Microsoft Entra ID. Azure is tenant-routed:
// the authorization and token endpoints embed the tenant segment, so the
// endpoint templates carry a {tenant} placeholder resolved per flow.
type AzureFlow struct {
	baseFlow
}

func NewAzureFlow(s Settings, hc *http.Client) *AzureFlow {
	tenant := s.Tenant
	if tenant == "" {
		tenant = azureDefaultTenant
	}
	cfg := &domain.ProviderConfig{
		ID:               ProviderAzure,
		DisplayName:      "Microsoft Azure",
		AuthURLTemplate:  "https://login.microsoftonline.com/{tenant}/oauth2/v2.0/authorize",
		TokenURLTemplate: "https://login.microsoftonline.com/{tenant}/oauth2/v2.0/token",
		UserInfoURL:      "https://graph.microsoft.com/oidc/userinfo",
		APIBaseURL:       "https://graph.microsoft.com/v1.0",
		ClientID:         s.ClientID,
		ClientSecret:     s.ClientSecret,
		DefaultTenant:    tenant,
		TenantRouted:     true,
		Scopes: domain.ScopeCatalog{
			domain.ScopePurposeIdentity:       {"openid", "profile", "email", "offline_access"},
			domain.ScopePurposeSecurity:       {"SecurityEvents.Read.All"},
			domain.ScopePurposeInfrastructure: {"Directory.Read.All"},
		},
	}
	return &AzureFlow{baseFlow: newBaseFlow(cfg, hc)}
}

var _ Flow = (*AzureFlow)(nil)
