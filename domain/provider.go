package domain

// ScopePurpose groups the scopes a provider exposes by what they unlock.
type ScopePurpose string

const (
	ScopePurposeIdentity       ScopePurpose = "identity"
	ScopePurposeSecurity       ScopePurpose = "security"
	ScopePurposeInfrastructure ScopePurpose = "infrastructure"
)

// ScopeCatalog maps a purpose to the scope strings a provider accepts for it.
type ScopeCatalog map[ScopePurpose][]string

// All returns every scope in the catalog, identity scopes first.
func (c ScopeCatalog) All() []string {
	var scopes []string
	for _, purpose := range []ScopePurpose{ScopePurposeIdentity, ScopePurposeSecurity, ScopePurposeInfrastructure} {
		scopes = append(scopes, c[purpose]...)
	}
	return scopes
}

// ProviderConfig holds the static, immutable configuration for one cloud
// identity provider. It is loaded once at startup and never mutated.
type ProviderConfig struct {
	ID          string
	DisplayName string

	// Endpoint templates. Tenant-routed providers carry a "{tenant}"
	// placeholder that is substituted per flow.
	AuthURLTemplate  string
	TokenURLTemplate string
	UserInfoURL      string

	// API base the provider's scanner talks to.
	APIBaseURL string

	ClientID     string
	ClientSecret string

	// DefaultTenant is used by tenant-routed providers when the caller does
	// not supply one (e.g. the generic multi-tenant route).
	DefaultTenant string

	Scopes ScopeCatalog

	// TenantRouted marks providers whose endpoints embed an organizational
	// boundary in the URL path.
	TenantRouted bool
}
