package scanner

import (
	"fmt"
	"net/http"

	"go.pilab.hu/cloudguard/domain"
	"go.pilab.hu/cloudguard/internal/providers"
)

// Factory builds the scanner matching a provider id. Base URLs default to the
// provider's real API surface and can be overridden for tests.
type Factory struct {
	hc    *http.Client
	bases map[string]string
}

func NewFactory(hc *http.Client) *Factory {
	return &Factory{hc: hc, bases: make(map[string]string)}
}

// OverrideBaseURL redirects a provider's API base, used by tests to point a
// scanner at a fake server.
func (f *Factory) OverrideBaseURL(providerID, base string) {
	f.bases[providerID] = base
}

func (f *Factory) base(providerID, fallback string) string {
	if b, ok := f.bases[providerID]; ok {
		return b
	}
	return fallback
}

// New constructs the scanner for the provider, bound to the given credential.
func (f *Factory) New(providerID string, cred *domain.Credential) (Scanner, error) {
	switch providerID {
	case providers.ProviderGitHub:
		return NewGitHubScanner(cred, f.base(providerID, "https://api.github.com"), f.hc), nil
	case providers.ProviderGoogle:
		return NewGoogleScanner(cred, f.base(providerID, "https://securitycenter.googleapis.com"), f.hc), nil
	case providers.ProviderAzure:
		return NewAzureScanner(cred, f.base(providerID, "https://graph.microsoft.com/v1.0"), f.hc), nil
	case providers.ProviderAWS:
		return NewAWSScanner(cred, f.base(providerID, "https://securityhub.amazonaws.com"), f.hc), nil
	default:
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownProvider, providerID)
	}
}
