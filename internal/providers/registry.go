package providers

import (
	"fmt"
	"net/http"
	"sort"

	"go.pilab.hu/cloudguard/domain"
)

// Settings is the per-provider secret material sourced from configuration.
type Settings struct {
	ClientID     string
	ClientSecret string
	Tenant       string
}

// Registry holds the initialized flow for every configured provider. It is
// built once at startup and read-only afterwards.
type Registry struct {
	flows   map[string]Flow
	configs map[string]*domain.ProviderConfig
}

// NewRegistry constructs the flows for every provider present in settings.
// Providers with no client id are left out rather than half-configured.
func NewRegistry(settings map[string]Settings, hc *http.Client) (*Registry, error) {
	r := &Registry{
		flows:   make(map[string]Flow),
		configs: make(map[string]*domain.ProviderConfig),
	}
	for id, s := range settings {
		if s.ClientID == "" {
			continue
		}
		flow, err := newFlow(id, s, hc)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", id, err)
		}
		r.flows[id] = flow
		r.configs[id] = flowConfig(flow)
	}
	return r, nil
}

func newFlow(id string, s Settings, hc *http.Client) (Flow, error) {
	switch id {
	case ProviderGitHub:
		return NewGitHubFlow(s, hc), nil
	case ProviderGoogle:
		return NewGoogleFlow(s, hc), nil
	case ProviderAzure:
		return NewAzureFlow(s, hc), nil
	case ProviderAWS:
		return NewAWSFlow(s, hc), nil
	default:
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownProvider, id)
	}
}

// Register adds a pre-built flow to the registry. Mainly a seam for tests
// and for callers wiring custom providers.
func (r *Registry) Register(f Flow) {
	r.flows[f.ID()] = f
	if cfg := flowConfig(f); cfg != nil {
		r.configs[f.ID()] = cfg
	}
}

// Flow returns the flow for a provider id.
func (r *Registry) Flow(providerID string) (Flow, error) {
	flow, ok := r.flows[providerID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownProvider, providerID)
	}
	return flow, nil
}

// Config returns the static configuration for a provider id.
func (r *Registry) Config(providerID string) (*domain.ProviderConfig, error) {
	cfg, ok := r.configs[providerID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownProvider, providerID)
	}
	return cfg, nil
}

// IDs lists the configured provider ids in stable order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.flows))
	for id := range r.flows {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// flowConfig extracts the embedded config from the concrete flow types.
func flowConfig(f Flow) *domain.ProviderConfig {
	switch p := f.(type) {
	case *GitHubFlow:
		return p.cfg
	case *GoogleFlow:
		return p.cfg
	case *AzureFlow:
		return p.cfg
	case *AWSFlow:
		return p.cfg
	default:
		return nil
	}
}
