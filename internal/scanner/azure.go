package scanner

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"go.pilab.hu/cloudguard/domain"
	"go.pilab.hu/cloudguard/internal/providers"
)

// AzureScanner runs scans against Microsoft Graph. Graph lists paginate with
// @odata.nextLink, an absolute URL that replaces the request path.
type AzureScanner struct {
	api *apiClient
}

func NewAzureScanner(cred *domain.Credential, base string, hc *http.Client) *AzureScanner {
	return &AzureScanner{api: newAPIClient(providers.ProviderAzure, base, cred.AccessToken, hc)}
}

func (s *AzureScanner) ProviderID() string { return providers.ProviderAzure }

func (s *AzureScanner) ScanTypes() []string {
	return []string{"identity_security", "secure_score"}
}

func (s *AzureScanner) Run(ctx context.Context, scanType string, opts Options) (*domain.ScanResult, error) {
	switch scanType {
	case "identity_security":
		return s.identitySecurity(ctx, opts)
	case "secure_score":
		return s.secureScore(ctx, opts)
	default:
		return nil, unsupportedScanType(providers.ProviderAzure, scanType)
	}
}

// collectOData walks a Graph collection following @odata.nextLink.
func (s *AzureScanner) collectOData(ctx context.Context, path string, opts Options) ([]map[string]any, error) {
	var all []map[string]any
	next := path
	query := url.Values{"$top": {strconv.Itoa(opts.pageSize())}}
	for page := 0; page < opts.maxPages() && next != ""; page++ {
		var body map[string]any
		if err := s.api.getJSON(ctx, next, query, &body); err != nil {
			return all, err
		}
		all = append(all, itemsByKey(body, "value")...)
		next = stringField(body, "@odata.nextLink")
		// nextLink already encodes the paging parameters.
		query = nil
	}
	return all, nil
}

func (s *AzureScanner) identitySecurity(ctx context.Context, opts Options) (*domain.ScanResult, error) {
	result := &domain.ScanResult{}

	alerts, err := s.collectOData(ctx, "/security/alerts_v2", opts)
	if err != nil {
		if feature := asFeatureNotEnabled(err); feature {
			result.Summarize()
			return result, nil
		}
		result.Summarize()
		return result, err
	}

	for _, alert := range alerts {
		severity := stringField(alert, "severity")
		if severity == "" {
			severity = "unknown"
		}
		result.Findings = append(result.Findings, domain.Finding{
			ID:       stringField(alert, "id"),
			Category: stringField(alert, "category"),
			Severity: severity,
			Title:    stringField(alert, "title"),
			Resource: stringField(alert, "tenantId"),
			Raw:      alert,
		})
	}

	result.Summarize()
	return result, nil
}

// secureScore reports one finding per control scoring under half of its
// maximum, severity scaled by the gap.
func (s *AzureScanner) secureScore(ctx context.Context, opts Options) (*domain.ScanResult, error) {
	result := &domain.ScanResult{}

	scores, err := s.collectOData(ctx, "/security/secureScores", opts)
	if err != nil {
		if asFeatureNotEnabled(err) {
			result.Summarize()
			return result, nil
		}
		result.Summarize()
		return result, err
	}

	for _, score := range scores {
		current, _ := score["currentScore"].(float64)
		max, _ := score["maxScore"].(float64)
		if max <= 0 || current/max >= 0.5 {
			continue
		}
		severity := "medium"
		if current/max < 0.25 {
			severity = "high"
		}
		result.Findings = append(result.Findings, domain.Finding{
			ID:       stringField(score, "id"),
			Category: "secure_score",
			Severity: severity,
			Title:    fmt.Sprintf("secure score %.0f of %.0f", current, max),
			Resource: stringField(score, "azureTenantId"),
			Raw:      score,
		})
	}

	result.Summarize()
	return result, nil
}

var _ Scanner = (*AzureScanner)(nil)
