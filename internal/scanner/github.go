package scanner

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"go.pilab.hu/cloudguard/domain"
	"go.pilab.hu/cloudguard/internal/providers"
)

// maxReposPerScan bounds the per-repository alert fetches of one scan.
const maxReposPerScan = 20

// GitHubScanner runs security scans over the GitHub REST API. Alert endpoints
// answer 404 on repositories (or plans) where the feature is off; those
// repositories contribute nothing instead of failing the scan.
type GitHubScanner struct {
	api *apiClient
}

func NewGitHubScanner(cred *domain.Credential, base string, hc *http.Client) *GitHubScanner {
	return &GitHubScanner{api: newAPIClient(providers.ProviderGitHub, base, cred.AccessToken, hc)}
}

func (s *GitHubScanner) ProviderID() string { return providers.ProviderGitHub }

func (s *GitHubScanner) ScanTypes() []string {
	return []string{"code_security", "secret_scanning", "dependency_audit"}
}

func (s *GitHubScanner) Run(ctx context.Context, scanType string, opts Options) (*domain.ScanResult, error) {
	var alertPath, category string
	switch scanType {
	case "code_security":
		alertPath, category = "code-scanning/alerts", "code_security"
	case "secret_scanning":
		alertPath, category = "secret-scanning/alerts", "secret_scanning"
	case "dependency_audit":
		alertPath, category = "dependabot/alerts", "dependency_audit"
	default:
		return nil, unsupportedScanType(providers.ProviderGitHub, scanType)
	}

	result := &domain.ScanResult{}

	repos, err := s.api.collectPages(ctx, "/user/repos", url.Values{"sort": {"pushed"}}, opts)
	if err != nil {
		result.Summarize()
		return result, err
	}
	if len(repos) > maxReposPerScan {
		repos = repos[:maxReposPerScan]
	}

	for _, repo := range repos {
		fullName := stringField(repo, "full_name")
		if fullName == "" {
			continue
		}
		// collectPages already maps a 404 (feature off for this repo or
		// plan) to an empty page set, so only hard failures land here.
		alerts, err := s.api.collectPages(ctx, fmt.Sprintf("/repos/%s/%s", fullName, alertPath), nil, opts)
		if err != nil {
			result.Summarize()
			return result, err
		}
		for _, alert := range alerts {
			result.Findings = append(result.Findings, githubFinding(alert, category, fullName))
		}
	}

	result.Summarize()
	return result, nil
}

func githubFinding(alert map[string]any, category, repo string) domain.Finding {
	severity := stringField(alert,
		"rule.security_severity_level",
		"rule.severity",
		"security_advisory.severity",
		"severity",
	)
	if severity == "" {
		severity = "unknown"
	}
	title := stringField(alert, "rule.description", "secret_type_display_name", "security_advisory.summary")
	if title == "" {
		title = category + " alert"
	}
	id := stringField(alert, "number", "html_url")
	if id == "" {
		if n, ok := alert["number"].(float64); ok {
			id = fmt.Sprintf("%s/%d", repo, int64(n))
		}
	}
	return domain.Finding{
		ID:       id,
		Category: category,
		Severity: severity,
		Title:    title,
		Resource: repo,
		Raw:      alert,
	}
}

var _ Scanner = (*GitHubScanner)(nil)
