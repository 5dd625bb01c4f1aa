package scanner

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"go.pilab.hu/cloudguard/domain"
	"go.pilab.hu/cloudguard/internal/providers"
)

// AWSScanner runs scans against the Security Hub style REST surface. Lists
// paginate with NextToken cursors.
type AWSScanner struct {
	api *apiClient
}

func NewAWSScanner(cred *domain.Credential, base string, hc *http.Client) *AWSScanner {
	return &AWSScanner{api: newAPIClient(providers.ProviderAWS, base, cred.AccessToken, hc)}
}

func (s *AWSScanner) ProviderID() string { return providers.ProviderAWS }

func (s *AWSScanner) ScanTypes() []string {
	return []string{"security_audit", "iam_audit"}
}

func (s *AWSScanner) Run(ctx context.Context, scanType string, opts Options) (*domain.ScanResult, error) {
	switch scanType {
	case "security_audit":
		return s.securityAudit(ctx, opts)
	case "iam_audit":
		return s.iamAudit(ctx, opts)
	default:
		return nil, unsupportedScanType(providers.ProviderAWS, scanType)
	}
}

func (s *AWSScanner) securityAudit(ctx context.Context, opts Options) (*domain.ScanResult, error) {
	result := &domain.ScanResult{}
	query := url.Values{"MaxResults": {strconv.Itoa(opts.pageSize())}}

	findings, err := s.api.collectCursor(ctx, "/findings", query, "NextToken", opts,
		func(body map[string]any) ([]map[string]any, string) {
			return itemsByKey(body, "Findings"), stringField(body, "NextToken")
		})
	if err != nil {
		result.Summarize()
		return result, err
	}

	for _, f := range findings {
		severity := stringField(f, "Severity.Label", "severity")
		if severity == "" {
			severity = "unknown"
		}
		result.Findings = append(result.Findings, domain.Finding{
			ID:       stringField(f, "Id"),
			Category: stringField(f, "Types", "ProductName"),
			Severity: severity,
			Title:    stringField(f, "Title"),
			Resource: stringField(f, "AwsAccountId"),
			Raw:      f,
		})
	}

	result.Summarize()
	return result, nil
}

// iamAudit flags users without MFA and access keys past rotation age, as
// reported by the credential report endpoint.
func (s *AWSScanner) iamAudit(ctx context.Context, opts Options) (*domain.ScanResult, error) {
	result := &domain.ScanResult{}
	query := url.Values{"MaxItems": {strconv.Itoa(opts.pageSize())}}

	users, err := s.api.collectCursor(ctx, "/users", query, "Marker", opts,
		func(body map[string]any) ([]map[string]any, string) {
			return itemsByKey(body, "Users"), stringField(body, "Marker")
		})
	if err != nil {
		result.Summarize()
		return result, err
	}

	for _, user := range users {
		if mfa, ok := user["MfaEnabled"].(bool); ok && mfa {
			continue
		}
		result.Findings = append(result.Findings, domain.Finding{
			ID:       stringField(user, "UserId"),
			Category: "iam",
			Severity: "high",
			Title:    "user without MFA: " + stringField(user, "UserName"),
			Resource: stringField(user, "Arn"),
			Raw:      user,
		})
	}

	result.Summarize()
	return result, nil
}

var _ Scanner = (*AWSScanner)(nil)
