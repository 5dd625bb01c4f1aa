// Package scanner implements the per-provider security scan strategies. Every
// scanner exposes the same capability: run a named scan over the provider's
// REST surface with the live credential, paginate until exhausted or capped,
// and return a structured result.
//
// A sub-resource answering 404 means the feature is not enabled for the
// account; it contributes an empty result set instead of failing the scan, so
// one scan can proceed across heterogeneous tenant configurations. Any other
// non-2xx is a hard failure: the scan reports failed with the first such
// error, keeping the findings collected so far on the result for diagnostics.
package scanner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.pilab.hu/cloudguard/domain"
)

const (
	// DefaultPageSize is requested from provider list endpoints.
	DefaultPageSize = 100
	// DefaultMaxPages caps pagination per sub-fetch.
	DefaultMaxPages = 10
)

// Options tune one scan invocation.
type Options struct {
	PageSize int
	MaxPages int
	// Params carries provider-specific knobs, e.g. Google's findings
	// filter expression under "filter".
	Params map[string]string
}

func (o Options) pageSize() int {
	if o.PageSize <= 0 {
		return DefaultPageSize
	}
	return o.PageSize
}

func (o Options) maxPages() int {
	if o.MaxPages <= 0 {
		return DefaultMaxPages
	}
	return o.MaxPages
}

// Scanner runs named scans against one provider.
type Scanner interface {
	ProviderID() string
	ScanTypes() []string
	Run(ctx context.Context, scanType string, opts Options) (*domain.ScanResult, error)
}

// apiClient wraps the authenticated REST access shared by all scanners.
type apiClient struct {
	hc         *http.Client
	providerID string
	base       string
	token      string
}

func newAPIClient(providerID, base, token string, hc *http.Client) *apiClient {
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &apiClient{hc: hc, providerID: providerID, base: strings.TrimRight(base, "/"), token: token}
}

// getJSON fetches path (joined onto the API base unless absolute) and decodes
// the response into out. 404 maps to domain.ErrFeatureNotEnabled.
func (c *apiClient) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	u := path
	if !strings.HasPrefix(path, "http") {
		u = c.base + path
	}
	if len(query) > 0 {
		sep := "?"
		if strings.Contains(u, "?") {
			sep = "&"
		}
		u += sep + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return domain.ErrFeatureNotEnabled
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return &domain.ProviderAPIError{
			ProviderID: c.providerID,
			Endpoint:   strings.SplitN(u, "?", 2)[0],
			StatusCode: resp.StatusCode,
			Body:       truncate(string(body), 512),
		}
	}

	if out == nil {
		return nil
	}
	return json.Unmarshal(body, out)
}

// collectCursor paginates a cursor-style list endpoint. extract returns the
// page's items plus the next cursor; an empty cursor ends the walk. A 404 on
// the first page yields an empty slice.
func (c *apiClient) collectCursor(
	ctx context.Context,
	path string,
	query url.Values,
	cursorParam string,
	opts Options,
	extract func(body map[string]any) (items []map[string]any, next string),
) ([]map[string]any, error) {
	var all []map[string]any
	cursor := ""
	for page := 0; page < opts.maxPages(); page++ {
		q := cloneValues(query)
		if cursor != "" {
			q.Set(cursorParam, cursor)
		}
		var body map[string]any
		if err := c.getJSON(ctx, path, q, &body); err != nil {
			if errors.Is(err, domain.ErrFeatureNotEnabled) {
				return all, nil
			}
			return all, err
		}
		items, next := extract(body)
		all = append(all, items...)
		if next == "" {
			break
		}
		cursor = next
	}
	return all, nil
}

// collectPages paginates an offset-style list endpoint (page=1..N). The walk
// stops when a page comes back short, empty, or the cap is reached.
func (c *apiClient) collectPages(
	ctx context.Context,
	path string,
	query url.Values,
	opts Options,
) ([]map[string]any, error) {
	var all []map[string]any
	for page := 1; page <= opts.maxPages(); page++ {
		q := cloneValues(query)
		q.Set("per_page", fmt.Sprintf("%d", opts.pageSize()))
		q.Set("page", fmt.Sprintf("%d", page))

		var items []map[string]any
		if err := c.getJSON(ctx, path, q, &items); err != nil {
			if errors.Is(err, domain.ErrFeatureNotEnabled) {
				return all, nil
			}
			return all, err
		}
		all = append(all, items...)
		if len(items) < opts.pageSize() {
			break
		}
	}
	return all, nil
}

func cloneValues(v url.Values) url.Values {
	out := url.Values{}
	for k, vals := range v {
		for _, val := range vals {
			out.Add(k, val)
		}
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// stringField digs a string out of a decoded JSON object, trying each key in
// order; keys may be dotted paths into nested objects.
func stringField(m map[string]any, keys ...string) string {
	for _, key := range keys {
		cur := any(m)
		found := true
		for _, part := range strings.Split(key, ".") {
			obj, ok := cur.(map[string]any)
			if !ok {
				found = false
				break
			}
			cur, ok = obj[part]
			if !ok {
				found = false
				break
			}
		}
		if !found {
			continue
		}
		if s, ok := cur.(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func asFeatureNotEnabled(err error) bool {
	return errors.Is(err, domain.ErrFeatureNotEnabled)
}

func unsupportedScanType(providerID, scanType string) error {
	return fmt.Errorf("unsupported scan type %q for provider %s", scanType, providerID)
}
