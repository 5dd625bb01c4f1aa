package scanner

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.pilab.hu/cloudguard/domain"
)

func scanCredential(providerID string) *domain.Credential {
	return &domain.Credential{
		ProviderID:  providerID,
		AccessToken: "scan-token",
		ExpiresAt:   time.Now().Add(time.Hour),
	}
}

func TestGetJSON_ErrorTaxonomy(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/missing", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	mux.HandleFunc("/broken", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"message":"upstream exploded"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	api := newAPIClient("github", srv.URL, "tok", srv.Client())

	err := api.getJSON(context.Background(), "/missing", nil, nil)
	assert.ErrorIs(t, err, domain.ErrFeatureNotEnabled)

	err = api.getJSON(context.Background(), "/broken", url.Values{"page": {"1"}}, nil)
	var apiErr *domain.ProviderAPIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	assert.Equal(t, srv.URL+"/broken", apiErr.Endpoint, "query string is stripped from the endpoint")
	assert.Contains(t, apiErr.Body, "upstream exploded")
}

func TestCollectPages_StopsOnShortPage(t *testing.T) {
	var pages []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "2", r.URL.Query().Get("per_page"))
		page := r.URL.Query().Get("page")
		pages = append(pages, page)
		w.Header().Set("Content-Type", "application/json")
		if page == "1" {
			w.Write([]byte(`[{"id":"a"},{"id":"b"}]`))
			return
		}
		w.Write([]byte(`[{"id":"c"}]`))
	}))
	defer srv.Close()

	api := newAPIClient("github", srv.URL, "tok", srv.Client())
	items, err := api.collectPages(context.Background(), "/things", nil, Options{PageSize: 2})
	require.NoError(t, err)
	assert.Len(t, items, 3)
	assert.Equal(t, []string{"1", "2"}, pages, "a short page ends the walk")
}

func TestCollectCursor_WalksUntilEmptyCursor(t *testing.T) {
	var cursors []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cursor := r.URL.Query().Get("pageToken")
		cursors = append(cursors, cursor)
		w.Header().Set("Content-Type", "application/json")
		if cursor == "" {
			w.Write([]byte(`{"items":[{"id":"a"}],"next":"t2"}`))
			return
		}
		w.Write([]byte(`{"items":[{"id":"b"}]}`))
	}))
	defer srv.Close()

	api := newAPIClient("google", srv.URL, "tok", srv.Client())
	items, err := api.collectCursor(context.Background(), "/things", nil, "pageToken", Options{},
		func(body map[string]any) ([]map[string]any, string) {
			return itemsByKey(body, "items"), stringField(body, "next")
		})
	require.NoError(t, err)
	assert.Len(t, items, 2)
	assert.Equal(t, []string{"", "t2"}, cursors)
}

func TestGitHubScanner_FeatureDisabledRepoContributesNothing(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/user/repos", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"full_name":"acme/api"},{"full_name":"acme/web"}]`))
	})
	// Code scanning is off for acme/api.
	mux.HandleFunc("/repos/acme/api/code-scanning/alerts", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	mux.HandleFunc("/repos/acme/web/code-scanning/alerts", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[
			{"number":1,"rule":{"security_severity_level":"high","description":"SQL injection"}},
			{"number":2,"rule":{"severity":"note","description":"unused variable"}}
		]`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	s := NewGitHubScanner(scanCredential("github"), srv.URL, srv.Client())
	result, err := s.Run(context.Background(), "code_security", Options{})
	require.NoError(t, err, "a disabled feature is not a scan failure")

	require.Len(t, result.Findings, 2)
	assert.Equal(t, "high", result.Findings[0].Severity)
	assert.Equal(t, "SQL injection", result.Findings[0].Title)
	assert.Equal(t, "acme/web", result.Findings[0].Resource)
	assert.Equal(t, 2, result.Summary.Total)
	assert.Equal(t, 1, result.Summary.BySeverity["high"])
	assert.Equal(t, 2, result.Summary.ByCategory["code_security"])
}

func TestGitHubScanner_HardFailureKeepsPartialFindings(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/user/repos", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"full_name":"acme/api"},{"full_name":"acme/web"}]`))
	})
	mux.HandleFunc("/repos/acme/api/secret-scanning/alerts", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"number":7,"secret_type_display_name":"AWS Access Key"}]`))
	})
	mux.HandleFunc("/repos/acme/web/secret-scanning/alerts", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"message":"token lacks security_events"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	s := NewGitHubScanner(scanCredential("github"), srv.URL, srv.Client())
	result, err := s.Run(context.Background(), "secret_scanning", Options{})

	var apiErr *domain.ProviderAPIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)

	require.NotNil(t, result)
	require.Len(t, result.Findings, 1, "findings gathered before the failure stay on the result")
	assert.Equal(t, "AWS Access Key", result.Findings[0].Title)
	assert.Equal(t, 1, result.Summary.Total)
}

func TestGitHubScanner_UnsupportedScanType(t *testing.T) {
	s := NewGitHubScanner(scanCredential("github"), "https://api.github.com", nil)
	_, err := s.Run(context.Background(), "crystal_ball", Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "crystal_ball")
}

func TestAzureScanner_FollowsNextLink(t *testing.T) {
	var srv *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/security/alerts_v2", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("$skiptoken") == "" {
			w.Write([]byte(`{
				"value":[{"id":"a1","severity":"high","title":"Impossible travel","category":"identity"}],
				"@odata.nextLink":"` + srv.URL + `/security/alerts_v2?$skiptoken=p2"
			}`))
			return
		}
		w.Write([]byte(`{"value":[{"id":"a2","severity":"low","title":"Stale sign-in","category":"identity"}]}`))
	})
	srv = httptest.NewServer(mux)
	defer srv.Close()

	s := NewAzureScanner(scanCredential("azure"), srv.URL, srv.Client())
	result, err := s.Run(context.Background(), "identity_security", Options{})
	require.NoError(t, err)
	require.Len(t, result.Findings, 2)
	assert.Equal(t, "a1", result.Findings[0].ID)
	assert.Equal(t, "a2", result.Findings[1].ID)
}

func TestAzureScanner_SecureScoreThresholds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"value":[
			{"id":"s1","currentScore":10,"maxScore":100},
			{"id":"s2","currentScore":40,"maxScore":100},
			{"id":"s3","currentScore":80,"maxScore":100},
			{"id":"s4","currentScore":5,"maxScore":0}
		]}`))
	}))
	defer srv.Close()

	s := NewAzureScanner(scanCredential("azure"), srv.URL, srv.Client())
	result, err := s.Run(context.Background(), "secure_score", Options{})
	require.NoError(t, err)

	require.Len(t, result.Findings, 2)
	assert.Equal(t, "high", result.Findings[0].Severity, "under a quarter of the maximum is high")
	assert.Equal(t, "medium", result.Findings[1].Severity)
}

func TestAWSScanner_IAMAuditFlagsUsersWithoutMFA(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("Marker") == "" {
			w.Write([]byte(`{
				"Users":[
					{"UserId":"u1","UserName":"alice","MfaEnabled":true},
					{"UserId":"u2","UserName":"bob","MfaEnabled":false}
				],
				"Marker":"m2"
			}`))
			return
		}
		w.Write([]byte(`{"Users":[{"UserId":"u3","UserName":"carol"}]}`))
	}))
	defer srv.Close()

	s := NewAWSScanner(scanCredential("aws"), srv.URL, srv.Client())
	result, err := s.Run(context.Background(), "iam_audit", Options{})
	require.NoError(t, err)

	require.Len(t, result.Findings, 2)
	assert.Equal(t, "u2", result.Findings[0].ID)
	assert.Equal(t, "u3", result.Findings[1].ID)
	assert.Equal(t, 2, result.Summary.BySeverity["high"])
}

func TestAWSScanner_SecurityAuditNotEnabled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	s := NewAWSScanner(scanCredential("aws"), srv.URL, srv.Client())
	result, err := s.Run(context.Background(), "security_audit", Options{})
	require.NoError(t, err)
	assert.Empty(t, result.Findings)
	assert.Zero(t, result.Summary.Total)
}

func TestGoogleScanner_SecurityFindings(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/organizations/-/sources/-/findings", r.URL.Path)
		w.Write([]byte(`{"findings":[
			{"name":"f1","category":"OPEN_FIREWALL","severity":"HIGH","resourceName":"//compute/fw-1"},
			{"name":"f2","category":"PUBLIC_BUCKET","resourceName":"//storage/b-1"}
		]}`))
	}))
	defer srv.Close()

	s := NewGoogleScanner(scanCredential("google"), srv.URL, srv.Client())
	result, err := s.Run(context.Background(), "security_findings", Options{})
	require.NoError(t, err)

	require.Len(t, result.Findings, 2)
	assert.Equal(t, "HIGH", result.Findings[0].Severity)
	assert.Equal(t, "unknown", result.Findings[1].Severity)
	assert.Equal(t, "OPEN_FIREWALL", result.Findings[0].Category)
}

func TestGoogleScanner_FindingsFilterParam(t *testing.T) {
	var gotFilter string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotFilter = r.URL.Query().Get("filter")
		w.Write([]byte(`{"findings":[]}`))
	}))
	defer srv.Close()

	s := NewGoogleScanner(scanCredential("google"), srv.URL, srv.Client())
	_, err := s.Run(context.Background(), "security_findings", Options{
		Params: map[string]string{"filter": `state="ACTIVE" AND severity="HIGH"`},
	})
	require.NoError(t, err)
	assert.Equal(t, `state="ACTIVE" AND severity="HIGH"`, gotFilter)
}

func TestFactory_UnknownProvider(t *testing.T) {
	f := NewFactory(nil)
	_, err := f.New("digitalocean", scanCredential("digitalocean"))
	assert.ErrorIs(t, err, domain.ErrUnknownProvider)
}

func TestFactory_BaseOverride(t *testing.T) {
	f := NewFactory(nil)
	f.OverrideBaseURL("github", "http://127.0.0.1:1")

	s, err := f.New("github", scanCredential("github"))
	require.NoError(t, err)
	gh, ok := s.(*GitHubScanner)
	require.True(t, ok)
	assert.Equal(t, "http://127.0.0.1:1", gh.api.base)
}
