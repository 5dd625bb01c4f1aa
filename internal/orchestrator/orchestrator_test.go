package orchestrator_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.pilab.hu/cloudguard/domain"
	"go.pilab.hu/cloudguard/internal/orchestrator"
	"go.pilab.hu/cloudguard/internal/scanner"
)

type fakeConns struct {
	mu    sync.Mutex
	creds map[string]*domain.Credential
}

func newFakeConns(providerIDs ...string) *fakeConns {
	c := &fakeConns{creds: make(map[string]*domain.Credential)}
	for _, id := range providerIDs {
		c.creds[id] = &domain.Credential{
			ProviderID:  id,
			AccessToken: "at-" + id,
			ExpiresAt:   time.Now().Add(time.Hour),
		}
	}
	return c
}

func (c *fakeConns) Get(providerID string) (*domain.Credential, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cred, ok := c.creds[providerID]
	if !ok {
		return nil, false
	}
	return cred.Clone(), true
}

func (c *fakeConns) IsActive(providerID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	cred, ok := c.creds[providerID]
	return ok && cred.Active(time.Now())
}

type fakeScanner struct {
	providerID string
	result     *domain.ScanResult
	err        error
	// block, when set, holds Run until the channel closes or ctx ends.
	block chan struct{}
}

func (s *fakeScanner) ProviderID() string  { return s.providerID }
func (s *fakeScanner) ScanTypes() []string { return []string{"security_audit"} }

func (s *fakeScanner) Run(ctx context.Context, _ string, _ scanner.Options) (*domain.ScanResult, error) {
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.result, s.err
}

type fakeFactory struct {
	mu       sync.Mutex
	scanners map[string]*fakeScanner
}

func (f *fakeFactory) New(providerID string, _ *domain.Credential) (scanner.Scanner, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.scanners[providerID]
	if !ok {
		return nil, domain.ErrUnknownProvider
	}
	return s, nil
}

type memoryArchive struct {
	mu      sync.Mutex
	records []*domain.ScanRecord
}

func (a *memoryArchive) ArchiveScan(_ context.Context, rec *domain.ScanRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, rec.Clone())
	return nil
}

func (a *memoryArchive) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.records)
}

func resultWithFindings(n int) *domain.ScanResult {
	r := &domain.ScanResult{}
	for i := 0; i < n; i++ {
		r.Findings = append(r.Findings, domain.Finding{ID: "f", Severity: "high", Category: "test"})
	}
	r.Summarize()
	return r
}

func waitTerminal(t *testing.T, o *orchestrator.Orchestrator, scanID string) *domain.ScanRecord {
	t.Helper()
	var rec *domain.ScanRecord
	require.Eventually(t, func() bool {
		r, ok := o.GetStatus(scanID)
		if !ok || !r.Status.Terminal() {
			return false
		}
		rec = r
		return true
	}, 2*time.Second, 10*time.Millisecond)
	return rec
}

func TestRunScan_FailsFastWithoutConnection(t *testing.T) {
	o := orchestrator.New(newFakeConns(), &fakeFactory{})
	defer o.Shutdown(context.Background())

	scanID, err := o.RunScan("github", "code_security", scanner.Options{})
	require.ErrorIs(t, err, domain.ErrNoActiveConnection)
	assert.Empty(t, scanID)
	assert.Empty(t, o.ListActive(""), "a rejected scan leaves no record behind")
}

func TestRunScan_CompletesAndArchives(t *testing.T) {
	archive := &memoryArchive{}
	factory := &fakeFactory{scanners: map[string]*fakeScanner{
		"github": {providerID: "github", result: resultWithFindings(2)},
	}}
	o := orchestrator.New(newFakeConns("github"), factory, orchestrator.WithArchive(archive))
	defer o.Shutdown(context.Background())

	scanID, err := o.RunScan("github", "code_security", scanner.Options{})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(scanID, "github-code_security-"))

	rec := waitTerminal(t, o, scanID)
	assert.Equal(t, domain.ScanStatusCompleted, rec.Status)
	require.NotNil(t, rec.EndedAt)
	require.NotNil(t, rec.Result)
	assert.Equal(t, 2, rec.Result.Summary.Total)
	assert.Empty(t, rec.Error)
	assert.Equal(t, 1, archive.count())
}

func TestRunScan_FailureKeepsPartialResult(t *testing.T) {
	cause := &domain.ProviderAPIError{ProviderID: "github", StatusCode: 403, Body: "forbidden"}
	factory := &fakeFactory{scanners: map[string]*fakeScanner{
		"github": {providerID: "github", result: resultWithFindings(1), err: cause},
	}}
	o := orchestrator.New(newFakeConns("github"), factory)
	defer o.Shutdown(context.Background())

	scanID, err := o.RunScan("github", "secret_scanning", scanner.Options{})
	require.NoError(t, err, "dispatch succeeds; the failure surfaces on the record")

	rec := waitTerminal(t, o, scanID)
	assert.Equal(t, domain.ScanStatusFailed, rec.Status)
	assert.Contains(t, rec.Error, "403")
	require.NotNil(t, rec.Result, "partial findings stay on the record")
	assert.Equal(t, 1, rec.Result.Summary.Total)
}

func TestRunScan_ProvidersRunIndependently(t *testing.T) {
	release := make(chan struct{})
	factory := &fakeFactory{scanners: map[string]*fakeScanner{
		"github": {providerID: "github", result: resultWithFindings(1), block: release},
		"google": {providerID: "google", err: errors.New("api unreachable")},
	}}
	o := orchestrator.New(newFakeConns("github", "google"), factory)
	defer o.Shutdown(context.Background())

	githubID, err := o.RunScan("github", "code_security", scanner.Options{})
	require.NoError(t, err)
	googleID, err := o.RunScan("google", "security_findings", scanner.Options{})
	require.NoError(t, err)

	// The google failure lands while github is still running.
	rec := waitTerminal(t, o, googleID)
	assert.Equal(t, domain.ScanStatusFailed, rec.Status)

	running := o.ListActive("")
	require.Len(t, running, 1)
	assert.Equal(t, githubID, running[0].ScanID)
	assert.Len(t, o.ListActive("github"), 1)
	assert.Empty(t, o.ListActive("google"))

	close(release)
	rec = waitTerminal(t, o, githubID)
	assert.Equal(t, domain.ScanStatusCompleted, rec.Status)
}

func TestCancel(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	factory := &fakeFactory{scanners: map[string]*fakeScanner{
		"azure": {providerID: "azure", block: block},
	}}
	o := orchestrator.New(newFakeConns("azure"), factory)
	defer o.Shutdown(context.Background())

	scanID, err := o.RunScan("azure", "identity_security", scanner.Options{})
	require.NoError(t, err)

	assert.True(t, o.Cancel(scanID))

	rec := waitTerminal(t, o, scanID)
	assert.Equal(t, domain.ScanStatusFailed, rec.Status)
	assert.Contains(t, rec.Error, "context canceled")

	assert.False(t, o.Cancel(scanID), "a terminal scan is not cancellable")
	assert.False(t, o.Cancel("no-such-scan"))
}

func TestScanTimeout(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	factory := &fakeFactory{scanners: map[string]*fakeScanner{
		"aws": {providerID: "aws", block: block},
	}}
	o := orchestrator.New(newFakeConns("aws"), factory, orchestrator.WithScanTimeout(50*time.Millisecond))
	defer o.Shutdown(context.Background())

	scanID, err := o.RunScan("aws", "security_audit", scanner.Options{})
	require.NoError(t, err)

	rec := waitTerminal(t, o, scanID)
	assert.Equal(t, domain.ScanStatusFailed, rec.Status)
	assert.Contains(t, rec.Error, "deadline")
}

func TestShutdown_WaitsForInFlightScans(t *testing.T) {
	release := make(chan struct{})
	factory := &fakeFactory{scanners: map[string]*fakeScanner{
		"github": {providerID: "github", result: resultWithFindings(0), block: release},
	}}
	o := orchestrator.New(newFakeConns("github"), factory)

	scanID, err := o.RunScan("github", "code_security", scanner.Options{})
	require.NoError(t, err)

	go func() {
		time.Sleep(50 * time.Millisecond)
		close(release)
	}()
	require.NoError(t, o.Shutdown(context.Background()))

	rec, ok := o.GetStatus(scanID)
	require.True(t, ok)
	assert.Equal(t, domain.ScanStatusCompleted, rec.Status)
}
