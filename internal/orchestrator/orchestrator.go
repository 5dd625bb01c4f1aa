// Package orchestrator runs provider security scans as independent
// asynchronous units of work and tracks their lifecycle. Scans for different
// providers, and repeated scans for the same provider, run concurrently;
// there is no global scan lock.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"go.pilab.hu/cloudguard/domain"
	"go.pilab.hu/cloudguard/internal/scanner"
)

// ConnectionSource resolves live credentials. The lifecycle manager
// implements it; the credential is resolved at dispatch time so a scan always
// uses the freshest generation.
type ConnectionSource interface {
	Get(providerID string) (*domain.Credential, bool)
	IsActive(providerID string) bool
}

// ScannerFactory builds the scanner for a provider bound to a credential.
type ScannerFactory interface {
	New(providerID string, cred *domain.Credential) (scanner.Scanner, error)
}

// Archive receives terminal scan records for long-term storage. Best-effort:
// archive failures are logged, never propagated into the record.
type Archive interface {
	ArchiveScan(ctx context.Context, rec *domain.ScanRecord) error
}

// Orchestrator instantiates the right scanner for a provider, runs scans
// asynchronously and exposes the query operations.
type Orchestrator struct {
	conns    ConnectionSource
	scanners ScannerFactory
	records  *recordStore
	archive  Archive

	scanTimeout time.Duration

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// Option configures the orchestrator.
type Option func(*Orchestrator)

// WithArchive wires a terminal-record archive sink.
func WithArchive(a Archive) Option {
	return func(o *Orchestrator) { o.archive = a }
}

// WithScanTimeout bounds one scan's total wall time.
func WithScanTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.scanTimeout = d }
}

func New(conns ConnectionSource, scanners ScannerFactory, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		conns:       conns,
		scanners:    scanners,
		records:     newRecordStore(),
		scanTimeout: 5 * time.Minute,
		cancels:     make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// RunScan starts a scan and returns its id synchronously. A missing or
// inactive connection fails fast here, before any record is created, so the
// caller never waits a scan cycle to learn the connection is gone.
func (o *Orchestrator) RunScan(providerID, scanType string, opts scanner.Options) (string, error) {
	if !o.conns.IsActive(providerID) {
		return "", fmt.Errorf("%w: %s", domain.ErrNoActiveConnection, providerID)
	}

	scanID := fmt.Sprintf("%s-%s-%s", providerID, scanType, uuid.NewString()[:8])
	rec := &domain.ScanRecord{
		ScanID:     scanID,
		ProviderID: providerID,
		ScanType:   scanType,
		Status:     domain.ScanStatusRunning,
		StartedAt:  time.Now(),
	}
	o.records.put(rec)

	ctx, cancel := context.WithTimeout(context.Background(), o.scanTimeout)
	o.mu.Lock()
	o.cancels[scanID] = cancel
	o.mu.Unlock()

	o.wg.Add(1)
	go o.execute(ctx, scanID, providerID, scanType, opts)

	log.Info().Str("scan_id", scanID).Str("provider", providerID).Str("scan_type", scanType).Msg("scan started")
	return scanID, nil
}

func (o *Orchestrator) execute(ctx context.Context, scanID, providerID, scanType string, opts scanner.Options) {
	defer o.wg.Done()
	defer func() {
		o.mu.Lock()
		if cancel, ok := o.cancels[scanID]; ok {
			cancel()
			delete(o.cancels, scanID)
		}
		o.mu.Unlock()
	}()

	// Resolve at dispatch: a refresh between RunScan and here means the
	// scan uses the newer token, never a stale snapshot.
	cred, ok := o.conns.Get(providerID)
	if !ok || !cred.Active(time.Now()) {
		o.fail(scanID, nil, fmt.Errorf("%w: %s", domain.ErrNoActiveConnection, providerID))
		return
	}

	sc, err := o.scanners.New(providerID, cred)
	if err != nil {
		o.fail(scanID, nil, err)
		return
	}

	result, err := sc.Run(ctx, scanType, opts)
	if err != nil {
		// Failed with the first hard error; partial findings stay on the
		// record for diagnostics.
		o.fail(scanID, result, err)
		return
	}
	o.complete(scanID, result)
}

func (o *Orchestrator) complete(scanID string, result *domain.ScanResult) {
	now := time.Now()
	err := o.records.finalize(scanID, func(rec *domain.ScanRecord) {
		rec.Status = domain.ScanStatusCompleted
		rec.EndedAt = &now
		rec.Result = result
	})
	if err != nil {
		log.Error().Err(err).Str("scan_id", scanID).Msg("failed to finalize scan record")
		return
	}
	log.Info().Str("scan_id", scanID).Int("findings", result.Summary.Total).Msg("scan completed")
	o.archiveRecord(scanID)
}

func (o *Orchestrator) fail(scanID string, partial *domain.ScanResult, cause error) {
	now := time.Now()
	err := o.records.finalize(scanID, func(rec *domain.ScanRecord) {
		rec.Status = domain.ScanStatusFailed
		rec.EndedAt = &now
		rec.Error = cause.Error()
		rec.Result = partial
	})
	if err != nil {
		log.Error().Err(err).Str("scan_id", scanID).Msg("failed to finalize scan record")
		return
	}
	log.Warn().Err(cause).Str("scan_id", scanID).Msg("scan failed")
	o.archiveRecord(scanID)
}

func (o *Orchestrator) archiveRecord(scanID string) {
	if o.archive == nil {
		return
	}
	rec, ok := o.records.get(scanID)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := o.archive.ArchiveScan(ctx, rec); err != nil {
		log.Warn().Err(err).Str("scan_id", scanID).Msg("failed to archive scan record")
	}
}

// GetStatus returns the record for a scan id, if retained.
func (o *Orchestrator) GetStatus(scanID string) (*domain.ScanRecord, bool) {
	return o.records.get(scanID)
}

// ListActive returns the running scans, optionally filtered by provider id
// (empty means all providers).
func (o *Orchestrator) ListActive(providerID string) []*domain.ScanRecord {
	return o.records.list(func(rec *domain.ScanRecord) bool {
		if rec.Status != domain.ScanStatusRunning {
			return false
		}
		return providerID == "" || rec.ProviderID == providerID
	})
}

// Cancel aborts an in-flight scan. The scan finalizes as failed with the
// context error. Returns false when the scan is unknown or already terminal.
func (o *Orchestrator) Cancel(scanID string) bool {
	o.mu.Lock()
	cancel, ok := o.cancels[scanID]
	o.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Shutdown waits for in-flight scans to finalize, bounded by ctx, and stops
// the record store.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	defer o.records.stop()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
