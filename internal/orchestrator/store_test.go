package orchestrator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.pilab.hu/cloudguard/domain"
)

func runningRecord(scanID string, startedAt time.Time) *domain.ScanRecord {
	return &domain.ScanRecord{
		ScanID:     scanID,
		ProviderID: "github",
		ScanType:   "code_security",
		Status:     domain.ScanStatusRunning,
		StartedAt:  startedAt,
	}
}

func TestRecordStore_TerminalRecordsAreImmutable(t *testing.T) {
	s := newRecordStore()
	defer s.stop()

	s.put(runningRecord("scan-1", time.Now()))

	require.NoError(t, s.finalize("scan-1", func(rec *domain.ScanRecord) {
		rec.Status = domain.ScanStatusCompleted
	}))

	err := s.finalize("scan-1", func(rec *domain.ScanRecord) {
		rec.Status = domain.ScanStatusFailed
	})
	require.Error(t, err)

	rec, ok := s.get("scan-1")
	require.True(t, ok)
	assert.Equal(t, domain.ScanStatusCompleted, rec.Status)
}

func TestRecordStore_FinalizeUnknownScan(t *testing.T) {
	s := newRecordStore()
	defer s.stop()

	assert.Error(t, s.finalize("missing", func(*domain.ScanRecord) {}))
}

func TestRecordStore_GetReturnsCopies(t *testing.T) {
	s := newRecordStore()
	defer s.stop()

	s.put(runningRecord("scan-1", time.Now()))

	rec, ok := s.get("scan-1")
	require.True(t, ok)
	rec.Status = domain.ScanStatusFailed

	again, ok := s.get("scan-1")
	require.True(t, ok)
	assert.Equal(t, domain.ScanStatusRunning, again.Status, "mutating a returned record must not touch the store")
}

func TestRecordStore_ListNewestFirst(t *testing.T) {
	s := newRecordStore()
	defer s.stop()

	base := time.Now()
	s.put(runningRecord("scan-old", base.Add(-time.Hour)))
	s.put(runningRecord("scan-new", base))

	records := s.list(func(*domain.ScanRecord) bool { return true })
	require.Len(t, records, 2)
	assert.Equal(t, "scan-new", records[0].ScanID)
	assert.Equal(t, "scan-old", records[1].ScanID)
}
