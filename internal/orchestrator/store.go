package orchestrator

import (
	"fmt"
	"sort"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"go.pilab.hu/cloudguard/domain"
)

// recordRetention bounds how long terminal scan records stay queryable in
// memory. The optional Mongo archive keeps them longer.
const recordRetention = 24 * time.Hour

// recordStore keeps scan records with bounded retention and enforces the
// running→terminal transition: a terminal record is never written again.
type recordStore struct {
	cache *ttlcache.Cache[string, *domain.ScanRecord]
}

func newRecordStore() *recordStore {
	cache := ttlcache.New(
		ttlcache.WithTTL[string, *domain.ScanRecord](recordRetention),
		ttlcache.WithDisableTouchOnHit[string, *domain.ScanRecord](),
	)
	go cache.Start()
	return &recordStore{cache: cache}
}

func (s *recordStore) put(rec *domain.ScanRecord) {
	s.cache.Set(rec.ScanID, rec.Clone(), recordRetention)
}

// finalize moves a running record to its terminal state. It refuses to touch
// a record that is already terminal.
func (s *recordStore) finalize(scanID string, mutate func(*domain.ScanRecord)) error {
	item := s.cache.Get(scanID)
	if item == nil || item.Value() == nil {
		return fmt.Errorf("scan %s not found", scanID)
	}
	rec := item.Value()
	if rec.Status.Terminal() {
		return fmt.Errorf("scan %s already %s", scanID, rec.Status)
	}
	next := rec.Clone()
	mutate(next)
	s.cache.Set(scanID, next, recordRetention)
	return nil
}

func (s *recordStore) get(scanID string) (*domain.ScanRecord, bool) {
	item := s.cache.Get(scanID)
	if item == nil || item.Value() == nil {
		return nil, false
	}
	return item.Value().Clone(), true
}

// list returns records matching the filter, newest first.
func (s *recordStore) list(filter func(*domain.ScanRecord) bool) []*domain.ScanRecord {
	var out []*domain.ScanRecord
	for _, item := range s.cache.Items() {
		rec := item.Value()
		if rec == nil || !filter(rec) {
			continue
		}
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

func (s *recordStore) stop() {
	s.cache.Stop()
}
