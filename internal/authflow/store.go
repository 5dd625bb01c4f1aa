package authflow

import (
	"context"

	"github.com/jellydator/ttlcache/v3"

	"go.pilab.hu/cloudguard/domain"
)

// SessionStore persists pending PKCE sessions between InitiateFlow and the
// provider callback. Consume is single-use: the second call for the same
// state must fail regardless of what happened to the first exchange.
type SessionStore interface {
	Save(ctx context.Context, session *domain.PkceSession) error
	Consume(ctx context.Context, state string) (*domain.PkceSession, error)
}

// MemorySessionStore keeps sessions in a TTL cache. Expired sessions are
// swept by the cache's background goroutine; Consume removes live ones
// atomically so replays fail.
type MemorySessionStore struct {
	cache *ttlcache.Cache[string, *domain.PkceSession]
}

func NewMemorySessionStore() *MemorySessionStore {
	cache := ttlcache.New(
		ttlcache.WithTTL[string, *domain.PkceSession](domain.PkceSessionTTL),
		ttlcache.WithDisableTouchOnHit[string, *domain.PkceSession](),
	)
	go cache.Start()

	return &MemorySessionStore{cache: cache}
}

func (s *MemorySessionStore) Save(_ context.Context, session *domain.PkceSession) error {
	s.cache.Set(session.State, session, domain.PkceSessionTTL)
	return nil
}

func (s *MemorySessionStore) Consume(_ context.Context, state string) (*domain.PkceSession, error) {
	item, ok := s.cache.GetAndDelete(state)
	if !ok || item.Value() == nil {
		return nil, domain.ErrInvalidOrExpiredState
	}
	return item.Value(), nil
}

// Stop shuts down the cache's cleanup goroutine.
func (s *MemorySessionStore) Stop() {
	s.cache.Stop()
}

var _ SessionStore = (*MemorySessionStore)(nil)
