package lifecycle

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"go.pilab.hu/cloudguard/domain"
)

// RefreshMargin is how far ahead of expiry a refresh is scheduled.
const RefreshMargin = 5 * time.Minute

// Refresher obtains a fresh credential from a refresh token.
// providers.Flow satisfies it.
type Refresher interface {
	Refresh(ctx context.Context, cred *domain.Credential) (*domain.Credential, error)
}

// RefresherResolver looks up the Refresher for a provider id.
type RefresherResolver func(providerID string) (Refresher, error)

// Manager owns the table of active provider connections. It serializes all
// credential state for a provider through its own store, schedules refresh
// ahead of expiry and emits lifecycle events.
type Manager struct {
	mu     sync.Mutex
	creds  map[string]*domain.Credential
	timers map[string]Timer
	// gens guards against a stale timer firing after the credential it was
	// armed for has been replaced or removed.
	gens map[string]uint64

	clock          Clock
	resolve        RefresherResolver
	listeners      []Listener
	listenersMu    sync.RWMutex
	refreshTimeout time.Duration
}

// NewManager creates a lifecycle manager. resolve may be nil for setups that
// never refresh (all flows without refresh tokens).
func NewManager(clock Clock, resolve RefresherResolver) *Manager {
	if clock == nil {
		clock = NewClock()
	}
	return &Manager{
		creds:          make(map[string]*domain.Credential),
		timers:         make(map[string]Timer),
		gens:           make(map[string]uint64),
		clock:          clock,
		resolve:        resolve,
		refreshTimeout: 30 * time.Second,
	}
}

// Subscribe registers a lifecycle event listener.
func (m *Manager) Subscribe(l Listener) {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()
	m.listeners = append(m.listeners, l)
}

func (m *Manager) emit(name, providerID, reason string) {
	e := Event{Name: name, ProviderID: providerID, Reason: reason, At: m.clock.Now()}
	m.listenersMu.RLock()
	listeners := make([]Listener, len(m.listeners))
	copy(listeners, m.listeners)
	m.listenersMu.RUnlock()
	for _, l := range listeners {
		l.HandleConnectionEvent(e)
	}
}

// Store replaces any existing credential for the provider (last write wins).
// The previous refresh timer is cancelled before the new one is armed, in the
// same critical section as the replacement.
func (m *Manager) Store(_ context.Context, cred *domain.Credential) error {
	if cred == nil || cred.ProviderID == "" {
		return fmt.Errorf("credential without provider id")
	}
	providerID := cred.ProviderID

	m.mu.Lock()
	m.cancelTimerLocked(providerID)
	m.creds[providerID] = cred.Clone()
	m.gens[providerID]++
	gen := m.gens[providerID]
	m.armRefreshLocked(providerID, cred, gen)
	m.mu.Unlock()

	m.emit(EventConnected, providerID, "")
	return nil
}

// armRefreshLocked schedules the next refresh. No refresh token means no
// refresh is possible and nothing is armed. Must be called with mu held.
func (m *Manager) armRefreshLocked(providerID string, cred *domain.Credential, gen uint64) {
	if cred.RefreshToken == "" || m.resolve == nil {
		return
	}
	delay := cred.ExpiresAt.Sub(m.clock.Now()) - RefreshMargin
	if delay < 0 {
		// Already near expiry: refresh immediately.
		delay = 0
	}
	m.timers[providerID] = m.clock.AfterFunc(delay, func() {
		m.refreshGeneration(providerID, gen)
	})
	log.Debug().Str("provider", providerID).Dur("delay", delay).Msg("refresh scheduled")
}

func (m *Manager) cancelTimerLocked(providerID string) {
	if t, ok := m.timers[providerID]; ok {
		t.Stop()
		delete(m.timers, providerID)
	}
}

// refreshGeneration is the timer callback. It re-checks the generation so a
// timer armed for a replaced credential becomes a no-op.
func (m *Manager) refreshGeneration(providerID string, gen uint64) {
	m.mu.Lock()
	current := m.gens[providerID]
	m.mu.Unlock()
	if current != gen {
		return
	}
	if err := m.Refresh(context.Background(), providerID); err != nil {
		log.Warn().Err(err).Str("provider", providerID).Msg("scheduled refresh failed")
	}
}

// Refresh exchanges the stored refresh token for a new access token. On
// success the credential is replaced in place and the timer re-armed. On
// failure the credential is removed and a ConnectionExpired event is emitted;
// there is no retry for that credential generation.
func (m *Manager) Refresh(ctx context.Context, providerID string) error {
	m.mu.Lock()
	cred, ok := m.creds[providerID]
	gen := m.gens[providerID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrNoActiveConnection, providerID)
	}

	if m.resolve == nil {
		return fmt.Errorf("no refresher configured for %s", providerID)
	}
	refresher, err := m.resolve(providerID)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, m.refreshTimeout)
	defer cancel()

	next, err := refresher.Refresh(ctx, cred.Clone())
	if err != nil {
		m.expireGeneration(providerID, gen, err)
		return &domain.TokenRefreshError{ProviderID: providerID, Err: err}
	}

	m.mu.Lock()
	if m.gens[providerID] != gen {
		// A newer credential landed while the refresh was in flight.
		m.mu.Unlock()
		return nil
	}
	m.cancelTimerLocked(providerID)
	m.creds[providerID] = next.Clone()
	m.gens[providerID]++
	m.armRefreshLocked(providerID, next, m.gens[providerID])
	m.mu.Unlock()

	m.emit(EventRefreshed, providerID, "")
	log.Info().Str("provider", providerID).Time("expires_at", next.ExpiresAt).Msg("credential refreshed")
	return nil
}

// expireGeneration drops the credential after a terminal refresh failure,
// unless a newer generation already replaced it.
func (m *Manager) expireGeneration(providerID string, gen uint64, cause error) {
	m.mu.Lock()
	if m.gens[providerID] != gen {
		m.mu.Unlock()
		return
	}
	m.cancelTimerLocked(providerID)
	delete(m.creds, providerID)
	m.gens[providerID]++
	m.mu.Unlock()

	log.Warn().Err(cause).Str("provider", providerID).Msg("connection expired after refresh failure")
	m.emit(EventConnectionExpired, providerID, cause.Error())
}

// Get returns a copy of the stored credential for the provider, if any.
func (m *Manager) Get(providerID string) (*domain.Credential, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cred, ok := m.creds[providerID]
	if !ok {
		return nil, false
	}
	return cred.Clone(), true
}

// IsActive reports whether a credential exists for the provider and its
// expiry is strictly in the future.
func (m *Manager) IsActive(providerID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	cred, ok := m.creds[providerID]
	return ok && cred.Active(m.clock.Now())
}

// ListConnections returns copies of all stored credentials, ordered by
// provider id.
func (m *Manager) ListConnections() []*domain.Credential {
	m.mu.Lock()
	creds := make([]*domain.Credential, 0, len(m.creds))
	for _, c := range m.creds {
		creds = append(creds, c.Clone())
	}
	m.mu.Unlock()

	sort.Slice(creds, func(i, j int) bool { return creds[i].ProviderID < creds[j].ProviderID })
	return creds
}

// Disconnect cancels the refresh timer, removes the credential and emits a
// Disconnected event. The timer is cancelled before the credential is removed
// so a refresh cannot race against the teardown.
func (m *Manager) Disconnect(providerID string) bool {
	m.mu.Lock()
	m.cancelTimerLocked(providerID)
	_, existed := m.creds[providerID]
	delete(m.creds, providerID)
	if existed {
		m.gens[providerID]++
	}
	m.mu.Unlock()

	if existed {
		log.Info().Str("provider", providerID).Msg("provider disconnected")
		m.emit(EventDisconnected, providerID, "")
	}
	return existed
}

// Close cancels all refresh timers.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id := range m.timers {
		m.cancelTimerLocked(id)
	}
}
