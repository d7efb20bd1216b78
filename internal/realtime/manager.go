package realtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/astraea-labs/astraea/internal/observability"
)

var ErrNotFound = errors.New("session not found")

// Factory builds a fully wired Session for a freshly minted id.
type Factory func(id string) *Session

type entry struct {
	session        *Session
	startedAt      time.Time
	lastActivityAt time.Time
}

// Manager tracks live sessions by id and expires the inactive ones. An
// expired or ended session is disconnected before it is dropped so its
// transport resources are released.
type Manager struct {
	mu                sync.RWMutex
	entries           map[string]*entry
	factory           Factory
	inactivityTimeout time.Duration
	metrics           *observability.Metrics
	onExpire          func(*Session)
}

func NewManager(factory Factory, inactivityTimeout time.Duration, metrics *observability.Metrics) *Manager {
	if inactivityTimeout <= 0 {
		inactivityTimeout = 10 * time.Minute
	}
	return &Manager{
		entries:           make(map[string]*entry),
		factory:           factory,
		inactivityTimeout: inactivityTimeout,
		metrics:           metrics,
	}
}

func (m *Manager) SetExpireHook(hook func(*Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = hook
}

func (m *Manager) Create() *Session {
	s := m.factory(uuid.NewString())
	now := time.Now().UTC()

	m.mu.Lock()
	m.entries[s.ID()] = &entry{session: s, startedAt: now, lastActivityAt: now}
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.ActiveSessions.Inc()
	}
	return s
}

func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	return e.session, nil
}

// Touch marks the session as recently used so the janitor leaves it alone.
func (m *Manager) Touch(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return ErrNotFound
	}
	e.lastActivityAt = time.Now().UTC()
	return nil
}

// End disconnects and removes the session.
func (m *Manager) End(id string) error {
	m.mu.Lock()
	e, ok := m.entries[id]
	if ok {
		delete(m.entries, id)
	}
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}

	e.session.Disconnect()
	if m.metrics != nil {
		m.metrics.ActiveSessions.Dec()
	}
	return nil
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// StartJanitor expires inactive sessions in the background until ctx ends.
func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.expireInactive()
			}
		}
	}()
}

func (m *Manager) expireInactive() {
	now := time.Now().UTC()
	var expired []*Session

	m.mu.Lock()
	for id, e := range m.entries {
		if now.Sub(e.lastActivityAt) < m.inactivityTimeout {
			continue
		}
		delete(m.entries, id)
		expired = append(expired, e.session)
	}
	hook := m.onExpire
	m.mu.Unlock()

	for _, s := range expired {
		s.Disconnect()
		if m.metrics != nil {
			m.metrics.ActiveSessions.Dec()
		}
		if hook != nil {
			hook(s)
		}
	}
}
