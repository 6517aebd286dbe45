// Package sessionmanager implements the Session Manager (C7): a concurrent
// named-session registry with fork/drop/list semantics, per spec.md §4.7.
// Backed by github.com/wk8/go-ordered-map/v2 so List returns sessions in
// creation order — the teacher's own model registry is a plain map with no
// order, but this module's CLI /list command needs deterministic ordering a
// plain map can't give, so the pack's ordered-map library is used instead of
// hand-rolling one (SPEC_FULL.md §4.7).
package sessionmanager

import (
	"fmt"
	"sync"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/kilnrun/kiln/session"
)

// Manager is spec.md §4.7's concurrent map from opaque string IDs to
// Sessions. A reader lock protects the map; individual sessions are used by
// one caller at a time, by convention of callers holding the returned
// pointer exclusively once fetched.
type Manager struct {
	mu       sync.RWMutex
	sessions *orderedmap.OrderedMap[string, *session.Session]
	nextID   int
	newFn    func() *session.Session
}

// New returns an empty Manager. newFn constructs a fresh Session for
// Create/ForkOrCreate when no base session is given.
func New(newFn func() *session.Session) *Manager {
	return &Manager{
		sessions: orderedmap.New[string, *session.Session](),
		newFn:    newFn,
	}
}

func (m *Manager) allocID() string {
	m.nextID++
	return fmt.Sprintf("s%d", m.nextID)
}

// Create allocates a new, empty session under a fresh id.
func (m *Manager) Create() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.allocID()
	m.sessions.Set(id, m.newFn())
	return id
}

// Get returns the session registered under id, if any.
func (m *Manager) Get(id string) (*session.Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions.Get(id)
}

// Fork clones the session registered under id into a new, independently
// registered session, per spec.md §4.7.
func (m *Manager) Fork(id string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	base, ok := m.sessions.Get(id)
	if !ok {
		return "", fmt.Errorf("sessionmanager: no session %q", id)
	}
	newID := m.allocID()
	m.sessions.Set(newID, base.Fork())
	return newID, nil
}

// Drop removes and discards the session registered under id. A missing id
// is a no-op.
func (m *Manager) Drop(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions.Delete(id)
}

// ForkOrCreate is spec.md §4.7's idempotent creation: if id already exists,
// it is returned unchanged; otherwise a new session is registered under id,
// cloned from baseID if given and present, or freshly created otherwise.
func (m *Manager) ForkOrCreate(id string, baseID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions.Get(id); ok {
		return
	}
	if baseID != "" {
		if base, ok := m.sessions.Get(baseID); ok {
			m.sessions.Set(id, base.Fork())
			return
		}
	}
	m.sessions.Set(id, m.newFn())
}

// List returns every registered id in creation order.
func (m *Manager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, m.sessions.Len())
	for pair := m.sessions.Oldest(); pair != nil; pair = pair.Next() {
		ids = append(ids, pair.Key)
	}
	return ids
}
