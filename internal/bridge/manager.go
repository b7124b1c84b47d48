package bridge

import "sync"

// Manager holds every configured bridge and resolves webhook deliveries to
// the owning bridge by external id.
type Manager struct {
	mu         sync.RWMutex
	order      []string
	byName     map[string]*Bridge
	byExternal map[string]*Bridge
}

func NewManager() *Manager {
	return &Manager{
		byName:     make(map[string]*Bridge),
		byExternal: make(map[string]*Bridge),
	}
}

// Add registers a bridge. Names and external ids are expected to be unique;
// a duplicate name replaces the earlier entry.
func (m *Manager) Add(b *Bridge) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byName[b.Name()]; !ok {
		m.order = append(m.order, b.Name())
	}
	m.byName[b.Name()] = b
	m.byExternal[b.ExternalID()] = b
}

// Bridges returns all bridges in configuration order.
func (m *Manager) Bridges() []*Bridge {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Bridge, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.byName[name])
	}
	return out
}

// ByName returns the bridge with the given configured name, or nil.
func (m *Manager) ByName(name string) *Bridge {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.byName[name]
}

// ByExternalID returns the bridge owning the given correlation token, or nil.
func (m *Manager) ByExternalID(externalID string) *Bridge {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.byExternal[externalID]
}

// StopAll stops every bridge's reconciliation loop.
func (m *Manager) StopAll() {
	for _, b := range m.Bridges() {
		b.Stop()
	}
}
