package watchlist

import (
	"sort"
	"strings"
	"sync"
)

// Manager owns the watch side of the refresh universe: per-owner watch sets
// whose union the scheduler refreshes alongside held positions. It is scoped
// to the service instance, not a process-wide singleton.
type Manager struct {
	mu     sync.RWMutex
	owners map[string]map[string]bool // owner -> set of symbols
}

func NewManager() *Manager {
	return &Manager{owners: make(map[string]map[string]bool)}
}

// Normalize canonicalizes a user-supplied symbol.
func Normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// Watch adds symbols to an owner's watch set and reports the ones that were
// not already present.
func (m *Manager) Watch(owner string, symbols ...string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	set, ok := m.owners[owner]
	if !ok {
		set = make(map[string]bool)
		m.owners[owner] = set
	}

	var added []string
	for _, s := range symbols {
		sym := Normalize(s)
		if sym == "" || set[sym] {
			continue
		}
		set[sym] = true
		added = append(added, sym)
	}
	return added
}

// Unwatch removes symbols from an owner's watch set and reports the ones
// actually removed.
func (m *Manager) Unwatch(owner string, symbols ...string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	set, ok := m.owners[owner]
	if !ok {
		return nil
	}

	var removed []string
	for _, s := range symbols {
		sym := Normalize(s)
		if set[sym] {
			delete(set, sym)
			removed = append(removed, sym)
		}
	}
	if len(set) == 0 {
		delete(m.owners, owner)
	}
	return removed
}

// UnwatchAll drops an owner's whole watch set.
func (m *Manager) UnwatchAll(owner string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.owners, owner)
}

// Watched returns one owner's watch set, sorted.
func (m *Manager) Watched(owner string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	set := m.owners[owner]
	out := make([]string, 0, len(set))
	for sym := range set {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// Universe returns the union of every owner's watch set, sorted.
func (m *Manager) Universe() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	union := make(map[string]bool)
	for _, set := range m.owners {
		for sym := range set {
			union[sym] = true
		}
	}
	out := make([]string, 0, len(union))
	for sym := range union {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}
