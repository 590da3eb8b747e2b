// Package connectivity tracks whether the remote service is reachable and
// notifies subscribers when that changes.
package connectivity

import (
	"fmt"
	"sync"

	"github.com/kimhsiao/ledgerdesk/backend/internal/logging"
)

// Monitor holds the current online flag. Listeners run only on transitions.
type Monitor struct {
	mu        sync.RWMutex
	online    bool
	nextID    int
	listeners map[int]func(online bool)
}

// NewMonitor creates a Monitor with the given initial state.
func NewMonitor(online bool) *Monitor {
	return &Monitor{
		online:    online,
		listeners: make(map[int]func(bool)),
	}
}

// Online returns the current state.
func (m *Monitor) Online() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// SetOnline records a platform connectivity signal. Subscribers are called
// synchronously, outside the lock, only when the state changes.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	listeners := make([]func(bool), 0, len(m.listeners))
	for _, fn := range m.listeners {
		listeners = append(listeners, fn)
	}
	m.mu.Unlock()

	logging.Info("Connectivity changed", map[string]interface{}{
		"was_online": !online,
		"is_online":  online,
	})

	for _, fn := range listeners {
		notify(fn, online)
	}
}

// Subscribe registers fn for transitions and returns a function removing it.
func (m *Monitor) Subscribe(fn func(online bool)) (unsubscribe func()) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.listeners, id)
			m.mu.Unlock()
		})
	}
}

// notify isolates a misbehaving listener from the others.
func notify(fn func(bool), online bool) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error("Connectivity listener panicked", fmt.Errorf("%v", r))
		}
	}()
	fn(online)
}
