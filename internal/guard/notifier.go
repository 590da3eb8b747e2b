package guard

import (
	"fmt"
	"sync"
	"time"

	"github.com/kimhsiao/ledgerdesk/backend/internal/logging"
)

// Event identifies a guard notice.
type Event string

const (
	EventRateLimited Event = "guard.rate_limited"
	EventCircuitOpen Event = "guard.circuit_open"
)

// Notice is a user-facing rate-limit notification.
type Notice struct {
	Guard string    `json:"guard"`
	Event Event     `json:"event"`
	State State     `json:"state"`
	At    time.Time `json:"at"`
}

// Notifier throttles notices so each integration point surfaces at most
// one notice per event within a window, however many calls fail.
type Notifier struct {
	mu     sync.Mutex
	window time.Duration
	last   map[string]time.Time
	sinks  map[int]func(Notice)
	nextID int
	now    func() time.Time
}

// NewNotifier creates a Notifier. A non-positive window defaults to 1 minute.
func NewNotifier(window time.Duration) *Notifier {
	if window <= 0 {
		window = time.Minute
	}
	return &Notifier{
		window: window,
		last:   make(map[string]time.Time),
		sinks:  make(map[int]func(Notice)),
		now:    time.Now,
	}
}

// Subscribe registers a sink and returns a function removing it.
func (n *Notifier) Subscribe(sink func(Notice)) (unsubscribe func()) {
	n.mu.Lock()
	id := n.nextID
	n.nextID++
	n.sinks[id] = sink
	n.mu.Unlock()

	return func() {
		n.mu.Lock()
		delete(n.sinks, id)
		n.mu.Unlock()
	}
}

// Notify delivers a notice unless one for the same guard and event was
// delivered within the window. It reports whether the notice was delivered.
func (n *Notifier) Notify(guard string, event Event, state State) bool {
	n.mu.Lock()
	now := n.now()
	key := guard + "|" + string(event)
	if at, ok := n.last[key]; ok && now.Sub(at) < n.window {
		n.mu.Unlock()
		return false
	}
	n.last[key] = now
	sinks := make([]func(Notice), 0, len(n.sinks))
	for _, s := range n.sinks {
		sinks = append(sinks, s)
	}
	n.mu.Unlock()

	notice := Notice{Guard: guard, Event: event, State: state, At: now}
	for _, s := range sinks {
		deliver(s, notice)
	}
	return true
}

func deliver(sink func(Notice), notice Notice) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error("Guard notice sink panicked", fmt.Errorf("%v", r),
				map[string]interface{}{"guard": notice.Guard})
		}
	}()
	sink(notice)
}
