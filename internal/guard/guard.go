// Package guard gates calls to a remote integration point with a minimum
// interval, exponential backoff on rate limiting, and a circuit breaker.
package guard

import (
	"context"
	"sync"
	"time"

	"github.com/kimhsiao/ledgerdesk/backend/internal/errors"
	"github.com/kimhsiao/ledgerdesk/backend/internal/logging"
)

// Config holds guard configuration for one integration point.
type Config struct {
	MinInterval      time.Duration `yaml:"min_interval"`      // default: 5 seconds
	BackoffSeed      time.Duration `yaml:"backoff_seed"`      // default: 10 seconds
	BackoffCap       time.Duration `yaml:"backoff_cap"`       // default: 60 seconds
	FailureThreshold int           `yaml:"failure_threshold"` // default: 5
	OpenDuration     time.Duration `yaml:"open_duration"`     // default: 5 minutes
}

// DefaultConfig returns default guard configuration.
func DefaultConfig() Config {
	return Config{
		MinInterval:      5 * time.Second,
		BackoffSeed:      10 * time.Second,
		BackoffCap:       60 * time.Second,
		FailureThreshold: 5,
		OpenDuration:     5 * time.Minute,
	}
}

// RequestConfig returns the configuration for integration points driven by
// user writes and queue replays: calls are not spaced, backoff and the
// breaker behave as in DefaultConfig. A min interval suits polled endpoints
// and is set per integration point.
func RequestConfig() Config {
	c := DefaultConfig()
	c.MinInterval = 0
	return c
}

// withDefaults fills zero fields from DefaultConfig. A zero MinInterval is
// kept: it means no spacing between calls.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.BackoffSeed <= 0 {
		c.BackoffSeed = d.BackoffSeed
	}
	if c.BackoffCap < c.BackoffSeed {
		c.BackoffCap = c.BackoffSeed
		if d.BackoffCap > c.BackoffCap {
			c.BackoffCap = d.BackoffCap
		}
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.OpenDuration <= 0 {
		c.OpenDuration = d.OpenDuration
	}
	if c.MinInterval < 0 {
		c.MinInterval = 0
	}
	return c
}

// State is a snapshot of a guard.
type State struct {
	Name                string        `json:"name"`
	LastCall            time.Time     `json:"last_call"`
	Backoff             time.Duration `json:"backoff"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	CircuitOpen         bool          `json:"circuit_open"`
	ResetDeadline       time.Time     `json:"reset_deadline,omitempty"`
}

// Guard is a two-state (CLOSED/OPEN) breaker. There is no half-open probe:
// OPEN returns to CLOSED when the reset deadline passes.
type Guard struct {
	name     string
	config   Config
	mu       sync.Mutex
	state    State
	timer    *time.Timer
	now      func() time.Time
	notifier *Notifier
}

// Option configures a Guard.
type Option func(*Guard)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(g *Guard) { g.now = now }
}

// WithNotifier reports rate limiting and circuit transitions to n.
func WithNotifier(n *Notifier) Option {
	return func(g *Guard) { g.notifier = n }
}

// New creates a CLOSED guard for the named integration point.
func New(name string, config Config, opts ...Option) *Guard {
	g := &Guard{
		name:   name,
		config: config.withDefaults(),
		now:    time.Now,
	}
	g.state.Name = name
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Name returns the integration point name.
func (g *Guard) Name() string {
	return g.name
}

// Allow reports whether a call may be made now. A permitted call stamps
// LastCall with the attempt time. Refusals never mutate state, except that
// an expired OPEN circuit is closed first.
func (g *Guard) Allow() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if g.state.CircuitOpen {
		if now.Before(g.state.ResetDeadline) {
			return false
		}
		g.closeLocked()
	}

	wait := g.config.MinInterval
	if g.state.Backoff > wait {
		wait = g.state.Backoff
	}
	if !g.state.LastCall.IsZero() && now.Sub(g.state.LastCall) < wait {
		return false
	}

	g.state.LastCall = now
	return true
}

// RecordRateLimited registers a rate-limit signal: the backoff grows and
// the circuit opens once the failure threshold is reached.
func (g *Guard) RecordRateLimited() {
	g.mu.Lock()

	g.state.ConsecutiveFailures++
	if g.state.Backoff == 0 {
		g.state.Backoff = g.config.BackoffSeed
	} else {
		g.state.Backoff *= 2
		if g.state.Backoff > g.config.BackoffCap {
			g.state.Backoff = g.config.BackoffCap
		}
	}

	opened := false
	if !g.state.CircuitOpen && g.state.ConsecutiveFailures >= g.config.FailureThreshold {
		g.openLocked()
		opened = true
	}
	state := g.state
	g.mu.Unlock()

	logging.Warn("Rate limited", map[string]interface{}{
		"guard":                g.name,
		"consecutive_failures": state.ConsecutiveFailures,
		"backoff_ms":           state.Backoff.Milliseconds(),
	})

	if g.notifier != nil {
		if opened {
			g.notifier.Notify(g.name, EventCircuitOpen, state)
		} else {
			g.notifier.Notify(g.name, EventRateLimited, state)
		}
	}
}

// RecordSuccess forgives all prior failures.
func (g *Guard) RecordSuccess() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.state.ConsecutiveFailures = 0
	g.state.Backoff = 0
}

// Do runs fn if the guard allows it. A refusal is a silent skip and returns
// (false, nil). Rate-limit errors from fn feed the breaker; a nil error
// resets it. Other errors leave the state untouched.
func (g *Guard) Do(ctx context.Context, fn func(context.Context) error) (ran bool, err error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if !g.Allow() {
		logging.Debug("Call skipped by guard", map[string]interface{}{"guard": g.name})
		return false, nil
	}

	err = fn(ctx)
	switch {
	case err == nil:
		g.RecordSuccess()
	case errors.IsRateLimited(err):
		g.RecordRateLimited()
	}
	return true, err
}

// State returns a snapshot of the guard. An OPEN circuit past its deadline
// is reported as such until the next Allow or timer tick closes it.
func (g *Guard) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// IsOpen reports whether the circuit is currently short-circuiting calls.
func (g *Guard) IsOpen() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state.CircuitOpen && g.now().Before(g.state.ResetDeadline)
}

// Close cancels the pending reset timer.
func (g *Guard) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
}

// openLocked trips the breaker. Caller must hold mu.
func (g *Guard) openLocked() {
	g.state.CircuitOpen = true
	g.state.ResetDeadline = g.now().Add(g.config.OpenDuration)
	if g.timer != nil {
		g.timer.Stop()
	}
	var t *time.Timer
	t = time.AfterFunc(g.config.OpenDuration, func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		if g.timer != t {
			return
		}
		g.closeLocked()
	})
	g.timer = t

	logging.Warn("Circuit opened", map[string]interface{}{
		"guard":          g.name,
		"reset_deadline": g.state.ResetDeadline.Format(time.RFC3339),
	})
}

// closeLocked returns the breaker to CLOSED. Caller must hold mu.
func (g *Guard) closeLocked() {
	if !g.state.CircuitOpen {
		return
	}
	g.state.CircuitOpen = false
	g.state.ResetDeadline = time.Time{}
	g.state.ConsecutiveFailures = 0
	g.state.Backoff = 0
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
	logging.Info("Circuit closed", map[string]interface{}{"guard": g.name})
}
