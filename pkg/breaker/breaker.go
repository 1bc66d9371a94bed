// Package breaker implements a named circuit breaker registry used to gate
// calls into the attendance write path and its collaborators. State is
// per-process and in-memory; it resets on restart and carries no
// cross-instance consistency guarantee.
package breaker

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State identifies the breaker position.
type State string

const (
	StateClosed   State = "CLOSED"
	StateOpen     State = "OPEN"
	StateHalfOpen State = "HALF_OPEN"
)

// Config tunes an individual breaker.
type Config struct {
	FailureThreshold int
	RecoveryTimeout  time.Duration
	HalfOpenMaxCalls int
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 3
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = 15 * time.Second
	}
	if c.HalfOpenMaxCalls <= 0 {
		c.HalfOpenMaxCalls = 2
	}
	return c
}

// OpenError is returned when a call is rejected without invoking the wrapped
// operation. NextAttempt tells the caller when a retry may be worthwhile.
type OpenError struct {
	Name        string
	NextAttempt time.Time
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit %q open, next attempt at %s", e.Name, e.NextAttempt.Format(time.RFC3339))
}

// Stats is a point-in-time snapshot of one breaker.
type Stats struct {
	Name                string     `json:"name"`
	State               State      `json:"state"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	TotalRequests       uint64     `json:"total_requests"`
	TotalFailures       uint64     `json:"total_failures"`
	HalfOpenCalls       int        `json:"half_open_calls"`
	LastFailureAt       *time.Time `json:"last_failure_at,omitempty"`
	NextAttemptAt       *time.Time `json:"next_attempt_at,omitempty"`
}

// Breaker guards a single named operation.
type Breaker struct {
	name  string
	cfg   Config
	clock func() time.Time

	mu                  sync.Mutex
	state               State
	consecutiveFailures int
	totalRequests       uint64
	totalFailures       uint64
	halfOpenCalls       int
	lastFailure         time.Time
	nextAttempt         time.Time
}

func newBreaker(name string, cfg Config, clock func() time.Time) *Breaker {
	return &Breaker{name: name, cfg: cfg.withDefaults(), clock: clock, state: StateClosed}
}

// Execute runs fn under the breaker's admission rules. A rejected call
// returns *OpenError and never invokes fn.
func (b *Breaker) Execute(fn func() error) error {
	if err := b.beforeCall(); err != nil {
		return err
	}

	err := fn()
	b.afterCall(err)
	return err
}

func (b *Breaker) beforeCall() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock()
	b.totalRequests++

	switch b.state {
	case StateOpen:
		if now.Before(b.nextAttempt) {
			return &OpenError{Name: b.name, NextAttempt: b.nextAttempt}
		}
		// Recovery window elapsed: this call becomes the first half-open trial.
		b.state = StateHalfOpen
		b.halfOpenCalls = 1
	case StateHalfOpen:
		if b.halfOpenCalls >= b.cfg.HalfOpenMaxCalls {
			// The trial quota is in flight; the outcome is imminent, so
			// advertise "retry now" rather than the stale trip-time hint.
			return &OpenError{Name: b.name, NextAttempt: now}
		}
		b.halfOpenCalls++
	}

	return nil
}

func (b *Breaker) afterCall(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock()
	if err != nil {
		b.totalFailures++
		b.lastFailure = now

		switch b.state {
		case StateHalfOpen:
			b.trip(now)
		case StateClosed:
			b.consecutiveFailures++
			if b.consecutiveFailures >= b.cfg.FailureThreshold {
				b.trip(now)
			}
		}
		return
	}

	switch b.state {
	case StateHalfOpen:
		if b.halfOpenCalls >= b.cfg.HalfOpenMaxCalls {
			b.close()
		}
	case StateClosed:
		b.consecutiveFailures = 0
	}
}

// trip moves the breaker to OPEN. Caller holds the lock.
func (b *Breaker) trip(now time.Time) {
	b.state = StateOpen
	b.nextAttempt = now.Add(b.cfg.RecoveryTimeout)
	b.halfOpenCalls = 0
}

// close restores CLOSED with counters reset. Caller holds the lock.
func (b *Breaker) close() {
	b.state = StateClosed
	b.consecutiveFailures = 0
	b.halfOpenCalls = 0
	b.nextAttempt = time.Time{}
}

// Snapshot returns the current stats.
func (b *Breaker) Snapshot() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	stats := Stats{
		Name:                b.name,
		State:               b.state,
		ConsecutiveFailures: b.consecutiveFailures,
		TotalRequests:       b.totalRequests,
		TotalFailures:       b.totalFailures,
		HalfOpenCalls:       b.halfOpenCalls,
	}
	if !b.lastFailure.IsZero() {
		t := b.lastFailure
		stats.LastFailureAt = &t
	}
	if !b.nextAttempt.IsZero() {
		t := b.nextAttempt
		stats.NextAttemptAt = &t
	}
	return stats
}

func (b *Breaker) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.close()
	b.totalRequests = 0
	b.totalFailures = 0
	b.lastFailure = time.Time{}
}

func (b *Breaker) forceOpen() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trip(b.clock())
}

// Registry maps operation names to lazily-created breakers. It is an
// explicit, constructed object so tests can run an isolated instance.
type Registry struct {
	defaults Config
	clock    func() time.Time
	logger   *zap.Logger

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// Option customises registry construction.
type Option func(*Registry)

// WithClock substitutes the time source, primarily for tests.
func WithClock(clock func() time.Time) Option {
	return func(r *Registry) { r.clock = clock }
}

// NewRegistry constructs a registry applying cfg to breakers created without
// explicit overrides.
func NewRegistry(defaults Config, logger *zap.Logger, opts ...Option) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		defaults: defaults.withDefaults(),
		clock:    time.Now,
		logger:   logger,
		breakers: make(map[string]*Breaker),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Get returns the named breaker, creating it on first use. An optional
// config applies only at creation time.
func (r *Registry) Get(name string, cfg ...Config) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[name]; ok {
		return b
	}
	conf := r.defaults
	if len(cfg) > 0 {
		conf = cfg[0].withDefaults()
	}
	b := newBreaker(name, conf, r.clock)
	r.breakers[name] = b
	return b
}

// Execute runs fn through the named breaker.
func (r *Registry) Execute(name string, fn func() error) error {
	b := r.Get(name)
	err := b.Execute(fn)
	if err != nil {
		if _, rejected := err.(*OpenError); rejected {
			r.logger.Warn("circuit rejected call", zap.String("breaker", name))
		}
	}
	return err
}

// Stats snapshots every registered breaker keyed by name.
func (r *Registry) Stats() map[string]Stats {
	r.mu.Lock()
	names := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		names = append(names, b)
	}
	r.mu.Unlock()

	out := make(map[string]Stats, len(names))
	for _, b := range names {
		s := b.Snapshot()
		out[s.Name] = s
	}
	return out
}

// Reset restores the named breaker to CLOSED with zero counters. Returns
// false when the breaker does not exist.
func (r *Registry) Reset(name string) bool {
	r.mu.Lock()
	b, ok := r.breakers[name]
	r.mu.Unlock()
	if !ok {
		return false
	}
	b.reset()
	r.logger.Info("circuit reset", zap.String("breaker", name))
	return true
}

// ResetAll resets every breaker in the registry.
func (r *Registry) ResetAll() {
	r.mu.Lock()
	all := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		all = append(all, b)
	}
	r.mu.Unlock()

	for _, b := range all {
		b.reset()
	}
	r.logger.Info("all circuits reset", zap.Int("count", len(all)))
}

// ForceOpen trips the named breaker immediately. Returns false when the
// breaker does not exist.
func (r *Registry) ForceOpen(name string) bool {
	r.mu.Lock()
	b, ok := r.breakers[name]
	r.mu.Unlock()
	if !ok {
		return false
	}
	b.forceOpen()
	r.logger.Warn("circuit forced open", zap.String("breaker", name))
	return true
}
