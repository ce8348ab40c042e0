// Package breaker guards flaky evidence sources with a per-source circuit
// breaker so a dead or blocking site is not hammered on every request.
package breaker

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// State of one source's circuit.
type State int

const (
	Closed   State = iota // normal operation, calls pass through
	Open                  // calls rejected until the cool-down elapses
	HalfOpen              // one probe call allowed to test recovery
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

const (
	// DefaultThreshold consecutive failures open the circuit.
	DefaultThreshold = 3
	// EscalateAt failures extend the cool-down, for sources that keep
	// failing through repeated probes.
	EscalateAt = 5

	defaultCooldown  = time.Hour
	extendedCooldown = 24 * time.Hour
)

type circuit struct {
	state       State
	failures    int
	lastFailure time.Time
	openUntil   time.Time
	probing     bool
}

// Registry holds one circuit per source id. It is a process-wide service
// shared by all concurrent requests; construct it once and inject it.
type Registry struct {
	mu        sync.Mutex
	circuits  map[string]*circuit
	threshold int
	cooldown  time.Duration
	extended  time.Duration
	now       func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithThreshold sets the failure count that trips a circuit open.
func WithThreshold(n int) Option {
	return func(r *Registry) { r.threshold = n }
}

// WithCooldowns sets the standard and escalated cool-down windows.
func WithCooldowns(standard, extended time.Duration) Option {
	return func(r *Registry) { r.cooldown = standard; r.extended = extended }
}

// WithClock sets a custom clock function (for testing).
func WithClock(fn func() time.Time) Option {
	return func(r *Registry) { r.now = fn }
}

// NewRegistry creates a registry with the default thresholds: 3 failures
// open a source for 1h, 5 or more escalate the cool-down to 24h.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		circuits:  make(map[string]*circuit),
		threshold: DefaultThreshold,
		cooldown:  defaultCooldown,
		extended:  extendedCooldown,
		now:       time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Registry) get(sourceID string) *circuit {
	c, ok := r.circuits[sourceID]
	if !ok {
		c = &circuit{state: Closed}
		r.circuits[sourceID] = c
	}
	return c
}

// Allow reports whether a call to sourceID may proceed. An open circuit
// whose cool-down has elapsed transitions to half-open as a side effect,
// and exactly one caller is granted the probe.
func (r *Registry) Allow(sourceID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.get(sourceID)
	switch c.state {
	case Closed:
		return true
	case Open:
		if r.now().Before(c.openUntil) {
			return false
		}
		c.state = HalfOpen
		c.probing = true
		log.Debug().Str("source", sourceID).Msg("circuit half-open, probing")
		return true
	case HalfOpen:
		if c.probing {
			return false
		}
		c.probing = true
		return true
	}
	return false
}

// RecordSuccess resets sourceID's circuit to closed.
func (r *Registry) RecordSuccess(sourceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.get(sourceID)
	if c.state != Closed {
		log.Info().Str("source", sourceID).Msg("circuit closed after success")
	}
	c.state = Closed
	c.failures = 0
	c.probing = false
}

// RecordFailure counts a failed call against sourceID, opening the circuit
// once the threshold is reached. Failures at or past the escalation count
// use the extended cool-down.
func (r *Registry) RecordFailure(sourceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.get(sourceID)
	c.failures++
	c.lastFailure = r.now()
	c.probing = false
	if c.failures < r.threshold {
		return
	}
	cooldown := r.cooldown
	if c.failures >= EscalateAt {
		cooldown = r.extended
	}
	c.state = Open
	c.openUntil = r.now().Add(cooldown)
	log.Warn().
		Str("source", sourceID).
		Int("failures", c.failures).
		Dur("cooldown", cooldown).
		Msg("circuit opened")
}

// Current returns sourceID's state without side effects.
func (r *Registry) Current(sourceID string) State {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.circuits[sourceID]; ok {
		return c.state
	}
	return Closed
}
