// Package resilience provides a circuit breaker for calls that cross a
// network boundary.
package resilience

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrOpen rejects calls while the breaker is cooling down.
	ErrOpen = errors.New("circuit breaker is open")
	// ErrProbeLimit rejects calls beyond the half-open probe budget.
	ErrProbeLimit = errors.New("too many probe requests")
)

// State is the breaker position.
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Settings tunes the breaker. Zero values get sensible defaults.
type Settings struct {
	// FailureThreshold is the consecutive-failure count that trips the
	// breaker while closed.
	FailureThreshold uint32
	// Probes is how many trial calls half-open admits; that many
	// consecutive successes close the breaker again.
	Probes uint32
	// Cooldown is how long the breaker stays open before probing.
	Cooldown time.Duration
	// OnStateChange observes transitions.
	OnStateChange func(from, to State)
}

// Breaker tracks consecutive failures and fails fast while the far side
// is down.
type Breaker struct {
	settings Settings
	now      func() time.Time

	mu           sync.Mutex
	state        State
	failures     uint32
	probesInUse  uint32
	probesPassed uint32
	openedUntil  time.Time
}

// New creates a breaker.
func New(settings Settings) *Breaker {
	if settings.FailureThreshold == 0 {
		settings.FailureThreshold = 5
	}
	if settings.Probes == 0 {
		settings.Probes = 1
	}
	if settings.Cooldown == 0 {
		settings.Cooldown = 30 * time.Second
	}
	return &Breaker{settings: settings, now: time.Now}
}

// WithClock substitutes the time source, for tests.
func (b *Breaker) WithClock(now func() time.Time) *Breaker {
	b.now = now
	return b
}

// State reports the current position, advancing open to half-open when
// the cooldown has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tick()
}

// Do runs fn if the breaker admits it and records the outcome.
func (b *Breaker) Do(fn func() error) error {
	if err := b.admit(); err != nil {
		return err
	}
	err := fn()
	b.record(err == nil)
	return err
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.tick() {
	case StateOpen:
		return ErrOpen
	case StateHalfOpen:
		if b.probesInUse >= b.settings.Probes {
			return ErrProbeLimit
		}
		b.probesInUse++
	}
	return nil
}

func (b *Breaker) record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.tick() {
	case StateClosed:
		if success {
			b.failures = 0
			return
		}
		b.failures++
		if b.failures >= b.settings.FailureThreshold {
			b.transition(StateOpen)
		}
	case StateHalfOpen:
		if !success {
			b.transition(StateOpen)
			return
		}
		b.probesPassed++
		if b.probesPassed >= b.settings.Probes {
			b.transition(StateClosed)
		}
	}
}

// tick advances open to half-open once the cooldown expires. Callers hold mu.
func (b *Breaker) tick() State {
	if b.state == StateOpen && !b.openedUntil.After(b.now()) {
		b.transition(StateHalfOpen)
	}
	return b.state
}

func (b *Breaker) transition(to State) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to

	b.failures = 0
	b.probesInUse = 0
	b.probesPassed = 0
	if to == StateOpen {
		b.openedUntil = b.now().Add(b.settings.Cooldown)
	}

	if b.settings.OnStateChange != nil {
		b.settings.OnStateChange(from, to)
	}
}
