// Package circuit provides a consecutive-failure circuit breaker for
// primary/fallback pairs. Callers record the outcome of every primary
// attempt; the breaker answers whether to keep trusting the primary or
// divert to the fallback.
package circuit

import "sync"

// State is the breaker position.
type State int

const (
	// StateClosed means the primary is healthy and should be used.
	StateClosed State = iota
	// StateOpen means the primary crossed the failure threshold and the
	// fallback should serve until enough successes close the breaker.
	StateOpen
)

// Change reports a state transition caused by a recorded outcome. Both
// fields are false when the outcome left the breaker where it was.
type Change struct {
	Opened bool
	Closed bool
}

// Breaker counts consecutive failures and successes. A failure resets the
// success streak and vice versa, so flapping dependencies neither open nor
// close the breaker prematurely.
type Breaker struct {
	mu               sync.Mutex
	name             string
	state            State
	failureCount     int
	successCount     int
	failureThreshold int
	successThreshold int
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithFailureThreshold sets how many consecutive failures open the breaker.
func WithFailureThreshold(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.failureThreshold = n
		}
	}
}

// WithSuccessThreshold sets how many consecutive successes close an open
// breaker.
func WithSuccessThreshold(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.successThreshold = n
		}
	}
}

// New constructs a closed breaker. The name identifies the guarded
// dependency in logs.
func New(name string, opts ...Option) *Breaker {
	b := &Breaker{
		name:             name,
		state:            StateClosed,
		failureThreshold: 5,
		successThreshold: 3,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name returns the dependency name the breaker guards.
func (b *Breaker) Name() string {
	return b.name
}

// State returns the current position.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// IsOpen reports whether the fallback should serve.
func (b *Breaker) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == StateOpen
}

// RecordFailure notes a failed primary attempt. It returns whether the
// caller should use the fallback now, and the transition if this failure
// opened the breaker.
func (b *Breaker) RecordFailure() (bool, Change) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount++
	b.successCount = 0
	if b.state == StateOpen {
		return true, Change{}
	}
	if b.failureCount >= b.failureThreshold {
		b.state = StateOpen
		return true, Change{Opened: true}
	}
	return false, Change{}
}

// RecordSuccess notes a successful primary attempt. It returns whether the
// caller should use the primary now, and the transition if this success
// closed the breaker.
func (b *Breaker) RecordSuccess() (bool, Change) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateClosed {
		b.failureCount = 0
		return true, Change{}
	}
	b.successCount++
	if b.successCount >= b.successThreshold {
		b.state = StateClosed
		b.failureCount = 0
		b.successCount = 0
		return true, Change{Closed: true}
	}
	return false, Change{}
}

// Reset forces the breaker closed and clears both streaks.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failureCount = 0
	b.successCount = 0
}
