package breaker

import (
	"sync"
	"time"
)

// State defines a public type used by trustcore APIs.
//
// State instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type State uint8

const (
	// Closed is an exported constant or variable used by the session-trust engine.
	Closed State = iota
	// Open is an exported constant or variable used by the session-trust engine.
	Open
	// HalfOpen is an exported constant or variable used by the session-trust engine.
	HalfOpen
)

// String describes the string operation and its observable behavior.
//
// String may return an error when input validation, dependency calls, or security checks fail.
// String does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (s State) String() string {
	switch s {
	case Closed:
		return "CLOSED"
	case Open:
		return "OPEN"
	case HalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Config holds breaker tuning parameters.
type Config struct {
	FailureThreshold    int
	SuccessThreshold    int
	ResetTimeout        time.Duration
	HalfOpenMaxRequests int
}

// Snapshot is a point-in-time copy of the breaker state, for operator
// and status views.
type Snapshot struct {
	State            State
	Failures         int
	Successes        int
	HalfOpenRequests int
	LastFailureTime  time.Time
	LastStateChange  time.Time
}

// Breaker is a fail-fast guard over a flaky dependency with automatic
// probe-based recovery. All methods are safe for concurrent use; the
// half-open probe counter is adjusted atomically relative to concurrent
// CanExecute/RecordSuccess/RecordFailure calls.
type Breaker struct {
	mu sync.Mutex

	config Config

	state            State
	failures         int
	successes        int
	halfOpenRequests int
	lastFailureTime  time.Time
	lastStateChange  time.Time

	now func() time.Time
}

// New creates a [Breaker] in the CLOSED state.
func New(cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 1
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = time.Minute
	}
	if cfg.HalfOpenMaxRequests <= 0 {
		cfg.HalfOpenMaxRequests = 1
	}

	return &Breaker{
		config:          cfg,
		state:           Closed,
		lastStateChange: time.Now(),
		now:             time.Now,
	}
}

// CanExecute reports whether the caller may attempt the guarded
// operation now. A true return in HALF_OPEN reserves one probe slot;
// the caller must balance it with RecordSuccess or RecordFailure.
func (b *Breaker) CanExecute() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return true
	case Open:
		if b.now().Sub(b.lastFailureTime) < b.config.ResetTimeout {
			return false
		}
		b.transition(HalfOpen)
		b.halfOpenRequests = 1
		return true
	case HalfOpen:
		if b.halfOpenRequests >= b.config.HalfOpenMaxRequests {
			return false
		}
		b.halfOpenRequests++
		return true
	default:
		return false
	}
}

// RecordSuccess describes the recordsuccess operation and its observable behavior.
//
// RecordSuccess may return an error when input validation, dependency calls, or security checks fail.
// RecordSuccess does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		b.failures = 0
	case HalfOpen:
		if b.halfOpenRequests > 0 {
			b.halfOpenRequests--
		}
		b.successes++
		if b.successes >= b.config.SuccessThreshold {
			b.transition(Closed)
		}
	case Open:
		// Late success from a call issued before the breaker opened;
		// ignored, recovery goes through HALF_OPEN probes.
	}
}

// RecordFailure describes the recordfailure operation and its observable behavior.
//
// RecordFailure may return an error when input validation, dependency calls, or security checks fail.
// RecordFailure does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailureTime = b.now()

	switch b.state {
	case Closed:
		b.failures++
		if b.failures >= b.config.FailureThreshold {
			b.transition(Open)
		}
	case HalfOpen:
		if b.halfOpenRequests > 0 {
			b.halfOpenRequests--
		}
		b.transition(Open)
	case Open:
	}
}

// Reset forces CLOSED with counters zeroed, for operator recovery.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.transition(Closed)
}

// State describes the state operation and its observable behavior.
//
// State may return an error when input validation, dependency calls, or security checks fail.
// State does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// SnapshotState describes the snapshotstate operation and its observable behavior.
//
// SnapshotState may return an error when input validation, dependency calls, or security checks fail.
// SnapshotState does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Breaker) SnapshotState() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	return Snapshot{
		State:            b.state,
		Failures:         b.failures,
		Successes:        b.successes,
		HalfOpenRequests: b.halfOpenRequests,
		LastFailureTime:  b.lastFailureTime,
		LastStateChange:  b.lastStateChange,
	}
}

// transition must be called with b.mu held.
func (b *Breaker) transition(next State) {
	b.state = next
	b.lastStateChange = b.now()
	b.failures = 0
	b.successes = 0
	if next != HalfOpen {
		b.halfOpenRequests = 0
	}
}
