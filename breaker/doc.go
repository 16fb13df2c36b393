// Package breaker implements the tri-state circuit breaker guarding the
// email transport.
//
// # State machine
//
// CLOSED -> OPEN after FailureThreshold consecutive failures.
// OPEN -> HALF_OPEN lazily once ResetTimeout has elapsed since the last
// failure; the transition happens on the next CanExecute call, there is
// no background timer. HALF_OPEN -> CLOSED after SuccessThreshold
// consecutive successes; HALF_OPEN -> OPEN immediately on any failure.
// CanExecute additionally caps concurrent half-open probes to
// HalfOpenMaxRequests; excess concurrent attempts are rejected without
// consuming a retry.
//
// # What this package must NOT do
//
//   - Hold any package-level state. Breakers are constructed explicitly
//     and owned by the engine; single-instance-per-process semantics come
//     from construction at process start, not from hidden globals.
//   - Call the guarded dependency. Callers bracket every guarded
//     operation with CanExecute and RecordSuccess/RecordFailure.
package breaker
