package trustcore

import (
	"sync/atomic"
)

// MetricID defines a public type used by trustcore APIs.
//
// MetricID instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type MetricID uint16

const (
	// MetricLoginSuccess is an exported constant or variable used by the session-trust engine.
	MetricLoginSuccess MetricID = iota
	// MetricLoginFailure is an exported constant or variable used by the session-trust engine.
	MetricLoginFailure
	// MetricLoginRateLimited is an exported constant or variable used by the session-trust engine.
	MetricLoginRateLimited
	// MetricAccountLocked is an exported constant or variable used by the session-trust engine.
	MetricAccountLocked
	// MetricUnlockRequested is an exported constant or variable used by the session-trust engine.
	MetricUnlockRequested
	// MetricUnlockSuccess is an exported constant or variable used by the session-trust engine.
	MetricUnlockSuccess
	// MetricUnlockFailure is an exported constant or variable used by the session-trust engine.
	MetricUnlockFailure
	// MetricSessionCreated is an exported constant or variable used by the session-trust engine.
	MetricSessionCreated
	// MetricSessionExtended is an exported constant or variable used by the session-trust engine.
	MetricSessionExtended
	// MetricSessionDestroyed is an exported constant or variable used by the session-trust engine.
	MetricSessionDestroyed
	// MetricSessionRejected is an exported constant or variable used by the session-trust engine.
	MetricSessionRejected
	// MetricChallengeIssued is an exported constant or variable used by the session-trust engine.
	MetricChallengeIssued
	// MetricChallengeSuccess is an exported constant or variable used by the session-trust engine.
	MetricChallengeSuccess
	// MetricChallengeFailure is an exported constant or variable used by the session-trust engine.
	MetricChallengeFailure
	// MetricTOTPSuccess is an exported constant or variable used by the session-trust engine.
	MetricTOTPSuccess
	// MetricTOTPFailure is an exported constant or variable used by the session-trust engine.
	MetricTOTPFailure
	// MetricTOTPEnabled is an exported constant or variable used by the session-trust engine.
	MetricTOTPEnabled
	// MetricTOTPDisabled is an exported constant or variable used by the session-trust engine.
	MetricTOTPDisabled
	// MetricBackupCodeUsed is an exported constant or variable used by the session-trust engine.
	MetricBackupCodeUsed
	// MetricBackupCodeFailed is an exported constant or variable used by the session-trust engine.
	MetricBackupCodeFailed
	// MetricBackupCodeRegenerated is an exported constant or variable used by the session-trust engine.
	MetricBackupCodeRegenerated
	// MetricRememberIssued is an exported constant or variable used by the session-trust engine.
	MetricRememberIssued
	// MetricRememberRedeemed is an exported constant or variable used by the session-trust engine.
	MetricRememberRedeemed
	// MetricRememberRotated is an exported constant or variable used by the session-trust engine.
	MetricRememberRotated
	// MetricRememberTheftDetected is an exported constant or variable used by the session-trust engine.
	MetricRememberTheftDetected
	// MetricImpersonationStarted is an exported constant or variable used by the session-trust engine.
	MetricImpersonationStarted
	// MetricImpersonationEnded is an exported constant or variable used by the session-trust engine.
	MetricImpersonationEnded
	// MetricImpersonationExpired is an exported constant or variable used by the session-trust engine.
	MetricImpersonationExpired
	// MetricImpersonationBlocked is an exported constant or variable used by the session-trust engine.
	MetricImpersonationBlocked
	// MetricRoleRemovalBlocked is an exported constant or variable used by the session-trust engine.
	MetricRoleRemovalBlocked
	// MetricMailSent is an exported constant or variable used by the session-trust engine.
	MetricMailSent
	// MetricMailFailure is an exported constant or variable used by the session-trust engine.
	MetricMailFailure
	// MetricMailBreakerOpen is an exported constant or variable used by the session-trust engine.
	MetricMailBreakerOpen
	// MetricRateLimitHit is an exported constant or variable used by the session-trust engine.
	MetricRateLimitHit
	metricIDCount
)

const cacheLineSize = 64

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics defines a public type used by trustcore APIs.
//
// Metrics instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Metrics struct {
	enabled  bool
	counters [metricIDCount]paddedCounter
}

// MetricsSnapshot defines a public type used by trustcore APIs.
//
// MetricsSnapshot instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type MetricsSnapshot struct {
	Counters map[MetricID]uint64
}

// NewMetrics describes the newmetrics operation and its observable behavior.
//
// NewMetrics may return an error when input validation, dependency calls, or security checks fail.
// NewMetrics does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{enabled: cfg.Enabled}
}

// Enabled describes the enabled operation and its observable behavior.
//
// Enabled may return an error when input validation, dependency calls, or security checks fail.
// Enabled does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

// Inc describes the inc operation and its observable behavior.
//
// Inc may return an error when input validation, dependency calls, or security checks fail.
// Inc does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Value describes the value operation and its observable behavior.
//
// Value may return an error when input validation, dependency calls, or security checks fail.
// Value does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot describes the snapshot operation and its observable behavior.
//
// Snapshot may return an error when input validation, dependency calls, or security checks fail.
// Snapshot does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{Counters: map[MetricID]uint64{}}
	}

	s := MetricsSnapshot{
		Counters: make(map[MetricID]uint64, int(metricIDCount)),
	}
	for id := MetricID(0); id < metricIDCount; id++ {
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}
	return s
}

// AllMetricIDs returns every counter id in declaration order, for
// exporters that register one instrument per counter.
func AllMetricIDs() []MetricID {
	ids := make([]MetricID, 0, int(metricIDCount))
	for id := MetricID(0); id < metricIDCount; id++ {
		ids = append(ids, id)
	}
	return ids
}

// MetricName maps a [MetricID] to a stable external name for exporters.
func MetricName(id MetricID) string {
	switch id {
	case MetricLoginSuccess:
		return "trustcore.login.success"
	case MetricLoginFailure:
		return "trustcore.login.failure"
	case MetricLoginRateLimited:
		return "trustcore.login.rate_limited"
	case MetricAccountLocked:
		return "trustcore.account.locked"
	case MetricUnlockRequested:
		return "trustcore.unlock.requested"
	case MetricUnlockSuccess:
		return "trustcore.unlock.success"
	case MetricUnlockFailure:
		return "trustcore.unlock.failure"
	case MetricSessionCreated:
		return "trustcore.session.created"
	case MetricSessionExtended:
		return "trustcore.session.extended"
	case MetricSessionDestroyed:
		return "trustcore.session.destroyed"
	case MetricSessionRejected:
		return "trustcore.session.rejected"
	case MetricChallengeIssued:
		return "trustcore.challenge.issued"
	case MetricChallengeSuccess:
		return "trustcore.challenge.success"
	case MetricChallengeFailure:
		return "trustcore.challenge.failure"
	case MetricTOTPSuccess:
		return "trustcore.totp.success"
	case MetricTOTPFailure:
		return "trustcore.totp.failure"
	case MetricTOTPEnabled:
		return "trustcore.totp.enabled"
	case MetricTOTPDisabled:
		return "trustcore.totp.disabled"
	case MetricBackupCodeUsed:
		return "trustcore.backup_code.used"
	case MetricBackupCodeFailed:
		return "trustcore.backup_code.failed"
	case MetricBackupCodeRegenerated:
		return "trustcore.backup_code.regenerated"
	case MetricRememberIssued:
		return "trustcore.remember.issued"
	case MetricRememberRedeemed:
		return "trustcore.remember.redeemed"
	case MetricRememberRotated:
		return "trustcore.remember.rotated"
	case MetricRememberTheftDetected:
		return "trustcore.remember.theft_detected"
	case MetricImpersonationStarted:
		return "trustcore.impersonation.started"
	case MetricImpersonationEnded:
		return "trustcore.impersonation.ended"
	case MetricImpersonationExpired:
		return "trustcore.impersonation.expired"
	case MetricImpersonationBlocked:
		return "trustcore.impersonation.blocked"
	case MetricRoleRemovalBlocked:
		return "trustcore.role.removal_blocked"
	case MetricMailSent:
		return "trustcore.mail.sent"
	case MetricMailFailure:
		return "trustcore.mail.failure"
	case MetricMailBreakerOpen:
		return "trustcore.mail.breaker_open"
	case MetricRateLimitHit:
		return "trustcore.rate_limit.hit"
	default:
		return "trustcore.unknown"
	}
}
