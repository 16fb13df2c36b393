package trustcore

import (
	"github.com/relathq/trustcore/breaker"
	"github.com/relathq/trustcore/internal/rate"
	"github.com/relathq/trustcore/jwt"
	"github.com/relathq/trustcore/password"
	"github.com/relathq/trustcore/rbac"
	"github.com/relathq/trustcore/session"
)

// Engine defines a public type used by trustcore APIs.
//
// Engine instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Engine struct {
	config         Config
	sealer         *session.Sealer
	deviceStore    *session.Store
	rateLimiter    *rate.Limiter
	tokenStore     *oneShotTokenStore
	rememberStore  *rememberStore
	challengeStore *loginChallengeStore
	audit          *auditDispatcher
	metrics        *Metrics
	passwordHash   *password.Hasher
	jwtManager     *jwt.Manager
	mailBreaker    *breaker.Breaker
	hierarchy      *rbac.Hierarchy
	userProvider   UserProvider
	roleProvider   RoleProvider
	mailer         Mailer
}

// Close describes the close operation and its observable behavior.
//
// Close may return an error when input validation, dependency calls, or security checks fail.
// Close does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped describes the auditdropped operation and its observable behavior.
//
// AuditDropped may return an error when input validation, dependency calls, or security checks fail.
// AuditDropped does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot describes the metricssnapshot operation and its observable behavior.
//
// MetricsSnapshot may return an error when input validation, dependency calls, or security checks fail.
// MetricsSnapshot does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{Counters: map[MetricID]uint64{}}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}
