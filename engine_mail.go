package trustcore

import (
	"context"

	"github.com/relathq/trustcore/breaker"
)

// SendMail hands a message to the configured [Mailer] behind the email
// circuit breaker. When the breaker is open the call fast-fails with
// [ErrBreakerOpen] without touching the transport.
//
// SendMail may return an error when input validation, dependency calls, or security checks fail.
// SendMail does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) SendMail(ctx context.Context, msg Message) (string, error) {
	if e == nil {
		return "", ErrEngineNotReady
	}
	if e.mailer == nil {
		return "", ErrMailUnavailable
	}
	if msg.To == "" {
		return "", ErrValidation
	}

	if e.mailBreaker != nil && !e.mailBreaker.CanExecute() {
		e.metricInc(MetricMailBreakerOpen)
		e.emitAudit(ctx, auditCategorySecurity, auditEventMailBreakerOpen, false, "", "", ErrBreakerOpen, func() map[string]string {
			return map[string]string{"to": msg.To}
		})
		return "", ErrBreakerOpen
	}

	messageID, err := e.mailer.Send(ctx, msg)
	if err != nil {
		if e.mailBreaker != nil {
			e.mailBreaker.RecordFailure()
		}
		e.metricInc(MetricMailFailure)
		e.emitAudit(ctx, auditCategorySecurity, auditEventMailFailure, false, "", "", ErrMailUnavailable, func() map[string]string {
			return map[string]string{"to": msg.To}
		})
		return "", ErrMailUnavailable
	}

	if e.mailBreaker != nil {
		e.mailBreaker.RecordSuccess()
	}
	e.metricInc(MetricMailSent)
	e.emitAudit(ctx, auditCategorySecurity, auditEventMailSent, true, "", "", nil, func() map[string]string {
		return map[string]string{"to": msg.To, "provider_message_id": messageID}
	})

	return messageID, nil
}

// BreakerState exposes the email breaker's current state for health
// endpoints.
//
// BreakerState may return an error when input validation, dependency calls, or security checks fail.
// BreakerState does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) BreakerState() breaker.State {
	if e == nil || e.mailBreaker == nil {
		return breaker.Closed
	}
	return e.mailBreaker.State()
}

// BreakerSnapshot returns the breaker's counters alongside its state.
//
// BreakerSnapshot may return an error when input validation, dependency calls, or security checks fail.
// BreakerSnapshot does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) BreakerSnapshot() breaker.Snapshot {
	if e == nil || e.mailBreaker == nil {
		return breaker.Snapshot{}
	}
	return e.mailBreaker.SnapshotState()
}

// ResetBreaker forces the email breaker back to closed. Operator
// escape hatch; normal recovery goes through half-open probes.
//
// ResetBreaker may return an error when input validation, dependency calls, or security checks fail.
// ResetBreaker does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) ResetBreaker() {
	if e == nil || e.mailBreaker == nil {
		return
	}
	e.mailBreaker.Reset()
}
