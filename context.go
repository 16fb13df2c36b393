package trustcore

import "context"

type clientIPContextKey struct{}
type userAgentContextKey struct{}
type organizationIDContextKey struct{}

// WithClientIP attaches the caller’s IP address to ctx. The Engine uses
// it for per-IP rate limiting, audit logging, and remember-me device
// records.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

// WithUserAgent attaches the HTTP User-Agent string to ctx. Used by the
// remember-me device records and audit events.
func WithUserAgent(ctx context.Context, userAgent string) context.Context {
	return context.WithValue(ctx, userAgentContextKey{}, userAgent)
}

// WithOrganizationID attaches the organization in context for
// organization-scoped role checks and audit events.
func WithOrganizationID(ctx context.Context, organizationID string) context.Context {
	return context.WithValue(ctx, organizationIDContextKey{}, organizationID)
}

func clientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	ip, _ := ctx.Value(clientIPContextKey{}).(string)
	return ip
}

func userAgentFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	userAgent, _ := ctx.Value(userAgentContextKey{}).(string)
	return userAgent
}

func organizationIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	organizationID, _ := ctx.Value(organizationIDContextKey{}).(string)
	return organizationID
}
