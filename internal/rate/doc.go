// Package rate provides internal primitives used to build Redis-backed rate limit keys,
// errors, and limiter behavior for security-sensitive authentication workflows.
//
// # Window semantics
//
// Fixed-window counters: INCR + conditional EXPIRE on first hit. Key prefixes:
//   - tl:  — login per-email
//   - tli: — login per-IP
//   - tu:  — unlock requests per-email
//   - tf:  — two-factor verification per-user
//
// # What this package must NOT do
//
//   - Implement account lockout (that is durable state owned by the caller).
//   - Be imported outside the trustcore module.
package rate
