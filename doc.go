// Package trustcore is the authentication and session-trust core of a
// multi-tenant SaaS administrative backend: sealed sessions, credential
// verification with account lockout, TOTP + backup-code two-factor,
// rotating remember-me tokens, audited admin impersonation, role-removal
// safeguards, and a circuit breaker guarding the email transport.
//
// The package is designed for concurrent server workloads: Engine methods
// are safe to call from multiple goroutines after initialization through
// [Builder.Build].
//
// # Architecture boundaries
//
// trustcore is the public surface. It exposes [Engine], [Builder],
// [Config], and value types (SessionData, DeviceRecord, AuditEvent,
// etc.). Relational persistence belongs to the caller and is reached
// only through [UserProvider] and [RoleProvider]; outbound email is
// reached only through [Mailer]. Redis holds the engine-owned
// operational state: remember-me tokens, one-shot tokens, login
// challenges, device records, and rate-limit counters.
//
// # What this package must NOT do
//
//   - Expose Redis clients, internal stores, or sealing details in its
//     public API.
//   - Perform I/O outside of Engine methods (construction via Builder is
//     allocation-only until Build).
//   - Own the relational schema, HTTP surface, or email provider
//     callbacks; those are external collaborators.
//
// # Trust model
//
// The session is a client-held record sealed with XChaCha20-Poly1305.
// GetSession never fails loudly: a missing, tampered, expired, or
// wrong-schema-version blob yields an anonymous session. Every state
// change funnels into the audit dispatcher; audit failures never abort
// the primary operation.
package trustcore
