// Package session implements the sealed client-held session record and
// the persisted device records behind it.
//
// # Record format
//
// The session is a versioned binary record (schema version byte first)
// sealed with XChaCha20-Poly1305. A blob whose schema version differs
// from the current one is rejected as a whole after opening; it is never
// partially decoded. Tampering fails the AEAD open. Callers treat any
// failure as an anonymous session.
//
// # Architecture boundaries
//
// This package owns encoding, sealing, and device-record storage. Session
// policy (expiry, impersonation cutoff, audit) lives in the trustcore
// engine.
//
// # What this package must NOT do
//
//   - Import trustcore (no import cycles).
//   - Interpret session timing; it stores epoch milliseconds verbatim.
package session
