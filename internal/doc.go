// Package internal holds cryptographic helper primitives shared by the
// trustcore engine: random identifier generation, one-shot token
// encoding, and remember-me cookie encoding.
//
// # What this package must NOT do
//
//   - Persist anything. Stores live with their owning flows.
//   - Be imported outside the trustcore module.
package internal
