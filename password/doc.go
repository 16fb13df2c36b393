// Package password provides Argon2id hashing and constant-time
// verification for stored credentials.
//
// Hashes are serialized in PHC string format
// ($argon2id$v=..$m=..,t=..,p=..$salt$hash) so parameters travel with
// the hash and verification never depends on current configuration.
//
// # What this package must NOT do
//
//   - Log, persist, or retain plaintext passwords.
//   - Import trustcore or any sibling package.
package password
