// Package jwt issues and verifies the short-lived API bearer tokens
// the trustcore engine hands out alongside interactive sessions.
package jwt
