package session

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

// ErrSealInvalid is an exported constant or variable used by the session-trust engine.
var ErrSealInvalid = errors.New("session blob invalid")

// Sealer authenticates and encrypts session records with
// XChaCha20-Poly1305. A fresh random nonce is prepended to every sealed
// blob; output is base64url without padding, safe for cookies.
type Sealer struct {
	key []byte
}

// NewSealer describes the newsealer operation and its observable behavior.
//
// NewSealer may return an error when input validation, dependency calls, or security checks fail.
// NewSealer does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func NewSealer(key []byte) (*Sealer, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, errors.New("seal key must be 32 bytes")
	}

	out := &Sealer{key: make([]byte, len(key))}
	copy(out.key, key)
	return out, nil
}

// Seal describes the seal operation and its observable behavior.
//
// Seal may return an error when input validation, dependency calls, or security checks fail.
// Seal does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (s *Sealer) Seal(d *Data) (string, error) {
	plaintext, err := Encode(d)
	if err != nil {
		return "", err
	}

	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	sealed := aead.Seal(nonce, nonce, plaintext, nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Open describes the open operation and its observable behavior.
//
// Open may return an error when input validation, dependency calls, or security checks fail.
// Open does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (s *Sealer) Open(blob string) (*Data, error) {
	raw, err := base64.RawURLEncoding.DecodeString(blob)
	if err != nil {
		return nil, ErrSealInvalid
	}

	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, err
	}

	if len(raw) < chacha20poly1305.NonceSizeX {
		return nil, ErrSealInvalid
	}

	nonce, ciphertext := raw[:chacha20poly1305.NonceSizeX], raw[chacha20poly1305.NonceSizeX:]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrSealInvalid
	}

	return Decode(plaintext)
}
