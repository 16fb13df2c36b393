package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strings"
)

type TokenID [16]byte

const (
	oneShotTokenRawSize = 48
	oneShotSecretSize   = 32
	seriesSize          = 16
	validatorSize       = 32
)

const backupCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

func NewTokenID() (TokenID, error) {
	var tid TokenID
	_, err := rand.Read(tid[:])
	return tid, err
}

func (t TokenID) Bytes() []byte {
	return t[:]
}

func (t TokenID) String() string {
	// base64url, no padding, compact
	return base64.RawURLEncoding.EncodeToString(t[:])
}

func ParseTokenID(tokenID string) (TokenID, error) {
	var tid TokenID

	raw, err := base64.RawURLEncoding.DecodeString(tokenID)
	if err != nil {
		return tid, err
	}
	if len(raw) != len(tid) {
		return tid, errors.New("invalid token id size")
	}

	copy(tid[:], raw)
	return tid, nil
}

func NewOneShotSecret() ([oneShotSecretSize]byte, error) {
	var secret [oneShotSecretSize]byte
	_, err := rand.Read(secret[:])
	return secret, err
}

func HashOneShotSecret(secret [oneShotSecretSize]byte) [32]byte {
	return sha256.Sum256(secret[:])
}

func HashBytes(secret []byte) [32]byte {
	return sha256.Sum256(secret)
}

// EncodeOneShotToken packs a token id and secret into a single opaque
// string for delivery over email.
func EncodeOneShotToken(tokenID string, secret [oneShotSecretSize]byte) (string, error) {
	tid, err := ParseTokenID(tokenID)
	if err != nil {
		return "", err
	}

	var raw [oneShotTokenRawSize]byte
	copy(raw[:len(tid)], tid[:])
	copy(raw[len(tid):], secret[:])

	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

func DecodeOneShotToken(token string) (string, [oneShotSecretSize]byte, error) {
	var secret [oneShotSecretSize]byte

	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", secret, err
	}
	if len(raw) != oneShotTokenRawSize {
		return "", secret, errors.New("invalid token size")
	}

	var tid TokenID
	copy(tid[:], raw[:len(tid)])
	copy(secret[:], raw[len(tid):])

	return tid.String(), secret, nil
}

func NewSeries() (string, error) {
	var raw [seriesSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

func NewValidator() ([validatorSize]byte, error) {
	var validator [validatorSize]byte
	_, err := rand.Read(validator[:])
	return validator, err
}

func HashValidator(validator [validatorSize]byte) [32]byte {
	return sha256.Sum256(validator[:])
}

// EncodeRememberToken joins series and validator into the cookie value.
// The series is a stable lookup key; only the validator is secret.
func EncodeRememberToken(series string, validator [validatorSize]byte) string {
	return series + ":" + base64.RawURLEncoding.EncodeToString(validator[:])
}

func DecodeRememberToken(token string) (string, [validatorSize]byte, error) {
	var validator [validatorSize]byte

	series, encoded, ok := strings.Cut(token, ":")
	if !ok || series == "" {
		return "", validator, errors.New("invalid remember token format")
	}

	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return "", validator, err
	}
	if len(raw) != validatorSize {
		return "", validator, errors.New("invalid validator size")
	}

	copy(validator[:], raw)
	return series, validator, nil
}

func NewCSRFToken() (string, error) {
	var raw [32]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

// NewBackupCode generates one human-typeable recovery code from an
// unambiguous alphabet (no 0/O, 1/I).
func NewBackupCode(length int) (string, error) {
	if length < 8 || length > 32 {
		return "", errors.New("invalid backup code length")
	}

	raw := make([]byte, length)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}

	var b strings.Builder
	b.Grow(length)
	for _, c := range raw {
		b.WriteByte(backupCodeAlphabet[int(c)%len(backupCodeAlphabet)])
	}
	return b.String(), nil
}
