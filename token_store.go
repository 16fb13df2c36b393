package trustcore

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	oneShotKeyPrefix       = "aot"
	oneShotRecordVersionV2 = 2

	oneShotFlagConsumed = 1 << 0
)

var (
	errTokenNotFound         = errors.New("one-shot token not found")
	errTokenSecretMismatch   = errors.New("one-shot token secret mismatch")
	errTokenAttemptsExceeded = errors.New("one-shot token attempts exceeded")
	errTokenRedisUnavailable = errors.New("one-shot token redis unavailable")
)

type oneShotTokenRecord struct {
	UserID     string
	SecretHash [32]byte
	ExpiresAt  int64
	Attempts   uint16
	Kind       TokenKind
	// Consumed marks a redeemed token kept as a tombstone until its
	// natural expiry, so a second redemption with the right secret can
	// be told apart from a token that never existed.
	Consumed bool
}

// oneShotTokenStore persists purpose-tagged single-use tokens. A token
// issued for one kind can never be consumed as another kind.
type oneShotTokenStore struct {
	redis  redis.UniversalClient
	prefix string
}

func newOneShotTokenStore(redisClient redis.UniversalClient) *oneShotTokenStore {
	return &oneShotTokenStore{
		redis:  redisClient,
		prefix: oneShotKeyPrefix,
	}
}

func (s *oneShotTokenStore) key(kind TokenKind, tokenID string) string {
	return s.prefix + ":" + strconv.Itoa(int(kind)) + ":" + tokenID
}

// Save describes the save operation and its observable behavior.
//
// Save may return an error when input validation, dependency calls, or security checks fail.
// Save does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (s *oneShotTokenStore) Save(
	ctx context.Context,
	tokenID string,
	record *oneShotTokenRecord,
	ttl time.Duration,
) error {
	encoded, err := encodeOneShotTokenRecord(record)
	if err != nil {
		return err
	}

	if err := s.redis.Set(ctx, s.key(record.Kind, tokenID), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", errTokenRedisUnavailable, err)
	}

	return nil
}

// Consume describes the consume operation and its observable behavior.
//
// Consume may return an error when input validation, dependency calls, or security checks fail.
// Consume does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (s *oneShotTokenStore) Consume(
	ctx context.Context,
	expectedKind TokenKind,
	tokenID string,
	providedHash [32]byte,
	maxAttempts int,
) (*oneShotTokenRecord, error) {
	const maxRetries = 4
	key := s.key(expectedKind, tokenID)

	for i := 0; i < maxRetries; i++ {
		var matched *oneShotTokenRecord

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					return errTokenNotFound
				}
				return err
			}

			record, err := decodeOneShotTokenRecord(data)
			if err != nil {
				return err
			}

			now := time.Now()
			if now.Unix() > record.ExpiresAt {
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				if err != nil {
					return err
				}
				return errTokenNotFound
			}

			// Kind is baked into both key and record; a mismatch means a
			// forged or corrupted record and burns the token.
			if record.Kind != expectedKind {
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				if err != nil {
					return err
				}
				return errTokenSecretMismatch
			}

			if subtle.ConstantTimeCompare(record.SecretHash[:], providedHash[:]) != 1 {
				record.Attempts++
				if int(record.Attempts) >= maxAttempts {
					_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
						pipe.Del(ctx, key)
						return nil
					})
					if err != nil {
						return err
					}
					return errTokenAttemptsExceeded
				}

				ttl := time.Until(time.Unix(record.ExpiresAt, 0))
				if ttl <= 0 {
					_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
						pipe.Del(ctx, key)
						return nil
					})
					if err != nil {
						return err
					}
					return errTokenNotFound
				}

				updated, err := encodeOneShotTokenRecord(record)
				if err != nil {
					return err
				}

				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Set(ctx, key, updated, ttl)
					return nil
				})
				if err != nil {
					return err
				}
				return errTokenSecretMismatch
			}

			if record.Consumed {
				// Second redemption with the right secret. Leave the
				// tombstone alone so further replays classify the same.
				matched = record
				return nil
			}

			tombstone := *record
			tombstone.Consumed = true
			updated, err := encodeOneShotTokenRecord(&tombstone)
			if err != nil {
				return err
			}

			remaining := time.Until(time.Unix(record.ExpiresAt, 0))
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, remaining)
				return nil
			})
			if err != nil {
				return err
			}

			matched = record
			return nil
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			switch {
			case errors.Is(err, redis.Nil):
				return nil, errTokenNotFound
			case errors.Is(err, errTokenNotFound), errors.Is(err, errTokenSecretMismatch), errors.Is(err, errTokenAttemptsExceeded):
				return nil, err
			default:
				return nil, fmt.Errorf("%w: %v", errTokenRedisUnavailable, err)
			}
		}

		return matched, nil
	}

	return nil, errTokenNotFound
}

// Get describes the get operation and its observable behavior.
//
// Get may return an error when input validation, dependency calls, or security checks fail.
// Get does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (s *oneShotTokenStore) Get(ctx context.Context, kind TokenKind, tokenID string) (*oneShotTokenRecord, error) {
	data, err := s.redis.Get(ctx, s.key(kind, tokenID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, errTokenNotFound
		}
		return nil, fmt.Errorf("%w: %v", errTokenRedisUnavailable, err)
	}

	record, err := decodeOneShotTokenRecord(data)
	if err != nil {
		return nil, err
	}
	if time.Now().Unix() > record.ExpiresAt {
		return nil, errTokenNotFound
	}

	return record, nil
}

func encodeOneShotTokenRecord(record *oneShotTokenRecord) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(oneShotRecordVersionV2)
	buf.WriteByte(byte(record.Kind))

	var flags byte
	if record.Consumed {
		flags |= oneShotFlagConsumed
	}
	buf.WriteByte(flags)

	if err := binary.Write(&buf, binary.BigEndian, record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}

	if len(record.UserID) > 65535 {
		return nil, errors.New("token record user id too long")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(record.UserID))); err != nil {
		return nil, err
	}
	buf.WriteString(record.UserID)
	buf.Write(record.SecretHash[:])

	return buf.Bytes(), nil
}

func decodeOneShotTokenRecord(data []byte) (*oneShotTokenRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != oneShotRecordVersionV2 {
		return nil, errors.New("invalid token record version")
	}

	kind, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}

	flags, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}

	record := &oneShotTokenRecord{
		Kind:     TokenKind(kind),
		Consumed: flags&oneShotFlagConsumed != 0,
	}

	if err := binary.Read(reader, binary.BigEndian, &record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}

	var userIDLen uint16
	if err := binary.Read(reader, binary.BigEndian, &userIDLen); err != nil {
		return nil, err
	}

	userID := make([]byte, userIDLen)
	if _, err := io.ReadFull(reader, userID); err != nil {
		return nil, err
	}
	record.UserID = string(userID)

	if _, err := io.ReadFull(reader, record.SecretHash[:]); err != nil {
		return nil, err
	}

	return record, nil
}
