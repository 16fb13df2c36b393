package trustcore

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	rememberKeyPrefix       = "arm"
	rememberIndexPrefix     = "armu"
	rememberRecordVersionV1 = 1
)

var (
	errRememberNotFound         = errors.New("remember record not found")
	errRememberValidatorTheft   = errors.New("remember validator mismatch")
	errRememberRedisUnavailable = errors.New("remember redis unavailable")
)

type rememberRecord struct {
	UserID        string
	ValidatorHash [32]byte
	IPAddress     string
	UserAgent     string
	CreatedAt     int64
	LastUsedAt    int64
}

// rememberStore persists series/validator trust records. The series is
// the lookup key; only a hash of the validator is stored so a store
// dump cannot mint working cookies.
type rememberStore struct {
	redis  redis.UniversalClient
	prefix string
}

func newRememberStore(redisClient redis.UniversalClient) *rememberStore {
	return &rememberStore{redis: redisClient, prefix: rememberKeyPrefix}
}

func (s *rememberStore) key(series string) string {
	return s.prefix + ":" + series
}

func (s *rememberStore) userIndexKey(userID string) string {
	return rememberIndexPrefix + ":" + userID
}

// Save describes the save operation and its observable behavior.
//
// Save may return an error when input validation, dependency calls, or security checks fail.
// Save does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (s *rememberStore) Save(ctx context.Context, series string, record *rememberRecord, ttl time.Duration) error {
	encoded, err := encodeRememberRecord(record)
	if err != nil {
		return err
	}

	pipe := s.redis.TxPipeline()
	pipe.Set(ctx, s.key(series), encoded, ttl)
	pipe.SAdd(ctx, s.userIndexKey(record.UserID), series)
	pipe.Expire(ctx, s.userIndexKey(record.UserID), ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", errRememberRedisUnavailable, err)
	}
	return nil
}

// Redeem atomically verifies the validator for a series and rotates it
// to newValidatorHash. A validator mismatch on an existing series is a
// theft signal: the whole series is destroyed before the error returns.
func (s *rememberStore) Redeem(
	ctx context.Context,
	series string,
	providedHash [32]byte,
	newValidatorHash [32]byte,
	ttl time.Duration,
	now time.Time,
) (*rememberRecord, error) {
	const maxRetries = 4
	key := s.key(series)

	for i := 0; i < maxRetries; i++ {
		var matched *rememberRecord

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			record, err := decodeRememberRecord(data)
			if err != nil {
				return err
			}

			if subtle.ConstantTimeCompare(record.ValidatorHash[:], providedHash[:]) != 1 {
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					pipe.SRem(ctx, s.userIndexKey(record.UserID), series)
					return nil
				})
				if err != nil {
					return err
				}
				matched = record
				return errRememberValidatorTheft
			}

			rotated := *record
			rotated.ValidatorHash = newValidatorHash
			rotated.LastUsedAt = now.UnixMilli()

			updated, err := encodeRememberRecord(&rotated)
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

			matched = &rotated
			return nil
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			switch {
			case errors.Is(err, redis.Nil):
				return nil, errRememberNotFound
			case errors.Is(err, errRememberValidatorTheft):
				return matched, err
			default:
				return nil, fmt.Errorf("%w: %v", errRememberRedisUnavailable, err)
			}
		}

		return matched, nil
	}

	return nil, errRememberNotFound
}

// Get describes the get operation and its observable behavior.
//
// Get may return an error when input validation, dependency calls, or security checks fail.
// Get does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (s *rememberStore) Get(ctx context.Context, series string) (*rememberRecord, error) {
	data, err := s.redis.Get(ctx, s.key(series)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, errRememberNotFound
		}
		return nil, fmt.Errorf("%w: %v", errRememberRedisUnavailable, err)
	}
	return decodeRememberRecord(data)
}

// ListForUser returns every live series for one user, alongside its
// series key. Expired index entries are dropped lazily.
func (s *rememberStore) ListForUser(ctx context.Context, userID string) (map[string]*rememberRecord, error) {
	series, err := s.redis.SMembers(ctx, s.userIndexKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", errRememberRedisUnavailable, err)
	}

	out := make(map[string]*rememberRecord, len(series))
	for _, sr := range series {
		record, err := s.Get(ctx, sr)
		if err != nil {
			if errors.Is(err, errRememberNotFound) {
				_ = s.Delete(ctx, userID, sr)
				continue
			}
			return nil, err
		}
		out[sr] = record
	}
	return out, nil
}

// Delete removes one series. Deleting an absent series is not an error.
func (s *rememberStore) Delete(ctx context.Context, userID, series string) error {
	pipe := s.redis.TxPipeline()
	pipe.Del(ctx, s.key(series))
	pipe.SRem(ctx, s.userIndexKey(userID), series)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", errRememberRedisUnavailable, err)
	}
	return nil
}

// DeleteAllForUser describes the deleteallforuser operation and its observable behavior.
//
// DeleteAllForUser may return an error when input validation, dependency calls, or security checks fail.
// DeleteAllForUser does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (s *rememberStore) DeleteAllForUser(ctx context.Context, userID string) error {
	series, err := s.redis.SMembers(ctx, s.userIndexKey(userID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %v", errRememberRedisUnavailable, err)
	}

	pipe := s.redis.TxPipeline()
	for _, sr := range series {
		pipe.Del(ctx, s.key(sr))
	}
	pipe.Del(ctx, s.userIndexKey(userID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", errRememberRedisUnavailable, err)
	}
	return nil
}

func encodeRememberRecord(record *rememberRecord) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(rememberRecordVersionV1)

	if err := binary.Write(&buf, binary.BigEndian, record.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.LastUsedAt); err != nil {
		return nil, err
	}

	for _, field := range []string{record.UserID, record.IPAddress, record.UserAgent} {
		if len(field) > 65535 {
			return nil, errors.New("remember record field too long")
		}
		if err := binary.Write(&buf, binary.BigEndian, uint16(len(field))); err != nil {
			return nil, err
		}
		buf.WriteString(field)
	}
	buf.Write(record.ValidatorHash[:])

	return buf.Bytes(), nil
}

func decodeRememberRecord(data []byte) (*rememberRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != rememberRecordVersionV1 {
		return nil, errors.New("invalid remember record version")
	}

	record := &rememberRecord{}
	if err := binary.Read(reader, binary.BigEndian, &record.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.LastUsedAt); err != nil {
		return nil, err
	}

	fields := make([]string, 3)
	for i := range fields {
		var length uint16
		if err := binary.Read(reader, binary.BigEndian, &length); err != nil {
			return nil, err
		}
		raw := make([]byte, length)
		if _, err := io.ReadFull(reader, raw); err != nil {
			return nil, err
		}
		fields[i] = string(raw)
	}
	record.UserID = fields[0]
	record.IPAddress = fields[1]
	record.UserAgent = fields[2]

	if _, err := io.ReadFull(reader, record.ValidatorHash[:]); err != nil {
		return nil, err
	}

	return record, nil
}
