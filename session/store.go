package session

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable is an exported constant or variable used by the session-trust engine.
var ErrRedisUnavailable = errors.New("redis unavailable")

// ErrDeviceNotFound is an exported constant or variable used by the session-trust engine.
var ErrDeviceNotFound = errors.New("device record not found")

const deviceRecordVersionV1 = 1

// Idempotent delete: removing the index entry succeeds whether or not
// the record still exists.
const deleteDeviceScript = `
local existed = redis.call("EXISTS", KEYS[1])
redis.call("SREM", KEYS[2], ARGV[1])
if existed == 1 then
  redis.call("DEL", KEYS[1])
end
return existed
`

var deleteDeviceLua = redis.NewScript(deleteDeviceScript)

// Device is one persisted interactive-session record, used by the
// bearer-token destroy path and active-session views.
type Device struct {
	DeviceID  string
	UserID    string
	IPAddress string
	UserAgent string
	CreatedAt int64
}

// Store persists device records in Redis with a per-user index set.
type Store struct {
	redis  redis.UniversalClient
	prefix string
}

// NewStore creates a device record [Store] backed by the given Redis
// client.
func NewStore(redisClient redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "tc"
	}
	return &Store{redis: redisClient, prefix: prefix}
}

func (s *Store) deviceKey(deviceID string) string {
	return s.prefix + ":dev:" + deviceID
}

func (s *Store) userIndexKey(userID string) string {
	return s.prefix + ":udev:" + userID
}

// Save describes the save operation and its observable behavior.
//
// Save may return an error when input validation, dependency calls, or security checks fail.
// Save does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (s *Store) Save(ctx context.Context, d *Device, ttl time.Duration) error {
	encoded, err := encodeDevice(d)
	if err != nil {
		return err
	}

	pipe := s.redis.TxPipeline()
	pipe.Set(ctx, s.deviceKey(d.DeviceID), encoded, ttl)
	pipe.SAdd(ctx, s.userIndexKey(d.UserID), d.DeviceID)
	pipe.Expire(ctx, s.userIndexKey(d.UserID), ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Get describes the get operation and its observable behavior.
//
// Get may return an error when input validation, dependency calls, or security checks fail.
// Get does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (s *Store) Get(ctx context.Context, deviceID string) (*Device, error) {
	data, err := s.redis.Get(ctx, s.deviceKey(deviceID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return decodeDevice(deviceID, data)
}

// Delete removes one device record. Deleting an absent record is not an
// error.
func (s *Store) Delete(ctx context.Context, userID, deviceID string) error {
	err := deleteDeviceLua.Run(
		ctx,
		s.redis,
		[]string{s.deviceKey(deviceID), s.userIndexKey(userID)},
		deviceID,
	).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// DeleteAllForUser describes the deleteallforuser operation and its observable behavior.
//
// DeleteAllForUser may return an error when input validation, dependency calls, or security checks fail.
// DeleteAllForUser does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (s *Store) DeleteAllForUser(ctx context.Context, userID string) error {
	deviceIDs, err := s.redis.SMembers(ctx, s.userIndexKey(userID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	pipe := s.redis.TxPipeline()
	for _, deviceID := range deviceIDs {
		pipe.Del(ctx, s.deviceKey(deviceID))
	}
	pipe.Del(ctx, s.userIndexKey(userID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// ListForUser describes the listforuser operation and its observable behavior.
//
// ListForUser may return an error when input validation, dependency calls, or security checks fail.
// ListForUser does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (s *Store) ListForUser(ctx context.Context, userID string) ([]*Device, error) {
	deviceIDs, err := s.redis.SMembers(ctx, s.userIndexKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	out := make([]*Device, 0, len(deviceIDs))
	for _, deviceID := range deviceIDs {
		device, err := s.Get(ctx, deviceID)
		if err != nil {
			if errors.Is(err, ErrDeviceNotFound) {
				// Expired record still in the index; drop it lazily.
				_ = s.Delete(ctx, userID, deviceID)
				continue
			}
			return nil, err
		}
		out = append(out, device)
	}
	return out, nil
}

func encodeDevice(d *Device) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(deviceRecordVersionV1)

	if err := binary.Write(&buf, binary.BigEndian, d.CreatedAt); err != nil {
		return nil, err
	}
	for _, s := range []string{d.UserID, d.IPAddress, d.UserAgent} {
		if len(s) > 65535 {
			return nil, errors.New("device field too long")
		}
		if err := binary.Write(&buf, binary.BigEndian, uint16(len(s))); err != nil {
			return nil, err
		}
		buf.WriteString(s)
	}

	return buf.Bytes(), nil
}

func decodeDevice(deviceID string, data []byte) (*Device, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil || version != deviceRecordVersionV1 {
		return nil, errors.New("invalid device record version")
	}

	d := &Device{DeviceID: deviceID}
	if err := binary.Read(reader, binary.BigEndian, &d.CreatedAt); err != nil {
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
	d.UserID = fields[0]
	d.IPAddress = fields[1]
	d.UserAgent = fields[2]

	return d, nil
}
