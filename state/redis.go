package state

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	fieldVersion   = "version"
	fieldBlob      = "blob"
	fieldUpdatedAt = "updated_at"
)

// RedisStore keeps each record in a hash at <prefix><flowType>:<instanceID>.
type RedisStore struct {
	client    redis.UniversalClient
	keyPrefix string
	logger    *zap.Logger
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client redis.UniversalClient, keyPrefix string, logger *zap.Logger) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = "crewflow:state:"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStore{
		client:    client,
		keyPrefix: keyPrefix,
		logger:    logger.With(zap.String("component", "state_redis")),
	}
}

func (s *RedisStore) redisKey(key Key) string {
	return s.keyPrefix + key.FlowType + ":" + key.InstanceID
}

// Save implements Store. The version check and the write run under WATCH so
// a concurrent writer aborts the transaction.
func (s *RedisStore) Save(ctx context.Context, key Key, expected Version, blob []byte) (Version, error) {
	if err := key.Validate(); err != nil {
		return 0, err
	}

	rk := s.redisKey(key)
	next := expected + 1
	var conflictErr error

	txf := func(tx *redis.Tx) error {
		current, err := readVersion(ctx, tx, rk)
		if err != nil {
			return err
		}
		if current != expected {
			conflictErr = conflict(key, expected, current)
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, rk,
				fieldVersion, strconv.FormatUint(uint64(next), 10),
				fieldBlob, cloneBlob(blob),
				fieldUpdatedAt, time.Now().UTC().Format(time.RFC3339Nano),
			)
			return nil
		})
		return err
	}

	err := s.client.Watch(ctx, txf, rk)
	if errors.Is(err, redis.TxFailedErr) {
		actual, readErr := readVersion(ctx, s.client, rk)
		if readErr != nil {
			return 0, fmt.Errorf("save state %s: %w", key, readErr)
		}
		s.logger.Debug("state write lost WATCH race", zap.String("key", key.String()))
		return 0, conflict(key, expected, actual)
	}
	if err != nil {
		return 0, fmt.Errorf("save state %s: %w", key, err)
	}
	if conflictErr != nil {
		return 0, conflictErr
	}
	return next, nil
}

func readVersion(ctx context.Context, c redis.Cmdable, rk string) (Version, error) {
	raw, err := c.HGet(ctx, rk, fieldVersion).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt version %q: %w", raw, err)
	}
	return Version(v), nil
}

// Load implements Store.
func (s *RedisStore) Load(ctx context.Context, key Key) ([]byte, Version, error) {
	if err := key.Validate(); err != nil {
		return nil, 0, err
	}

	vals, err := s.client.HMGet(ctx, s.redisKey(key), fieldVersion, fieldBlob).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("load state %s: %w", key, err)
	}
	if len(vals) != 2 || vals[0] == nil {
		return nil, 0, ErrNotFound
	}

	rawVersion, _ := vals[0].(string)
	v, err := strconv.ParseUint(rawVersion, 10, 64)
	if err != nil {
		return nil, 0, fmt.Errorf("load state %s: corrupt version %q", key, rawVersion)
	}
	blob, _ := vals[1].(string)
	return []byte(blob), Version(v), nil
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, key Key) error {
	if err := key.Validate(); err != nil {
		return err
	}
	if err := s.client.Del(ctx, s.redisKey(key)).Err(); err != nil {
		return fmt.Errorf("delete state %s: %w", key, err)
	}
	return nil
}

// Ping checks the connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close implements Store.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
