package state

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/crewflow/config"
	"github.com/BaSui01/crewflow/internal/database"
)

type storeFactory func(t *testing.T) Store

func backends() map[string]storeFactory {
	return map[string]storeFactory{
		"memory": func(t *testing.T) Store {
			return NewMemoryStore()
		},
		"sqlite": func(t *testing.T) Store {
			cfg := config.DefaultStateConfig()
			cfg.Path = filepath.Join(t.TempDir(), "state.db")
			pool, err := database.Open(cfg, zap.NewNop())
			require.NoError(t, err)
			store, err := NewSQLStore(pool, true, zap.NewNop())
			require.NoError(t, err)
			return store
		},
		"redis": func(t *testing.T) Store {
			mr := miniredis.RunT(t)
			client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			return NewRedisStore(client, "", zap.NewNop())
		},
	}
}

func forEachBackend(t *testing.T, fn func(t *testing.T, s Store)) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			t.Cleanup(func() { _ = s.Close() })
			fn(t, s)
		})
	}
}

var testKey = Key{FlowType: "ResearchFlow", InstanceID: "inst-1"}

func TestStore_RoundTrip(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		blob := []byte(`{"counter":1,"topic":"go"}`)

		v1, err := s.Save(ctx, testKey, 0, blob)
		require.NoError(t, err)
		assert.Equal(t, Version(1), v1)

		got, v, err := s.Load(ctx, testKey)
		require.NoError(t, err)
		assert.Equal(t, blob, got)
		assert.Equal(t, v1, v)

		v2, err := s.Save(ctx, testKey, v1, []byte(`{"counter":2}`))
		require.NoError(t, err)
		assert.Equal(t, Version(2), v2)

		got, v, err = s.Load(ctx, testKey)
		require.NoError(t, err)
		assert.Equal(t, `{"counter":2}`, string(got))
		assert.Equal(t, v2, v)
	})
}

func TestStore_VersionConflict(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		v1, err := s.Save(ctx, testKey, 0, []byte("a"))
		require.NoError(t, err)
		_, err = s.Save(ctx, testKey, v1, []byte("b"))
		require.NoError(t, err)

		// 使用过期版本写入
		_, err = s.Save(ctx, testKey, v1, []byte("stale"))
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrConflict)

		var ce *ConflictError
		require.True(t, errors.As(err, &ce))
		assert.Equal(t, v1, ce.Expected)
		assert.Equal(t, Version(2), ce.Actual)

		// 创建已存在的记录
		_, err = s.Save(ctx, testKey, 0, []byte("dup"))
		assert.ErrorIs(t, err, ErrConflict)

		// 更新不存在的记录
		_, err = s.Save(ctx, Key{FlowType: "ResearchFlow", InstanceID: "missing"}, 3, []byte("x"))
		require.True(t, errors.As(err, &ce))
		assert.Equal(t, Version(0), ce.Actual)

		got, _, err := s.Load(ctx, testKey)
		require.NoError(t, err)
		assert.Equal(t, "b", string(got))
	})
}

func TestStore_NotFound(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		_, _, err := s.Load(context.Background(), testKey)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStore_DeleteIsIdempotent(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		_, err := s.Save(ctx, testKey, 0, []byte("a"))
		require.NoError(t, err)

		require.NoError(t, s.Delete(ctx, testKey))
		require.NoError(t, s.Delete(ctx, testKey))

		_, _, err = s.Load(ctx, testKey)
		assert.ErrorIs(t, err, ErrNotFound)

		// 删除后可以从版本 0 重新创建
		v, err := s.Save(ctx, testKey, 0, []byte("again"))
		require.NoError(t, err)
		assert.Equal(t, Version(1), v)
	})
}

func TestStore_KeysAreIsolated(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		other := Key{FlowType: "OtherFlow", InstanceID: testKey.InstanceID}

		_, err := s.Save(ctx, testKey, 0, []byte("one"))
		require.NoError(t, err)
		_, err = s.Save(ctx, other, 0, []byte("two"))
		require.NoError(t, err)

		got, _, err := s.Load(ctx, other)
		require.NoError(t, err)
		assert.Equal(t, "two", string(got))
	})
}

func TestStore_InvalidKey(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		_, err := s.Save(ctx, Key{FlowType: "F"}, 0, nil)
		assert.ErrorIs(t, err, ErrInvalidKey)
		_, _, err = s.Load(ctx, Key{InstanceID: "x"})
		assert.ErrorIs(t, err, ErrInvalidKey)
		assert.ErrorIs(t, s.Delete(ctx, Key{}), ErrInvalidKey)
	})
}

// 并发写入同一版本时只有一个成功
func TestStore_ConcurrentWritersSingleWinner(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		v, err := s.Save(ctx, testKey, 0, []byte("base"))
		require.NoError(t, err)

		const writers = 8
		var wins, conflicts atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.Save(ctx, testKey, v, []byte("w"))
				switch {
				case err == nil:
					wins.Add(1)
				case errors.Is(err, ErrConflict):
					conflicts.Add(1)
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(1), wins.Load())
		assert.Equal(t, int32(writers-1), conflicts.Load())
	})
}

func TestMemoryStore_CopiesBlobs(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	blob := []byte("abc")
	_, err := s.Save(ctx, testKey, 0, blob)
	require.NoError(t, err)
	blob[0] = 'X'

	got, _, err := s.Load(ctx, testKey)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))

	got[0] = 'Y'
	again, _, _ := s.Load(ctx, testKey)
	assert.Equal(t, "abc", string(again))
	assert.Equal(t, 1, s.Len())
}

func TestMemoryStore_Closed(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.Close())

	_, err := s.Save(context.Background(), testKey, 0, nil)
	assert.ErrorIs(t, err, ErrStoreClosed)
	_, _, err = s.Load(context.Background(), testKey)
	assert.ErrorIs(t, err, ErrStoreClosed)
}

func TestMemoryStore_CancelledContext(t *testing.T) {
	s := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Save(ctx, testKey, 0, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestKey_String(t *testing.T) {
	assert.Equal(t, "ResearchFlow/inst-1", testKey.String())
}
