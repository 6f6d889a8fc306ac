package state

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/crewflow/config"
)

func TestNewStore(t *testing.T) {
	ctx := context.Background()
	logger := zaptest.NewLogger(t)

	t.Run("memory", func(t *testing.T) {
		s, err := NewStore(ctx, config.StateConfig{Driver: config.DriverMemory}, logger)
		require.NoError(t, err)
		assert.IsType(t, &MemoryStore{}, s)
	})

	t.Run("sqlite", func(t *testing.T) {
		cfg := config.DefaultStateConfig()
		cfg.Path = filepath.Join(t.TempDir(), "crewflow.db")
		s, err := NewStore(ctx, cfg, logger)
		require.NoError(t, err)
		defer s.Close()
		assert.IsType(t, &SQLStore{}, s)

		_, err = s.Save(ctx, testKey, 0, []byte("persisted"))
		require.NoError(t, err)
	})

	t.Run("redis", func(t *testing.T) {
		mr := miniredis.RunT(t)
		cfg := config.DefaultStateConfig()
		cfg.Driver = config.DriverRedis
		cfg.Redis.Addr = mr.Addr()

		s, err := NewStore(ctx, cfg, logger)
		require.NoError(t, err)
		defer s.Close()

		_, err = s.Save(ctx, testKey, 0, []byte("x"))
		require.NoError(t, err)
		assert.True(t, mr.Exists("crewflow:state:ResearchFlow:inst-1"))
	})

	t.Run("redis unreachable", func(t *testing.T) {
		cfg := config.DefaultStateConfig()
		cfg.Driver = config.DriverRedis
		cfg.Redis.Addr = "127.0.0.1:1"
		_, err := NewStore(ctx, cfg, logger)
		require.Error(t, err)
	})

	t.Run("mongo unreachable", func(t *testing.T) {
		cfg := config.DefaultStateConfig()
		cfg.Driver = config.DriverMongo
		cfg.Mongo.URI = "mongodb://127.0.0.1:1"
		cfg.Mongo.Timeout = 200 * time.Millisecond

		cctx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		_, err := NewStore(cctx, cfg, logger)
		require.Error(t, err)
	})

	t.Run("mongo missing collection", func(t *testing.T) {
		_, err := NewMongoStore(ctx, config.MongoConfig{URI: "mongodb://localhost"}, nil)
		require.Error(t, err)
	})

	t.Run("unsupported", func(t *testing.T) {
		_, err := NewStore(ctx, config.StateConfig{Driver: "etcd"}, logger)
		require.Error(t, err)
	})
}
