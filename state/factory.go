package state

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/crewflow/config"
	"github.com/BaSui01/crewflow/internal/database"
	"github.com/BaSui01/crewflow/internal/tlsutil"
)

// NewStore builds the backend selected by cfg.Driver.
func NewStore(ctx context.Context, cfg config.StateConfig, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	switch cfg.Driver {
	case config.DriverMemory:
		return NewMemoryStore(), nil

	case config.DriverSQLite, config.DriverPostgres, config.DriverMySQL:
		pool, err := database.Open(cfg, logger)
		if err != nil {
			return nil, err
		}
		store, err := NewSQLStore(pool, cfg.AutoMigrate, logger)
		if err != nil {
			_ = pool.Close()
			return nil, err
		}
		return store, nil

	case config.DriverRedis:
		opts := &redis.Options{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
		}
		if cfg.Redis.TLS {
			opts.TLSConfig = tlsutil.DefaultTLSConfig()
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		return NewRedisStore(client, cfg.Redis.KeyPrefix, logger), nil

	case config.DriverMongo:
		return NewMongoStore(ctx, cfg.Mongo, logger)

	default:
		return nil, fmt.Errorf("unsupported state driver: %q", cfg.Driver)
	}
}
