package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/BaSui01/crewflow/internal/database"
)

// flowStateRow is the flow_states table. Its schema matches the SQL
// migrations in internal/migration.
type flowStateRow struct {
	FlowType   string    `gorm:"column:flow_type;primaryKey;size:191"`
	InstanceID string    `gorm:"column:instance_id;primaryKey;size:191"`
	Version    uint64    `gorm:"column:version;not null"`
	Blob       []byte    `gorm:"column:data;not null"`
	UpdatedAt  time.Time `gorm:"column:updated_at;not null"`
}

func (flowStateRow) TableName() string { return "flow_states" }

// SQLStore persists records in a relational database through GORM.
type SQLStore struct {
	pool       *database.PoolManager
	maxRetries int
	logger     *zap.Logger
}

// SQLOption configures a SQLStore.
type SQLOption func(*SQLStore)

// WithTransactionRetries sets how often a transient database error is retried.
func WithTransactionRetries(n int) SQLOption {
	return func(s *SQLStore) { s.maxRetries = n }
}

// NewSQLStore wraps a connection pool. When autoMigrate is set the
// flow_states table is created through GORM.
func NewSQLStore(pool *database.PoolManager, autoMigrate bool, logger *zap.Logger, opts ...SQLOption) (*SQLStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("sql state store requires a connection pool")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &SQLStore{
		pool:       pool,
		maxRetries: 3,
		logger:     logger.With(zap.String("component", "state_sql")),
	}
	for _, opt := range opts {
		opt(s)
	}

	if autoMigrate {
		if err := pool.DB().AutoMigrate(&flowStateRow{}); err != nil {
			return nil, fmt.Errorf("migrate flow_states: %w", err)
		}
	}
	return s, nil
}

// Save implements Store. A first write inserts with ON CONFLICT DO NOTHING;
// later writes update only the row still carrying the expected version.
func (s *SQLStore) Save(ctx context.Context, key Key, expected Version, blob []byte) (Version, error) {
	if err := key.Validate(); err != nil {
		return 0, err
	}

	next := expected + 1
	var actual Version
	var lost bool

	err := s.pool.WithTransactionRetry(ctx, s.maxRetries, func(tx *gorm.DB) error {
		lost = false
		row := flowStateRow{
			FlowType:   key.FlowType,
			InstanceID: key.InstanceID,
			Version:    uint64(next),
			Blob:       cloneBlob(blob),
			UpdatedAt:  time.Now().UTC(),
		}

		var res *gorm.DB
		if expected == 0 {
			res = tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
		} else {
			res = tx.Model(&flowStateRow{}).
				Where("flow_type = ? AND instance_id = ? AND version = ?", key.FlowType, key.InstanceID, uint64(expected)).
				Updates(map[string]any{
					"version":    row.Version,
					"data":       row.Blob,
					"updated_at": row.UpdatedAt,
				})
		}
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 1 {
			return nil
		}

		lost = true
		v, err := s.currentVersion(tx, key)
		if err != nil {
			return err
		}
		actual = v
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("save state %s: %w", key, err)
	}
	if lost {
		s.logger.Debug("state version conflict",
			zap.String("key", key.String()),
			zap.Uint64("expected", uint64(expected)),
			zap.Uint64("actual", uint64(actual)))
		return 0, conflict(key, expected, actual)
	}
	return next, nil
}

func (s *SQLStore) currentVersion(tx *gorm.DB, key Key) (Version, error) {
	var row flowStateRow
	err := tx.Select("version").
		Where("flow_type = ? AND instance_id = ?", key.FlowType, key.InstanceID).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return Version(row.Version), nil
}

// Load implements Store.
func (s *SQLStore) Load(ctx context.Context, key Key) ([]byte, Version, error) {
	if err := key.Validate(); err != nil {
		return nil, 0, err
	}

	var row flowStateRow
	err := s.pool.DB().WithContext(ctx).
		Where("flow_type = ? AND instance_id = ?", key.FlowType, key.InstanceID).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, 0, ErrNotFound
	}
	if err != nil {
		return nil, 0, fmt.Errorf("load state %s: %w", key, err)
	}
	return row.Blob, Version(row.Version), nil
}

// Delete implements Store.
func (s *SQLStore) Delete(ctx context.Context, key Key) error {
	if err := key.Validate(); err != nil {
		return err
	}

	err := s.pool.DB().WithContext(ctx).
		Where("flow_type = ? AND instance_id = ?", key.FlowType, key.InstanceID).
		Delete(&flowStateRow{}).Error
	if err != nil {
		return fmt.Errorf("delete state %s: %w", key, err)
	}
	return nil
}

// Ping checks the underlying connection.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Stats reports connection pool statistics.
func (s *SQLStore) Stats() sql.DBStats {
	return s.pool.Stats()
}

// Close implements Store.
func (s *SQLStore) Close() error {
	return s.pool.Close()
}
