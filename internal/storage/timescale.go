package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ibs-source/counterlog/internal/config"
	"github.com/ibs-source/counterlog/internal/log"
	"github.com/ibs-source/counterlog/internal/reading"
)

// TimescaleSink writes reading batches into the hypertable. Rows share the
// primary key (time, device_id, channel); conflicts are silently skipped so
// at-least-once replays stay idempotent.
type TimescaleSink struct {
	pool      *pgxpool.Pool
	insertSQL string
	log       *log.Logger
}

// NewTimescaleSink connects the pool and verifies reachability within the
// configured init timeout.
func NewTimescaleSink(ctx context.Context, cfg *config.TimescaleConfig, logger *log.Logger) (*TimescaleSink, error) {
	sslMode := "disable"
	if cfg.SSLEnabled {
		sslMode = "require"
	}
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database, sslMode)

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse timescale config: %w", err)
	}
	poolCfg.MinConns = int32(cfg.PoolMinConns) // #nosec G115 - validated bounds
	poolCfg.MaxConns = int32(cfg.PoolMaxConns) // #nosec G115 - validated bounds

	initCtx, cancel := context.WithTimeout(ctx, cfg.InitTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(initCtx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create timescale pool: %w", err)
	}
	if err := pool.Ping(initCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach timescale at %s:%d: %w", cfg.Host, cfg.Port, err)
	}

	// The table name comes from validated configuration, not user input.
	insertSQL := fmt.Sprintf(`INSERT INTO %s
		(time, device_id, channel, raw_value, processed_value, rate, quality, unit)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (time, device_id, channel) DO NOTHING`, cfg.Table)

	logger.Info("Connected to TimescaleDB at %s:%d (table %s)", cfg.Host, cfg.Port, cfg.Table)
	return &TimescaleSink{pool: pool, insertSQL: insertSQL, log: logger}, nil
}

// WriteBatch inserts all rows of a batch in one round trip
func (s *TimescaleSink) WriteBatch(ctx context.Context, batch []reading.DeviceReading) error {
	if len(batch) == 0 {
		return nil
	}

	b := &pgx.Batch{}
	for i := range batch {
		r := &batch[i]
		var unit *string
		if r.Unit != "" {
			unit = &r.Unit
		}
		b.Queue(s.insertSQL,
			r.Timestamp, r.DeviceID, r.Channel, r.RawValue,
			r.ProcessedValue, r.Rate, r.Quality.String(), unit)
	}

	results := s.pool.SendBatch(ctx, b)
	defer results.Close()

	for range batch {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("batch insert failed: %w", err)
		}
	}
	return nil
}

// TestConnection pings the database
func (s *TimescaleSink) TestConnection(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool
func (s *TimescaleSink) Close() {
	s.pool.Close()
}

var _ Sink = (*TimescaleSink)(nil)
