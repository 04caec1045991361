package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/waqarahm3d/qoqnuzmedia/internal/config"
	"github.com/waqarahm3d/qoqnuzmedia/internal/observability"
)

// Store owns the database connection and hands out repositories.
type Store struct {
	db      *sqlx.DB
	qb      squirrel.StatementBuilderType
	logger  observability.Logger
	metrics observability.Metrics

	Jobs   *JobRepository
	Tracks *TrackRepository
	Stats  *StatsRepository
}

// NewStore connects to PostgreSQL, verifies the connection and runs schema
// migrations.
func NewStore(cfg *config.DatabaseConfig, logger observability.Logger, metrics observability.Metrics) (*Store, error) {
	logger.Info("connecting to PostgreSQL",
		"host", cfg.Host,
		"port", cfg.Port,
		"database", cfg.Database)

	db, err := sqlx.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{
		db:      db,
		qb:      squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
		logger:  logger.WithFields(map[string]interface{}{"component": "repository"}),
		metrics: metrics,
	}

	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	s.Jobs = &JobRepository{store: s}
	s.Tracks = &TrackRepository{store: s}
	s.Stats = &StatsRepository{store: s}

	logger.Info("connected to PostgreSQL")
	return s, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	s.logger.Info("closing database connection")
	return s.db.Close()
}

func (s *Store) exec(ctx context.Context, op string, query squirrel.Sqlizer) (int64, error) {
	sql, args, err := query.ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build %s query: %w", op, err)
	}

	start := time.Now()
	res, err := s.db.ExecContext(ctx, sql, args...)
	s.metrics.RecordDuration("db_"+op, time.Since(start).Seconds())

	if err != nil {
		s.metrics.RecordError("db_"+op, "exec")
		return 0, err
	}

	affected, _ := res.RowsAffected()
	return affected, nil
}
