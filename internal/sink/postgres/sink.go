// Package postgres persists records into a relational table keyed by
// (program, draw_date), upserting inside a single transaction.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JakeFAU/crs-draws-etl/internal/etl"
	"github.com/JakeFAU/crs-draws-etl/internal/transform"
)

// Name identifies this sink in logs and errors.
const Name = "postgres"

// DefaultTable is used when no table is configured.
const DefaultTable = "crs_history"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the connection pool.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

// Pool is the subset of pgxpool.Pool the sink uses.
type Pool interface {
	Begin(context.Context) (pgx.Tx, error)
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// Sink upserts records into Postgres.
type Sink struct {
	pool   Pool
	table  string
	logger *zap.Logger
}

// Open connects to the database described by cfg.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*Sink, error) {
	if cfg.DSN == "" {
		return nil, &etl.SinkError{Sink: Name, Op: "connect", Err: errors.New("sink.postgres.dsn is required")}
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, &etl.SinkError{Sink: Name, Op: "connect", Err: fmt.Errorf("parse dsn: %w", err)}
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, &etl.SinkError{Sink: Name, Op: "connect", Err: err}
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, &etl.SinkError{Sink: Name, Op: "connect", Err: err}
	}
	return NewWithPool(pool, cfg.Table, logger)
}

// NewWithPool constructs a sink from an existing pool.
func NewWithPool(pool Pool, table string, logger *zap.Logger) (*Sink, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = DefaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{pool: pool, table: table, logger: logger}, nil
}

// Name implements etl.Sink.
func (s *Sink) Name() string { return Name }

// Table returns the destination table.
func (s *Sink) Table() string { return s.table }

// Persist creates the table if needed and upserts every record. Either all
// records land or none do.
func (s *Sink) Persist(ctx context.Context, ds etl.Dataset) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return &etl.SinkError{Sink: Name, Op: "begin", Err: err}
	}
	if err := s.write(ctx, tx, ds); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			s.logger.Warn("rollback failed", zap.Error(rbErr))
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return &etl.SinkError{Sink: Name, Op: "commit", Err: err}
	}
	s.logger.Info("records upserted", zap.String("table", s.table), zap.Int("records", len(ds)))
	return nil
}

func (s *Sink) write(ctx context.Context, tx pgx.Tx, ds etl.Dataset) error {
	if _, err := tx.Exec(ctx, s.createTableSQL()); err != nil {
		return &etl.SinkError{Sink: Name, Op: "create table", Err: err}
	}
	query := s.upsertSQL()
	for i, r := range ds {
		drawDate, err := time.Parse(transform.DateLayout, r.Date)
		if err != nil {
			return &etl.SinkError{Sink: Name, Op: fmt.Sprintf("record %d", i), Err: err}
		}
		if _, err := tx.Exec(ctx, query, r.Program, drawDate, r.Invitations, r.LowestCRS); err != nil {
			return &etl.SinkError{Sink: Name, Op: fmt.Sprintf("upsert record %d", i), Err: err}
		}
	}
	return nil
}

func (s *Sink) createTableSQL() string {
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	program TEXT NOT NULL,
	draw_date DATE NOT NULL,
	invitations INTEGER NOT NULL,
	lowest_crs INTEGER NOT NULL,
	PRIMARY KEY (program, draw_date)
)`, s.table)
}

func (s *Sink) upsertSQL() string {
	return fmt.Sprintf(`
INSERT INTO %s (program, draw_date, invitations, lowest_crs)
VALUES ($1, $2, $3, $4)
ON CONFLICT (program, draw_date) DO UPDATE
SET invitations = EXCLUDED.invitations,
	lowest_crs = EXCLUDED.lowest_crs`, s.table)
}

// Close releases the pool.
func (s *Sink) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}
