// Package db provides a pgxpool-based connection pool with prepared statement
// registration and health checking for the chart history store.
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/albapepper/collection-watch/internal/config"
)

// Pool wraps pgxpool.Pool with application-specific helpers.
type Pool struct {
	*pgxpool.Pool
}

// Schema creates the history table. Points are keyed by collection slug and
// day label; a re-run of the daily snapshot overwrites the day.
const Schema = `
CREATE TABLE IF NOT EXISTS chart_history (
	slug          TEXT        NOT NULL,
	label         TEXT        NOT NULL,
	day           DATE        NOT NULL,
	percent       DOUBLE PRECISION NOT NULL,
	ggr           DOUBLE PRECISION NOT NULL DEFAULT 0,
	predicted_ggr DOUBLE PRECISION NOT NULL DEFAULT 0,
	market_price  DOUBLE PRECISION NOT NULL DEFAULT 0,
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (slug, label)
);
CREATE INDEX IF NOT EXISTS chart_history_day_idx ON chart_history (day);
`

// Statement names registered on every connection.
const (
	StmtHealthCheck = "health_check"
	StmtUpsertPoint = "history_upsert_point"
	StmtSeries      = "history_series"
	StmtPrune       = "history_prune"
	StmtSlugs       = "history_slugs"
)

// New creates and validates a new connection pool. The schema is applied
// before statements are prepared.
func New(ctx context.Context, cfg *config.Config) (*Pool, error) {
	if err := EnsureSchema(ctx, cfg.DatabaseURL); err != nil {
		return nil, err
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	poolCfg.MinConns = int32(cfg.DBPoolMinConns)
	poolCfg.MaxConns = int32(cfg.DBPoolMaxConns)
	poolCfg.MaxConnLifetime = cfg.DBPoolMaxLife
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	// Register prepared statements on every new connection.
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return registerPreparedStatements(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	// Verify connectivity
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Pool{Pool: pool}, nil
}

// HealthCheck runs a trivial query to verify the database is reachable.
func (p *Pool) HealthCheck(ctx context.Context) error {
	var n int
	return p.QueryRow(ctx, StmtHealthCheck).Scan(&n)
}

// EnsureSchema applies Schema over a short-lived connection. It is idempotent.
func EnsureSchema(ctx context.Context, url string) error {
	conn, err := pgx.Connect(ctx, url)
	if err != nil {
		return fmt.Errorf("connect for schema: %w", err)
	}
	defer conn.Close(context.Background())
	if _, err := conn.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func registerPreparedStatements(ctx context.Context, conn *pgx.Conn) error {
	stmts := map[string]string{
		StmtHealthCheck: "SELECT 1",

		StmtUpsertPoint: `INSERT INTO chart_history (slug, label, day, percent, ggr, predicted_ggr, market_price, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, now())
			ON CONFLICT (slug, label) DO UPDATE SET
				percent = EXCLUDED.percent,
				ggr = EXCLUDED.ggr,
				predicted_ggr = EXCLUDED.predicted_ggr,
				market_price = EXCLUDED.market_price,
				updated_at = now()`,

		StmtSeries: `SELECT label, percent, ggr, predicted_ggr, market_price
			FROM chart_history WHERE slug = $1 ORDER BY day, label`,

		StmtPrune: "DELETE FROM chart_history WHERE day < $1",

		StmtSlugs: "SELECT DISTINCT slug FROM chart_history ORDER BY slug",
	}

	for name, sql := range stmts {
		if _, err := conn.Prepare(ctx, name, sql); err != nil {
			return fmt.Errorf("prepare %q: %w", name, err)
		}
	}
	return nil
}
