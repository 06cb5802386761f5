package snapshot

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"TopSignals/internal/model"
)

const pgUniqueViolation = "23505"

// PostgresStore persists observations to PostgreSQL so several instances share one history.
type PostgresStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresStore connects to dsn and creates the observations table when missing.
func NewPostgresStore(ctx context.Context, dsn string, logger *slog.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := &PostgresStore{db: db, logger: logger}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	logger.Info("postgres snapshot store opened")
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS observations (
			id          BIGSERIAL PRIMARY KEY,
			metric      TEXT             NOT NULL,
			seq         BIGINT           NOT NULL,
			value       DOUBLE PRECISION,
			observed_at TIMESTAMPTZ      NOT NULL,
			source      TEXT,
			UNIQUE (metric, seq)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:40], err)
		}
	}
	return nil
}

const pgColumns = `metric, seq, value, observed_at, source`

func (s *PostgresStore) Latest(ctx context.Context, metric string) (*model.ScalarObservation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+pgColumns+` FROM observations WHERE metric = $1 ORDER BY seq DESC LIMIT 1`, metric)
	return scanPG(row)
}

func (s *PostgresStore) LatestDifferent(ctx context.Context, metric string, excluding *float64) (*model.ScalarObservation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+pgColumns+` FROM observations
		 WHERE metric = $1 AND value IS DISTINCT FROM $2::double precision
		 ORDER BY seq DESC LIMIT 1`, metric, nullFloat(excluding))
	return scanPG(row)
}

func (s *PostgresStore) Insert(ctx context.Context, obs model.ScalarObservation) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO observations (`+pgColumns+`)
		 SELECT $1::text, $2::bigint, $3::double precision, $4::timestamptz, $5::text
		 WHERE (SELECT COALESCE(MAX(seq), 0) FROM observations WHERE metric = $1::text) = $2::bigint - 1`,
		obs.Metric, obs.Seq, nullFloat(obs.Value), obs.ObservedAt.UTC(), obs.Source)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation {
			return ErrConflict
		}
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrConflict
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.logger.Info("closing postgres snapshot store")
	return s.db.Close()
}

func scanPG(row rowScanner) (*model.ScalarObservation, error) {
	var (
		obs    model.ScalarObservation
		value  sql.NullFloat64
		at     time.Time
		source sql.NullString
	)
	err := row.Scan(&obs.Metric, &obs.Seq, &value, &at, &source)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if value.Valid {
		obs.Value = model.Float(value.Float64)
	}
	obs.ObservedAt = at.UTC()
	obs.Source = source.String
	return &obs, nil
}
