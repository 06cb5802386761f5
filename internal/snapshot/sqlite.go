package snapshot

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"TopSignals/internal/model"
)

// SQLiteStore persists observations to a SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) the SQLite database and runs migrations.
func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection serializes writers inside this process; the unique
	// (metric, seq) index covers other processes sharing the file.
	db.SetMaxOpenConns(1)

	// WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	logger.Info("sqlite snapshot store opened", "path", dbPath)
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS observations (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			metric      TEXT    NOT NULL,
			seq         INTEGER NOT NULL,
			value       REAL,
			observed_at INTEGER NOT NULL,
			source      TEXT
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_observations_metric_seq ON observations(metric, seq)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:40], err)
		}
	}
	return nil
}

const sqliteColumns = `metric, seq, value, observed_at, source`

func (s *SQLiteStore) Latest(ctx context.Context, metric string) (*model.ScalarObservation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteColumns+` FROM observations WHERE metric = ? ORDER BY seq DESC LIMIT 1`, metric)
	return scanObservation(row)
}

func (s *SQLiteStore) LatestDifferent(ctx context.Context, metric string, excluding *float64) (*model.ScalarObservation, error) {
	// IS NOT treats NULL as a comparable value in SQLite.
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteColumns+` FROM observations
		 WHERE metric = ? AND value IS NOT ?
		 ORDER BY seq DESC LIMIT 1`, metric, nullFloat(excluding))
	return scanObservation(row)
}

func (s *SQLiteStore) Insert(ctx context.Context, obs model.ScalarObservation) error {
	// The insert only succeeds when it extends the current history by exactly one row.
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO observations (`+sqliteColumns+`)
		 SELECT ?, ?, ?, ?, ?
		 WHERE (SELECT COALESCE(MAX(seq), 0) FROM observations WHERE metric = ?) = ? - 1`,
		obs.Metric, obs.Seq, nullFloat(obs.Value), obs.ObservedAt.UnixMilli(), obs.Source,
		obs.Metric, obs.Seq)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrConflict
		}
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrConflict
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	s.logger.Info("closing sqlite snapshot store")
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanObservation(row rowScanner) (*model.ScalarObservation, error) {
	var (
		obs    model.ScalarObservation
		value  sql.NullFloat64
		at     int64
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
	obs.ObservedAt = time.UnixMilli(at).UTC()
	obs.Source = source.String
	return &obs, nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}
