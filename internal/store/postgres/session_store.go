// Package postgres provides Postgres-backed persistence for pipeline runs.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/paddockdata/racepipe/internal/scraper"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// SessionStoreConfig controls the Postgres connection pool.
type SessionStoreConfig struct {
	DSN             string
	RunsTable       string
	ResultsTable    string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// SessionStore implements scraper.SessionStore on Postgres.
//
// Expected schema:
//
//	CREATE TABLE runs (
//		id TEXT PRIMARY KEY,
//		date_key TEXT NOT NULL,
//		track_id TEXT NOT NULL,
//		status TEXT NOT NULL,
//		progress_pct INT NOT NULL,
//		stage TEXT NOT NULL DEFAULT '',
//		message TEXT NOT NULL DEFAULT '',
//		counters JSONB NOT NULL DEFAULT '{}',
//		created_at TIMESTAMPTZ NOT NULL,
//		updated_at TIMESTAMPTZ NOT NULL
//	);
//	CREATE TABLE run_results (
//		run_id TEXT PRIMARY KEY REFERENCES runs(id),
//		payload JSONB NOT NULL,
//		generated_at TIMESTAMPTZ NOT NULL
//	);
type SessionStore struct {
	pool         pgxPool
	runsTable    string
	resultsTable string
}

// NewSessionStore connects a pool using the provided config.
func NewSessionStore(ctx context.Context, cfg SessionStoreConfig) (*SessionStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return newWithPool(pool, cfg.RunsTable, cfg.ResultsTable)
}

// NewSessionStoreWithPool constructs a store from an existing pool
// (primarily for testing).
func NewSessionStoreWithPool(pool pgxPool, runsTable, resultsTable string) (*SessionStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return newWithPool(pool, runsTable, resultsTable)
}

func newWithPool(pool pgxPool, runsTable, resultsTable string) (*SessionStore, error) {
	if runsTable == "" {
		runsTable = "runs"
	}
	if resultsTable == "" {
		resultsTable = "run_results"
	}
	for _, table := range []string{runsTable, resultsTable} {
		if !validTableName.MatchString(table) {
			return nil, fmt.Errorf("invalid table name %q", table)
		}
	}
	return &SessionStore{
		pool:         pool,
		runsTable:    runsTable,
		resultsTable: resultsTable,
	}, nil
}

// Close releases the underlying pool resources.
func (s *SessionStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// CreateRun inserts a new run row.
func (s *SessionStore) CreateRun(ctx context.Context, session scraper.PipelineSession) error {
	if session.ID == "" {
		return fmt.Errorf("session id is required")
	}
	counters, err := json.Marshal(session.Counters)
	if err != nil {
		return fmt.Errorf("marshal counters: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (id, date_key, track_id, status, progress_pct, stage, message, counters, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`, s.runsTable)

	if _, err := s.pool.Exec(ctx, query,
		session.ID,
		session.DateKey,
		session.TrackID,
		string(session.Status),
		session.ProgressPct,
		session.CurrentStage,
		session.Message,
		counters,
		session.CreatedAt,
		session.UpdatedAt,
	); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// GetRun fetches one run row.
func (s *SessionStore) GetRun(ctx context.Context, runID string) (scraper.PipelineSession, error) {
	query := fmt.Sprintf(`
SELECT id, date_key, track_id, status, progress_pct, stage, message, counters, created_at, updated_at
FROM %s WHERE id = $1`, s.runsTable)

	var (
		session  scraper.PipelineSession
		status   string
		counters []byte
	)
	err := s.pool.QueryRow(ctx, query, runID).Scan(
		&session.ID,
		&session.DateKey,
		&session.TrackID,
		&status,
		&session.ProgressPct,
		&session.CurrentStage,
		&session.Message,
		&counters,
		&session.CreatedAt,
		&session.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return scraper.PipelineSession{}, fmt.Errorf("get run %s: %w", runID, scraper.ErrRunNotFound)
		}
		return scraper.PipelineSession{}, fmt.Errorf("get run: %w", err)
	}
	session.Status = scraper.RunStatus(status)
	if len(counters) > 0 {
		if err := json.Unmarshal(counters, &session.Counters); err != nil {
			return scraper.PipelineSession{}, fmt.Errorf("unmarshal counters: %w", err)
		}
	}
	return session, nil
}

// UpdateRun overwrites the mutable run columns.
func (s *SessionStore) UpdateRun(ctx context.Context, session scraper.PipelineSession) error {
	counters, err := json.Marshal(session.Counters)
	if err != nil {
		return fmt.Errorf("marshal counters: %w", err)
	}
	query := fmt.Sprintf(`
UPDATE %s SET status = $2, progress_pct = $3, stage = $4, message = $5, counters = $6, updated_at = $7
WHERE id = $1`, s.runsTable)

	tag, err := s.pool.Exec(ctx, query,
		session.ID,
		string(session.Status),
		session.ProgressPct,
		session.CurrentStage,
		session.Message,
		counters,
		session.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update run %s: %w", session.ID, scraper.ErrRunNotFound)
	}
	return nil
}

// SaveResult upserts the finalized result payload.
func (s *SessionStore) SaveResult(ctx context.Context, result scraper.RunResult) error {
	if result.RunID == "" {
		return fmt.Errorf("result run id is required")
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (run_id, payload, generated_at)
VALUES ($1, $2, $3)
ON CONFLICT (run_id) DO UPDATE SET payload = EXCLUDED.payload, generated_at = EXCLUDED.generated_at`,
		s.resultsTable)

	if _, err := s.pool.Exec(ctx, query, result.RunID, payload, result.GeneratedAt); err != nil {
		return fmt.Errorf("insert result: %w", err)
	}
	return nil
}

// GetResult loads the finalized result payload.
func (s *SessionStore) GetResult(ctx context.Context, runID string) (scraper.RunResult, error) {
	query := fmt.Sprintf(`SELECT payload FROM %s WHERE run_id = $1`, s.resultsTable)

	var payload []byte
	if err := s.pool.QueryRow(ctx, query, runID).Scan(&payload); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return scraper.RunResult{}, fmt.Errorf("get result %s: %w", runID, scraper.ErrRunNotFound)
		}
		return scraper.RunResult{}, fmt.Errorf("get result: %w", err)
	}
	var result scraper.RunResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return scraper.RunResult{}, fmt.Errorf("unmarshal result: %w", err)
	}
	return result, nil
}
