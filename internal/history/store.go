// Package history persists sealed flow runs to SQLite so operators can
// inspect what the watchdog observed beyond the last-write-wins gauges.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/gateway-fm/watchdog/internal/metrics"
)

// Run is a persisted flow run.
type Run struct {
	ID        int64     `json:"id"`
	Flow      string    `json:"flow"`
	StartedAt time.Time `json:"startedAt"`
	SealedAt  time.Time `json:"sealedAt"`
	Status    string    `json:"status"`
	Steps     []Step    `json:"steps,omitempty"`
}

// Step is one persisted step of a run.
type Step struct {
	Name      string    `json:"name"`
	LatencyMs int64     `json:"latencyMs"`
	EndedAt   time.Time `json:"endedAt"`
	GasUsed   uint64    `json:"gasUsed,omitempty"`
	GasPrice  float64   `json:"gasPrice,omitempty"`
	GasCost   float64   `json:"gasCost,omitempty"`
}

// FlowStatus is the latest sealed outcome of one flow.
type FlowStatus struct {
	Flow     string    `json:"flow"`
	Status   string    `json:"status"`
	SealedAt time.Time `json:"sealedAt"`
}

// Store implements run persistence using SQLite.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the history database at dbPath.
func NewStore(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// WAL mode keeps readers (MCP queries) from blocking the write path.
	dsn := fmt.Sprintf("%s?_journal=WAL&_sync=NORMAL&_foreign_keys=ON", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS flow_runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		flow TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		sealed_at DATETIME NOT NULL,
		status TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_flow_runs_flow ON flow_runs(flow, sealed_at DESC);

	CREATE TABLE IF NOT EXISTS run_steps (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id INTEGER NOT NULL,
		name TEXT NOT NULL,
		latency_ms INTEGER NOT NULL,
		ended_at DATETIME NOT NULL,
		gas_used INTEGER DEFAULT 0,
		gas_price REAL DEFAULT 0,
		gas_cost REAL DEFAULT 0,
		FOREIGN KEY (run_id) REFERENCES flow_runs(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_run_steps_run ON run_steps(run_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordRun persists a sealed run and its steps in one transaction.
func (s *Store) RecordRun(ctx context.Context, run metrics.FlowRun) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO flow_runs (flow, started_at, sealed_at, status)
		VALUES (?, ?, ?, ?)
	`, run.Flow, run.StartedAt, run.SealedAt, run.Status.String())
	if err != nil {
		return err
	}
	runID, err := res.LastInsertId()
	if err != nil {
		return err
	}

	if len(run.Steps) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO run_steps (run_id, name, latency_ms, ended_at, gas_used, gas_price, gas_cost)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, step := range run.Steps {
			var gasUsed uint64
			var gasPrice, gasCost float64
			if step.Gas != nil {
				gasUsed = step.Gas.GasUsed
				gasPrice = step.Gas.GasPrice
				gasCost = step.Gas.GasCost
			}
			if _, err := stmt.ExecContext(ctx, runID, step.Name, step.Latency.Milliseconds(), step.EndedAt, gasUsed, gasPrice, gasCost); err != nil {
				return err
			}
		}
	}

	return tx.Commit()
}

// Observer adapts the store into a recorder seal hook. Writes happen on a
// separate goroutine and are best effort: a failed insert is logged, never
// surfaced to the flow.
func (s *Store) Observer(logger *slog.Logger) metrics.SealFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(run metrics.FlowRun) {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := s.RecordRun(ctx, run); err != nil {
				logger.Warn("failed to persist flow run", "flow", run.Flow, "error", err)
			}
		}()
	}
}

// RecentRuns returns the latest runs of one flow, newest first, steps
// included.
func (s *Store) RecentRuns(ctx context.Context, flow string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, flow, started_at, sealed_at, status
		FROM flow_runs
		WHERE flow = ?
		ORDER BY id DESC
		LIMIT ?
	`, flow, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		if err := rows.Scan(&run.ID, &run.Flow, &run.StartedAt, &run.SealedAt, &run.Status); err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range runs {
		steps, err := s.runSteps(ctx, runs[i].ID)
		if err != nil {
			return nil, err
		}
		runs[i].Steps = steps
	}
	return runs, nil
}

func (s *Store) runSteps(ctx context.Context, runID int64) ([]Step, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, latency_ms, ended_at, gas_used, gas_price, gas_cost
		FROM run_steps
		WHERE run_id = ?
		ORDER BY id
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var steps []Step
	for rows.Next() {
		var step Step
		if err := rows.Scan(&step.Name, &step.LatencyMs, &step.EndedAt, &step.GasUsed, &step.GasPrice, &step.GasCost); err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
	return steps, rows.Err()
}

// LatestStatuses returns the most recently sealed outcome of every flow.
func (s *Store) LatestStatuses(ctx context.Context) ([]FlowStatus, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT flow, status, sealed_at
		FROM flow_runs
		WHERE id IN (SELECT MAX(id) FROM flow_runs GROUP BY flow)
		ORDER BY flow
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var statuses []FlowStatus
	for rows.Next() {
		var fs FlowStatus
		if err := rows.Scan(&fs.Flow, &fs.Status, &fs.SealedAt); err != nil {
			return nil, err
		}
		statuses = append(statuses, fs)
	}
	return statuses, rows.Err()
}

// PruneBefore deletes runs sealed before the cutoff.
func (s *Store) PruneBefore(ctx context.Context, cutoff time.Time) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM flow_runs WHERE sealed_at < ?", cutoff)
	return err
}
