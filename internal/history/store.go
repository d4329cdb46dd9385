// Package history keeps a SQLite record of training runs and the report of
// every episode they produced.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"dqn-trader/internal/worker"
)

const (
	StatusRunning = "running"
	StatusDone    = "done"
	StatusError   = "error"
)

var ErrRunNotFound = errors.New("run not found")

type Store struct {
	db *sql.DB
}

type Run struct {
	ID       string
	Symbol   string
	Strategy string
	Seed     int64
	Status   string
}

type RunWithMeta struct {
	Run
	CreatedAt string
	UpdatedAt string
}

// Episode is one stored report. Profit round-trips exactly through its
// decimal text form.
type Episode struct {
	RunID      string
	Phase      worker.Phase
	Episode    int
	Profit     decimal.Decimal
	Reward     float64
	Buys       int
	Trades     int
	Wins       int
	Open       int
	Loss       float64
	TrainSteps int
	Epsilon    float64
}

func NewRunID() string {
	return uuid.NewString()
}

func Open(dbPath string) (*Store, error) {
	if strings.TrimSpace(dbPath) == "" {
		return nil, fmt.Errorf("db path is required")
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Pragmas are per connection.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA busy_timeout=3000;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma %s: %w", p, err)
		}
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func initSchema(db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    symbol TEXT NOT NULL,
    strategy TEXT NOT NULL,
    seed INTEGER NOT NULL,
    status TEXT NOT NULL,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS episodes (
    run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    phase TEXT NOT NULL,
    episode INTEGER NOT NULL,
    profit TEXT NOT NULL,
    reward REAL NOT NULL,
    buys INTEGER NOT NULL,
    trades INTEGER NOT NULL,
    wins INTEGER NOT NULL,
    open_positions INTEGER NOT NULL,
    loss REAL NOT NULL,
    train_steps INTEGER NOT NULL,
    epsilon REAL NOT NULL,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (run_id, phase, episode)
);
`

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

// CreateRun inserts run, assigning an id when it has none, and returns the id.
func (s *Store) CreateRun(ctx context.Context, run Run) (string, error) {
	if run.ID == "" {
		run.ID = NewRunID()
	}
	if run.Status == "" {
		run.Status = StatusRunning
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO runs (id, symbol, strategy, seed, status)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    symbol=excluded.symbol,
    strategy=excluded.strategy,
    seed=excluded.seed,
    status=excluded.status,
    updated_at=CURRENT_TIMESTAMP
`, run.ID, run.Symbol, run.Strategy, run.Seed, run.Status)
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}
	return run.ID, nil
}

// RecordEpisode stores report under runID. A report for the same phase and
// episode replaces the earlier one.
func (s *Store) RecordEpisode(ctx context.Context, runID string, report worker.Report) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO episodes (run_id, phase, episode, profit, reward, buys, trades, wins, open_positions, loss, train_steps, epsilon)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(run_id, phase, episode) DO UPDATE SET
    profit=excluded.profit,
    reward=excluded.reward,
    buys=excluded.buys,
    trades=excluded.trades,
    wins=excluded.wins,
    open_positions=excluded.open_positions,
    loss=excluded.loss,
    train_steps=excluded.train_steps,
    epsilon=excluded.epsilon
`, runID, string(report.Phase), report.Episode, report.Profit.String(), report.Reward,
		report.Buys, report.Trades, report.Wins, len(report.OpenPositions), report.Loss, report.TrainSteps, report.Epsilon)
	if err != nil {
		return fmt.Errorf("insert episode: %w", err)
	}
	return nil
}

func (s *Store) FinishRun(ctx context.Context, runID, status string) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE runs
SET status = ?, updated_at = CURRENT_TIMESTAMP
WHERE id = ?
`, status, runID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return fmt.Errorf("finish run %s: %w", runID, ErrRunNotFound)
	}
	return nil
}

func (s *Store) GetRun(ctx context.Context, runID string) (RunWithMeta, error) {
	var r RunWithMeta
	err := s.db.QueryRowContext(ctx, `
SELECT id, symbol, strategy, seed, status, created_at, updated_at
FROM runs
WHERE id = ?
`, runID).Scan(&r.ID, &r.Symbol, &r.Strategy, &r.Seed, &r.Status, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return r, fmt.Errorf("get run %s: %w", runID, ErrRunNotFound)
	}
	if err != nil {
		return r, fmt.Errorf("get run: %w", err)
	}
	return r, nil
}

// Episodes lists the stored reports of a run, training phase first, each
// phase in episode order.
func (s *Store) Episodes(ctx context.Context, runID string) ([]Episode, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT run_id, phase, episode, profit, reward, buys, trades, wins, open_positions, loss, train_steps, epsilon
FROM episodes
WHERE run_id = ?
ORDER BY CASE phase WHEN 'train' THEN 0 WHEN 'validate' THEN 1 ELSE 2 END, episode
`, runID)
	if err != nil {
		return nil, fmt.Errorf("query episodes: %w", err)
	}
	defer rows.Close()

	var out []Episode
	for rows.Next() {
		var (
			e      Episode
			phase  string
			profit string
		)
		if err := rows.Scan(&e.RunID, &phase, &e.Episode, &profit, &e.Reward, &e.Buys, &e.Trades, &e.Wins,
			&e.Open, &e.Loss, &e.TrainSteps, &e.Epsilon); err != nil {
			return nil, fmt.Errorf("scan episode: %w", err)
		}
		e.Phase = worker.Phase(phase)
		if e.Profit, err = decimal.NewFromString(profit); err != nil {
			return nil, fmt.Errorf("episode %d profit %q: %w", e.Episode, profit, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate episodes: %w", err)
	}
	return out, nil
}

// Runs lists every run, oldest first.
func (s *Store) Runs(ctx context.Context) ([]RunWithMeta, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, symbol, strategy, seed, status, created_at, updated_at
FROM runs
ORDER BY created_at, rowid
`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []RunWithMeta
	for rows.Next() {
		var r RunWithMeta
		if err := rows.Scan(&r.ID, &r.Symbol, &r.Strategy, &r.Seed, &r.Status, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return out, nil
}
