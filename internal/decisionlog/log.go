package decisionlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/albertklubabot-sketch/gie20/internal/domain"
)

// Log is the durable decision log. Every decision is written before its
// action is emitted, so no selected action is ever un-auditable, and the
// log survives process restart.
type Log struct {
	db *sql.DB
}

// Open opens (or creates) the decision log at path.
func Open(path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir decision log dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // sqlite: single connection is the stable setup
	db.SetMaxIdleConns(1)

	l := &Log{db: db}
	if err := l.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return l, nil
}

func (l *Log) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

func (l *Log) migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`
CREATE TABLE IF NOT EXISTS decisions (
  id TEXT PRIMARY KEY,
  ts TEXT NOT NULL,
  signal_json TEXT NOT NULL,
  selected_engine TEXT NOT NULL,
  selected_action TEXT NOT NULL,
  selected_json TEXT NOT NULL,
  proposals_json TEXT NOT NULL,
  status TEXT NOT NULL,
  degraded INTEGER NOT NULL DEFAULT 0,
  reward TEXT,
  resolved_at TEXT
);`,
		`CREATE INDEX IF NOT EXISTS idx_decisions_ts ON decisions(ts DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_decisions_status ON decisions(status);`,
		`CREATE INDEX IF NOT EXISTS idx_decisions_engine ON decisions(selected_engine);`,
	}
	for _, stmt := range stmts {
		if _, err := l.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate decision log: %w", err)
		}
	}
	return nil
}

// Insert persists a freshly arbitrated decision in pending_outcome status.
func (l *Log) Insert(ctx context.Context, d domain.Decision) error {
	signalB, err := json.Marshal(d.Signal)
	if err != nil {
		return err
	}
	selectedB, err := json.Marshal(d.Selected)
	if err != nil {
		return err
	}
	proposalsB, err := json.Marshal(d.Proposals)
	if err != nil {
		return err
	}
	degraded := 0
	if d.Degraded {
		degraded = 1
	}
	_, err = l.db.ExecContext(ctx, `
INSERT INTO decisions (id,ts,signal_json,selected_engine,selected_action,selected_json,proposals_json,status,degraded)
VALUES (?,?,?,?,?,?,?,?,?)
`, d.ID, d.Timestamp.UTC().Format(time.RFC3339Nano), string(signalB),
		d.Selected.EngineID, string(d.Selected.Action), string(selectedB),
		string(proposalsB), string(d.Status), degraded)
	if err != nil {
		return fmt.Errorf("insert decision: %w", err)
	}
	return nil
}

// Get returns the decision with the given id, or nil when unknown.
func (l *Log) Get(ctx context.Context, id string) (*domain.Decision, error) {
	row := l.db.QueryRowContext(ctx, `
SELECT id,ts,signal_json,selected_json,proposals_json,status,degraded
FROM decisions WHERE id=?
`, id)
	d, err := scanDecision(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return d, nil
}

// ClaimResolved flips the decision to resolved and records the reward, but
// only from pending_outcome. Returns false when the decision was already
// resolved (or does not exist); the status guard in the UPDATE is what
// makes resolution first-wins.
func (l *Log) ClaimResolved(ctx context.Context, id string, reward decimal.Decimal, at time.Time) (bool, error) {
	res, err := l.db.ExecContext(ctx, `
UPDATE decisions SET status=?, reward=?, resolved_at=?
WHERE id=? AND status=?
`, string(domain.StatusResolved), reward.String(), at.UTC().Format(time.RFC3339Nano),
		id, string(domain.StatusPendingOutcome))
	if err != nil {
		return false, fmt.Errorf("resolve decision: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Recent returns the newest decisions, newest first.
func (l *Log) Recent(ctx context.Context, limit int) ([]domain.Decision, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := l.db.QueryContext(ctx, `
SELECT id,ts,signal_json,selected_json,proposals_json,status,degraded
FROM decisions ORDER BY ts DESC LIMIT ?
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

// Counts returns how many decisions are pending and resolved.
func (l *Log) Counts(ctx context.Context) (pending, resolved int64, err error) {
	row := l.db.QueryRowContext(ctx, `
SELECT
  COALESCE(SUM(CASE WHEN status=? THEN 1 ELSE 0 END), 0),
  COALESCE(SUM(CASE WHEN status=? THEN 1 ELSE 0 END), 0)
FROM decisions
`, string(domain.StatusPendingOutcome), string(domain.StatusResolved))
	if err := row.Scan(&pending, &resolved); err != nil {
		return 0, 0, err
	}
	return pending, resolved, nil
}

// EngineStat aggregates one engine's resolved decisions.
type EngineStat struct {
	EngineID  string  `json:"engine_id"`
	Selected  int64   `json:"selected"`
	Resolved  int64   `json:"resolved"`
	AvgReward float64 `json:"avg_reward"`
}

// EngineStats returns per-engine selection counts and average realized
// reward, the effectiveness view the hive monitor renders.
func (l *Log) EngineStats(ctx context.Context) ([]EngineStat, error) {
	rows, err := l.db.QueryContext(ctx, `
SELECT selected_engine,
  COUNT(*),
  SUM(CASE WHEN status=? THEN 1 ELSE 0 END),
  COALESCE(AVG(CASE WHEN status=? THEN CAST(reward AS REAL) END), 0)
FROM decisions
GROUP BY selected_engine ORDER BY selected_engine
`, string(domain.StatusResolved), string(domain.StatusResolved))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EngineStat
	for rows.Next() {
		var st EngineStat
		if err := rows.Scan(&st.EngineID, &st.Selected, &st.Resolved, &st.AvgReward); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDecision(row rowScanner) (*domain.Decision, error) {
	var d domain.Decision
	var ts, signalJSON, selectedJSON, proposalsJSON, status string
	var degraded int
	if err := row.Scan(&d.ID, &ts, &signalJSON, &selectedJSON, &proposalsJSON, &status, &degraded); err != nil {
		return nil, err
	}
	var err error
	if d.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(signalJSON), &d.Signal); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(selectedJSON), &d.Selected); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(proposalsJSON), &d.Proposals); err != nil {
		return nil, err
	}
	d.Status = domain.DecisionStatus(status)
	d.Degraded = degraded == 1
	return &d, nil
}
