// Package storage persists probe outcomes, health transitions, and closed
// metrics windows to SQLite. The core treats it as a write-mostly sink;
// reads serve the API and CLI.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kindredcircl/healthd/internal/health"
	"github.com/kindredcircl/healthd/internal/metrics"
	"github.com/kindredcircl/healthd/internal/probe"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS probes (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    target      TEXT    NOT NULL,
    success     INTEGER NOT NULL,
    error_kind  TEXT    NOT NULL DEFAULT '',
    detail      TEXT    NOT NULL DEFAULT '',
    latency_ms  INTEGER NOT NULL,
    probed_at   TEXT    NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_probes_target ON probes(target);
CREATE INDEX IF NOT EXISTS idx_probes_target_probed ON probes(target, probed_at DESC);

CREATE TABLE IF NOT EXISTS transitions (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    target      TEXT    NOT NULL,
    from_status TEXT    NOT NULL,
    to_status   TEXT    NOT NULL,
    failures    INTEGER NOT NULL,
    occurred_at TEXT    NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transitions_target ON transitions(target, occurred_at DESC);

CREATE TABLE IF NOT EXISTS windows (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    target       TEXT    NOT NULL,
    window_start TEXT    NOT NULL,
    window_end   TEXT    NOT NULL,
    count        INTEGER NOT NULL,
    success_count INTEGER NOT NULL,
    total_latency_ms INTEGER NOT NULL,
    errors       TEXT    NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_windows_target ON windows(target, window_start DESC);
`

// Probe is a stored probe outcome.
type Probe struct {
	ID        int64     `json:"id"`
	Target    string    `json:"target"`
	Success   bool      `json:"success"`
	ErrorKind string    `json:"error_kind"`
	Detail    string    `json:"detail"`
	LatencyMs int64     `json:"latency_ms"`
	ProbedAt  time.Time `json:"probed_at"`
}

// Transition is a stored health state transition.
type Transition struct {
	ID         int64     `json:"id"`
	Target     string    `json:"target"`
	FromStatus string    `json:"from_status"`
	ToStatus   string    `json:"to_status"`
	Failures   uint      `json:"failures"`
	OccurredAt time.Time `json:"occurred_at"`
}

// DB wraps a SQLite database.
type DB struct {
	db *sql.DB
}

// Open opens (or creates) the SQLite database at path and applies the schema.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite at %q: %w", path, err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA cache_size=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying pragma %q: %w", p, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &DB{db: db}, nil
}

// Close closes the underlying database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

// InsertOutcome persists a probe outcome.
func (d *DB) InsertOutcome(ctx context.Context, out probe.Outcome) error {
	success := 0
	if out.Success {
		success = 1
	}
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO probes (target, success, error_kind, detail, latency_ms, probed_at) VALUES (?, ?, ?, ?, ?, ?)`,
		out.TargetID,
		success,
		string(out.ErrorKind),
		out.Detail,
		out.Latency.Milliseconds(),
		out.ProbedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting probe for %q: %w", out.TargetID, err)
	}
	return nil
}

// InsertTransition persists a health state transition.
func (d *DB) InsertTransition(ctx context.Context, ev health.Event) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO transitions (target, from_status, to_status, failures, occurred_at) VALUES (?, ?, ?, ?, ?)`,
		ev.TargetID,
		string(ev.From),
		string(ev.To),
		ev.ConsecutiveFailures,
		ev.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting transition for %q: %w", ev.TargetID, err)
	}
	return nil
}

// InsertWindow persists a closed metrics window.
func (d *DB) InsertWindow(ctx context.Context, w metrics.Window) error {
	errJSON, err := json.Marshal(w.Errors)
	if err != nil {
		return fmt.Errorf("marshaling error histogram for %q: %w", w.TargetID, err)
	}
	_, err = d.db.ExecContext(ctx,
		`INSERT INTO windows (target, window_start, window_end, count, success_count, total_latency_ms, errors) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		w.TargetID,
		w.Start.UTC().Format(time.RFC3339Nano),
		w.End.UTC().Format(time.RFC3339Nano),
		w.Count,
		w.SuccessCount,
		w.TotalLatency.Milliseconds(),
		string(errJSON),
	)
	if err != nil {
		return fmt.Errorf("inserting window for %q: %w", w.TargetID, err)
	}
	return nil
}

// LatestOutcome returns the most recent probe for the given target, or nil
// if none.
func (d *DB) LatestOutcome(ctx context.Context, target string) (*Probe, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT id, target, success, error_kind, detail, latency_ms, probed_at FROM probes WHERE target = ? ORDER BY probed_at DESC LIMIT 1`,
		target,
	)
	p, err := scanProbe(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying latest probe for %q: %w", target, err)
	}
	return p, nil
}

// TargetHistory returns paginated probe history for a target plus the total count.
func (d *DB) TargetHistory(ctx context.Context, target string, limit, offset int) ([]Probe, int, error) {
	var total int
	err := d.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM probes WHERE target = ?`, target,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("counting probes for %q: %w", target, err)
	}

	rows, err := d.db.QueryContext(ctx,
		`SELECT id, target, success, error_kind, detail, latency_ms, probed_at FROM probes WHERE target = ? ORDER BY probed_at DESC LIMIT ? OFFSET ?`,
		target, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("querying history for %q: %w", target, err)
	}
	defer rows.Close()

	probes, err := scanProbes(rows)
	if err != nil {
		return nil, 0, err
	}
	return probes, total, nil
}

// AllLatest returns the most recent probe for each target.
func (d *DB) AllLatest(ctx context.Context) ([]Probe, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, target, success, error_kind, detail, latency_ms, probed_at
		FROM probes
		WHERE id IN (
			SELECT MAX(id) FROM probes GROUP BY target
		)
		ORDER BY target
	`)
	if err != nil {
		return nil, fmt.Errorf("querying all latest: %w", err)
	}
	defer rows.Close()
	return scanProbes(rows)
}

// UptimePercent returns the percentage of successful probes in the last N
// probes for a target.
func (d *DB) UptimePercent(ctx context.Context, target string, last int) (float64, error) {
	var total int
	var successes sql.NullInt64
	err := d.db.QueryRowContext(ctx, `
		SELECT COUNT(*), SUM(success)
		FROM (
			SELECT success FROM probes WHERE target = ? ORDER BY probed_at DESC LIMIT ?
		)
	`, target, last).Scan(&total, &successes)
	if err != nil {
		return 0, fmt.Errorf("calculating uptime for %q: %w", target, err)
	}
	if total == 0 {
		return 0, nil
	}
	return float64(successes.Int64) / float64(total) * 100, nil
}

// Transitions returns the most recent state transitions for a target.
func (d *DB) Transitions(ctx context.Context, target string, limit int) ([]Transition, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, target, from_status, to_status, failures, occurred_at FROM transitions WHERE target = ? ORDER BY occurred_at DESC LIMIT ?`,
		target, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying transitions for %q: %w", target, err)
	}
	defer rows.Close()

	var out []Transition
	for rows.Next() {
		var t Transition
		var occurred string
		if err := rows.Scan(&t.ID, &t.Target, &t.FromStatus, &t.ToStatus, &t.Failures, &occurred); err != nil {
			return nil, fmt.Errorf("scanning transition row: %w", err)
		}
		ts, err := parseTime(occurred)
		if err != nil {
			return nil, err
		}
		t.OccurredAt = ts
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating transition rows: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProbe(row scanner) (*Probe, error) {
	var p Probe
	var success int
	var probedAt string
	err := row.Scan(&p.ID, &p.Target, &success, &p.ErrorKind, &p.Detail, &p.LatencyMs, &probedAt)
	if err != nil {
		return nil, err
	}
	p.Success = success != 0
	t, err := parseTime(probedAt)
	if err != nil {
		return nil, err
	}
	p.ProbedAt = t
	return &p, nil
}

func scanProbes(rows *sql.Rows) ([]Probe, error) {
	var probes []Probe
	for rows.Next() {
		p, err := scanProbe(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning probe row: %w", err)
		}
		probes = append(probes, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating probe rows: %w", err)
	}
	return probes, nil
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		// Fallback to RFC3339 without sub-second precision.
		t, err = time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
		}
	}
	return t, nil
}
