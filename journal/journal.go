// Package journal records protocol runs and their per-reagent distributions
// in a SQLite database.
package journal

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

// Run statuses.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Run is one execution of a protocol.
type Run struct {
	ID         string
	Name       string
	ConfigPath string
	Instrument string
	Status     string
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time

	// Aggregated over the run's distributions.
	Distributions int
	Dispensed     int
	TipsUsed      int
	Aspirated     float64
}

// Distribution is the outcome of dosing one reagent.
type Distribution struct {
	RunID      string
	Reagent    string
	Well       string
	Targets    int
	Dispensed  int
	Refills    int
	TipsUsed   int
	TouchTips  int
	Aspirated  float64
	Discarded  float64
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Journal is a handle on the run database.
type Journal struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	config_path TEXT,
	instrument TEXT,
	status TEXT NOT NULL,
	error TEXT,
	started_at INTEGER NOT NULL,
	finished_at INTEGER
);
CREATE TABLE IF NOT EXISTS distributions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL REFERENCES runs(id),
	reagent TEXT NOT NULL,
	well TEXT,
	targets INTEGER NOT NULL,
	dispensed INTEGER NOT NULL,
	refills INTEGER NOT NULL,
	tips_used INTEGER NOT NULL,
	touch_tips INTEGER NOT NULL,
	aspirated REAL NOT NULL,
	discarded REAL NOT NULL,
	error TEXT,
	started_at INTEGER NOT NULL,
	finished_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS distributions_run ON distributions(run_id);
`

// Open opens or creates the journal at path. ":memory:" keeps it in memory.
func Open(path string) (*Journal, error) {
	if path == "" {
		return nil, pkgerrors.New("journal: path must not be empty")
	}
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, pkgerrors.Wrapf(err, "journal: create dir %s failed", dir)
			}
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "journal: open sqlite database failed")
	}
	if err := configure(db); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, pkgerrors.Wrap(err, "journal: prepare schema failed")
	}
	return &Journal{db: db, path: path, now: time.Now}, nil
}

func configure(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return pkgerrors.Wrapf(err, "journal: execute %s failed", pragma)
		}
	}
	// One connection keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return nil
}

// Path returns the database location.
func (j *Journal) Path() string { return j.path }

// Close closes the database.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

// BeginRun inserts a run in StatusRunning and returns it.
func (j *Journal) BeginRun(ctx context.Context, name, configPath, instrument string) (Run, error) {
	run := Run{
		ID:         uuid.NewString(),
		Name:       name,
		ConfigPath: configPath,
		Instrument: instrument,
		Status:     StatusRunning,
		StartedAt:  j.now().UTC(),
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO runs (id, name, config_path, instrument, status, started_at) VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, run.Name, run.ConfigPath, run.Instrument, run.Status, run.StartedAt.UnixMilli())
	if err != nil {
		return Run{}, pkgerrors.Wrap(err, "journal: insert run failed")
	}
	return run, nil
}

// RecordDistribution appends a distribution to the run d.RunID.
func (j *Journal) RecordDistribution(ctx context.Context, d Distribution) error {
	if d.FinishedAt.IsZero() {
		d.FinishedAt = j.now()
	}
	if d.StartedAt.IsZero() {
		d.StartedAt = d.FinishedAt
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO distributions
			(run_id, reagent, well, targets, dispensed, refills, tips_used, touch_tips, aspirated, discarded, error, started_at, finished_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.RunID, d.Reagent, d.Well, d.Targets, d.Dispensed, d.Refills, d.TipsUsed, d.TouchTips,
		d.Aspirated, d.Discarded, d.Error, d.StartedAt.UnixMilli(), d.FinishedAt.UnixMilli())
	if err != nil {
		return pkgerrors.Wrapf(err, "journal: insert distribution of %s failed", d.Reagent)
	}
	return nil
}

// FinishRun sets the final status of a run. A non-nil runErr is stored with it.
func (j *Journal) FinishRun(ctx context.Context, runID, status string, runErr error) error {
	var message sql.NullString
	if runErr != nil {
		message = sql.NullString{String: runErr.Error(), Valid: true}
	}
	res, err := j.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = ?, finished_at = ? WHERE id = ?`,
		status, message, j.now().UTC().UnixMilli(), runID)
	if err != nil {
		return pkgerrors.Wrapf(err, "journal: finish run %s failed", runID)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return pkgerrors.Errorf("journal: run %s not found", runID)
	}
	return nil
}

// Runs returns the most recent runs first. limit <= 0 returns all runs.
func (j *Journal) Runs(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT r.id, r.name, COALESCE(r.config_path, ''), COALESCE(r.instrument, ''), r.status,
			COALESCE(r.error, ''), r.started_at, r.finished_at,
			COUNT(d.id), COALESCE(SUM(d.dispensed), 0), COALESCE(SUM(d.tips_used), 0), COALESCE(SUM(d.aspirated), 0)
		FROM runs r LEFT JOIN distributions d ON d.run_id = r.id
		GROUP BY r.id
		ORDER BY r.started_at DESC, r.rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "journal: query runs failed")
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			run      Run
			started  int64
			finished sql.NullInt64
		)
		if err := rows.Scan(&run.ID, &run.Name, &run.ConfigPath, &run.Instrument, &run.Status, &run.Error,
			&started, &finished, &run.Distributions, &run.Dispensed, &run.TipsUsed, &run.Aspirated); err != nil {
			return nil, pkgerrors.Wrap(err, "journal: scan run failed")
		}
		run.StartedAt = time.UnixMilli(started).UTC()
		if finished.Valid {
			run.FinishedAt = time.UnixMilli(finished.Int64).UTC()
		}
		runs = append(runs, run)
	}
	return runs, pkgerrors.Wrap(rows.Err(), "journal: iterate runs failed")
}

// Distributions returns the distributions of a run in recording order.
func (j *Journal) Distributions(ctx context.Context, runID string) ([]Distribution, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT run_id, reagent, COALESCE(well, ''), targets, dispensed, refills, tips_used, touch_tips,
			aspirated, discarded, COALESCE(error, ''), started_at, finished_at
		FROM distributions WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "journal: query distributions failed")
	}
	defer rows.Close()

	var out []Distribution
	for rows.Next() {
		var (
			d                 Distribution
			started, finished int64
		)
		if err := rows.Scan(&d.RunID, &d.Reagent, &d.Well, &d.Targets, &d.Dispensed, &d.Refills, &d.TipsUsed,
			&d.TouchTips, &d.Aspirated, &d.Discarded, &d.Error, &started, &finished); err != nil {
			return nil, pkgerrors.Wrap(err, "journal: scan distribution failed")
		}
		d.StartedAt = time.UnixMilli(started).UTC()
		d.FinishedAt = time.UnixMilli(finished).UTC()
		out = append(out, d)
	}
	return out, pkgerrors.Wrap(rows.Err(), "journal: iterate distributions failed")
}
