// Package journal keeps a local record of agent runs and their pipeline
// steps in SQLite. The journal is bookkeeping only: callers treat write
// failures as warnings and never let them interfere with startup.
package journal

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type Run struct {
	ID         string
	InstanceID string
	Hostname   string
	Port       int
	AppDir     string
	StartedAt  time.Time
	FinishedAt time.Time
	ExitCode   int
	Error      string
}

type Step struct {
	RunID      string
	Name       string
	Status     string
	Detail     string
	Duration   time.Duration
	RecordedAt time.Time
}

type Journal struct {
	db *sql.DB
}

func Open(dbPath string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create journal dir: %w", err)
	}
	// Enable WAL mode and busy timeout for better concurrency
	dsn := dbPath + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	// Limit connections to avoid contention
	db.SetMaxOpenConns(1)
	return &Journal{db: db}, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

func (j *Journal) Migrate() error {
	_, err := j.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at DATETIME NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to read migrations: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		version := entry.Name()

		var exists int
		err := j.db.QueryRow("SELECT 1 FROM schema_migrations WHERE version = ?", version).Scan(&exists)
		if err == nil {
			continue
		}
		if err != sql.ErrNoRows {
			return fmt.Errorf("failed to check migration %s: %w", version, err)
		}

		content, err := fs.ReadFile(migrationsFS, "migrations/"+version)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", version, err)
		}

		if _, err := j.db.Exec(string(content)); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", version, err)
		}

		if _, err := j.db.Exec("INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)", version, time.Now()); err != nil {
			return fmt.Errorf("failed to record migration %s: %w", version, err)
		}
	}

	return nil
}

func (j *Journal) StartRun(run *Run) error {
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	_, err := j.db.Exec(
		`INSERT INTO runs (id, instance_id, hostname, port, app_dir, started_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, run.InstanceID, run.Hostname, run.Port, run.AppDir, run.StartedAt,
	)
	return err
}

func (j *Journal) FinishRun(runID string, exitCode int, runErr error) error {
	errMsg := ""
	if runErr != nil {
		errMsg = runErr.Error()
	}
	_, err := j.db.Exec(
		`UPDATE runs SET finished_at = ?, exit_code = ?, error = ? WHERE id = ?`,
		time.Now(), exitCode, errMsg, runID,
	)
	return err
}

func (j *Journal) RecordStep(step *Step) error {
	if step.RecordedAt.IsZero() {
		step.RecordedAt = time.Now()
	}
	_, err := j.db.Exec(
		`INSERT INTO steps (run_id, name, status, detail, duration_ms, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		step.RunID, step.Name, step.Status, step.Detail, step.Duration.Milliseconds(), step.RecordedAt,
	)
	return err
}

func (j *Journal) GetRuns(limit int) ([]*Run, error) {
	rows, err := j.db.Query(
		`SELECT id, instance_id, hostname, port, app_dir, started_at, finished_at, exit_code, error
		 FROM runs ORDER BY started_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := make([]*Run, 0)
	for rows.Next() {
		var run Run
		var hostname, appDir, errMsg sql.NullString
		var finishedAt sql.NullTime
		var exitCode sql.NullInt64
		err := rows.Scan(&run.ID, &run.InstanceID, &hostname, &run.Port, &appDir, &run.StartedAt, &finishedAt, &exitCode, &errMsg)
		if err != nil {
			return nil, err
		}
		run.Hostname = hostname.String
		run.AppDir = appDir.String
		run.Error = errMsg.String
		if finishedAt.Valid {
			run.FinishedAt = finishedAt.Time
		}
		if exitCode.Valid {
			run.ExitCode = int(exitCode.Int64)
		}
		runs = append(runs, &run)
	}
	return runs, rows.Err()
}

func (j *Journal) GetSteps(runID string) ([]*Step, error) {
	rows, err := j.db.Query(
		`SELECT run_id, name, status, detail, duration_ms, recorded_at
		 FROM steps WHERE run_id = ? ORDER BY id`, runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	steps := make([]*Step, 0)
	for rows.Next() {
		var step Step
		var detail sql.NullString
		var durationMS int64
		err := rows.Scan(&step.RunID, &step.Name, &step.Status, &detail, &durationMS, &step.RecordedAt)
		if err != nil {
			return nil, err
		}
		step.Detail = detail.String
		step.Duration = time.Duration(durationMS) * time.Millisecond
		steps = append(steps, &step)
	}
	return steps, rows.Err()
}
