package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/joescharf/hoist/internal/models"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// One writer at a time; a second hoist process waits on busy_timeout.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

func newULID() string {
	entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(entropy, 0)).String()
}

// Migrate runs all embedded SQL migration files in order.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()

		var count int
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", name).Scan(&count); err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Runs ---

const runColumns = `id, repo_url, branch, host, ssh_user, app_port, app_name, method, commit_hash, status, failed_stage, error, log_path, started_at, ended_at`

func (s *SQLiteStore) CreateRun(ctx context.Context, run *models.Run) error {
	if run.ID == "" {
		run.ID = newULID()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	if run.Status == "" {
		run.Status = models.RunStatusRunning
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (`+runColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.RepoURL, run.Branch, run.Host, run.SSHUser, run.AppPort, run.AppName,
		string(run.Method), run.Commit, string(run.Status), string(run.FailedStage), run.Error,
		run.LogPath, run.StartedAt, run.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateRun(ctx context.Context, run *models.Run) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE runs SET method=?, commit_hash=?, status=?, failed_stage=?, error=?, log_path=?, ended_at=? WHERE id=?`,
		string(run.Method), run.Commit, string(run.Status), string(run.FailedStage), run.Error,
		run.LogPath, run.EndedAt, run.ID,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s: %w", run.ID, ErrNotFound)
	}
	return nil
}

// GetRun looks a run up by its full ID or by a unique ID prefix.
func (s *SQLiteStore) GetRun(ctx context.Context, idOrPrefix string) (*models.Run, error) {
	if idOrPrefix == "" {
		return nil, fmt.Errorf("run id is empty")
	}

	runs, err := s.queryRuns(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, idOrPrefix)
	if err != nil {
		return nil, err
	}
	if len(runs) == 1 {
		return runs[0], nil
	}

	runs, err = s.queryRuns(ctx,
		`SELECT `+runColumns+` FROM runs WHERE id LIKE ? ORDER BY started_at DESC LIMIT 2`,
		idOrPrefix+"%")
	if err != nil {
		return nil, err
	}
	switch len(runs) {
	case 0:
		return nil, fmt.Errorf("run %s: %w", idOrPrefix, ErrNotFound)
	case 1:
		return runs[0], nil
	default:
		return nil, fmt.Errorf("run %s: %w", idOrPrefix, ErrAmbiguous)
	}
}

// ListRuns returns the newest runs first, optionally for one host.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int, host string) ([]*models.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs`
	var args []any

	if host != "" {
		query += " WHERE host = ?"
		args = append(args, host)
	}
	query += " ORDER BY started_at DESC, id DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	return s.queryRuns(ctx, query, args...)
}

func (s *SQLiteStore) DeleteRun(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM runs WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) queryRuns(ctx context.Context, query string, args ...any) ([]*models.Run, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []*models.Run
	for rows.Next() {
		run := &models.Run{}
		var method, status, failedStage string
		var endedAt sql.NullTime

		if err := rows.Scan(&run.ID, &run.RepoURL, &run.Branch, &run.Host, &run.SSHUser,
			&run.AppPort, &run.AppName, &method, &run.Commit, &status, &failedStage,
			&run.Error, &run.LogPath, &run.StartedAt, &endedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}

		run.Method = models.Method(method)
		run.Status = models.RunStatus(status)
		run.FailedStage = models.Stage(failedStage)
		if endedAt.Valid {
			run.EndedAt = &endedAt.Time
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// --- Stage results ---

func (s *SQLiteStore) AddStageResult(ctx context.Context, r *models.StageResult) error {
	if r.RunID == "" {
		return errors.New("add stage result: run id is empty")
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO stage_results (run_id, stage, status, detail, started_at, ended_at) VALUES (?, ?, ?, ?, ?, ?)`,
		r.RunID, string(r.Stage), string(r.Status), r.Detail, r.StartedAt, r.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("add stage result: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		r.ID = id
	}
	return nil
}

func (s *SQLiteStore) ListStageResults(ctx context.Context, runID string) ([]*models.StageResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, stage, status, detail, started_at, ended_at FROM stage_results WHERE run_id = ? ORDER BY id`,
		runID)
	if err != nil {
		return nil, fmt.Errorf("list stage results: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var results []*models.StageResult
	for rows.Next() {
		r := &models.StageResult{}
		var stage, status string
		if err := rows.Scan(&r.ID, &r.RunID, &stage, &status, &r.Detail, &r.StartedAt, &r.EndedAt); err != nil {
			return nil, fmt.Errorf("scan stage result: %w", err)
		}
		r.Stage = models.Stage(stage)
		r.Status = models.StageStatus(status)
		results = append(results, r)
	}
	return results, rows.Err()
}
