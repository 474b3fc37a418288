package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"curator/internal/config"
)

// Store manages run persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the ledger database and applies migrations.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := filepath.Join(cfg.Paths.LogDir, "ledger.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.applyMigrations(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// NewRun inserts a pending run for an orchestrator operation.
func (s *Store) NewRun(ctx context.Context, op OpKind, caseKey, sourceDir string) (*Run, error) {
	if op == "" {
		return nil, errors.New("op is required")
	}
	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)

	res, err := s.db.ExecContext(
		ctx,
		`INSERT INTO runs (
            op, status, case_key, source_dir, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?)`,
		string(op),
		StatusPending,
		nullableString(caseKey),
		nullableString(sourceDir),
		timestamp,
		timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}

	return s.GetByID(ctx, id)
}

// GetByID fetches a run by identifier.
func (s *Store) GetByID(ctx context.Context, id int64) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// LatestByCaseKey returns the most recent run recorded for a case key.
func (s *Store) LatestByCaseKey(ctx context.Context, caseKey string) (*Run, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+runColumns+` FROM runs WHERE case_key = ? ORDER BY id DESC LIMIT 1`,
		caseKey,
	)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest by case key: %w", err)
	}
	return run, nil
}

// Update persists changes to an existing run.
func (s *Store) Update(ctx context.Context, run *Run) error {
	if run == nil {
		return errors.New("run is nil")
	}
	run.UpdatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE runs
         SET op = ?, status = ?, case_key = ?, subject_uid = ?, experiment = ?,
             scan_index = ?, source_dir = ?, file_count = ?, committed_count = ?,
             skipped_count = ?, committed_json = ?, skipped_json = ?,
             error_message = ?, updated_at = ?
         WHERE id = ?`,
		string(run.Op),
		run.Status,
		nullableString(run.CaseKey),
		nullableString(run.SubjectUID),
		nullableString(run.Experiment),
		nullableString(run.ScanIndex),
		nullableString(run.SourceDir),
		run.FileCount,
		run.CommittedCount,
		run.SkippedCount,
		nullableString(run.CommittedJSON),
		nullableString(run.SkippedJSON),
		nullableString(run.ErrorMessage),
		run.UpdatedAt.Format(time.RFC3339Nano),
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	return nil
}

// SetStatus transitions a run and persists the change in one step.
func (s *Store) SetStatus(ctx context.Context, run *Run, status Status) error {
	if run == nil {
		return errors.New("run is nil")
	}
	run.Status = status
	return s.Update(ctx, run)
}

// List returns runs filtered by status set (or all runs when no status is provided).
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Run, error) {
	var (
		rows *sql.Rows
		err  error
	)

	baseQuery := `SELECT ` + runColumns + ` FROM runs`
	orderClause := ` ORDER BY created_at`

	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(statuses))
		args := make([]any, len(statuses))
		for i, status := range statuses {
			args[i] = status
		}
		query := baseQuery + ` WHERE status IN (` + placeholders + `)` + orderClause
		rows, err = s.db.QueryContext(ctx, query, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// StuckCommitted returns runs that reached committed without syncing before
// the cutoff. These feed the reconcile pass.
func (s *Store) StuckCommitted(ctx context.Context, cutoff time.Time) ([]*Run, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+runColumns+` FROM runs WHERE status = ? AND updated_at < ? ORDER BY created_at`,
		StatusCommitted,
		cutoff.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("query stuck runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Stats returns a count of runs grouped by status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM runs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("ledger stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// Health aggregates ledger state for diagnostic output.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return HealthSummary{}, err
	}
	health := HealthSummary{}
	for status, count := range stats {
		health.Total += count
		switch status {
		case StatusSynced, StatusCompleted:
			health.Synced += count
		case StatusReview:
			health.Review += count
		case StatusFailed:
			health.Failed += count
		case StatusCommitted:
			health.Stuck += count
			health.Active += count
		default:
			health.Active += count
		}
	}
	return health, nil
}

// TrimTerminal deletes terminal runs last updated before the cutoff.
func (s *Store) TrimTerminal(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(
		ctx,
		`DELETE FROM runs WHERE status IN (?, ?, ?, ?) AND updated_at < ?`,
		StatusSynced,
		StatusCompleted,
		StatusReview,
		StatusFailed,
		cutoff.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("trim terminal runs: %w", err)
	}
	return res.RowsAffected()
}

const runColumns = "id, op, status, case_key, subject_uid, experiment, scan_index, source_dir, file_count, committed_count, skipped_count, committed_json, skipped_json, error_message, created_at, updated_at"

func scanRun(scanner interface{ Scan(dest ...any) error }) (*Run, error) {
	var (
		id             int64
		opStr          string
		statusStr      string
		caseKey        sql.NullString
		subjectUID     sql.NullString
		experiment     sql.NullString
		scanIndex      sql.NullString
		sourceDir      sql.NullString
		fileCount      sql.NullInt64
		committedCount sql.NullInt64
		skippedCount   sql.NullInt64
		committedJSON  sql.NullString
		skippedJSON    sql.NullString
		errorMessage   sql.NullString
		createdRaw     sql.NullString
		updatedRaw     sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&opStr,
		&statusStr,
		&caseKey,
		&subjectUID,
		&experiment,
		&scanIndex,
		&sourceDir,
		&fileCount,
		&committedCount,
		&skippedCount,
		&committedJSON,
		&skippedJSON,
		&errorMessage,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	run := &Run{
		ID:             id,
		Op:             OpKind(opStr),
		Status:         Status(statusStr),
		CaseKey:        caseKey.String,
		SubjectUID:     subjectUID.String,
		Experiment:     experiment.String,
		ScanIndex:      scanIndex.String,
		SourceDir:      sourceDir.String,
		FileCount:      int(fileCount.Int64),
		CommittedCount: int(committedCount.Int64),
		SkippedCount:   int(skippedCount.Int64),
		CommittedJSON:  committedJSON.String,
		SkippedJSON:    skippedJSON.String,
		ErrorMessage:   errorMessage.String,
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		run.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		run.UpdatedAt = updated
	}
	return run, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
