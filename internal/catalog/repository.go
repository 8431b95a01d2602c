package catalog

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

type Repository interface {
	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	GetLatestRun(ctx context.Context, videoID string) (*Run, error)
	ListRuns(ctx context.Context, limit int) ([]*Run, error)
	ListRunsByVideo(ctx context.Context, videoID string, limit int) ([]*Run, error)
	FinishRun(ctx context.Context, id, status string, snippetCount int, errorMsg string, finishedAt time.Time) error
}

type SQLiteRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const runColumns = `id, video_id, video_path, status, snippet_count, error, started_at, finished_at`

func (r *SQLiteRepository) CreateRun(ctx context.Context, run *Run) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO runs (id, video_id, video_path, status, snippet_count, error, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.VideoID, run.VideoPath, run.Status, run.SnippetCount, nullString(run.Error), formatTime(run.StartedAt))
	return err
}

// GetRun returns nil when no run has id.
func (r *SQLiteRepository) GetRun(ctx context.Context, id string) (*Run, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	return scanRun(row)
}

// GetLatestRun returns nil when the video has never run.
func (r *SQLiteRepository) GetLatestRun(ctx context.Context, videoID string) (*Run, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+runColumns+` FROM runs WHERE video_id = ?
		ORDER BY started_at DESC, rowid DESC LIMIT 1
	`, videoID)
	return scanRun(row)
}

func (r *SQLiteRepository) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRuns(rows)
}

func (r *SQLiteRepository) ListRunsByVideo(ctx context.Context, videoID string, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+runColumns+` FROM runs WHERE video_id = ?
		ORDER BY started_at DESC, rowid DESC LIMIT ?
	`, videoID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRuns(rows)
}

func (r *SQLiteRepository) FinishRun(ctx context.Context, id, status string, snippetCount int, errorMsg string, finishedAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, snippet_count = ?, error = ?, finished_at = ? WHERE id = ?
	`, status, snippetCount, nullString(errorMsg), formatTime(finishedAt), id)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var run Run
	var errMsg, finishedAt sql.NullString
	var startedAt string

	err := row.Scan(&run.ID, &run.VideoID, &run.VideoPath, &run.Status, &run.SnippetCount, &errMsg, &startedAt, &finishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	run.Error = errMsg.String
	run.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
	if finishedAt.Valid {
		if t, err := time.Parse(time.RFC3339Nano, finishedAt.String); err == nil {
			run.FinishedAt = &t
		}
	}
	return &run, nil
}

func scanRuns(rows *sql.Rows) ([]*Run, error) {
	runs := []*Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
