package jobs

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/mama/internal/store"
)

// SQLStore persists jobs through the durable store.
type SQLStore struct {
	db *store.Store
}

// NewSQLStore wraps a durable store as a job Store.
func NewSQLStore(db *store.Store) *SQLStore {
	return &SQLStore{db: db}
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339Nano)
}

func parseTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *SQLStore) Create(ctx context.Context, job *Job) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	if job.Status == "" {
		job.Status = StatusQueued
	}

	var resultContent sql.NullString
	var resultIsError sql.NullBool
	if job.Result != nil {
		resultContent = sql.NullString{String: job.Result.Content, Valid: true}
		resultIsError = sql.NullBool{Bool: job.Result.IsError, Valid: true}
	}

	_, err := s.db.Run(ctx, `
		INSERT INTO tool_jobs
			(id, tool_call_id, tool_name, status, params, result_content, result_is_error, error, created_at, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.ToolCallID, job.ToolName, string(job.Status), job.Params,
		resultContent, resultIsError, job.Error,
		job.CreatedAt.Format(time.RFC3339Nano), formatTimePtr(job.StartedAt), formatTimePtr(job.FinishedAt))
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *SQLStore) Update(ctx context.Context, job *Job) error {
	var resultContent sql.NullString
	var resultIsError sql.NullBool
	if job.Result != nil {
		resultContent = sql.NullString{String: job.Result.Content, Valid: true}
		resultIsError = sql.NullBool{Bool: job.Result.IsError, Valid: true}
	}

	res, err := s.db.Run(ctx, `
		UPDATE tool_jobs
		SET tool_call_id = ?, tool_name = ?, status = ?, params = ?, result_content = ?,
			result_is_error = ?, error = ?, started_at = ?, finished_at = ?
		WHERE id = ?`,
		job.ToolCallID, job.ToolName, string(job.Status), job.Params,
		resultContent, resultIsError, job.Error,
		formatTimePtr(job.StartedAt), formatTimePtr(job.FinishedAt), job.ID)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("update job: job %s not found", job.ID)
	}
	return nil
}

func scanJob(scan func(dest ...any) error) (*Job, error) {
	var j Job
	var status, createdAt string
	var startedAt, finishedAt sql.NullString
	var resultContent sql.NullString
	var resultIsError sql.NullBool

	if err := scan(&j.ID, &j.ToolCallID, &j.ToolName, &status, &j.Params,
		&resultContent, &resultIsError, &j.Error, &createdAt, &startedAt, &finishedAt); err != nil {
		return nil, err
	}

	j.Status = Status(status)
	created, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, err
	}
	j.CreatedAt = created

	if j.StartedAt, err = parseTimePtr(startedAt); err != nil {
		return nil, err
	}
	if j.FinishedAt, err = parseTimePtr(finishedAt); err != nil {
		return nil, err
	}
	if resultContent.Valid {
		j.Result = &Result{Content: resultContent.String, IsError: resultIsError.Bool}
	}
	return &j, nil
}

const jobColumns = `id, tool_call_id, tool_name, status, params, result_content, result_is_error, error, created_at, started_at, finished_at`

func (s *SQLStore) Get(ctx context.Context, id string) (*Job, error) {
	var job *Job
	err := s.db.Get(ctx, `SELECT `+jobColumns+` FROM tool_jobs WHERE id = ?`, func(row *sql.Row) error {
		j, err := scanJob(row.Scan)
		if err != nil {
			return err
		}
		job = j
		return nil
	}, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

func (s *SQLStore) List(ctx context.Context, limit, offset int) ([]*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM tool_jobs ORDER BY created_at DESC`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT %d OFFSET %d`, limit, offset)
	}

	var jobs []*Job
	err := s.db.All(ctx, query, func(rows *sql.Rows) error {
		j, err := scanJob(rows.Scan)
		if err != nil {
			return err
		}
		jobs = append(jobs, j)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

func (s *SQLStore) Cancel(ctx context.Context, id string) error {
	job, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if job == nil {
		return fmt.Errorf("jobs: cancel: job %s not found", id)
	}
	if job.Status != StatusQueued && job.Status != StatusRunning {
		return fmt.Errorf("jobs: cancel: job %s is not cancellable (status: %s)", id, job.Status)
	}
	job.Status = StatusFailed
	job.Error = "cancelled"
	now := time.Now().UTC()
	job.FinishedAt = &now
	return s.Update(ctx, job)
}

func (s *SQLStore) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan).Format(time.RFC3339Nano)
	res, err := s.db.Run(ctx, `DELETE FROM tool_jobs WHERE finished_at IS NOT NULL AND finished_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune jobs: %w", err)
	}
	return n, nil
}
