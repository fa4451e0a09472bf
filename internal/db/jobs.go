package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jonathan/ux-auditor/internal/jobstore"
	"github.com/jonathan/ux-auditor/internal/types"
)

var _ jobstore.Store = (*DB)(nil)

// logAppendExpr appends one {timestamp, message} entry to report_data.logs.
// $ts and $msg are substituted with the placeholder numbers of the caller.
func logAppendExpr(ts, msg string) string {
	return fmt.Sprintf(`jsonb_build_object('logs',
		COALESCE(report_data->'logs', '[]'::jsonb) ||
		jsonb_build_array(jsonb_build_object('timestamp', %s::text, 'message', %s::text)))`, ts, msg)
}

// previousStatuses lists the statuses a job may move to next from.
func previousStatuses(next types.JobStatus) []string {
	var out []string
	for _, s := range []types.JobStatus{types.StatusPending, types.StatusProcessing, types.StatusCompleted, types.StatusFailed} {
		if s.CanTransitionTo(next) {
			out = append(out, string(s))
		}
	}
	return out
}

func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// CreateJob implements jobstore.Store.
func (db *DB) CreateJob(ctx context.Context, input types.InputData) (*types.Job, error) {
	inputJSON, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal input data: %w", err)
	}
	job := &types.Job{
		ID:         uuid.New(),
		Status:     types.StatusPending,
		InputData:  input,
		ReportData: types.ReportData{},
	}
	err = db.pool.QueryRow(ctx,
		`INSERT INTO audit_jobs (id, status, input_data)
		 VALUES ($1, $2, $3::jsonb)
		 RETURNING created_at, updated_at`,
		job.ID, string(job.Status), string(inputJSON),
	).Scan(&job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}
	return job, nil
}

// GetJob implements jobstore.Store.
func (db *DB) GetJob(ctx context.Context, id uuid.UUID) (*types.Job, error) {
	var (
		job        types.Job
		status     string
		inputJSON  []byte
		reportJSON []byte
	)
	err := db.pool.QueryRow(ctx,
		`SELECT id, status, input_data, report_data,
		        COALESCE(error_message, ''), COALESCE(result_url, ''), created_at, updated_at
		 FROM audit_jobs WHERE id = $1`,
		id,
	).Scan(&job.ID, &status, &inputJSON, &reportJSON, &job.ErrorMessage, &job.ResultURL, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	job.Status = types.JobStatus(status)
	if err := json.Unmarshal(inputJSON, &job.InputData); err != nil {
		return nil, fmt.Errorf("failed to decode input data: %w", err)
	}
	if err := json.Unmarshal(reportJSON, &job.ReportData); err != nil {
		return nil, fmt.Errorf("failed to decode report data: %w", err)
	}
	if job.ReportData == nil {
		job.ReportData = types.ReportData{}
	}
	return &job, nil
}

// UpdateStatus implements jobstore.Store. The transition check and the write are a
// single conditional UPDATE.
func (db *DB) UpdateStatus(ctx context.Context, id uuid.UUID, update jobstore.StatusUpdate) error {
	patch, err := jobstore.EncodePatch(update.ReportPatch)
	if err != nil {
		return err
	}
	patchJSON, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("failed to marshal report patch: %w", err)
	}

	query := fmt.Sprintf(`UPDATE audit_jobs
		SET status = $2,
		    report_data = (report_data || $3::jsonb) ||
		        CASE WHEN $6::text = '' THEN '{}'::jsonb ELSE %s END,
		    error_message = COALESCE(NULLIF($4, ''), error_message),
		    result_url = COALESCE(NULLIF($5, ''), result_url),
		    updated_at = NOW()
		WHERE id = $1 AND status = ANY($8::text[])`, logAppendExpr("$7", "$6"))

	tag, err := db.pool.Exec(ctx, query,
		id, string(update.Status), string(patchJSON), update.ErrorMessage, update.ResultURL,
		update.Message, timestamp(time.Now()), previousStatuses(update.Status),
	)
	if err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	return db.explainRejected(ctx, id, update.Status)
}

// AppendProgress implements jobstore.Store with one atomic read-merge-write.
func (db *DB) AppendProgress(ctx context.Context, id uuid.UUID, message string, partial map[string]any) error {
	patch, err := jobstore.EncodePatch(partial)
	if err != nil {
		return err
	}
	patchJSON, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("failed to marshal progress patch: %w", err)
	}

	query := fmt.Sprintf(`UPDATE audit_jobs
		SET report_data = (report_data || $2::jsonb) || %s,
		    updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'processing')`, logAppendExpr("$3", "$4"))

	tag, err := db.pool.Exec(ctx, query, id, string(patchJSON), timestamp(time.Now()), message)
	if err != nil {
		return fmt.Errorf("failed to append progress: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	status, err := db.currentStatus(ctx, id)
	if err != nil {
		return err
	}
	if status == "" {
		return jobstore.ErrNotFound
	}
	return jobstore.ErrJobTerminal
}

// GetLogs implements jobstore.Store.
func (db *DB) GetLogs(ctx context.Context, id uuid.UUID) (*jobstore.LogsView, error) {
	var (
		status  string
		logsRaw []byte
	)
	err := db.pool.QueryRow(ctx,
		`SELECT status, COALESCE(report_data->'logs', '[]'::jsonb) FROM audit_jobs WHERE id = $1`,
		id,
	).Scan(&status, &logsRaw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get job logs: %w", err)
	}
	view := &jobstore.LogsView{Status: types.JobStatus(status)}
	if err := json.Unmarshal(logsRaw, &view.Logs); err != nil {
		return nil, fmt.Errorf("failed to decode job logs: %w", err)
	}
	return view, nil
}

// SweepStale implements jobstore.Store.
func (db *DB) SweepStale(ctx context.Context, olderThan time.Duration, reason string) (int, error) {
	if reason == "" {
		reason = jobstore.InterruptedMessage
	}
	now := time.Now()
	query := fmt.Sprintf(`UPDATE audit_jobs
		SET status = 'failed',
		    error_message = $2,
		    report_data = report_data || %s,
		    updated_at = NOW()
		WHERE status IN ('pending', 'processing') AND updated_at < $1`, logAppendExpr("$3", "$2"))

	tag, err := db.pool.Exec(ctx, query, now.Add(-olderThan), reason, timestamp(now))
	if err != nil {
		return 0, fmt.Errorf("failed to sweep stale jobs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (db *DB) currentStatus(ctx context.Context, id uuid.UUID) (types.JobStatus, error) {
	var status string
	err := db.pool.QueryRow(ctx, `SELECT status FROM audit_jobs WHERE id = $1`, id).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read job status: %w", err)
	}
	return types.JobStatus(status), nil
}

func (db *DB) explainRejected(ctx context.Context, id uuid.UUID, next types.JobStatus) error {
	current, err := db.currentStatus(ctx, id)
	if err != nil {
		return err
	}
	if current == "" {
		return jobstore.ErrNotFound
	}
	if err := jobstore.CheckTransition(current, next); err != nil {
		return err
	}
	// The row changed between the update and the read
	return fmt.Errorf("%w: concurrent update of job %s", jobstore.ErrInvalidTransition, id)
}
