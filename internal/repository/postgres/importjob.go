package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	"github.com/brightwell/donorhub/internal/domain"
	"github.com/brightwell/donorhub/internal/importer"
)

// ImportJobRepo implements importer.JobStore against PostgreSQL. The
// job row is the sole source of truth for a job's status; terminal
// states are enforced in the WHERE clauses so a completed, failed, or
// cancelled job can never be mutated again.
type ImportJobRepo struct{ db *sql.DB }

// NewImportJobRepo creates a Postgres-backed import job repository.
func NewImportJobRepo(db *sql.DB) *ImportJobRepo { return &ImportJobRepo{db: db} }

func (r *ImportJobRepo) Create(ctx context.Context, job *domain.ImportJob) error {
	mapping, err := json.Marshal(job.FieldMapping)
	if err != nil {
		return fmt.Errorf("marshal field mapping: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO import_jobs (
			id, organization_id, owner_id, filename, file_size,
			field_mapping, dedup_strategy, status, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, job.ID, job.OrganizationID, job.OwnerID, job.Filename, job.FileSize,
		mapping, job.DedupStrategy, domain.JobPending, job.CreatedAt)
	if err != nil {
		return wrapStoreErr("create import job", err)
	}
	return nil
}

func (r *ImportJobRepo) Get(ctx context.Context, id string) (*domain.ImportJob, error) {
	job := &domain.ImportJob{}
	var mapping []byte
	var errs, warnings pq.StringArray
	var failureCause, cancelReason sql.NullString
	err := r.db.QueryRowContext(ctx, `
		SELECT id, organization_id, owner_id, filename, file_size,
		       field_mapping, dedup_strategy, status,
		       total_rows, processed_rows, successful_rows, skipped_rows, error_rows,
		       errors, warnings, failure_cause, cancel_reason,
		       created_at, started_at, completed_at
		FROM import_jobs
		WHERE id = $1
	`, id).Scan(
		&job.ID, &job.OrganizationID, &job.OwnerID, &job.Filename, &job.FileSize,
		&mapping, &job.DedupStrategy, &job.Status,
		&job.TotalRows, &job.ProcessedRows, &job.SuccessfulRows, &job.SkippedRows, &job.ErrorRows,
		&errs, &warnings, &failureCause, &cancelReason,
		&job.CreatedAt, &job.StartedAt, &job.CompletedAt)
	if err == sql.ErrNoRows {
		return nil, importer.ErrJobNotFound
	}
	if err != nil {
		return nil, wrapStoreErr("get import job", err)
	}
	if err := json.Unmarshal(mapping, &job.FieldMapping); err != nil {
		return nil, fmt.Errorf("unmarshal field mapping: %w", err)
	}
	job.Errors = errs
	job.Warnings = warnings
	job.FailureCause = failureCause.String
	job.CancelReason = cancelReason.String
	return job, nil
}

func (r *ImportJobRepo) List(ctx context.Context, ownerID string, limit int) ([]domain.ImportJob, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, organization_id, owner_id, filename, file_size,
		       dedup_strategy, status,
		       total_rows, processed_rows, successful_rows, skipped_rows, error_rows,
		       created_at, started_at, completed_at
		FROM import_jobs
		WHERE owner_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, ownerID, limit)
	if err != nil {
		return nil, wrapStoreErr("list import jobs", err)
	}
	defer rows.Close()

	var out []domain.ImportJob
	for rows.Next() {
		var job domain.ImportJob
		if err := rows.Scan(
			&job.ID, &job.OrganizationID, &job.OwnerID, &job.Filename, &job.FileSize,
			&job.DedupStrategy, &job.Status,
			&job.TotalRows, &job.ProcessedRows, &job.SuccessfulRows, &job.SkippedRows, &job.ErrorRows,
			&job.CreatedAt, &job.StartedAt, &job.CompletedAt); err != nil {
			return nil, wrapStoreErr("scan import job", err)
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

func (r *ImportJobRepo) MarkProcessing(ctx context.Context, id string, totalRows int) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE import_jobs
		SET status = $1, total_rows = $2, started_at = NOW()
		WHERE id = $3 AND status = $4
	`, domain.JobProcessing, totalRows, id, domain.JobPending)
	if err != nil {
		return wrapStoreErr("mark processing", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return importer.ErrJobTerminal
	}
	return nil
}

// UpdateProgress persists the batch's counters and bounded tails in one
// statement, the per-batch commit point for crash safety.
func (r *ImportJobRepo) UpdateProgress(ctx context.Context, id string, p importer.Progress) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE import_jobs
		SET processed_rows = $1, successful_rows = $2, skipped_rows = $3,
		    error_rows = $4, errors = $5, warnings = $6
		WHERE id = $7 AND status = $8
	`, p.ProcessedRows, p.SuccessfulRows, p.SkippedRows, p.ErrorRows,
		pq.StringArray(p.Errors), pq.StringArray(p.Warnings),
		id, domain.JobProcessing)
	if err != nil {
		return wrapStoreErr("update progress", err)
	}
	return nil
}

func (r *ImportJobRepo) MarkCompleted(ctx context.Context, id string, p importer.Progress) error {
	return r.finish(ctx, id, domain.JobCompleted, "", "", p)
}

func (r *ImportJobRepo) MarkFailed(ctx context.Context, id, cause string, p importer.Progress) error {
	return r.finish(ctx, id, domain.JobFailed, cause, "", p)
}

func (r *ImportJobRepo) MarkCancelled(ctx context.Context, id, reason string, p importer.Progress) error {
	return r.finish(ctx, id, domain.JobCancelled, "", reason, p)
}

func (r *ImportJobRepo) finish(ctx context.Context, id string, status domain.JobStatus, cause, reason string, p importer.Progress) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE import_jobs
		SET status = $1, failure_cause = $2, cancel_reason = $3,
		    processed_rows = $4, successful_rows = $5, skipped_rows = $6,
		    error_rows = $7, errors = $8, warnings = $9, completed_at = NOW()
		WHERE id = $10 AND status IN ($11, $12)
	`, status, nullIfEmpty(cause), nullIfEmpty(reason),
		p.ProcessedRows, p.SuccessfulRows, p.SkippedRows, p.ErrorRows,
		pq.StringArray(p.Errors), pq.StringArray(p.Warnings),
		id, domain.JobPending, domain.JobProcessing)
	if err != nil {
		return wrapStoreErr("finish import job", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return importer.ErrJobTerminal
	}
	return nil
}

// RequestCancel flags a pending or processing job for cooperative
// cancellation. The orchestrator observes the flag between batches.
func (r *ImportJobRepo) RequestCancel(ctx context.Context, id, reason string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE import_jobs
		SET cancel_requested = TRUE, cancel_reason = $1
		WHERE id = $2 AND status IN ($3, $4)
	`, reason, id, domain.JobPending, domain.JobProcessing)
	if err != nil {
		return wrapStoreErr("request cancel", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return importer.ErrJobTerminal
	}
	return nil
}

func (r *ImportJobRepo) CancelRequested(ctx context.Context, id string) (bool, string, error) {
	var requested bool
	var reason sql.NullString
	err := r.db.QueryRowContext(ctx, `
		SELECT cancel_requested, cancel_reason FROM import_jobs WHERE id = $1
	`, id).Scan(&requested, &reason)
	if err == sql.ErrNoRows {
		return false, "", importer.ErrJobNotFound
	}
	if err != nil {
		return false, "", wrapStoreErr("cancel requested", err)
	}
	return requested, reason.String, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
