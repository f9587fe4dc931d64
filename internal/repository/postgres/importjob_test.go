package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"github.com/brightwell/donorhub/internal/domain"
	"github.com/brightwell/donorhub/internal/importer"
)

func setupJobRepo(t *testing.T) (*ImportJobRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewImportJobRepo(db), mock
}

func TestImportJobCreate(t *testing.T) {
	repo, mock := setupJobRepo(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO import_jobs")).
		WithArgs("job-1", "org-1", "user-1", "donors.csv", int64(2048),
			sqlmock.AnyArg(), domain.DedupSkip, domain.JobPending, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	job := &domain.ImportJob{
		ID:             "job-1",
		OrganizationID: "org-1",
		OwnerID:        "user-1",
		Filename:       "donors.csv",
		FileSize:       2048,
		FieldMapping:   map[string]string{"first_name": "First"},
		DedupStrategy:  domain.DedupSkip,
		CreatedAt:      time.Now(),
	}
	if err := repo.Create(context.Background(), job); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestImportJobGetNotFound(t *testing.T) {
	repo, mock := setupJobRepo(t)

	mock.ExpectQuery("SELECT (.+) FROM import_jobs").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.Get(context.Background(), "missing")
	if !errors.Is(err, importer.ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}
}

func TestImportJobGet(t *testing.T) {
	repo, mock := setupJobRepo(t)

	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"id", "organization_id", "owner_id", "filename", "file_size",
		"field_mapping", "dedup_strategy", "status",
		"total_rows", "processed_rows", "successful_rows", "skipped_rows", "error_rows",
		"errors", "warnings", "failure_cause", "cancel_reason",
		"created_at", "started_at", "completed_at",
	}).AddRow(
		"job-1", "org-1", "user-1", "donors.csv", int64(2048),
		[]byte(`{"first_name":"First"}`), "skip", "processing",
		100, 40, 35, 3, 2,
		pq.StringArray{"row 5: field \"last_name\" is required"}, pq.StringArray{}, nil, nil,
		now, &now, nil)

	mock.ExpectQuery("SELECT (.+) FROM import_jobs").
		WithArgs("job-1").
		WillReturnRows(rows)

	job, err := repo.Get(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if job.Status != domain.JobProcessing || job.ProcessedRows != 40 {
		t.Errorf("job = %+v", job)
	}
	if job.FieldMapping["first_name"] != "First" {
		t.Errorf("field mapping = %v", job.FieldMapping)
	}
	if len(job.Errors) != 1 {
		t.Errorf("errors = %v", job.Errors)
	}
}

func TestMarkProcessingOnlyFromPending(t *testing.T) {
	repo, mock := setupJobRepo(t)

	// A job already past pending must not restart.
	mock.ExpectExec("UPDATE import_jobs").
		WithArgs(domain.JobProcessing, 100, "job-1", domain.JobPending).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.MarkProcessing(context.Background(), "job-1", 100)
	if !errors.Is(err, importer.ErrJobTerminal) {
		t.Errorf("expected ErrJobTerminal, got %v", err)
	}
}

func TestFinishRejectsTerminalJob(t *testing.T) {
	repo, mock := setupJobRepo(t)

	mock.ExpectExec("UPDATE import_jobs").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.MarkCompleted(context.Background(), "job-1", importer.Progress{})
	if !errors.Is(err, importer.ErrJobTerminal) {
		t.Errorf("completed-on-terminal should fail, got %v", err)
	}
}

func TestMarkFailedPersistsCauseAndTails(t *testing.T) {
	repo, mock := setupJobRepo(t)

	p := importer.Progress{
		ProcessedRows: 200, SuccessfulRows: 150, ErrorRows: 50,
		Errors: []string{"rows 151-200: store gone"},
	}
	mock.ExpectExec("UPDATE import_jobs").
		WithArgs(domain.JobFailed, "batch 1 failed: store gone", nil,
			200, 150, 0, 50,
			pq.StringArray{"rows 151-200: store gone"}, pq.StringArray(nil),
			"job-1", domain.JobPending, domain.JobProcessing).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.MarkFailed(context.Background(), "job-1", "batch 1 failed: store gone", p); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestRequestCancel(t *testing.T) {
	repo, mock := setupJobRepo(t)

	mock.ExpectExec("UPDATE import_jobs").
		WithArgs("user cancelled", "job-1", domain.JobPending, domain.JobProcessing).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.RequestCancel(context.Background(), "job-1", "user cancelled"); err != nil {
		t.Fatalf("RequestCancel: %v", err)
	}

	mock.ExpectQuery("SELECT cancel_requested").
		WithArgs("job-1").
		WillReturnRows(sqlmock.NewRows([]string{"cancel_requested", "cancel_reason"}).
			AddRow(true, "user cancelled"))

	requested, reason, err := repo.CancelRequested(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("CancelRequested: %v", err)
	}
	if !requested || reason != "user cancelled" {
		t.Errorf("requested=%v reason=%q", requested, reason)
	}
}

func TestWrapStoreErrTranslatesConnectionFailures(t *testing.T) {
	err := wrapStoreErr("create donor", driver.ErrBadConn)
	if !errors.Is(err, importer.ErrStoreUnavailable) {
		t.Errorf("driver.ErrBadConn should map to ErrStoreUnavailable, got %v", err)
	}

	err = wrapStoreErr("create donor", sql.ErrConnDone)
	if !errors.Is(err, importer.ErrStoreUnavailable) {
		t.Errorf("sql.ErrConnDone should map to ErrStoreUnavailable, got %v", err)
	}

	plain := errors.New("unique violation")
	err = wrapStoreErr("create donor", plain)
	if errors.Is(err, importer.ErrStoreUnavailable) {
		t.Error("ordinary errors must not become catastrophic")
	}
	if !errors.Is(err, plain) {
		t.Error("ordinary errors should still unwrap")
	}
}
