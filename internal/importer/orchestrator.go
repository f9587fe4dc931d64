// Package importer runs donor file imports: parsing, field mapping,
// validation, duplicate detection, and crash-safe chunked persistence
// with cooperative cancellation.
package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/brightwell/donorhub/internal/audit"
	"github.com/brightwell/donorhub/internal/dedup"
	"github.com/brightwell/donorhub/internal/domain"
	"github.com/brightwell/donorhub/internal/pkg/distlock"
	"github.com/brightwell/donorhub/internal/pkg/logger"
	"github.com/brightwell/donorhub/internal/pkg/metrics"
)

// DonorStore is the donor persistence surface the orchestrator writes
// through. Lookups are the detector's; writes are row-scoped.
type DonorStore interface {
	dedup.DonorLookup
	Create(ctx context.Context, d *domain.Donor) error
	Update(ctx context.Context, d *domain.Donor) error
}

// Progress is the counter set persisted atomically after each batch.
type Progress struct {
	ProcessedRows  int
	SuccessfulRows int
	SkippedRows    int
	ErrorRows      int
	Errors         []string
	Warnings       []string
}

// JobStore owns the job record, the sole source of truth for status.
type JobStore interface {
	Create(ctx context.Context, job *domain.ImportJob) error
	Get(ctx context.Context, id string) (*domain.ImportJob, error)
	List(ctx context.Context, ownerID string, limit int) ([]domain.ImportJob, error)
	MarkProcessing(ctx context.Context, id string, totalRows int) error
	UpdateProgress(ctx context.Context, id string, p Progress) error
	MarkCompleted(ctx context.Context, id string, p Progress) error
	MarkFailed(ctx context.Context, id, cause string, p Progress) error
	MarkCancelled(ctx context.Context, id, reason string, p Progress) error
	RequestCancel(ctx context.Context, id, reason string) error
	CancelRequested(ctx context.Context, id string) (bool, string, error)
}

// Options tunes orchestrator behavior.
type Options struct {
	BatchSize int
	// MaxErrors / MaxWarnings bound the stored tails.
	MaxErrors   int
	MaxWarnings int
	// MaxBatchFailures is how many catastrophic batch failures the job
	// survives before failing outright.
	MaxBatchFailures int
	Strategies       []dedup.Strategy
}

// DefaultOptions mirrors the documented processing defaults.
func DefaultOptions() Options {
	return Options{BatchSize: 100, MaxErrors: 1000, MaxWarnings: 500}
}

// Orchestrator drives import jobs from upload to a terminal state.
// Jobs run detached; callers hold the job ID and poll the job record.
type Orchestrator struct {
	jobs     JobStore
	donors   DonorStore
	detector *dedup.Detector
	parser   Parser
	auditor  audit.Sink
	cache    *ProgressCache
	locks    *distlock.Factory
	opts     Options

	wg sync.WaitGroup
}

// NewOrchestrator wires an orchestrator. cache may be nil when no live
// progress mirror is wanted.
func NewOrchestrator(jobs JobStore, donors DonorStore, detector *dedup.Detector, parser Parser, auditor audit.Sink, cache *ProgressCache, opts Options) *Orchestrator {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.MaxErrors <= 0 {
		opts.MaxErrors = 1000
	}
	if opts.MaxWarnings <= 0 {
		opts.MaxWarnings = 500
	}
	if auditor == nil {
		auditor = audit.Noop{}
	}
	return &Orchestrator{
		jobs:     jobs,
		donors:   donors,
		detector: detector,
		parser:   parser,
		auditor:  auditor,
		cache:    cache,
		opts:     opts,
	}
}

// SetLockFactory enables per-job distributed locking so two server
// replicas never process the same job. Optional; without it jobs rely
// on the job store's state transitions alone.
func (o *Orchestrator) SetLockFactory(f *distlock.Factory) { o.locks = f }

// CreateJob registers a pending job for an uploaded file.
func (o *Orchestrator) CreateJob(ctx context.Context, orgID, ownerID, filename string, fileSize int64, mapping map[string]string, strategy domain.DedupStrategy) (*domain.ImportJob, error) {
	if !strategy.Valid() {
		return nil, fmt.Errorf("unknown dedup strategy %q", strategy)
	}
	if len(mapping) == 0 {
		return nil, errors.New("field mapping is required")
	}

	job := &domain.ImportJob{
		ID:             uuid.New().String(),
		OrganizationID: orgID,
		OwnerID:        ownerID,
		Filename:       filename,
		FileSize:       fileSize,
		FieldMapping:   mapping,
		DedupStrategy:  strategy,
		Status:         domain.JobPending,
		CreatedAt:      time.Now(),
	}
	if err := o.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	return job, nil
}

// Launch starts processing in a detached goroutine and returns
// immediately. The caller polls job status separately.
func (o *Orchestrator) Launch(ctx context.Context, job *domain.ImportJob, file io.Reader) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.Process(ctx, job, file)
	}()
}

// LaunchFile starts detached processing of a file already staged on
// disk. The staged copy is removed once the job reaches a terminal
// state.
func (o *Orchestrator) LaunchFile(ctx context.Context, job *domain.ImportJob, path string) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		f, err := os.Open(path)
		if err != nil {
			o.finishFailed(ctx, job, fmt.Sprintf("open staged file: %v", err), Progress{})
			return
		}
		defer func() {
			f.Close()
			os.Remove(path)
		}()
		o.Process(ctx, job, f)
	}()
}

// Wait blocks until all launched jobs have reached a terminal state.
// Used during shutdown so a batch in flight always finishes.
func (o *Orchestrator) Wait() { o.wg.Wait() }

// Process runs one job to a terminal state. Exported for synchronous
// callers and tests; Launch is the production path.
func (o *Orchestrator) Process(ctx context.Context, job *domain.ImportJob, file io.Reader) {
	if o.locks != nil {
		lock := o.locks.ForKey("import:job:" + job.ID)
		acquired, err := lock.Acquire(ctx)
		if err != nil {
			logger.Warn("job lock check failed", "job_id", job.ID, "error", err.Error())
		} else if !acquired {
			logger.Warn("job already locked by another worker", "job_id", job.ID)
			return
		} else {
			defer lock.Release(context.Background())
		}
	}

	rows, err := o.parser.Parse(file, job.Filename)
	if err != nil {
		// Unparsable file: job fails before any row processing.
		logger.Error("import parse failed", "job_id", job.ID, "error", err.Error())
		o.finishFailed(ctx, job, err.Error(), Progress{})
		return
	}

	job.TotalRows = len(rows)
	if err := o.jobs.MarkProcessing(ctx, job.ID, len(rows)); err != nil {
		logger.Error("import start failed", "job_id", job.ID, "error", err.Error())
		return
	}
	o.audit(ctx, job, "import.started", map[string]any{"total_rows": len(rows)})
	logger.Info("import started", "job_id", job.ID, "file", job.Filename, "rows", len(rows))

	var progress Progress
	seenEmails := make(map[string]bool)
	batchFailures := 0

	for start := 0; start < len(rows); start += o.opts.BatchSize {
		end := start + o.opts.BatchSize
		if end > len(rows) {
			end = len(rows)
		}

		batchStart := time.Now()
		batchErr := o.processBatch(ctx, job, rows[start:end], start, seenEmails, &progress)
		metrics.ObserveBatch(time.Since(batchStart))

		if batchErr != nil {
			batchFailures++
			logger.Error("import batch failed", "job_id", job.ID, "batch", start/o.opts.BatchSize, "error", batchErr.Error())
			if batchFailures > o.opts.MaxBatchFailures {
				o.persistProgress(ctx, job, progress)
				o.finishFailed(ctx, job, batchErr.Error(), progress)
				return
			}
		}

		// Counters and bounded tails are committed per batch; earlier
		// batches are never rolled back by a later failure.
		o.persistProgress(ctx, job, progress)

		// Cooperative cancellation, observed only at batch boundaries.
		if cancelled, reason := o.cancelRequested(ctx, job.ID); cancelled {
			o.finishCancelled(ctx, job, reason, progress)
			return
		}
	}

	o.finishCompleted(ctx, job, progress)
}

// processBatch handles one chunk of rows as an isolated unit of work.
// A non-nil return means the whole batch failed catastrophically; every
// unprocessed row has already been recorded as an error.
func (o *Orchestrator) processBatch(ctx context.Context, job *domain.ImportJob, batch []Row, offset int, seenEmails map[string]bool, progress *Progress) error {
	for i, row := range batch {
		rowNum := offset + i + 1

		err := o.processRow(ctx, job, row, rowNum, seenEmails, progress)
		if err == nil {
			continue
		}
		if errors.Is(err, ErrStoreUnavailable) {
			// Infrastructure failure: fail the rest of the batch in one
			// stroke rather than hammering a dead store row by row.
			for j := i; j < len(batch); j++ {
				progress.ProcessedRows++
				progress.ErrorRows++
				metrics.CountRow("error")
			}
			o.recordError(progress, fmt.Sprintf("rows %d-%d: %v", rowNum, offset+len(batch), err))
			return &CatastrophicBatchError{Batch: offset / o.opts.BatchSize, Err: err}
		}

		// Row-level failure: record and continue. One bad row never
		// aborts the batch.
		progress.ProcessedRows++
		progress.ErrorRows++
		metrics.CountRow("error")
		o.recordError(progress, err.Error())
	}
	return nil
}

func (o *Orchestrator) processRow(ctx context.Context, job *domain.ImportJob, row Row, rowNum int, seenEmails map[string]bool, progress *Progress) error {
	mapped, err := MapRow(job.FieldMapping, row, rowNum)
	if err != nil {
		return err
	}

	// Short-circuit duplicates within the file itself.
	if email := dedup.NormalizeEmail(mapped.Email); email != "" {
		if seenEmails[email] {
			progress.ProcessedRows++
			progress.SkippedRows++
			metrics.CountRow("skipped")
			o.recordWarning(progress, fmt.Sprintf("row %d: duplicate email earlier in file, skipped", rowNum))
			return nil
		}
		seenEmails[email] = true
	}

	matches, err := o.detector.FindDuplicates(ctx, job.OrganizationID, mapped.Candidate(), o.opts.Strategies)
	if err != nil {
		return fmt.Errorf("row %d: duplicate check: %w", rowNum, err)
	}

	switch job.DedupStrategy {
	case domain.DedupSkip:
		if len(matches) > 0 {
			progress.ProcessedRows++
			progress.SkippedRows++
			metrics.CountRow("skipped")
			o.recordWarning(progress, fmt.Sprintf(
				"row %d: skipped, likely duplicate of donor %s (score %.2f, %s)",
				rowNum, matches[0].Donor.ID, matches[0].Score, matches[0].Confidence))
			return nil
		}
		return o.createDonor(ctx, job, mapped, rowNum, progress)

	case domain.DedupUpdate:
		if match := highConfidence(matches); match != nil {
			existing := match.Donor
			mapped.MergeInto(&existing)
			if err := o.donors.Update(ctx, &existing); err != nil {
				return fmt.Errorf("row %d: update donor: %w", rowNum, err)
			}
			progress.ProcessedRows++
			progress.SuccessfulRows++
			metrics.CountRow("updated")
			return nil
		}
		return o.createDonor(ctx, job, mapped, rowNum, progress)

	default: // create_new
		return o.createDonor(ctx, job, mapped, rowNum, progress)
	}
}

func (o *Orchestrator) createDonor(ctx context.Context, job *domain.ImportJob, mapped *MappedRow, rowNum int, progress *Progress) error {
	donor := mapped.Donor(job.OrganizationID)
	donor.ID = uuid.New().String()
	if err := o.donors.Create(ctx, donor); err != nil {
		return fmt.Errorf("row %d: create donor: %w", rowNum, err)
	}
	progress.ProcessedRows++
	progress.SuccessfulRows++
	metrics.CountRow("created")
	return nil
}

func highConfidence(matches []dedup.Match) *dedup.Match {
	for i := range matches {
		if matches[i].Confidence == dedup.ConfidenceHigh {
			return &matches[i]
		}
	}
	return nil
}

// ==========================================
// BOUNDED TAILS
// ==========================================

func (o *Orchestrator) recordError(p *Progress, msg string) {
	p.Errors = appendCapped(p.Errors, msg, o.opts.MaxErrors)
}

func (o *Orchestrator) recordWarning(p *Progress, msg string) {
	p.Warnings = appendCapped(p.Warnings, msg, o.opts.MaxWarnings)
}

// appendCapped keeps the most recent max entries.
func appendCapped(list []string, msg string, max int) []string {
	list = append(list, msg)
	if len(list) > max {
		list = list[len(list)-max:]
	}
	return list
}

// ==========================================
// TERMINAL TRANSITIONS
// ==========================================

func (o *Orchestrator) persistProgress(ctx context.Context, job *domain.ImportJob, p Progress) {
	if err := o.jobs.UpdateProgress(ctx, job.ID, p); err != nil {
		logger.Warn("persist progress failed", "job_id", job.ID, "error", err.Error())
	}
	o.mirror(ctx, job, domain.JobProcessing, p)
}

func (o *Orchestrator) cancelRequested(ctx context.Context, jobID string) (bool, string) {
	requested, reason, err := o.jobs.CancelRequested(ctx, jobID)
	if err != nil {
		logger.Warn("cancel check failed", "job_id", jobID, "error", err.Error())
		return false, ""
	}
	return requested, reason
}

func (o *Orchestrator) finishCompleted(ctx context.Context, job *domain.ImportJob, p Progress) {
	if err := o.jobs.MarkCompleted(ctx, job.ID, p); err != nil {
		logger.Error("complete job failed", "job_id", job.ID, "error", err.Error())
		return
	}
	metrics.CountJob(string(domain.JobCompleted))
	o.mirror(ctx, job, domain.JobCompleted, p)
	o.audit(ctx, job, "import.completed", map[string]any{
		"processed": p.ProcessedRows, "successful": p.SuccessfulRows,
		"skipped": p.SkippedRows, "errors": p.ErrorRows,
	})
	logger.Info("import completed", "job_id", job.ID,
		"processed", p.ProcessedRows, "successful", p.SuccessfulRows,
		"skipped", p.SkippedRows, "errors", p.ErrorRows)
}

func (o *Orchestrator) finishFailed(ctx context.Context, job *domain.ImportJob, cause string, p Progress) {
	if err := o.jobs.MarkFailed(ctx, job.ID, cause, p); err != nil {
		logger.Error("fail job failed", "job_id", job.ID, "error", err.Error())
		return
	}
	metrics.CountJob(string(domain.JobFailed))
	o.mirror(ctx, job, domain.JobFailed, p)
	o.audit(ctx, job, "import.failed", map[string]any{"cause": cause})
}

func (o *Orchestrator) finishCancelled(ctx context.Context, job *domain.ImportJob, reason string, p Progress) {
	if err := o.jobs.MarkCancelled(ctx, job.ID, reason, p); err != nil {
		logger.Error("cancel job failed", "job_id", job.ID, "error", err.Error())
		return
	}
	metrics.CountJob(string(domain.JobCancelled))
	o.mirror(ctx, job, domain.JobCancelled, p)
	o.audit(ctx, job, "import.cancelled", map[string]any{
		"reason": reason, "processed": p.ProcessedRows,
	})
	logger.Info("import cancelled", "job_id", job.ID, "reason", reason, "processed", p.ProcessedRows)
}

func (o *Orchestrator) mirror(ctx context.Context, job *domain.ImportJob, status domain.JobStatus, p Progress) {
	if o.cache == nil {
		return
	}
	if err := o.cache.Set(ctx, job, status, p); err != nil {
		logger.Debug("progress mirror failed", "job_id", job.ID, "error", err.Error())
	}
}

// audit emits a structured event. Audit failures never abort an import.
func (o *Orchestrator) audit(ctx context.Context, job *domain.ImportJob, action string, metadata map[string]any) {
	event := audit.Event{
		Action:     action,
		EntityType: "import_job",
		EntityID:   job.ID,
		UserID:     job.OwnerID,
		Metadata:   metadata,
	}
	if err := o.auditor.Record(ctx, event); err != nil {
		logger.Warn("audit write failed", "job_id", job.ID, "action", action, "error", err.Error())
	}
}
