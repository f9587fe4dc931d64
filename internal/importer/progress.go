package importer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/brightwell/donorhub/internal/domain"
)

const progressTTL = 24 * time.Hour

// ProgressCache mirrors job progress into Redis so status polling does
// not hit the job table between batches. The job record stays the
// source of truth; the mirror is best-effort and may lag one batch.
type ProgressCache struct {
	client *redis.Client
}

// NewProgressCache creates a Redis-backed progress mirror.
func NewProgressCache(client *redis.Client) *ProgressCache {
	return &ProgressCache{client: client}
}

// Snapshot is the cached view of a running or finished job.
type Snapshot struct {
	JobID          string           `json:"job_id"`
	Status         domain.JobStatus `json:"status"`
	TotalRows      int              `json:"total_rows"`
	ProcessedRows  int              `json:"processed_rows"`
	SuccessfulRows int              `json:"successful_rows"`
	SkippedRows    int              `json:"skipped_rows"`
	ErrorRows      int              `json:"error_rows"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// Set writes the latest snapshot for a job.
func (c *ProgressCache) Set(ctx context.Context, job *domain.ImportJob, status domain.JobStatus, p Progress) error {
	snap := Snapshot{
		JobID:          job.ID,
		Status:         status,
		TotalRows:      job.TotalRows,
		ProcessedRows:  p.ProcessedRows,
		SuccessfulRows: p.SuccessfulRows,
		SkippedRows:    p.SkippedRows,
		ErrorRows:      p.ErrorRows,
		UpdatedAt:      time.Now(),
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, progressKey(job.ID), data, progressTTL).Err()
}

// Get returns the cached snapshot, or nil when none exists.
func (c *ProgressCache) Get(ctx context.Context, jobID string) (*Snapshot, error) {
	data, err := c.client.Get(ctx, progressKey(jobID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func progressKey(jobID string) string {
	return fmt.Sprintf("import:progress:%s", jobID)
}
