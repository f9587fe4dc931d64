package domain

import "time"

// JobStatus enumerates the import job lifecycle states.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobCancelled  JobStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// DedupStrategy governs what happens to rows that match existing donors.
type DedupStrategy string

const (
	DedupSkip      DedupStrategy = "skip"
	DedupUpdate    DedupStrategy = "update"
	DedupCreateNew DedupStrategy = "create_new"
)

// Valid reports whether the strategy is one of the known values.
func (s DedupStrategy) Valid() bool {
	switch s {
	case DedupSkip, DedupUpdate, DedupCreateNew:
		return true
	}
	return false
}

// ImportJob tracks a single donor file import from upload to terminal state.
type ImportJob struct {
	ID             string            `json:"id" db:"id"`
	OrganizationID string            `json:"organization_id" db:"organization_id"`
	OwnerID        string            `json:"owner_id" db:"owner_id"`
	Filename       string            `json:"filename" db:"filename"`
	FileSize       int64             `json:"file_size" db:"file_size"`
	FieldMapping   map[string]string `json:"field_mapping" db:"field_mapping"`
	DedupStrategy  DedupStrategy     `json:"dedup_strategy" db:"dedup_strategy"`
	Status         JobStatus         `json:"status" db:"status"`

	TotalRows      int `json:"total_rows" db:"total_rows"`
	ProcessedRows  int `json:"processed_rows" db:"processed_rows"`
	SuccessfulRows int `json:"successful_rows" db:"successful_rows"`
	SkippedRows    int `json:"skipped_rows" db:"skipped_rows"`
	ErrorRows      int `json:"error_rows" db:"error_rows"`

	Errors       []string `json:"errors,omitempty"`
	Warnings     []string `json:"warnings,omitempty"`
	FailureCause string   `json:"failure_cause,omitempty" db:"failure_cause"`
	CancelReason string   `json:"cancel_reason,omitempty" db:"cancel_reason"`

	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty" db:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}
