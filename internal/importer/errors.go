package importer

import (
	"errors"
	"fmt"
)

// ErrStoreUnavailable is how repositories report infrastructure-level
// failures (connection refused, pool exhausted). The orchestrator
// treats it as catastrophic for the batch in flight, never as a
// row-level problem.
var ErrStoreUnavailable = errors.New("donor store unavailable")

// ErrJobNotFound is returned when a job ID does not exist.
var ErrJobNotFound = errors.New("import job not found")

// ErrJobTerminal is returned on attempts to mutate a completed, failed,
// or cancelled job.
var ErrJobTerminal = errors.New("import job already in a terminal state")

// ParseError means the uploaded file is unreadable or unsupported.
// Fatal to the whole job before any row processing begins.
type ParseError struct {
	Filename string
	Reason   string
}

func (e *ParseError) Error() string {
	if e.Filename != "" {
		return fmt.Sprintf("cannot parse %s: %s", e.Filename, e.Reason)
	}
	return "cannot parse file: " + e.Reason
}

// ValidationError marks a row missing a required attribute. Row-level,
// non-fatal: the row is recorded as an error and processing continues.
type ValidationError struct {
	RowNum int
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("row %d: field %q %s", e.RowNum, e.Field, e.Reason)
}

// CancelledError means the job was stopped by request. Terminal, but
// not an error condition for rows already processed.
type CancelledError struct {
	Reason string
}

func (e *CancelledError) Error() string {
	if e.Reason == "" {
		return "import cancelled"
	}
	return "import cancelled: " + e.Reason
}

// CatastrophicBatchError wraps an infrastructure failure that took down
// an entire batch. Every row in the batch is recorded as an error.
type CatastrophicBatchError struct {
	Batch int
	Err   error
}

func (e *CatastrophicBatchError) Error() string {
	return fmt.Sprintf("batch %d failed: %v", e.Batch, e.Err)
}

func (e *CatastrophicBatchError) Unwrap() error { return e.Err }
