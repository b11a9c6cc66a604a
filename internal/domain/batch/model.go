// Package batch implements the bulk processing pipeline: extracting input
// rows, validating and deduplicating them, dispatching the survivors to a
// domain operation with bounded concurrency, and persisting every outcome
// so a run can resume after a crash.
package batch

import (
	"encoding/json"
	"time"
)

// RecordStatus is the lifecycle state of one input row.
type RecordStatus string

const (
	// RecordPending awaits dispatch. The only state the pipeline picks up.
	RecordPending RecordStatus = "pending"
	// RecordInvalid failed validation. Terminal, consumed no clearinghouse call.
	RecordInvalid RecordStatus = "invalid"
	// RecordSucceeded carries a parsed domain result. Terminal.
	RecordSucceeded RecordStatus = "succeeded"
	// RecordRejected carries a business rejection. Terminal, never retried.
	RecordRejected RecordStatus = "rejected"
	// RecordExhausted ran out of transport retries. Reprocessed on resume.
	RecordExhausted RecordStatus = "exhausted"
	// RecordNeedsReview hit a protocol error. Terminal until a human looks.
	RecordNeedsReview RecordStatus = "needs_review"
)

// Terminal reports whether a resumed run should skip the record.
func (s RecordStatus) Terminal() bool {
	switch s {
	case RecordInvalid, RecordSucceeded, RecordRejected, RecordNeedsReview:
		return true
	}
	return false
}

// Record wraps one input row with its processing state. Created once per
// row and updated in place; never deleted.
type Record struct {
	ID          string          `json:"id"`
	RunID       string          `json:"run_id"`
	Seq         int             `json:"seq"`
	NaturalKey  string          `json:"natural_key"`
	Input       json.RawMessage `json:"input"`
	Status      RecordStatus    `json:"status"`
	Attempts    int             `json:"attempts"`
	Result      json.RawMessage `json:"result,omitempty"`
	ErrorKind   string          `json:"error_kind,omitempty"`
	ErrorDetail string          `json:"error_detail,omitempty"`
	DuplicateOf string          `json:"duplicate_of,omitempty"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// RunStatus is the overall state of a batch run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunCancelled RunStatus = "cancelled"
)

// Run aggregates one pipeline execution. Counts are recomputed from the
// persisted records at summary time, so a resumed run reports the same
// totals an uninterrupted one would.
type Run struct {
	ID          string     `json:"id"`
	Operation   string     `json:"operation"`
	Status      RunStatus  `json:"status"`
	Total       int        `json:"total"`
	Succeeded   int        `json:"succeeded"`
	Rejected    int        `json:"rejected"`
	Invalid     int        `json:"invalid"`
	Exhausted   int        `json:"exhausted"`
	NeedsReview int        `json:"needs_review"`
	Duplicates  int        `json:"duplicates"`
	Retried     int        `json:"retried"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func (r *Run) tally(records []*Record) {
	r.Total = len(records)
	r.Succeeded, r.Rejected, r.Invalid, r.Exhausted, r.NeedsReview, r.Duplicates, r.Retried = 0, 0, 0, 0, 0, 0, 0
	for _, rec := range records {
		switch rec.Status {
		case RecordSucceeded:
			r.Succeeded++
		case RecordRejected:
			r.Rejected++
		case RecordInvalid:
			r.Invalid++
		case RecordExhausted:
			r.Exhausted++
		case RecordNeedsReview:
			r.NeedsReview++
		}
		if rec.DuplicateOf != "" {
			r.Duplicates++
		}
		if rec.Attempts > 1 {
			r.Retried++
		}
	}
}
