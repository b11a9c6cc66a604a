package batch

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sahlhealth/nphies-bridge/internal/platform/nphies"
)

// Pipeline drives batch runs. The pipeline is the only component that
// converts domain errors into record status; nothing is swallowed without
// being persisted on the record first.
type Pipeline struct {
	repo        Repository
	workers     int
	maxAttempts int
	log         zerolog.Logger
	now         func() time.Time
}

func NewPipeline(repo Repository, workers, maxAttempts int, log zerolog.Logger) *Pipeline {
	if workers < 1 {
		workers = 1
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Pipeline{
		repo:        repo,
		workers:     workers,
		maxAttempts: maxAttempts,
		log:         log,
		now:         time.Now,
	}
}

// Run processes a fresh set of input rows: validate, dedup, dispatch with
// bounded concurrency, persist each outcome immediately, summarize. The
// run always completes with a summary; per-record failure is the expected
// common case, not an abort.
func (p *Pipeline) Run(ctx context.Context, op Operation, inputs []json.RawMessage) (*Run, error) {
	run := &Run{
		ID:        uuid.New().String(),
		Operation: op.Name(),
		Status:    RunRunning,
		Total:     len(inputs),
		StartedAt: p.now(),
	}
	if err := p.repo.CreateRun(ctx, run); err != nil {
		return nil, err
	}

	records := make([]*Record, 0, len(inputs))
	for i, input := range inputs {
		rec := &Record{
			ID:        uuid.New().String(),
			RunID:     run.ID,
			Seq:       i,
			Input:     input,
			Status:    RecordPending,
			UpdatedAt: p.now(),
		}
		if err := op.Validate(input); err != nil {
			rec.Status = RecordInvalid
			rec.ErrorKind = errorKind(err)
			rec.ErrorDetail = err.Error()
		} else {
			key, err := op.NaturalKey(input)
			if err != nil {
				rec.Status = RecordInvalid
				rec.ErrorKind = errorKind(err)
				rec.ErrorDetail = err.Error()
			} else {
				rec.NaturalKey = key
			}
		}
		if err := p.repo.CreateRecord(ctx, rec); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	return p.process(ctx, op, run, records)
}

// Resume picks up a crashed or cancelled run. Terminal records keep their
// outcome; pending and exhausted records get a fresh dispatch with a fresh
// retry budget.
func (p *Pipeline) Resume(ctx context.Context, op Operation, runID string) (*Run, error) {
	run, err := p.repo.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	records, err := p.repo.ListRecords(ctx, runID)
	if err != nil {
		return nil, err
	}

	for _, rec := range records {
		if rec.Status == RecordExhausted {
			rec.Status = RecordPending
			rec.Attempts = 0
			rec.ErrorKind = ""
			rec.ErrorDetail = ""
			rec.UpdatedAt = p.now()
			if err := p.repo.UpdateRecord(ctx, rec); err != nil {
				return nil, err
			}
		}
	}

	run.Status = RunRunning
	run.CompletedAt = nil
	if err := p.repo.UpdateRun(ctx, run); err != nil {
		return nil, err
	}
	p.log.Info().Str("run_id", runID).Str("operation", op.Name()).Msg("batch run resumed")

	return p.process(ctx, op, run, records)
}

func (p *Pipeline) process(ctx context.Context, op Operation, run *Run, records []*Record) (*Run, error) {
	// First record per natural key is the primary; every later record with
	// the same key short-circuits to its result. Records already terminal
	// (from a previous attempt at this run) still claim their key so a
	// resumed duplicate reuses the stored outcome.
	primaries := make(map[string]*Record)
	var dispatch []*Record
	for _, rec := range records {
		if rec.NaturalKey == "" {
			continue
		}
		prim, seen := primaries[rec.NaturalKey]
		if !seen {
			primaries[rec.NaturalKey] = rec
			if rec.Status == RecordPending {
				dispatch = append(dispatch, rec)
			}
			continue
		}
		if rec.Status == RecordPending && rec.DuplicateOf == "" {
			rec.DuplicateOf = prim.ID
			rec.UpdatedAt = p.now()
			if err := p.repo.UpdateRecord(ctx, rec); err != nil {
				return nil, err
			}
		}
	}

	// In-flight dispatches run to completion even after cancellation so no
	// clearinghouse-side claim is left ambiguous; cancellation only stops
	// new dispatches.
	sendCtx := context.WithoutCancel(ctx)

	jobs := make(chan *Record)
	var wg sync.WaitGroup
	for w := 0; w < p.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for rec := range jobs {
				p.dispatch(sendCtx, op, rec)
			}
		}()
	}

feed:
	for _, rec := range dispatch {
		select {
		case <-ctx.Done():
			p.log.Warn().Str("run_id", run.ID).Msg("batch run cancelled, draining in-flight records")
			break feed
		case jobs <- rec:
		}
	}
	close(jobs)
	wg.Wait()

	// Duplicates inherit their primary's outcome.
	byID := make(map[string]*Record, len(records))
	for _, rec := range records {
		byID[rec.ID] = rec
	}
	for _, rec := range records {
		if rec.DuplicateOf == "" || rec.Status != RecordPending {
			continue
		}
		prim := byID[rec.DuplicateOf]
		if prim == nil || prim.Status == RecordPending {
			continue
		}
		rec.Status = prim.Status
		rec.Result = prim.Result
		rec.ErrorKind = prim.ErrorKind
		rec.ErrorDetail = prim.ErrorDetail
		rec.UpdatedAt = p.now()
		if err := p.repo.UpdateRecord(ctx, rec); err != nil {
			return nil, err
		}
	}

	run.tally(records)
	run.Status = RunCompleted
	if ctx.Err() != nil {
		run.Status = RunCancelled
	}
	done := p.now()
	run.CompletedAt = &done
	if err := p.repo.UpdateRun(sendCtx, run); err != nil {
		return nil, err
	}

	p.log.Info().
		Str("run_id", run.ID).
		Str("operation", run.Operation).
		Str("status", string(run.Status)).
		Int("total", run.Total).
		Int("succeeded", run.Succeeded).
		Int("rejected", run.Rejected).
		Int("invalid", run.Invalid).
		Int("exhausted", run.Exhausted).
		Int("needs_review", run.NeedsReview).
		Int("duplicates", run.Duplicates).
		Msg("batch run finished")
	return run, nil
}

// dispatch runs one record to a terminal or exhausted state and persists
// every attempt's outcome as it lands.
func (p *Pipeline) dispatch(ctx context.Context, op Operation, rec *Record) {
	for rec.Attempts < p.maxAttempts {
		rec.Attempts++

		result, rejection, err := op.Dispatch(ctx, rec.Input)
		switch {
		case err == nil && rejection == nil:
			rec.Status = RecordSucceeded
			rec.Result = result
			rec.ErrorKind = ""
			rec.ErrorDetail = ""
		case rejection != nil:
			// A correct negative answer from the payer, not a fault.
			rec.Status = RecordRejected
			rec.ErrorKind = "business_rejection"
			rec.ErrorDetail = rejection.Code + ": " + rejection.Display
			if raw, merr := json.Marshal(rejection); merr == nil {
				rec.Result = raw
			}
		default:
			rec.ErrorKind = errorKind(err)
			rec.ErrorDetail = err.Error()
			switch err.(type) {
			case *nphies.ValidationError:
				rec.Status = RecordInvalid
			case *nphies.TransportError:
				if rec.Attempts < p.maxAttempts {
					rec.Status = RecordPending
				} else {
					rec.Status = RecordExhausted
				}
			default:
				// Protocol errors and state bugs may signal a contract
				// change; retrying blind would make it worse.
				rec.Status = RecordNeedsReview
			}
		}

		rec.UpdatedAt = p.now()
		if uerr := p.repo.UpdateRecord(ctx, rec); uerr != nil {
			p.log.Error().Err(uerr).Str("record_id", rec.ID).Msg("persist record outcome failed")
		}
		if rec.Status != RecordPending {
			return
		}
	}
}

func errorKind(err error) string {
	switch err.(type) {
	case *nphies.ValidationError:
		return "validation"
	case *nphies.TransportError:
		return "transport"
	case *nphies.ProtocolError:
		return "protocol"
	case *nphies.InvalidStateError:
		return "state"
	default:
		return "internal"
	}
}
