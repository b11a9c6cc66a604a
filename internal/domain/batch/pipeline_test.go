package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/sahlhealth/nphies-bridge/internal/platform/nphies"
)

type fakeInput struct {
	Key     string `json:"key"`
	Invalid bool   `json:"invalid,omitempty"`
}

func rawInput(t *testing.T, key string, invalid bool) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(fakeInput{Key: key, Invalid: invalid})
	if err != nil {
		t.Fatalf("marshal input: %v", err)
	}
	return raw
}

// fakeOp scripts per-key outcomes by attempt number.
type fakeOp struct {
	mu     sync.Mutex
	calls  map[string]int
	delay  time.Duration
	script func(key string, attempt int) (json.RawMessage, *nphies.BusinessRejection, error)
}

func newFakeOp(script func(key string, attempt int) (json.RawMessage, *nphies.BusinessRejection, error)) *fakeOp {
	return &fakeOp{calls: make(map[string]int), script: script}
}

func (o *fakeOp) Name() string { return "fake" }

func (o *fakeOp) Validate(raw json.RawMessage) error {
	var in fakeInput
	if err := json.Unmarshal(raw, &in); err != nil {
		return &nphies.ValidationError{Field: "input", Reason: err.Error()}
	}
	if in.Invalid {
		return &nphies.ValidationError{Field: "key", Reason: "marked invalid"}
	}
	return nil
}

func (o *fakeOp) NaturalKey(raw json.RawMessage) (string, error) {
	var in fakeInput
	if err := json.Unmarshal(raw, &in); err != nil {
		return "", err
	}
	return in.Key, nil
}

func (o *fakeOp) Dispatch(ctx context.Context, raw json.RawMessage) (json.RawMessage, *nphies.BusinessRejection, error) {
	var in fakeInput
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, nil, err
	}
	o.mu.Lock()
	o.calls[in.Key]++
	attempt := o.calls[in.Key]
	o.mu.Unlock()
	if o.delay > 0 {
		time.Sleep(o.delay)
	}
	return o.script(in.Key, attempt)
}

func (o *fakeOp) callCount(key string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.calls[key]
}

func (o *fakeOp) totalCalls() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, c := range o.calls {
		n += c
	}
	return n
}

func succeedAlways(key string, attempt int) (json.RawMessage, *nphies.BusinessRejection, error) {
	return json.RawMessage(fmt.Sprintf(`{"key":%q,"ok":true}`, key)), nil, nil
}

func newTestPipeline(repo Repository, workers, maxAttempts int) *Pipeline {
	return NewPipeline(repo, workers, maxAttempts, zerolog.Nop())
}

func TestRunDeduplication(t *testing.T) {
	repo := NewMemoryRepository()
	op := newFakeOp(succeedAlways)
	p := newTestPipeline(repo, 4, 3)

	inputs := []json.RawMessage{
		rawInput(t, "1234567890|7000911508|2025-10-22", false),
		rawInput(t, "1234567890|7000911508|2025-10-22", false),
		rawInput(t, "9876543210|7000911508|2025-10-22", false),
	}
	run, err := p.Run(context.Background(), op, inputs)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := op.callCount("1234567890|7000911508|2025-10-22"); got != 1 {
		t.Fatalf("duplicate key dispatched %d times, want 1", got)
	}
	if op.totalCalls() != 2 {
		t.Fatalf("total dispatches = %d, want 2", op.totalCalls())
	}
	if run.Total != 3 || run.Succeeded != 3 || run.Duplicates != 1 {
		t.Fatalf("run counts = %+v", run)
	}

	records, err := repo.ListRecords(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("ListRecords: %v", err)
	}
	if records[1].DuplicateOf != records[0].ID {
		t.Fatalf("second record duplicate_of = %q, want %q", records[1].DuplicateOf, records[0].ID)
	}
	if string(records[1].Result) != string(records[0].Result) {
		t.Fatal("duplicate does not reference the primary result")
	}
}

func TestRunInvalidRecordConsumesNoCall(t *testing.T) {
	repo := NewMemoryRepository()
	op := newFakeOp(succeedAlways)
	p := newTestPipeline(repo, 2, 3)

	run, err := p.Run(context.Background(), op, []json.RawMessage{
		rawInput(t, "bad", true),
		rawInput(t, "good", false),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if op.callCount("bad") != 0 {
		t.Fatal("invalid record reached dispatch")
	}
	if run.Invalid != 1 || run.Succeeded != 1 {
		t.Fatalf("run counts = %+v", run)
	}

	records, _ := repo.ListRecords(context.Background(), run.ID)
	if records[0].Status != RecordInvalid || records[0].ErrorKind != "validation" {
		t.Fatalf("invalid record = %+v", records[0])
	}
}

func TestRunBusinessRejectionNotRetried(t *testing.T) {
	repo := NewMemoryRepository()
	op := newFakeOp(func(key string, attempt int) (json.RawMessage, *nphies.BusinessRejection, error) {
		return nil, &nphies.BusinessRejection{Code: "EL-01001", Display: "member not eligible", Category: nphies.CategoryDenied}, nil
	})
	p := newTestPipeline(repo, 2, 3)

	run, err := p.Run(context.Background(), op, []json.RawMessage{rawInput(t, "k1", false)})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if op.callCount("k1") != 1 {
		t.Fatalf("rejected record dispatched %d times, want 1", op.callCount("k1"))
	}
	if run.Rejected != 1 {
		t.Fatalf("run counts = %+v", run)
	}

	records, _ := repo.ListRecords(context.Background(), run.ID)
	if records[0].Status != RecordRejected {
		t.Fatalf("status = %s, want rejected", records[0].Status)
	}
	if records[0].ErrorKind != "business_rejection" {
		t.Fatalf("error kind = %q", records[0].ErrorKind)
	}
}

func TestRunTransportRetriesToExhaustion(t *testing.T) {
	repo := NewMemoryRepository()
	op := newFakeOp(func(key string, attempt int) (json.RawMessage, *nphies.BusinessRejection, error) {
		return nil, nil, &nphies.TransportError{Attempts: 4}
	})
	p := newTestPipeline(repo, 1, 3)

	run, err := p.Run(context.Background(), op, []json.RawMessage{rawInput(t, "k1", false)})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if op.callCount("k1") != 3 {
		t.Fatalf("record dispatched %d times, want 3", op.callCount("k1"))
	}
	if run.Exhausted != 1 {
		t.Fatalf("run counts = %+v", run)
	}

	records, _ := repo.ListRecords(context.Background(), run.ID)
	if records[0].Status != RecordExhausted || records[0].Attempts != 3 {
		t.Fatalf("record = %+v", records[0])
	}
}

func TestRunTransientFailureThenSuccess(t *testing.T) {
	repo := NewMemoryRepository()
	op := newFakeOp(func(key string, attempt int) (json.RawMessage, *nphies.BusinessRejection, error) {
		if attempt == 1 {
			return nil, nil, &nphies.TransportError{Attempts: 4}
		}
		return succeedAlways(key, attempt)
	})
	p := newTestPipeline(repo, 1, 3)

	run, err := p.Run(context.Background(), op, []json.RawMessage{rawInput(t, "k1", false)})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if run.Succeeded != 1 || run.Retried != 1 {
		t.Fatalf("run counts = %+v", run)
	}

	records, _ := repo.ListRecords(context.Background(), run.ID)
	if records[0].Status != RecordSucceeded || records[0].Attempts != 2 {
		t.Fatalf("record = %+v", records[0])
	}
	if records[0].ErrorKind != "" {
		t.Fatalf("error kind not cleared: %q", records[0].ErrorKind)
	}
}

func TestRunProtocolErrorNeedsReview(t *testing.T) {
	repo := NewMemoryRepository()
	op := newFakeOp(func(key string, attempt int) (json.RawMessage, *nphies.BusinessRejection, error) {
		return nil, nil, &nphies.ProtocolError{Reason: "unexpected bundle shape"}
	})
	p := newTestPipeline(repo, 1, 3)

	run, err := p.Run(context.Background(), op, []json.RawMessage{rawInput(t, "k1", false)})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if op.callCount("k1") != 1 {
		t.Fatalf("protocol failure dispatched %d times, want 1", op.callCount("k1"))
	}
	if run.NeedsReview != 1 {
		t.Fatalf("run counts = %+v", run)
	}
}

func TestResumeReprocessesOnlyRetryable(t *testing.T) {
	repo := NewMemoryRepository()

	// First pass: k1 succeeds, k2 exhausts its transport retries.
	first := newFakeOp(func(key string, attempt int) (json.RawMessage, *nphies.BusinessRejection, error) {
		if key == "k2" {
			return nil, nil, &nphies.TransportError{Attempts: 4}
		}
		return succeedAlways(key, attempt)
	})
	p := newTestPipeline(repo, 1, 3)
	run, err := p.Run(context.Background(), first, []json.RawMessage{
		rawInput(t, "k1", false),
		rawInput(t, "k2", false),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if run.Succeeded != 1 || run.Exhausted != 1 {
		t.Fatalf("first pass counts = %+v", run)
	}

	// Second pass: the clearinghouse recovered.
	second := newFakeOp(succeedAlways)
	resumed, err := p.Resume(context.Background(), second, run.ID)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}

	if second.callCount("k1") != 0 {
		t.Fatal("resume re-dispatched a terminal record")
	}
	if second.callCount("k2") != 1 {
		t.Fatalf("retryable record dispatched %d times, want 1", second.callCount("k2"))
	}
	if resumed.Total != 2 || resumed.Succeeded != 2 || resumed.Exhausted != 0 {
		t.Fatalf("resumed counts = %+v", resumed)
	}
	if resumed.Status != RunCompleted {
		t.Fatalf("resumed status = %s", resumed.Status)
	}

	// The exhausted record got a fresh attempt budget, not a leftover count.
	records, err := repo.ListRecords(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("ListRecords: %v", err)
	}
	for _, rec := range records {
		if rec.NaturalKey != "k2" {
			continue
		}
		if rec.Status != RecordSucceeded || rec.Attempts != 1 {
			t.Fatalf("resumed record status = %s, attempts = %d, want succeeded with 1", rec.Status, rec.Attempts)
		}
	}
}

func TestRunCancellationStopsNewDispatches(t *testing.T) {
	repo := NewMemoryRepository()
	ctx, cancel := context.WithCancel(context.Background())

	started := make(chan struct{}, 1)
	op := newFakeOp(func(key string, attempt int) (json.RawMessage, *nphies.BusinessRejection, error) {
		select {
		case started <- struct{}{}:
		default:
		}
		time.Sleep(100 * time.Millisecond)
		return succeedAlways(key, attempt)
	})
	p := newTestPipeline(repo, 1, 3)

	go func() {
		<-started
		cancel()
	}()

	inputs := make([]json.RawMessage, 10)
	for i := range inputs {
		inputs[i] = rawInput(t, fmt.Sprintf("k%d", i), false)
	}
	run, err := p.Run(ctx, op, inputs)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if run.Status != RunCancelled {
		t.Fatalf("run status = %s, want cancelled", run.Status)
	}
	// The in-flight record finished; most of the rest never dispatched.
	if run.Succeeded == 0 {
		t.Fatal("in-flight record was not allowed to complete")
	}
	if op.totalCalls() >= 10 {
		t.Fatalf("all %d records dispatched despite cancellation", op.totalCalls())
	}

	records, _ := repo.ListRecords(context.Background(), run.ID)
	pending := 0
	for _, rec := range records {
		if rec.Status == RecordPending {
			pending++
		}
	}
	if pending == 0 {
		t.Fatal("no records left pending for resume")
	}
}

func TestResumeAfterCancellationMatchesUninterruptedRun(t *testing.T) {
	repo := NewMemoryRepository()
	ctx, cancel := context.WithCancel(context.Background())

	started := make(chan struct{}, 1)
	op := newFakeOp(func(key string, attempt int) (json.RawMessage, *nphies.BusinessRejection, error) {
		select {
		case started <- struct{}{}:
		default:
		}
		time.Sleep(50 * time.Millisecond)
		return succeedAlways(key, attempt)
	})
	p := newTestPipeline(repo, 1, 3)

	go func() {
		<-started
		cancel()
	}()

	inputs := make([]json.RawMessage, 6)
	for i := range inputs {
		inputs[i] = rawInput(t, fmt.Sprintf("k%d", i), false)
	}
	run, err := p.Run(ctx, op, inputs)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	resumed, err := p.Resume(context.Background(), newFakeOp(succeedAlways), run.ID)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if resumed.Total != 6 || resumed.Succeeded != 6 {
		t.Fatalf("resumed counts = %+v, want 6 succeeded", resumed)
	}
	if resumed.Status != RunCompleted {
		t.Fatalf("resumed status = %s", resumed.Status)
	}
}
