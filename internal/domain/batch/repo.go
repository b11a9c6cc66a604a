package batch

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// ErrNotFound is returned when no run or record exists under the given id.
var ErrNotFound = errors.New("not found")

// Repository persists runs and records. UpdateRecord is called once per
// record state change, immediately, which is what makes runs resumable.
type Repository interface {
	CreateRun(ctx context.Context, r *Run) error
	UpdateRun(ctx context.Context, r *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context) ([]*Run, error)

	CreateRecord(ctx context.Context, rec *Record) error
	UpdateRecord(ctx context.Context, rec *Record) error
	ListRecords(ctx context.Context, runID string) ([]*Record, error)
}

// MemoryRepository is the in-process store used when no database is
// configured and by tests.
type MemoryRepository struct {
	mu      sync.RWMutex
	runs    map[string]Run
	records map[string]Record
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		runs:    make(map[string]Run),
		records: make(map[string]Record),
	}
}

func (r *MemoryRepository) CreateRun(ctx context.Context, run *Run) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[run.ID] = *run
	return nil
}

func (r *MemoryRepository) UpdateRun(ctx context.Context, run *Run) error {
	return r.CreateRun(ctx, run)
}

func (r *MemoryRepository) GetRun(ctx context.Context, id string) (*Run, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.runs[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := run
	return &out, nil
}

func (r *MemoryRepository) ListRuns(ctx context.Context) ([]*Run, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Run
	for _, run := range r.runs {
		rr := run
		out = append(out, &rr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

func (r *MemoryRepository) CreateRecord(ctx context.Context, rec *Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[rec.ID] = *rec
	return nil
}

func (r *MemoryRepository) UpdateRecord(ctx context.Context, rec *Record) error {
	return r.CreateRecord(ctx, rec)
}

func (r *MemoryRepository) ListRecords(ctx context.Context, runID string) ([]*Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Record
	for _, rec := range r.records {
		if rec.RunID != runID {
			continue
		}
		rr := rec
		out = append(out, &rr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}
