package communication

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// ErrNotFound is returned when no communication exists under the given id.
var ErrNotFound = errors.New("communication not found")

// Repository persists inbound communications. Save upserts by message id,
// which is what makes repeated polls idempotent.
type Repository interface {
	Save(ctx context.Context, c *Communication) error
	Get(ctx context.Context, id string) (*Communication, error)
	List(ctx context.Context, status Status) ([]*Communication, error)
}

// MemoryRepository is the in-process store used when no database is
// configured and by tests.
type MemoryRepository struct {
	mu   sync.RWMutex
	msgs map[string]Communication
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{msgs: make(map[string]Communication)}
}

func (r *MemoryRepository) Save(ctx context.Context, c *Communication) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs[c.ID] = *c
	return nil
}

func (r *MemoryRepository) Get(ctx context.Context, id string) (*Communication, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.msgs[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := c
	return &out, nil
}

func (r *MemoryRepository) List(ctx context.Context, status Status) ([]*Communication, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Communication
	for _, c := range r.msgs {
		if status != "" && c.Status != status {
			continue
		}
		cc := c
		out = append(out, &cc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
