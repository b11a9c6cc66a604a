package claims

import (
	"context"
	"errors"
	"sync"
)

// ErrNotFound is returned when no claim exists under the given id.
var ErrNotFound = errors.New("claim not found")

// Repository persists claim lifecycle records. Save upserts by claim id.
type Repository interface {
	Save(ctx context.Context, c *Claim) error
	Get(ctx context.Context, id string) (*Claim, error)
}

// MemoryRepository is the in-process store used when no database is
// configured and by tests.
type MemoryRepository struct {
	mu     sync.RWMutex
	claims map[string]Claim
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{claims: make(map[string]Claim)}
}

func (r *MemoryRepository) Save(ctx context.Context, c *Claim) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.claims[c.ID] = *c
	return nil
}

func (r *MemoryRepository) Get(ctx context.Context, id string) (*Claim, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.claims[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := c
	return &out, nil
}
