package pointer

import (
	"context"
	"sync"
)

type MemoryRepository struct {
	mu       sync.RWMutex
	pointers map[string]string
	names    map[string]string
	setErr   error
	sets     int
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		pointers: make(map[string]string),
		names:    make(map[string]string),
	}
}

func (r *MemoryRepository) Get(ctx context.Context, ownerID string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.pointers[ownerID], nil
}

func (r *MemoryRepository) Set(ctx context.Context, ownerID, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sets++
	if r.setErr != nil {
		return r.setErr
	}
	if value == "" {
		delete(r.pointers, ownerID)
		return nil
	}
	r.pointers[ownerID] = value
	return nil
}

func (r *MemoryRepository) DisplayName(ctx context.Context, ownerID string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.names[ownerID], nil
}

func (r *MemoryRepository) SetDisplayName(ownerID, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names[ownerID] = name
}

// FailWrites makes Set return err until cleared with nil.
func (r *MemoryRepository) FailWrites(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.setErr = err
}

// Sets counts Set calls, failed ones included.
func (r *MemoryRepository) Sets() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sets
}
