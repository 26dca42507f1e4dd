// Package memory provides the in-memory view repository used by tests and
// as the default read-side store.
package memory

import (
	"context"
	"sync"

	"github.com/felixgeelhaar/sourcing-go/domain/view"
)

// Repository is an in-memory implementation of view.Repository.
type Repository[V any] struct {
	mu    sync.RWMutex
	views map[string]V
}

// NewRepository creates an empty repository.
func NewRepository[V any]() *Repository[V] {
	return &Repository[V]{views: make(map[string]V)}
}

// Save stores the view under id, replacing any existing value.
func (r *Repository[V]) Save(ctx context.Context, id string, v V) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.views[id] = v
	return nil
}

// UpdateByID applies fn to the stored view and persists the result.
func (r *Repository[V]) UpdateByID(ctx context.Context, id string, fn func(V) V) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.views[id]
	if !ok {
		return view.ErrNotFound
	}
	r.views[id] = fn(v)
	return nil
}

// Find returns the view stored under id.
func (r *Repository[V]) Find(ctx context.Context, id string) (V, error) {
	var zero V
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.views[id]
	if !ok {
		return zero, view.ErrNotFound
	}
	return v, nil
}

// Len returns the number of stored views.
func (r *Repository[V]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.views)
}

// Ensure Repository implements view.Repository.
var _ view.Repository[struct{}] = (*Repository[struct{}])(nil)
