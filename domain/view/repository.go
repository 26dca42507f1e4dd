// Package view defines the read-side repository contract projections write
// derived views into.
package view

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no view exists under the given id.
var ErrNotFound = errors.New("view not found")

// Repository stores one projection's derived views keyed by domain id,
// with strongly consistent single-item semantics. The projection runtime
// treats every failure as retryable; implementations must keep updates
// idempotent-friendly (UpdateByID reads the current value and writes the
// result of fn atomically with respect to other calls on the same id).
type Repository[V any] interface {
	// Save stores the view under id, replacing any existing value.
	Save(ctx context.Context, id string, v V) error

	// UpdateByID applies fn to the stored view and persists the result.
	// Returns ErrNotFound when no view exists under id.
	UpdateByID(ctx context.Context, id string, fn func(V) V) error

	// Find returns the view stored under id, or ErrNotFound.
	Find(ctx context.Context, id string) (V, error)
}
