// Package redis provides a Redis-backed view repository for read models.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/felixgeelhaar/sourcing-go/domain/view"
)

// ErrConnectionFailed marks Redis-level faults.
var ErrConnectionFailed = errors.New("view store connection failed")

// Config configures the Redis view repository.
type Config struct {
	Address     string
	Password    string
	DB          int
	DialTimeout time.Duration

	// KeyPrefix namespaces this projection's views, e.g. "views:product:".
	KeyPrefix string
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Address:     "localhost:6379",
		DialTimeout: 5 * time.Second,
	}
}

// Repository is a Redis-backed implementation of view.Repository. Views
// are stored as JSON under prefixed keys; UpdateByID uses an optimistic
// WATCH transaction for single-item consistency.
type Repository[V any] struct {
	client    *redis.Client
	keyPrefix string
}

// NewRepository connects to Redis and creates a repository.
func NewRepository[V any](cfg Config) (*Repository[V], error) {
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Address,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, errors.Join(ErrConnectionFailed, err)
	}

	return NewRepositoryFromClient[V](client, cfg.KeyPrefix), nil
}

// NewRepositoryFromClient creates a repository over an existing client.
func NewRepositoryFromClient[V any](client *redis.Client, keyPrefix string) *Repository[V] {
	return &Repository[V]{client: client, keyPrefix: keyPrefix}
}

// key adds the key prefix.
func (r *Repository[V]) key(id string) string {
	return r.keyPrefix + id
}

// Save stores the view under id, replacing any existing value.
func (r *Repository[V]) Save(ctx context.Context, id string, v V) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.key(id), data, 0).Err(); err != nil {
		return errors.Join(ErrConnectionFailed, err)
	}
	return nil
}

// UpdateByID applies fn to the stored view inside a WATCH transaction and
// retries on write conflicts.
func (r *Repository[V]) UpdateByID(ctx context.Context, id string, fn func(V) V) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	key := r.key(id)
	update := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return view.ErrNotFound
			}
			return err
		}
		var v V
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		next, err := json.Marshal(fn(v))
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, next, 0)
			return nil
		})
		return err
	}

	for {
		err := r.client.Watch(ctx, update, key)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, redis.TxFailedErr):
			continue // concurrent write; retry
		case errors.Is(err, view.ErrNotFound):
			return view.ErrNotFound
		default:
			return errors.Join(ErrConnectionFailed, err)
		}
	}
}

// Find returns the view stored under id.
func (r *Repository[V]) Find(ctx context.Context, id string) (V, error) {
	var zero V
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	data, err := r.client.Get(ctx, r.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return zero, view.ErrNotFound
		}
		return zero, errors.Join(ErrConnectionFailed, err)
	}
	var v V
	if err := json.Unmarshal(data, &v); err != nil {
		return zero, err
	}
	return v, nil
}

// Ensure Repository implements view.Repository.
var _ view.Repository[struct{}] = (*Repository[struct{}])(nil)
