// Package cache provides the shared key/value store that holds per-entity
// correlation state.
//
// The bracketer treats the cache as an external collaborator: a store with
// get-or-create, set and delete, plus an atomic read-modify-write over a
// small group of keys. Backends are interchangeable: MemoryStore for a
// single process, SQLiteStore for processes sharing a database file, and
// RedisStore for workers sharing a Redis deployment.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Store is the cache backend contract.
// Implementations must be safe for concurrent use.
type Store interface {
	// GetOrCreate returns the value stored at key. If the key does not exist,
	// init is called, its result is stored without expiry and returned.
	GetOrCreate(ctx context.Context, key string, init func() ([]byte, error)) ([]byte, error)

	// Set stores value at key. A positive ttl expires the entry after that
	// duration; zero means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes keys. Missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error

	// Update atomically reads keys, passes their current values to fn and
	// applies the returned Mutation. Absent keys are missing from the map
	// passed to fn. No concurrent Update on an overlapping key group can
	// interleave with this one.
	//
	// Optimistic backends may call fn more than once; fn must not have side
	// effects outside its return value. If fn returns an error nothing is
	// written and that error is returned unchanged.
	Update(ctx context.Context, keys []string, fn UpdateFunc) error

	// Close releases any resources (connections, files, goroutines).
	Close() error
}

// UpdateFunc computes the writes for an atomic update from current values.
type UpdateFunc func(current map[string][]byte) (Mutation, error)

// Mutation is the set of writes an UpdateFunc asks for.
type Mutation struct {
	// Set stores each value under its key.
	Set map[string][]byte

	// Delete removes each key.
	Delete []string

	// TTL applies to every key in Set. Zero means no expiry.
	TTL time.Duration
}

// Empty reports whether the mutation writes nothing.
func (m Mutation) Empty() bool {
	return len(m.Set) == 0 && len(m.Delete) == 0
}

// Sweeper is implemented by backends without native expiry. Sweep removes
// expired entries and returns how many were removed.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// Sentinel errors for cache operations.
var (
	// ErrStoreUnavailable indicates the backend could not complete an
	// operation: unreachable, timed out, closed, or failed internally.
	ErrStoreUnavailable = errors.New("correlation store unavailable")

	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("correlation store closed")
)

// StoreError wraps a backend failure with the operation and key involved.
// It matches ErrStoreUnavailable with errors.Is, as well as its cause.
type StoreError struct {
	// Op is the operation that failed ("get_or_create", "set", "delete", "update", "sweep").
	Op string
	// Key is the first key involved, if any.
	Key string
	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("cache %s %s: %v", e.Op, e.Key, e.Err)
	}
	return fmt.Sprintf("cache %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// Is reports ErrStoreUnavailable for every StoreError.
func (e *StoreError) Is(target error) bool {
	return target == ErrStoreUnavailable
}

// unavailable wraps err as a *StoreError unless it already is one or it is
// nil.
func unavailable(op, key string, err error) error {
	if err == nil {
		return nil
	}
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	return &StoreError{Op: op, Key: key, Err: err}
}

func firstKey(keys []string) string {
	if len(keys) == 0 {
		return ""
	}
	return keys[0]
}
