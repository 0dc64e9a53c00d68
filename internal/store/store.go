// Package store defines the persistence interface for the pool, the
// position engine and the asset ledger. Implementations include PostgreSQL
// (source of truth), Redis (read-through cache), and in-memory (for
// testing).
//
// Values are JSON documents addressed by (namespace, key). Every public
// engine operation runs inside Atomic: units of work are serialized, nested
// calls join the enclosing unit through the context, and an error from the
// unit discards every write made inside it.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("store: key not found")

// Store is the persistence interface.
type Store interface {
	// Get decodes the value at (ns, key) into dst.
	Get(ctx context.Context, ns, key string, dst any) error

	// Set encodes v as JSON and stores it at (ns, key).
	Set(ctx context.Context, ns, key string, v any) error

	// Has reports whether (ns, key) exists.
	Has(ctx context.Context, ns, key string) (bool, error)

	// Delete removes (ns, key). Deleting a missing key is not an error.
	Delete(ctx context.Context, ns, key string) error

	// Extend marks every entry in ns as recently used so retention policies
	// keep it alive.
	Extend(ctx context.Context, ns string) error

	// Atomic runs fn as one serialized, all-or-nothing unit of work. If ctx
	// already carries a unit from this store, fn joins it.
	Atomic(ctx context.Context, fn func(ctx context.Context) error) error
}
