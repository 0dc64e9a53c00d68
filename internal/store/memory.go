package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	unit    sync.Mutex // serializes units of work
	mu      sync.RWMutex
	data    map[string][]byte
	touched map[string]time.Time // namespace -> last Extend
}

// memTx is the write overlay of one unit of work. A nil value marks a
// deletion.
type memTx struct {
	owner  *MemoryStore
	writes map[string][]byte
}

type memTxKey struct{}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data:    make(map[string][]byte),
		touched: make(map[string]time.Time),
	}
}

func (s *MemoryStore) tx(ctx context.Context) *memTx {
	tx, _ := ctx.Value(memTxKey{}).(*memTx)
	if tx != nil && tx.owner == s {
		return tx
	}
	return nil
}

func (s *MemoryStore) Atomic(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.tx(ctx) != nil {
		return fn(ctx)
	}

	s.unit.Lock()
	defer s.unit.Unlock()

	tx := &memTx{owner: s, writes: make(map[string][]byte)}
	if err := fn(context.WithValue(ctx, memTxKey{}, tx)); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range tx.writes {
		if v == nil {
			delete(s.data, k)
			continue
		}
		s.data[k] = v
	}
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, ns, key string, dst any) error {
	raw, ok := s.lookup(ctx, entryKey(ns, key))
	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, ns, key)
	}
	return json.Unmarshal(raw, dst)
}

func (s *MemoryStore) Has(ctx context.Context, ns, key string) (bool, error) {
	_, ok := s.lookup(ctx, entryKey(ns, key))
	return ok, nil
}

func (s *MemoryStore) Set(ctx context.Context, ns, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", ns, key, err)
	}
	s.write(ctx, entryKey(ns, key), raw)
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, ns, key string) error {
	s.write(ctx, entryKey(ns, key), nil)
	return nil
}

func (s *MemoryStore) Extend(_ context.Context, ns string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touched[ns] = time.Now().UTC()
	return nil
}

// LastExtended returns when ns was last extended.
func (s *MemoryStore) LastExtended(ns string) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.touched[ns]
	return t, ok
}

func (s *MemoryStore) lookup(ctx context.Context, k string) ([]byte, bool) {
	if tx := s.tx(ctx); tx != nil {
		if v, ok := tx.writes[k]; ok {
			return v, v != nil
		}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[k]
	return v, ok
}

// write goes to the unit's overlay when ctx carries one, straight to the
// committed map otherwise.
func (s *MemoryStore) write(ctx context.Context, k string, v []byte) {
	if tx := s.tx(ctx); tx != nil {
		tx.writes[k] = v
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if v == nil {
		delete(s.data, k)
		return
	}
	s.data[k] = v
}

func entryKey(ns, key string) string { return ns + "/" + key }
