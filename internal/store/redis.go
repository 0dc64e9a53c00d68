package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Reads outside a unit of work check Redis first then fall back to
// the primary. Inside a unit every read goes to the primary, and the keys
// a unit writes are invalidated once it commits.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// cacheUnit collects the cache keys a unit of work has written.
type cacheUnit struct {
	owner *CachedStore
	mu    sync.Mutex
	keys  []string
}

type cacheUnitKey struct{}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

func (s *CachedStore) unit(ctx context.Context) *cacheUnit {
	u, _ := ctx.Value(cacheUnitKey{}).(*cacheUnit)
	if u != nil && u.owner == s {
		return u
	}
	return nil
}

func (s *CachedStore) Atomic(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.unit(ctx) != nil {
		return s.primary.Atomic(ctx, fn)
	}
	u := &cacheUnit{owner: s}
	err := s.primary.Atomic(context.WithValue(ctx, cacheUnitKey{}, u), fn)
	if err != nil {
		return err
	}
	// Invalidate after commit; the next read re-populates.
	if len(u.keys) > 0 {
		s.rdb.Del(ctx, u.keys...)
	}
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) Get(ctx context.Context, ns, key string, dst any) error {
	if s.unit(ctx) != nil {
		return s.primary.Get(ctx, ns, key, dst)
	}

	ck := cacheKey(ns, key)
	data, err := s.rdb.Get(ctx, ck).Bytes()
	if err == nil && json.Unmarshal(data, dst) == nil {
		return nil
	}

	// Cache miss: read from primary.
	var raw json.RawMessage
	if err := s.primary.Get(ctx, ns, key, &raw); err != nil {
		return err
	}
	s.rdb.Set(ctx, ck, []byte(raw), s.ttl)
	return json.Unmarshal(raw, dst)
}

func (s *CachedStore) Has(ctx context.Context, ns, key string) (bool, error) {
	if s.unit(ctx) == nil {
		n, err := s.rdb.Exists(ctx, cacheKey(ns, key)).Result()
		if err == nil && n > 0 {
			return true, nil
		}
	}
	return s.primary.Has(ctx, ns, key)
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) Set(ctx context.Context, ns, key string, v any) error {
	if err := s.primary.Set(ctx, ns, key, v); err != nil {
		return err
	}
	s.invalidate(ctx, cacheKey(ns, key))
	return nil
}

func (s *CachedStore) Delete(ctx context.Context, ns, key string) error {
	if err := s.primary.Delete(ctx, ns, key); err != nil {
		return err
	}
	s.invalidate(ctx, cacheKey(ns, key))
	return nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) Extend(ctx context.Context, ns string) error {
	return s.primary.Extend(ctx, ns)
}

// invalidate drops k now, or defers it to commit when ctx is inside a unit.
func (s *CachedStore) invalidate(ctx context.Context, k string) {
	if u := s.unit(ctx); u != nil {
		u.mu.Lock()
		u.keys = append(u.keys, k)
		u.mu.Unlock()
		return
	}
	s.rdb.Del(ctx, k)
}

func cacheKey(ns, key string) string { return fmt.Sprintf("kv:%s:%s", ns, key) }
