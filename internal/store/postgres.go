package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// unitLockKey is the advisory lock id that serializes units of work across
// every process sharing the database.
const unitLockKey int64 = 0x6d617267696e

const schema = `
CREATE TABLE IF NOT EXISTS kv_entries (
	namespace  TEXT        NOT NULL,
	key        TEXT        NOT NULL,
	value      JSONB       NOT NULL,
	touched_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (namespace, key)
)`

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Amounts inside the JSON documents are encoded as strings so NUMERIC
// precision survives the round trip.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type pgTxKey struct{}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the kv_entries table if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate kv_entries: %w", err)
	}
	return nil
}

func (s *PostgresStore) q(ctx context.Context) querier {
	if tx, ok := ctx.Value(pgTxKey{}).(pgx.Tx); ok {
		return tx
	}
	return s.pool
}

func (s *PostgresStore) Atomic(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(pgTxKey{}).(pgx.Tx); ok {
		return fn(ctx)
	}
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.Serializable}, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, unitLockKey); err != nil {
			return fmt.Errorf("acquire unit lock: %w", err)
		}
		return fn(context.WithValue(ctx, pgTxKey{}, tx))
	})
}

func (s *PostgresStore) Get(ctx context.Context, ns, key string, dst any) error {
	var raw string
	err := s.q(ctx).QueryRow(ctx,
		`SELECT value::TEXT FROM kv_entries WHERE namespace = $1 AND key = $2`,
		ns, key).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, ns, key)
	}
	if err != nil {
		return fmt.Errorf("get %s/%s: %w", ns, key, err)
	}
	return json.Unmarshal([]byte(raw), dst)
}

func (s *PostgresStore) Has(ctx context.Context, ns, key string) (bool, error) {
	var exists bool
	err := s.q(ctx).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM kv_entries WHERE namespace = $1 AND key = $2)`,
		ns, key).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("has %s/%s: %w", ns, key, err)
	}
	return exists, nil
}

func (s *PostgresStore) Set(ctx context.Context, ns, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", ns, key, err)
	}
	_, err = s.q(ctx).Exec(ctx,
		`INSERT INTO kv_entries (namespace, key, value, touched_at)
		 VALUES ($1, $2, $3::JSONB, now())
		 ON CONFLICT (namespace, key) DO UPDATE
		 SET value = EXCLUDED.value, touched_at = now()`,
		ns, key, string(raw))
	if err != nil {
		return fmt.Errorf("set %s/%s: %w", ns, key, err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, ns, key string) error {
	_, err := s.q(ctx).Exec(ctx,
		`DELETE FROM kv_entries WHERE namespace = $1 AND key = $2`, ns, key)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", ns, key, err)
	}
	return nil
}

func (s *PostgresStore) Extend(ctx context.Context, ns string) error {
	_, err := s.q(ctx).Exec(ctx,
		`UPDATE kv_entries SET touched_at = now() WHERE namespace = $1`, ns)
	if err != nil {
		return fmt.Errorf("extend %s: %w", ns, err)
	}
	return nil
}
