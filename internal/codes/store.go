package codes

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Counter names used across the application.
const (
	CounterOrders   = "orders"
	CounterProducts = "products"
)

// PGCounterStore persists counters in PostgreSQL. The upsert increments in a
// single statement, so concurrent callers each receive a distinct value.
type PGCounterStore struct {
	pool *pgxpool.Pool
}

// NewPGCounterStore constructs PGCounterStore.
func NewPGCounterStore(pool *pgxpool.Pool) *PGCounterStore {
	return &PGCounterStore{pool: pool}
}

// NextValue increments the named counter and returns the new value.
func (s *PGCounterStore) NextValue(ctx context.Context, name string) (int64, error) {
	const query = `
		INSERT INTO code_counters (name, value) VALUES ($1, 1)
		ON CONFLICT (name) DO UPDATE SET value = code_counters.value + 1
		RETURNING value`
	var value int64
	err := s.pool.QueryRow(ctx, query, name).Scan(&value)
	return value, err
}
