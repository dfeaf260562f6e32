// Package codes produces collision-checked unique document codes from a
// persisted counter.
package codes

import (
	"context"
	"errors"
	"fmt"
)

// ErrExhausted is returned when the generator could not find a free code
// within its attempt budget.
var ErrExhausted = errors.New("codes: attempts exhausted without a free code")

// DefaultMaxAttempts bounds the collision retry loop.
const DefaultMaxAttempts = 10

// CounterStore increments a named persisted counter and returns its new value.
// The increment must be atomic at the storage layer.
type CounterStore interface {
	NextValue(ctx context.Context, name string) (int64, error)
}

// ExistsFunc reports whether a candidate code is already taken.
type ExistsFunc func(ctx context.Context, code string) (bool, error)

// Generator formats counter values into codes and retries on collision.
type Generator struct {
	store       CounterStore
	counter     string
	format      func(n int64) string
	exists      ExistsFunc
	maxAttempts int
}

// NewGenerator builds a Generator for one counter.
func NewGenerator(store CounterStore, counter string, format func(int64) string, exists ExistsFunc) *Generator {
	return &Generator{
		store:       store,
		counter:     counter,
		format:      format,
		exists:      exists,
		maxAttempts: DefaultMaxAttempts,
	}
}

// WithMaxAttempts overrides the retry budget.
func (g *Generator) WithMaxAttempts(n int) *Generator {
	if n > 0 {
		g.maxAttempts = n
	}
	return g
}

// Generate returns a code not currently present in the backing store. Each
// attempt consumes one counter value, so concurrent callers never see the
// same candidate.
func (g *Generator) Generate(ctx context.Context) (string, error) {
	for attempt := 0; attempt < g.maxAttempts; attempt++ {
		value, err := g.store.NextValue(ctx, g.counter)
		if err != nil {
			return "", fmt.Errorf("codes: next value for %s: %w", g.counter, err)
		}
		candidate := g.format(value)
		if g.exists == nil {
			return candidate, nil
		}
		taken, err := g.exists(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("codes: check %s: %w", candidate, err)
		}
		if !taken {
			return candidate, nil
		}
	}
	return "", ErrExhausted
}

// OrderCodeFormat renders order codes, e.g. ORD-000042.
func OrderCodeFormat(n int64) string {
	return fmt.Sprintf("ORD-%06d", n)
}

// ProductCodeFormat renders product barcodes, e.g. PRD-000042.
func ProductCodeFormat(n int64) string {
	return fmt.Sprintf("PRD-%06d", n)
}
