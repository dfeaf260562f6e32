package finance

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// Cache keeps revenue totals in Redis so dashboard polling does not hammer
// the ledger table.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache constructs Cache.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Cache{client: client, ttl: ttl}
}

func revenueKey(branchID *int64, from, to time.Time) string {
	branch := "all"
	if branchID != nil {
		branch = fmt.Sprintf("%d", *branchID)
	}
	return fmt.Sprintf("finance:revenue:%s:%s:%s", branch, from.Format("2006-01-02"), to.Format("2006-01-02"))
}

// GetRevenue returns a cached total, reporting whether it was present.
func (c *Cache) GetRevenue(ctx context.Context, branchID *int64, from, to time.Time) (decimal.Decimal, bool) {
	if c == nil || c.client == nil {
		return decimal.Zero, false
	}
	raw, err := c.client.Get(ctx, revenueKey(branchID, from, to)).Result()
	if err != nil {
		return decimal.Zero, false
	}
	total, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, false
	}
	return total, true
}

// SetRevenue stores a total with the configured TTL.
func (c *Cache) SetRevenue(ctx context.Context, branchID *int64, from, to time.Time, total decimal.Decimal) {
	if c == nil || c.client == nil {
		return
	}
	_ = c.client.Set(ctx, revenueKey(branchID, from, to), total.String(), c.ttl).Err()
}

// InvalidateBranch drops cached totals touched by a new ledger row. A branch
// row also feeds the cross-branch totals, so the "all" keyspace is cleared
// alongside the branch's; a row without a branch clears every cached total.
func (c *Cache) InvalidateBranch(ctx context.Context, branchID *int64) {
	if c == nil || c.client == nil {
		return
	}
	patterns := []string{"finance:revenue:*"}
	if branchID != nil {
		patterns = []string{
			fmt.Sprintf("finance:revenue:%d:*", *branchID),
			"finance:revenue:all:*",
		}
	}
	for _, pattern := range patterns {
		iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()
		for iter.Next(ctx) {
			_ = c.client.Del(ctx, iter.Val()).Err()
		}
	}
}
