package validation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ApprovalCache keeps a read-mostly copy of the latest quorum recount in
// Redis. The cache is advisory: dashboards and list views may read it, but
// every correctness-sensitive check recounts from the validation rows.
type ApprovalCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewApprovalCache wraps a go-redis client. A nil client disables the cache;
// all methods become no-ops.
func NewApprovalCache(rdb *redis.Client, ttl time.Duration) *ApprovalCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &ApprovalCache{rdb: rdb, ttl: ttl}
}

func approvalKey(transactionID string) string {
	return "clearinghouse:approvals:" + transactionID
}

// Put stores the latest recount for a transaction.
func (c *ApprovalCache) Put(ctx context.Context, transactionID string, state QuorumState) error {
	if c == nil || c.rdb == nil {
		return nil
	}
	value := fmt.Sprintf("%d/%d", state.Approvals, state.Required)
	if err := c.rdb.Set(ctx, approvalKey(transactionID), value, c.ttl).Err(); err != nil {
		return fmt.Errorf("validation: cache put: %w", err)
	}
	return nil
}

// Get returns the cached recount, or ok=false on a miss or disabled cache.
func (c *ApprovalCache) Get(ctx context.Context, transactionID string) (approvals, required int, ok bool, err error) {
	if c == nil || c.rdb == nil {
		return 0, 0, false, nil
	}
	value, err := c.rdb.Get(ctx, approvalKey(transactionID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, 0, false, nil
		}
		return 0, 0, false, fmt.Errorf("validation: cache get: %w", err)
	}
	if _, err := fmt.Sscanf(value, "%d/%d", &approvals, &required); err != nil {
		return 0, 0, false, nil
	}
	return approvals, required, true, nil
}

// Invalidate drops the cached recount, e.g. after a transaction is deleted.
func (c *ApprovalCache) Invalidate(ctx context.Context, transactionID string) error {
	if c == nil || c.rdb == nil {
		return nil
	}
	if err := c.rdb.Del(ctx, approvalKey(transactionID)).Err(); err != nil {
		return fmt.Errorf("validation: cache invalidate: %w", err)
	}
	return nil
}
