// Package idempotency implements the correlation-id claim barrier (spec
// §4.2, component C2): the only cross-instance synchronization point that
// prevents a payment from being processed, and ledgered, more than once.
package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix = "paid:"
	claimTTL  = 2 * time.Hour
	claimed   = "1"
)

// Registry claims correlation ids via Redis SETNX.
type Registry struct {
	rdb *redis.Client
}

// New returns a Registry backed by rdb.
func New(rdb *redis.Client) *Registry {
	return &Registry{rdb: rdb}
}

// TryClaim atomically claims correlationId for a TTL of 2 hours. It returns
// true iff the caller won the claim; a caller that sees false must skip all
// further processing for that correlationId.
func (r *Registry) TryClaim(ctx context.Context, correlationID uuid.UUID) (bool, error) {
	won, err := r.rdb.SetNX(ctx, key(correlationID), claimed, claimTTL).Result()
	if err != nil {
		return false, fmt.Errorf("idempotency: claim %s: %w", correlationID, err)
	}
	return won, nil
}

// Purge clears claim keys created by this registry. Backs the supplemental
// POST /purge-payments test-harness endpoint (SPEC_FULL §4); never invoked
// from the processing pipeline itself.
func (r *Registry) Purge(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := r.rdb.Scan(ctx, cursor, keyPrefix+"*", 200).Result()
		if err != nil {
			return fmt.Errorf("idempotency: purge scan: %w", err)
		}
		if len(keys) > 0 {
			if err := r.rdb.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("idempotency: purge del: %w", err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

func key(correlationID uuid.UUID) string {
	return keyPrefix + correlationID.String()
}
