// Package ledger implements the time-scored, append-only collection of
// processed payments (spec §4.1, component C1) on top of Redis sorted sets.
package ledger

import (
	"context"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"paygate/internal/model"
)

// defaultKey is the single logical name the ledger lives under, per spec §4.1.
const defaultKey = "payments"

// Store is a Redis-backed, time-scored ordered collection of
// model.ProcessedPayment records.
type Store struct {
	rdb *redis.Client
	key string
}

// New returns a Store keyed under the ledger's default logical name.
func New(rdb *redis.Client) *Store {
	return &Store{rdb: rdb, key: defaultKey}
}

// Append inserts record at score record.ProcessedAt (ms since epoch).
// Duplicate scores are permitted in the ordering; logical uniqueness per
// correlationId is the idempotency registry's job, not the ledger's.
func (s *Store) Append(ctx context.Context, record model.ProcessedPayment) error {
	data, err := sonic.ConfigFastest.Marshal(record)
	if err != nil {
		return fmt.Errorf("ledger: marshal record: %w", err)
	}

	score := float64(record.ProcessedAt.UnixMilli())
	if err := s.rdb.ZAdd(ctx, s.key, redis.Z{Score: score, Member: data}).Err(); err != nil {
		return fmt.Errorf("ledger: append: %w", err)
	}
	return nil
}

// RangeByScore performs an inclusive scan over [fromMs, toMs], in score
// order. A nil bound is unbounded in that direction.
func (s *Store) RangeByScore(ctx context.Context, fromMs, toMs *int64) ([]model.ProcessedPayment, error) {
	by := &redis.ZRangeBy{
		Min: scoreBound(fromMs, "-inf"),
		Max: scoreBound(toMs, "+inf"),
	}

	members, err := s.rdb.ZRangeByScore(ctx, s.key, by).Result()
	if err != nil {
		return nil, fmt.Errorf("ledger: range scan: %w", err)
	}

	records := make([]model.ProcessedPayment, 0, len(members))
	for _, raw := range members {
		var record model.ProcessedPayment
		if err := sonic.ConfigFastest.UnmarshalFromString(raw, &record); err != nil {
			return nil, fmt.Errorf("ledger: decode record: %w", err)
		}
		records = append(records, record)
	}
	return records, nil
}

// Purge clears the ledger. Backs the supplemental POST /purge-payments
// test-harness endpoint (SPEC_FULL §4); never invoked from the processing
// pipeline itself.
func (s *Store) Purge(ctx context.Context) error {
	if err := s.rdb.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("ledger: purge: %w", err)
	}
	return nil
}

// Ping reports whether the backing Redis connection is reachable. Backs
// the supplemental GET /health liveness probe (SPEC_FULL §4).
func (s *Store) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ledger: ping: %w", err)
	}
	return nil
}

func scoreBound(ms *int64, unbounded string) string {
	if ms == nil {
		return unbounded
	}
	return fmt.Sprintf("%d", *ms)
}
