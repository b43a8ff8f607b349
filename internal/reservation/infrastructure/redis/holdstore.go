// Package redis implements the reservation hold store on an expiring
// key-value store: one key per occupied date, acquired all-or-nothing.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const holdKeyPrefix = "hold:reservation"

// HoldStore keeps short-lived advisory locks over an accommodation's dates.
// The store indexes exact keys, so a stay is fenced by claiming every date
// it occupies. The database overlap check remains the correctness authority.
type HoldStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewHoldStore(rdb *redis.Client, ttl time.Duration) *HoldStore {
	return &HoldStore{rdb: rdb, ttl: ttl}
}

// Acquire claims every date in [checkIn, checkOut) if and only if none of
// them is already held. MSETNX gives the conditional multi-key set in one
// round trip; TTLs are attached right after. If attaching TTLs fails the
// keys are deleted again rather than left without an expiry.
func (s *HoldStore) Acquire(ctx context.Context, accommodationID int64, checkIn, checkOut time.Time) (bool, error) {
	keys := holdKeys(accommodationID, checkIn, checkOut)
	if len(keys) == 0 {
		return false, fmt.Errorf("hold: empty date range")
	}

	pairs := make([]any, 0, len(keys)*2)
	for _, k := range keys {
		pairs = append(pairs, k, "held")
	}
	ok, err := s.rdb.MSetNX(ctx, pairs...).Result()
	if err != nil {
		return false, fmt.Errorf("hold acquire: %w", err)
	}
	if !ok {
		return false, nil
	}

	pipe := s.rdb.Pipeline()
	for _, k := range keys {
		pipe.Expire(ctx, k, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		_ = s.rdb.Del(ctx, keys...).Err()
		return false, fmt.Errorf("hold expire: %w", err)
	}
	return true, nil
}

// Release deletes the hold keys for the range. Deleting absent keys is a
// no-op, which makes release idempotent under duplicate sweeps.
func (s *HoldStore) Release(ctx context.Context, accommodationID int64, checkIn, checkOut time.Time) error {
	keys := holdKeys(accommodationID, checkIn, checkOut)
	if len(keys) == 0 {
		return nil
	}
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("hold release: %w", err)
	}
	return nil
}

// holdKeys renders one key per occupied date, [checkIn, checkOut).
func holdKeys(accommodationID int64, checkIn, checkOut time.Time) []string {
	var keys []string
	out := checkOut.UTC().Truncate(24 * time.Hour)
	for d := checkIn.UTC().Truncate(24 * time.Hour); d.Before(out); d = d.AddDate(0, 0, 1) {
		keys = append(keys, fmt.Sprintf("%s:%d:%s", holdKeyPrefix, accommodationID, d.Format("2006-01-02")))
	}
	return keys
}
