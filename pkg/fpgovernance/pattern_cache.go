package fpgovernance

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/soclabs/investigator/pkg/contracts"
)

const patternCacheKeyPrefix = "fp_pattern:"

// PatternCache is a Redis-backed snapshot of governed FP patterns, refreshed
// on a ticker and on "fp_pattern.status_changed" pubsub notifications so
// the hot matching path (spec.md §4.3 step 1, "Enumerate the approved-
// pattern keys from the hot cache") never hits the system of record per
// alert.
type PatternCache struct {
	rdb *redis.Client

	mu       sync.RWMutex
	snapshot []contracts.FPPattern
}

// NewPatternCache builds a PatternCache over rdb. Call Refresh once before
// serving traffic and WatchStatusChanges or RefreshTicker to keep it current.
func NewPatternCache(rdb *redis.Client) *PatternCache {
	return &PatternCache{rdb: rdb}
}

// Refresh reloads the snapshot from Redis.
func (c *PatternCache) Refresh(ctx context.Context) error {
	keys, err := c.rdb.Keys(ctx, patternCacheKeyPrefix+"*").Result()
	if err != nil {
		return fmt.Errorf("fpgovernance: list pattern keys: %w", err)
	}
	snapshot := make([]contracts.FPPattern, 0, len(keys))
	for _, key := range keys {
		raw, err := c.rdb.Get(ctx, key).Result()
		if err != nil {
			continue
		}
		var p contracts.FPPattern
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			continue
		}
		snapshot = append(snapshot, p)
	}
	c.mu.Lock()
	c.snapshot = snapshot
	c.mu.Unlock()
	return nil
}

// Snapshot returns the current in-memory pattern set.
func (c *PatternCache) Snapshot() []contracts.FPPattern {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]contracts.FPPattern, len(c.snapshot))
	copy(out, c.snapshot)
	return out
}

// Put writes a single pattern to Redis (used by governance operations) and
// refreshes the in-memory snapshot.
func (c *PatternCache) Put(ctx context.Context, p contracts.FPPattern) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("fpgovernance: marshal pattern %s: %w", p.ID, err)
	}
	if err := c.rdb.Set(ctx, patternCacheKeyPrefix+p.ID, raw, 0).Err(); err != nil {
		return fmt.Errorf("fpgovernance: store pattern %s: %w", p.ID, err)
	}
	return c.Refresh(ctx)
}

// WatchStatusChanges subscribes to the fp_pattern.status_changed channel
// and refreshes the snapshot on every notification, blocking until ctx is
// cancelled. Intended to run in its own goroutine.
func (c *PatternCache) WatchStatusChanges(ctx context.Context, channel string) error {
	sub := c.rdb.Subscribe(ctx, channel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-ch:
			if !ok {
				return nil
			}
			_ = c.Refresh(ctx)
		}
	}
}

// RefreshTicker runs Refresh every interval until ctx is cancelled.
func (c *PatternCache) RefreshTicker(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = c.Refresh(ctx)
		}
	}
}
