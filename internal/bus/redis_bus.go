/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package bus provides the single Redis-pubsub-backed fan-out primitive
// shared by the audit-events, action-dispatch, and approved-FP-pattern
// topics named in spec.md §6. All three are "publish keyed by tenant id
// (or pattern id), never read back by this repository" — a Redis channel
// is the cheapest thing in the stack's dependency set that satisfies
// that shape without standing up a second broker alongside the Redis
// instance already used for pattern caching and the approval gate.
package bus

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// RedisBus publishes to a fixed Redis channel, ignoring the absence of
// subscribers (Redis Publish never blocks on a missing consumer). It
// implements audit.Bus and is reused verbatim for the action-dispatch and
// approved-FP-pattern topics, whose payload shapes differ but whose
// delivery semantics (fire-and-forget, keyed, at-most-once) are identical.
type RedisBus struct {
	rdb     *redis.Client
	channel string
}

// NewRedisBus builds a RedisBus publishing to channel.
func NewRedisBus(rdb *redis.Client, channel string) *RedisBus {
	return &RedisBus{rdb: rdb, channel: channel}
}

// Publish implements audit.Bus. key is folded into the payload's channel
// name so a single logical topic can still be partitioned by tenant/
// pattern id for consumers that subscribe with a pattern match
// (PSUBSCRIBE "<channel>:*").
func (b *RedisBus) Publish(ctx context.Context, key string, payload []byte) error {
	return b.rdb.Publish(ctx, b.channel+":"+key, payload).Err()
}
