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

// Package fpgovernance implements the False-Positive Governance Engine of
// spec.md §4.3: the matching fast path, pattern lifecycle governance,
// canary promotion, tenant shadow mode, and kill switches.
package fpgovernance

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/soclabs/investigator/pkg/audit"
	"github.com/soclabs/investigator/pkg/contracts"
)

const killSwitchKeyPrefix = "kill_switch:"

// KillSwitchStore is the narrow Redis-backed CRUD surface for kill
// switches.
type KillSwitchStore struct {
	rdb   *redis.Client
	audit *audit.Client
}

// NewKillSwitchStore builds a KillSwitchStore over rdb.
func NewKillSwitchStore(rdb *redis.Client, auditClient *audit.Client) *KillSwitchStore {
	return &KillSwitchStore{rdb: rdb, audit: auditClient}
}

func killSwitchCacheKey(dimension contracts.KillSwitchDimension, value string) string {
	return killSwitchKeyPrefix + string(dimension) + ":" + value
}

// Activate sets an active kill switch for (dimension, value) and emits
// audit.EventSystemKillSwitchOn.
func (s *KillSwitchStore) Activate(ctx context.Context, ks contracts.KillSwitch) error {
	key := killSwitchCacheKey(ks.Dimension, ks.Value)
	if err := s.rdb.Set(ctx, key, ks.Reason, 0).Err(); err != nil {
		return fmt.Errorf("fpgovernance: activate kill switch %s: %w", key, err)
	}
	s.audit.Record(ctx, "", audit.EventSystemKillSwitchOn, audit.EventSeverityCritical, audit.ActorAnalyst, ks.Activator, "fpgovernance", func(e *audit.Event) {
		e.Context = map[string]any{"dimension": string(ks.Dimension), "value": ks.Value, "reason": ks.Reason}
	})
	return nil
}

// Deactivate removes an active kill switch and emits audit.EventSystemKillSwitchOff.
func (s *KillSwitchStore) Deactivate(ctx context.Context, dimension contracts.KillSwitchDimension, value, actor string) error {
	key := killSwitchCacheKey(dimension, value)
	if err := s.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("fpgovernance: deactivate kill switch %s: %w", key, err)
	}
	s.audit.Record(ctx, "", audit.EventSystemKillSwitchOff, audit.EventSeverityWarning, audit.ActorAnalyst, actor, "fpgovernance", func(e *audit.Event) {
		e.Context = map[string]any{"dimension": string(dimension), "value": value}
	})
	return nil
}

// IsKilled reports whether any provided non-empty dimension matches an
// active switch (spec.md §4.3 "Kill switches"). A cache-read failure is
// fail-open (returns false, not an error) — documented: switches default
// to inactive rather than blocking the whole matching path on a cache
// outage.
func (s *KillSwitchStore) IsKilled(ctx context.Context, tenant, pattern, technique, datasource string) bool {
	checks := []struct {
		dim   contracts.KillSwitchDimension
		value string
	}{
		{contracts.DimensionTenant, tenant},
		{contracts.DimensionPattern, pattern},
		{contracts.DimensionTechnique, technique},
		{contracts.DimensionDatasource, datasource},
	}
	for _, c := range checks {
		if c.value == "" {
			continue
		}
		exists, err := s.rdb.Exists(ctx, killSwitchCacheKey(c.dim, c.value)).Result()
		if err != nil {
			// Fail open: an unreachable cache must never become a reason
			// an investigation is blocked from auto-closing.
			continue
		}
		if exists > 0 {
			return true
		}
	}
	return false
}
