package fpgovernance

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/soclabs/investigator/internal/apperrors"
	"github.com/soclabs/investigator/pkg/contracts"
)

// CanaryPromotionMinSamples and CanaryPromotionMaxDisagreement are the
// fixed promotion criteria of spec.md §4.3 "Canary lifecycle": total >= 50
// and disagreement_rate <= 0.05.
const (
	CanaryPromotionMinSamples      = 50
	CanaryPromotionMaxDisagreement = 0.05
)

func canaryCounterKey(patternID, field string) string {
	return "fp_canary:" + patternID + ":" + field
}

// Canary tracks per-pattern shadow-evaluation counters and promotes a
// pattern from shadow to active once criteria are met.
type Canary struct {
	rdb   *redis.Client
	cache *PatternCache
}

// NewCanary builds a Canary tracker.
func NewCanary(rdb *redis.Client, cache *PatternCache) *Canary {
	return &Canary{rdb: rdb, cache: cache}
}

// EnterShadow transitions an approved pattern into production shadow mode
// (spec.md §4.3, "Patterns enter production as shadow").
func (c *Canary) EnterShadow(ctx context.Context, patternID string) error {
	p, err := c.find(patternID)
	if err != nil {
		return err
	}
	if p.Status != contracts.PatternApproved {
		return apperrors.New(apperrors.ErrorTypeGovernance, "only an approved pattern may enter shadow").WithDetailsf("pattern_id=%s status=%s", patternID, p.Status)
	}
	p.Status = contracts.PatternShadow
	return c.cache.Put(ctx, p)
}

// RecordEvaluation increments the total counter and then the agreement or
// disagreement counter. analystAgreed alone selects which; the caller
// compares the pattern's would-be decision to the analyst's, and
// patternWouldMatch is not consulted here.
func (c *Canary) RecordEvaluation(ctx context.Context, patternID string, patternWouldMatch, analystAgreed bool) error {
	if err := c.rdb.Incr(ctx, canaryCounterKey(patternID, "total")).Err(); err != nil {
		return fmt.Errorf("fpgovernance: increment canary total: %w", err)
	}
	field := "agreements"
	if !analystAgreed {
		field = "disagreements"
	}
	if err := c.rdb.Incr(ctx, canaryCounterKey(patternID, field)).Err(); err != nil {
		return fmt.Errorf("fpgovernance: increment canary %s: %w", field, err)
	}
	return c.maybePromote(ctx, patternID)
}

func (c *Canary) counters(ctx context.Context, patternID string) (total, agreements, disagreements int64, err error) {
	total, _ = c.rdb.Get(ctx, canaryCounterKey(patternID, "total")).Int64()
	agreements, _ = c.rdb.Get(ctx, canaryCounterKey(patternID, "agreements")).Int64()
	disagreements, _ = c.rdb.Get(ctx, canaryCounterKey(patternID, "disagreements")).Int64()
	return total, agreements, disagreements, nil
}

func (c *Canary) maybePromote(ctx context.Context, patternID string) error {
	total, _, disagreements, err := c.counters(ctx, patternID)
	if err != nil {
		return err
	}
	if total < CanaryPromotionMinSamples {
		return nil
	}
	disagreementRate := float64(disagreements) / float64(total)
	if disagreementRate > CanaryPromotionMaxDisagreement {
		return nil
	}
	p, err := c.find(patternID)
	if err != nil {
		return err
	}
	if p.Status != contracts.PatternShadow {
		return nil
	}
	p.Status = contracts.PatternActive
	return c.cache.Put(ctx, p)
}

func (c *Canary) find(patternID string) (contracts.FPPattern, error) {
	for _, p := range c.cache.Snapshot() {
		if p.ID == patternID {
			return p, nil
		}
	}
	return contracts.FPPattern{}, apperrors.New(apperrors.ErrorTypeGovernance, "pattern not found").WithDetailsf("pattern_id=%s", patternID)
}
