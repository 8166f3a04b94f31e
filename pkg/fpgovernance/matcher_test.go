package fpgovernance_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-logr/logr"
	"github.com/redis/go-redis/v9"

	"github.com/soclabs/investigator/pkg/audit"
	"github.com/soclabs/investigator/pkg/contracts"
	"github.com/soclabs/investigator/pkg/fpgovernance"
)

func noopLogger() logr.Logger { return logr.Discard() }

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func seedPattern(t *testing.T, cache *fpgovernance.PatternCache, p contracts.FPPattern) {
	t.Helper()
	if err := cache.Put(context.Background(), p); err != nil {
		t.Fatalf("seed pattern: %v", err)
	}
}

func TestMatcherMatchesActivePatternAboveThreshold(t *testing.T) {
	rdb := newTestRedis(t)
	cache := fpgovernance.NewPatternCache(rdb)
	auditClient := audit.NewAuditClient(audit.NewMemoryStore(0), noopLogger())
	ks := fpgovernance.NewKillSwitchStore(rdb, auditClient)
	matcher := fpgovernance.NewMatcher(cache, ks)

	seedPattern(t, cache, contracts.FPPattern{
		ID:             "p1",
		AlertNameRegex: "known benign scanner",
		Status:         contracts.PatternActive,
		EntityPatterns: []contracts.EntityPattern{{Type: contracts.EntityIP, ValueCIDR: "10.0.0.0/8"}},
	})

	alert := contracts.Alert{TenantID: "t1", Title: "Known Benign Scanner Alert", Source: "edr"}
	bundle := contracts.EntityBundle{IPs: []contracts.Entity{{Type: contracts.EntityIP, Value: "10.1.2.3"}}}

	result, err := matcher.Match(context.Background(), alert, bundle, "", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result == nil {
		t.Fatal("expected a match")
	}
	if result.PatternID != "p1" {
		t.Errorf("expected pattern p1, got %s", result.PatternID)
	}
	if result.Confidence < fpgovernance.MatchConfidenceThreshold {
		t.Errorf("expected confidence >= threshold, got %f", result.Confidence)
	}
}

func TestMatcherSkipsKilledPattern(t *testing.T) {
	rdb := newTestRedis(t)
	cache := fpgovernance.NewPatternCache(rdb)
	auditClient := audit.NewAuditClient(audit.NewMemoryStore(0), noopLogger())
	ks := fpgovernance.NewKillSwitchStore(rdb, auditClient)
	matcher := fpgovernance.NewMatcher(cache, ks)

	seedPattern(t, cache, contracts.FPPattern{
		ID:             "p2",
		AlertNameRegex: "known benign scanner",
		Status:         contracts.PatternActive,
		EntityPatterns: []contracts.EntityPattern{{Type: contracts.EntityIP, ValueCIDR: "10.0.0.0/8"}},
	})

	if err := ks.Activate(context.Background(), contracts.KillSwitch{
		Dimension: contracts.DimensionPattern,
		Value:     "p2",
		Activator: "analyst-1",
		Timestamp: time.Now(),
		Reason:    "suspected regression",
	}); err != nil {
		t.Fatalf("activate kill switch: %v", err)
	}

	alert := contracts.Alert{TenantID: "t1", Title: "Known Benign Scanner Alert", Source: "edr"}
	bundle := contracts.EntityBundle{IPs: []contracts.Entity{{Type: contracts.EntityIP, Value: "10.1.2.3"}}}
	result, err := matcher.Match(context.Background(), alert, bundle, "", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != nil {
		t.Fatal("expected killed pattern to be skipped")
	}
}

func TestMatcherSkipsOutOfScopePattern(t *testing.T) {
	rdb := newTestRedis(t)
	cache := fpgovernance.NewPatternCache(rdb)
	auditClient := audit.NewAuditClient(audit.NewMemoryStore(0), noopLogger())
	ks := fpgovernance.NewKillSwitchStore(rdb, auditClient)
	matcher := fpgovernance.NewMatcher(cache, ks)

	seedPattern(t, cache, contracts.FPPattern{
		ID:             "p3",
		AlertNameRegex: "known benign scanner",
		Status:         contracts.PatternActive,
		Scope:          contracts.PatternScope{TenantID: "other-tenant"},
		EntityPatterns: []contracts.EntityPattern{{Type: contracts.EntityIP, ValueCIDR: "10.0.0.0/8"}},
	})

	alert := contracts.Alert{TenantID: "t1", Title: "Known Benign Scanner Alert", Source: "edr"}
	bundle := contracts.EntityBundle{IPs: []contracts.Entity{{Type: contracts.EntityIP, Value: "10.1.2.3"}}}
	result, err := matcher.Match(context.Background(), alert, bundle, "", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != nil {
		t.Fatal("expected out-of-scope pattern to be skipped")
	}
}

func TestMatcherBelowThresholdIsNotAMatch(t *testing.T) {
	rdb := newTestRedis(t)
	cache := fpgovernance.NewPatternCache(rdb)
	auditClient := audit.NewAuditClient(audit.NewMemoryStore(0), noopLogger())
	ks := fpgovernance.NewKillSwitchStore(rdb, auditClient)
	matcher := fpgovernance.NewMatcher(cache, ks)

	seedPattern(t, cache, contracts.FPPattern{
		ID:             "p4",
		AlertNameRegex: "totally different name",
		Status:         contracts.PatternActive,
		EntityPatterns: []contracts.EntityPattern{{Type: contracts.EntityIP, ValueCIDR: "192.168.0.0/16"}},
	})

	alert := contracts.Alert{TenantID: "t1", Title: "Known Benign Scanner Alert", Source: "edr"}
	bundle := contracts.EntityBundle{IPs: []contracts.Entity{{Type: contracts.EntityIP, Value: "10.1.2.3"}}}

	result, err := matcher.Match(context.Background(), alert, bundle, "", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != nil {
		t.Fatal("expected confidence below threshold to yield no match")
	}
}
