package fpgovernance_test

import (
	"context"
	"testing"

	"github.com/soclabs/investigator/pkg/contracts"
	"github.com/soclabs/investigator/pkg/fpgovernance"
)

func TestCanaryPromotesAtThreshold(t *testing.T) {
	rdb := newTestRedis(t)
	cache := fpgovernance.NewPatternCache(rdb)
	seedPattern(t, cache, contracts.FPPattern{ID: "p1", Status: contracts.PatternShadow})

	canary := fpgovernance.NewCanary(rdb, cache)
	ctx := context.Background()

	for i := 0; i < 49; i++ {
		if err := canary.RecordEvaluation(ctx, "p1", true, true); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	// 49 agreements so far, status should still be shadow.
	patterns := cache.Snapshot()
	if patterns[0].Status != contracts.PatternShadow {
		t.Fatalf("expected pattern to remain shadow below min samples, got %s", patterns[0].Status)
	}

	if err := canary.RecordEvaluation(ctx, "p1", true, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	patterns = cache.Snapshot()
	if patterns[0].Status != contracts.PatternActive {
		t.Errorf("expected promotion to active at 50 samples with 0%% disagreement, got %s", patterns[0].Status)
	}
}

func TestCanaryDoesNotPromoteAboveDisagreementThreshold(t *testing.T) {
	rdb := newTestRedis(t)
	cache := fpgovernance.NewPatternCache(rdb)
	seedPattern(t, cache, contracts.FPPattern{ID: "p1", Status: contracts.PatternShadow})

	canary := fpgovernance.NewCanary(rdb, cache)
	ctx := context.Background()

	for i := 0; i < 45; i++ {
		_ = canary.RecordEvaluation(ctx, "p1", true, true)
	}
	for i := 0; i < 5; i++ {
		_ = canary.RecordEvaluation(ctx, "p1", true, false)
	}

	patterns := cache.Snapshot()
	if patterns[0].Status != contracts.PatternShadow {
		t.Errorf("expected 10%% disagreement rate to block promotion, got %s", patterns[0].Status)
	}
}

func TestShadowStoreDefaultsToShadowModeForNewTenant(t *testing.T) {
	rdb := newTestRedis(t)
	store := fpgovernance.NewShadowStore(rdb, 0)

	cfg, err := store.Config(context.Background(), "new-tenant")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.ShadowMode {
		t.Error("expected shadow_mode to default true for a new tenant")
	}
}

func TestShadowStoreRefusesDisableWithoutSignOff(t *testing.T) {
	rdb := newTestRedis(t)
	store := fpgovernance.NewShadowStore(rdb, 0)

	err := store.SetConfig(context.Background(), fpgovernance.TenantShadowConfig{
		TenantID:        "t1",
		ShadowMode:      false,
		GoLiveSignedOff: false,
	})
	if err == nil {
		t.Fatal("expected refusal without go-live sign-off")
	}
}

func TestShadowStoreAllowsDisableWithSignOff(t *testing.T) {
	rdb := newTestRedis(t)
	store := fpgovernance.NewShadowStore(rdb, 0)

	err := store.SetConfig(context.Background(), fpgovernance.TenantShadowConfig{
		TenantID:        "t1",
		ShadowMode:      false,
		GoLiveSignedOff: true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestEvaluateGoLiveEligible(t *testing.T) {
	var decisions []fpgovernance.ShadowDecision
	for i := 0; i < 100; i++ {
		decisions = append(decisions, fpgovernance.ShadowDecision{
			Paired:          true,
			Decision:        "false_positive",
			AnalystDecision: "false_positive",
			IsFalsePositive: true,
		})
	}
	report := fpgovernance.EvaluateGoLive(decisions)
	if !report.Eligible {
		t.Errorf("expected perfect agreement to be go-live eligible, got %+v", report)
	}
}

func TestEvaluateGoLiveMissedCriticalBlocksEligibility(t *testing.T) {
	decisions := []fpgovernance.ShadowDecision{
		{Paired: true, Decision: "false_positive", AnalystDecision: "true_positive", IsCriticalTP: true},
	}
	report := fpgovernance.EvaluateGoLive(decisions)
	if report.Eligible {
		t.Error("expected a missed critical true positive to block go-live eligibility")
	}
}
