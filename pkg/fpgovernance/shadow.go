package fpgovernance

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/soclabs/investigator/internal/apperrors"
)

// DefaultShadowWindow is the default rolling window for tenant-level
// go-live evaluation (spec.md §4.3, "default 14 days").
const DefaultShadowWindow = 14 * 24 * time.Hour

// Go-live criteria thresholds, per spec.md §4.3 "Shadow mode (tenant-level)".
const (
	GoLiveMinAgreementRate      = 0.95
	GoLiveMaxMissedCriticalTPs  = 0
	GoLiveMinFPPrecision        = 0.98
)

// TenantShadowConfig carries a tenant's shadow-mode settings.
type TenantShadowConfig struct {
	TenantID            string   `json:"tenant_id"`
	ShadowMode          bool     `json:"shadow_mode"`
	ShadowRuleFamilies  []string `json:"shadow_rule_families,omitempty"`
	GoLiveSignedOff     bool     `json:"go_live_signed_off"`
}

// ShadowDecision is one recorded would-be decision paired later with the
// analyst's actual decision.
type ShadowDecision struct {
	InvestigationID string    `json:"investigation_id"`
	TenantID        string    `json:"tenant_id"`
	RuleFamily      string    `json:"rule_family"`
	Decision        string    `json:"decision"`
	Confidence      float64   `json:"confidence"`
	RecordedAt      time.Time `json:"recorded_at"`
	AnalystDecision string    `json:"analyst_decision,omitempty"`
	IsCriticalTP    bool      `json:"is_critical_true_positive"`
	IsFalsePositive bool      `json:"is_false_positive"`
	Paired          bool      `json:"paired"`
}

func tenantConfigKey(tenantID string) string { return "shadow_config:" + tenantID }
func shadowDecisionKey(investigationID string) string { return "shadow_decision:" + investigationID }

// ShadowStore persists tenant shadow configuration and shadow decisions.
type ShadowStore struct {
	rdb    *redis.Client
	window time.Duration
}

// NewShadowStore builds a ShadowStore. window defaults to
// DefaultShadowWindow when zero.
func NewShadowStore(rdb *redis.Client, window time.Duration) *ShadowStore {
	if window <= 0 {
		window = DefaultShadowWindow
	}
	return &ShadowStore{rdb: rdb, window: window}
}

// Config returns a tenant's shadow configuration, defaulting to
// shadow_mode=true for a tenant never configured (spec.md §4.3, "defaults
// true for new tenants").
func (s *ShadowStore) Config(ctx context.Context, tenantID string) (TenantShadowConfig, error) {
	raw, err := s.rdb.Get(ctx, tenantConfigKey(tenantID)).Result()
	if err == redis.Nil {
		return TenantShadowConfig{TenantID: tenantID, ShadowMode: true}, nil
	}
	if err != nil {
		return TenantShadowConfig{}, fmt.Errorf("fpgovernance: read shadow config for %s: %w", tenantID, err)
	}
	var cfg TenantShadowConfig
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return TenantShadowConfig{}, fmt.Errorf("fpgovernance: unmarshal shadow config for %s: %w", tenantID, err)
	}
	return cfg, nil
}

// SetConfig persists cfg. A mutation to shadow_mode=false is refused unless
// go_live_signed_off is already true (spec.md §4.3).
func (s *ShadowStore) SetConfig(ctx context.Context, cfg TenantShadowConfig) error {
	if !cfg.ShadowMode && !cfg.GoLiveSignedOff {
		return apperrors.New(apperrors.ErrorTypeGovernance, "cannot disable shadow mode without go-live sign-off").WithDetailsf("tenant_id=%s", cfg.TenantID)
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("fpgovernance: marshal shadow config: %w", err)
	}
	return s.rdb.Set(ctx, tenantConfigKey(cfg.TenantID), raw, 0).Err()
}

// RecordDecision stores the orchestrator's would-be decision for later
// pairing with the analyst's actual decision.
func (s *ShadowStore) RecordDecision(ctx context.Context, d ShadowDecision) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("fpgovernance: marshal shadow decision: %w", err)
	}
	return s.rdb.Set(ctx, shadowDecisionKey(d.InvestigationID), raw, s.window).Err()
}

// PairWithAnalystDecision attaches the analyst's actual decision to a
// previously recorded shadow decision, identified by investigation id.
func (s *ShadowStore) PairWithAnalystDecision(ctx context.Context, investigationID, analystDecision string, isCriticalTP, isFalsePositive bool) error {
	raw, err := s.rdb.Get(ctx, shadowDecisionKey(investigationID)).Result()
	if err != nil {
		return fmt.Errorf("fpgovernance: read shadow decision for %s: %w", investigationID, err)
	}
	var d ShadowDecision
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return fmt.Errorf("fpgovernance: unmarshal shadow decision for %s: %w", investigationID, err)
	}
	d.AnalystDecision = analystDecision
	d.IsCriticalTP = isCriticalTP
	d.IsFalsePositive = isFalsePositive
	d.Paired = true
	return s.RecordDecision(ctx, d)
}

// GoLiveReport summarizes a tenant's rolling shadow-mode agreement.
type GoLiveReport struct {
	AgreementRate           float64
	MissedCriticalTruePositives int
	FPPrecision             float64
	Eligible                bool
}

// EvaluateGoLive computes rolling agreement rate, missed critical true
// positives, and FP precision over decisions, returning whether the tenant
// meets the go-live bar (spec.md §4.3, "Go-live criteria"). decisions is
// the caller-loaded set of paired decisions within the rolling window
// (loading by SCAN over shadow_decision:* is a deployment-time concern,
// kept out of this pure evaluation function for testability).
func EvaluateGoLive(decisions []ShadowDecision) GoLiveReport {
	var paired, agreements, missedCriticalTPs, fpPredicted, fpCorrect int

	for _, d := range decisions {
		if !d.Paired {
			continue
		}
		paired++
		if d.Decision == d.AnalystDecision {
			agreements++
		}
		if d.IsCriticalTP && d.Decision != d.AnalystDecision {
			missedCriticalTPs++
		}
		if d.Decision == "false_positive" {
			fpPredicted++
			if d.IsFalsePositive {
				fpCorrect++
			}
		}
	}

	report := GoLiveReport{}
	if paired > 0 {
		report.AgreementRate = float64(agreements) / float64(paired)
	}
	report.MissedCriticalTruePositives = missedCriticalTPs
	if fpPredicted > 0 {
		report.FPPrecision = float64(fpCorrect) / float64(fpPredicted)
	} else {
		report.FPPrecision = 1.0
	}

	report.Eligible = report.AgreementRate >= GoLiveMinAgreementRate &&
		report.MissedCriticalTruePositives <= GoLiveMaxMissedCriticalTPs &&
		report.FPPrecision >= GoLiveMinFPPrecision

	return report
}
