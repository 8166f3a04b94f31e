package fpgovernance

import (
	"context"
	"net"
	"regexp"
	"strings"

	"github.com/soclabs/investigator/pkg/contracts"
)

// MatchConfidenceThreshold is the fixed confidence bar for a fast-path
// match, per spec.md §4.3 step 5.
const MatchConfidenceThreshold = 0.90

// MatchResult is a successful fast-path FP determination.
type MatchResult struct {
	PatternID  string
	Confidence float64
}

// Matcher implements the pre-LLM fast matching path of spec.md §4.3.
type Matcher struct {
	cache      *PatternCache
	killSwitch *KillSwitchStore
}

// NewMatcher builds a Matcher over cache and killSwitch.
func NewMatcher(cache *PatternCache, killSwitch *KillSwitchStore) *Matcher {
	return &Matcher{cache: cache, killSwitch: killSwitch}
}

// Match evaluates alert/bundle against the approved-pattern snapshot and
// returns a match if any pattern's confidence reaches the threshold
// (spec.md §4.3 "Matching path"). Only active and approved patterns can
// short-circuit an investigation; shadow-status patterns never influence
// automation (spec.md §3) and are scored separately by Canary.
func (m *Matcher) Match(ctx context.Context, alert contracts.Alert, bundle contracts.EntityBundle, ruleFamily, assetClass string) (*MatchResult, error) {
	for _, p := range m.cache.Snapshot() {
		if p.Status != contracts.PatternActive && p.Status != contracts.PatternApproved {
			continue
		}
		if !p.Scope.Matches(ruleFamily, alert.TenantID, assetClass) {
			continue
		}
		if m.killSwitch.IsKilled(ctx, alert.TenantID, p.ID, "", alert.Source) {
			continue
		}

		confidence, err := confidenceFor(p, alert, bundle)
		if err != nil {
			continue
		}
		if confidence >= MatchConfidenceThreshold {
			return &MatchResult{PatternID: p.ID, Confidence: confidence}, nil
		}
	}
	return nil, nil
}

// confidenceFor computes (alert_name_score + entity_score) / 2 per
// spec.md §4.3 step 4.
func confidenceFor(p contracts.FPPattern, alert contracts.Alert, bundle contracts.EntityBundle) (float64, error) {
	nameScore := 0.0
	if p.AlertNameRegex != "" {
		re, err := regexp.Compile("(?i)" + p.AlertNameRegex)
		if err != nil {
			return 0, err
		}
		if re.MatchString(alert.Title) {
			nameScore = 1.0
		}
	}

	entityScore := entityScoreFor(p.EntityPatterns, bundle)

	return (nameScore + entityScore) / 2, nil
}

func entityScoreFor(patterns []contracts.EntityPattern, bundle contracts.EntityBundle) float64 {
	if len(patterns) == 0 {
		return 0
	}
	matched := 0
	for _, ep := range patterns {
		if entityPatternMatchesAny(ep, bundle.ByType(ep.Type)) {
			matched++
		}
	}
	return float64(matched) / float64(len(patterns))
}

func entityPatternMatchesAny(ep contracts.EntityPattern, entities []contracts.Entity) bool {
	for _, e := range entities {
		if entityPatternMatches(ep, e.Value) {
			return true
		}
	}
	return false
}

func entityPatternMatches(ep contracts.EntityPattern, value string) bool {
	if ep.ValueRegex != "" {
		re, err := regexp.Compile("(?i)" + ep.ValueRegex)
		if err == nil && re.MatchString(value) {
			return true
		}
	}
	if ep.ValueCIDR != "" {
		_, cidr, err := net.ParseCIDR(ep.ValueCIDR)
		if err == nil {
			ip := net.ParseIP(strings.TrimSpace(value))
			if ip != nil && cidr.Contains(ip) {
				return true
			}
		}
	}
	return false
}
