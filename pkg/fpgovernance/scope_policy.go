package fpgovernance

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/rego"
)

// scopePolicySource is compiled once at init (spec.md §9, "the pattern list
// is intentionally pre-compiled... keep reload explicit and audited" — the
// same discipline applies to scope policy). Its allow rule covers only the
// rule-family dimension: an empty scope rule_family or an exact match
// allows. Tenant and asset class are not checked and glob patterns are not
// expanded. The tier_allowed rule is defined but not queried by ScopePolicy.
// The Matcher itself uses contracts.PatternScope.Matches, not this policy.
const scopePolicySource = `
package fpgovernance.scope

default allow = false

allow {
	input.scope.rule_family == ""
}

allow {
	input.scope.rule_family == input.alert.rule_family
}

default tier_allowed = false

tier_allowed {
	input.action_tier <= input.max_tier
}
`

// ScopePolicy wraps a compiled Rego query evaluating the scope policy's
// allow rule.
type ScopePolicy struct {
	allowQuery rego.PreparedEvalQuery
}

// CompileScopePolicy compiles scopePolicySource once; callers should build
// one ScopePolicy per process and reuse it.
func CompileScopePolicy(ctx context.Context) (*ScopePolicy, error) {
	q, err := rego.New(
		rego.Query("data.fpgovernance.scope.allow"),
		rego.Module("scope.rego", scopePolicySource),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("fpgovernance: compile scope policy: %w", err)
	}
	return &ScopePolicy{allowQuery: q}, nil
}

// ScopeInput is the evaluation input for one pattern-scope check.
type ScopeInput struct {
	Scope struct {
		RuleFamily string `json:"rule_family"`
		TenantID   string `json:"tenant_id"`
		AssetClass string `json:"asset_class"`
	} `json:"scope"`
	Alert struct {
		RuleFamily string `json:"rule_family"`
		TenantID   string `json:"tenant_id"`
		AssetClass string `json:"asset_class"`
	} `json:"alert"`
}

// Allow evaluates whether in.Scope accepts in.Alert on rule family alone.
// Errors are treated as deny, never as an implicit allow.
func (p *ScopePolicy) Allow(ctx context.Context, in ScopeInput) (bool, error) {
	rs, err := p.allowQuery.Eval(ctx, rego.EvalInput(in))
	if err != nil {
		return false, fmt.Errorf("fpgovernance: evaluate scope policy: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return false, nil
	}
	allowed, _ := rs[0].Expressions[0].Value.(bool)
	return allowed, nil
}
