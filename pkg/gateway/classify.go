package gateway

import "context"

// RiskLevel is the closed three-way injection risk classification of
// spec.md §4.2, "Injection classification (two-stage)".
type RiskLevel string

const (
	RiskBenign     RiskLevel = "benign"
	RiskSuspicious RiskLevel = "suspicious"
	RiskMalicious  RiskLevel = "malicious"
)

// Action is the disposition an injection classification maps to.
type Action string

const (
	ActionPass      Action = "pass"
	ActionSummarize Action = "summarize"
	ActionQuarantine Action = "quarantine"
)

// riskToAction is the fixed mapping from risk level to disposition.
var riskToAction = map[RiskLevel]Action{
	RiskBenign:     ActionPass,
	RiskSuspicious: ActionSummarize,
	RiskMalicious:  ActionQuarantine,
}

// ActionFor returns the disposition for a risk level.
func ActionFor(r RiskLevel) Action {
	return riskToAction[r]
}

// LLMClassifier is the optional second opinion consulted only for the
// middle "suspicious" band. A small, cheap model is expected here — never
// the main reasoning provider.
type LLMClassifier interface {
	Classify(ctx context.Context, text string) (RiskLevel, error)
}

// regexRiskFastPath counts sanitizer-pattern matches against text and
// assigns a terminal risk level, or leaves the decision to the LLM second
// opinion for the ambiguous middle band.
func regexRiskFastPath(text string) RiskLevel {
	result := Sanitize(text)
	switch {
	case len(result.Detections) == 0:
		return RiskBenign
	case len(result.Detections) >= 3:
		return RiskMalicious
	default:
		return RiskSuspicious
	}
}

// stricter returns the more severe of two risk levels.
func stricter(a, b RiskLevel) RiskLevel {
	rank := map[RiskLevel]int{RiskBenign: 0, RiskSuspicious: 1, RiskMalicious: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}

// Classify runs the two-stage classification: the regex fast path alone
// decides benign/malicious terminals; only the suspicious middle band
// optionally consults classifier for a second opinion, and the final risk
// is the stricter of the two (spec.md §4.2, "Injection classification").
func Classify(ctx context.Context, text string, classifier LLMClassifier) (RiskLevel, error) {
	risk := regexRiskFastPath(text)
	if risk != RiskSuspicious || classifier == nil {
		return risk, nil
	}
	llmRisk, err := classifier.Classify(ctx, text)
	if err != nil {
		// A classifier failure on the ambiguous band must not silently
		// downgrade risk; keep the regex verdict.
		return risk, nil
	}
	return stricter(risk, llmRisk), nil
}
