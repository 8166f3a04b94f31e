package orchestrator_test

import (
	"context"
	"testing"
	"time"

	"github.com/go-logr/logr"

	"github.com/soclabs/investigator/pkg/audit"
	"github.com/soclabs/investigator/pkg/contracts"
	"github.com/soclabs/investigator/pkg/orchestrator"
	"github.com/soclabs/investigator/pkg/orchestrator/persistence"
)

func noopLogger() logr.Logger { return logr.Discard() }

func testAlert() contracts.Alert {
	return contracts.Alert{
		ID: "alert-1", TenantID: "tenant-1", Source: "siem", Product: "credential_access",
		Title: "suspicious login", Severity: contracts.SeverityHigh,
	}
}

type stubParser struct{ bundle contracts.EntityBundle }

func (p stubParser) Parse(context.Context, contracts.Alert) (contracts.EntityBundle, error) {
	return p.bundle, nil
}

type stubIOCEnricher struct{ matches []contracts.IOCMatch }

func (e stubIOCEnricher) EnrichIOCs(context.Context, string, contracts.EntityBundle) ([]contracts.IOCMatch, error) {
	return e.matches, nil
}

type stubFPMatcher struct {
	match *orchestrator.FPMatch
}

func (m stubFPMatcher) Match(context.Context, contracts.Alert, contracts.EntityBundle, string, string) (*orchestrator.FPMatch, error) {
	return m.match, nil
}

type stubEnrichmentAgent struct {
	name  string
	delta orchestrator.EnrichmentDelta
	err   error
}

func (a stubEnrichmentAgent) Name() string { return a.name }
func (a stubEnrichmentAgent) Enrich(context.Context, contracts.Investigation) (orchestrator.EnrichmentDelta, error) {
	return a.delta, a.err
}

type stubReasoner struct {
	result orchestrator.ReasoningResult
	err    error
}

func (r stubReasoner) Reason(context.Context, contracts.Investigation) (orchestrator.ReasoningResult, error) {
	return r.result, r.err
}

type stubResponder struct {
	dispatched []contracts.RecommendedAction
}

func (r *stubResponder) MatchPlaybooks(context.Context, contracts.Investigation) ([]contracts.PlaybookMatch, error) {
	return nil, nil
}
func (r *stubResponder) Dispatch(_ context.Context, _ contracts.Investigation, action contracts.RecommendedAction) error {
	r.dispatched = append(r.dispatched, action)
	return nil
}

type stubApprovalGate struct {
	requested bool
}

func (g *stubApprovalGate) RequestApproval(_ context.Context, _ contracts.Investigation) (time.Time, error) {
	g.requested = true
	return time.Now().Add(4 * time.Hour), nil
}

func newAuditClient() *audit.Client {
	return audit.NewAuditClient(audit.NewMemoryStore(0), noopLogger())
}

func TestEngineShortCircuitsOnFPMatch(t *testing.T) {
	store := persistence.NewMemoryStore()
	confidence := 0.95
	engine := orchestrator.New(
		orchestrator.DefaultConfig(),
		stubParser{}, stubIOCEnricher{}, stubFPMatcher{match: &orchestrator.FPMatch{PatternID: "p1", Confidence: confidence}},
		nil, nil, nil, nil, store, newAuditClient(), nil, noopLogger(),
	)

	inv, err := engine.Run(context.Background(), testAlert())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inv.State != contracts.StateClosed {
		t.Errorf("expected CLOSED after FP short-circuit, got %s", inv.State)
	}
	if inv.Classification != "false_positive" {
		t.Errorf("expected false_positive classification, got %s", inv.Classification)
	}
}

func TestEngineRunIsIdempotentByTenantAndAlert(t *testing.T) {
	store := persistence.NewMemoryStore()
	engine := orchestrator.New(
		orchestrator.DefaultConfig(),
		stubParser{}, stubIOCEnricher{}, stubFPMatcher{},
		[]orchestrator.EnrichmentAgent{stubEnrichmentAgent{name: "a1"}},
		stubReasoner{result: orchestrator.ReasoningResult{Classification: "benign", Confidence: 0.9, Severity: contracts.SeverityLow}},
		&stubResponder{}, &stubApprovalGate{}, store, newAuditClient(), nil, noopLogger(),
	)

	alert := testAlert()
	first, err := engine.Run(context.Background(), alert)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := engine.Run(context.Background(), alert)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("expected re-run with same alert id to resolve to the same investigation, got %s and %s", first.ID, second.ID)
	}
}

func TestEngineAutoClosesLowRiskInvestigation(t *testing.T) {
	store := persistence.NewMemoryStore()
	responder := &stubResponder{}
	engine := orchestrator.New(
		orchestrator.DefaultConfig(),
		stubParser{}, stubIOCEnricher{}, stubFPMatcher{},
		[]orchestrator.EnrichmentAgent{stubEnrichmentAgent{name: "behavioural_agent"}},
		stubReasoner{result: orchestrator.ReasoningResult{
			Classification: "benign", Confidence: 0.92, Severity: contracts.SeverityLow,
			RecommendedActions: []contracts.RecommendedAction{{Action: "log", Target: "siem", Tier: contracts.TierMonitor}},
		}},
		responder, &stubApprovalGate{}, store, newAuditClient(), nil, noopLogger(),
	)

	inv, err := engine.Run(context.Background(), testAlert())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inv.State != contracts.StateClosed {
		t.Errorf("expected CLOSED, got %s", inv.State)
	}
	if len(responder.dispatched) != 1 {
		t.Errorf("expected tier-0 action to be dispatched, got %d dispatches", len(responder.dispatched))
	}
}

func TestEngineEscalatesDestructiveActionToHuman(t *testing.T) {
	store := persistence.NewMemoryStore()
	gate := &stubApprovalGate{}
	engine := orchestrator.New(
		orchestrator.DefaultConfig(),
		stubParser{}, stubIOCEnricher{}, stubFPMatcher{},
		[]orchestrator.EnrichmentAgent{stubEnrichmentAgent{name: "behavioural_agent"}},
		stubReasoner{result: orchestrator.ReasoningResult{
			Classification: "compromise", Confidence: 0.9, Severity: contracts.SeverityCritical,
			RecommendedActions: []contracts.RecommendedAction{{Action: "isolate_host", Target: "host-1", Tier: contracts.TierDestructive}},
		}},
		&stubResponder{}, gate, store, newAuditClient(), nil, noopLogger(),
	)

	inv, err := engine.Run(context.Background(), testAlert())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inv.State != contracts.StateAwaitingHuman {
		t.Errorf("expected AWAITING_HUMAN for a tier-2 action, got %s", inv.State)
	}
	if !gate.requested {
		t.Error("expected approval gate to be invoked")
	}
}

func TestEngineEscalatesOnLowConfidenceHighSeverity(t *testing.T) {
	store := persistence.NewMemoryStore()
	gate := &stubApprovalGate{}
	engine := orchestrator.New(
		orchestrator.DefaultConfig(),
		stubParser{}, stubIOCEnricher{}, stubFPMatcher{},
		[]orchestrator.EnrichmentAgent{stubEnrichmentAgent{name: "behavioural_agent"}},
		stubReasoner{result: orchestrator.ReasoningResult{
			Classification: "uncertain", Confidence: 0.4, Severity: contracts.SeverityCritical,
		}},
		&stubResponder{}, gate, store, newAuditClient(), nil, noopLogger(),
	)

	inv, err := engine.Run(context.Background(), testAlert())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inv.State != contracts.StateAwaitingHuman {
		t.Errorf("expected AWAITING_HUMAN for low confidence + critical severity, got %s", inv.State)
	}
}

func TestEngineForcesHumanOnAllUntrustedTelemetry(t *testing.T) {
	store := persistence.NewMemoryStore()
	gate := &stubApprovalGate{}
	engine := orchestrator.New(
		orchestrator.DefaultConfig(),
		stubParser{}, stubIOCEnricher{}, stubFPMatcher{},
		[]orchestrator.EnrichmentAgent{stubEnrichmentAgent{name: "adversarial_ml_agent", delta: orchestrator.EnrichmentDelta{
			AdversarialML: []contracts.AdversarialMLDetection{{Technique: "evasion", TelemetryTrust: contracts.TrustUntrusted}},
		}}},
		stubReasoner{result: orchestrator.ReasoningResult{Classification: "likely_benign", Confidence: 0.99, Severity: contracts.SeverityLow}},
		&stubResponder{}, gate, store, newAuditClient(), nil, noopLogger(),
	)

	inv, err := engine.Run(context.Background(), testAlert())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inv.State != contracts.StateAwaitingHuman {
		t.Errorf("expected AWAITING_HUMAN when all adversarial-ML telemetry is untrusted, got %s", inv.State)
	}
}

func TestEngineFailSoftOnEnrichmentError(t *testing.T) {
	store := persistence.NewMemoryStore()
	engine := orchestrator.New(
		orchestrator.DefaultConfig(),
		stubParser{}, stubIOCEnricher{}, stubFPMatcher{},
		[]orchestrator.EnrichmentAgent{
			stubEnrichmentAgent{name: "ok_agent", delta: orchestrator.EnrichmentDelta{Behavioural: []contracts.BehaviouralContext{{Entity: "host-1"}}}},
			stubEnrichmentAgent{name: "broken_agent", err: context.DeadlineExceeded},
		},
		stubReasoner{result: orchestrator.ReasoningResult{Classification: "benign", Confidence: 0.9, Severity: contracts.SeverityLow}},
		&stubResponder{}, &stubApprovalGate{}, store, newAuditClient(), nil, noopLogger(),
	)

	inv, err := engine.Run(context.Background(), testAlert())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(inv.Behavioural) != 1 {
		t.Errorf("expected the healthy agent's delta to merge despite the sibling failure, got %+v", inv.Behavioural)
	}
	if inv.State != contracts.StateClosed {
		t.Errorf("expected enrichment failure to be fail-soft, not abort the investigation, got %s", inv.State)
	}
}

func TestEngineFailsOnUnrecoverableReasoningError(t *testing.T) {
	store := persistence.NewMemoryStore()
	engine := orchestrator.New(
		orchestrator.DefaultConfig(),
		stubParser{}, stubIOCEnricher{}, stubFPMatcher{},
		[]orchestrator.EnrichmentAgent{stubEnrichmentAgent{name: "a1"}},
		stubReasoner{err: context.DeadlineExceeded},
		&stubResponder{}, &stubApprovalGate{}, store, newAuditClient(), nil, noopLogger(),
	)

	inv, err := engine.Run(context.Background(), testAlert())
	if err == nil {
		t.Fatal("expected reasoning failure to propagate")
	}
	if inv.State != contracts.StateFailed {
		t.Errorf("expected FAILED after unrecoverable reasoning error, got %s", inv.State)
	}
}

func TestResumeFromApprovalRejectsClosesWithoutDispatch(t *testing.T) {
	store := persistence.NewMemoryStore()
	responder := &stubResponder{}
	engine := orchestrator.New(
		orchestrator.DefaultConfig(),
		stubParser{}, stubIOCEnricher{}, stubFPMatcher{},
		[]orchestrator.EnrichmentAgent{stubEnrichmentAgent{name: "a1"}},
		stubReasoner{result: orchestrator.ReasoningResult{
			Classification: "compromise", Confidence: 0.9, Severity: contracts.SeverityCritical,
			RecommendedActions: []contracts.RecommendedAction{{Action: "isolate_host", Target: "host-1", Tier: contracts.TierDestructive}},
		}},
		responder, &stubApprovalGate{}, store, newAuditClient(), nil, noopLogger(),
	)

	pending, err := engine.Run(context.Background(), testAlert())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	resolved, err := engine.ResumeFromApproval(context.Background(), pending.ID, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resolved.State != contracts.StateClosed {
		t.Errorf("expected CLOSED after rejection, got %s", resolved.State)
	}
	if len(responder.dispatched) != 0 {
		t.Error("expected a rejected destructive action to never dispatch")
	}
}

func TestResumeFromApprovalApprovesAndDispatches(t *testing.T) {
	store := persistence.NewMemoryStore()
	responder := &stubResponder{}
	engine := orchestrator.New(
		orchestrator.DefaultConfig(),
		stubParser{}, stubIOCEnricher{}, stubFPMatcher{},
		[]orchestrator.EnrichmentAgent{stubEnrichmentAgent{name: "a1"}},
		stubReasoner{result: orchestrator.ReasoningResult{
			Classification: "compromise", Confidence: 0.9, Severity: contracts.SeverityCritical,
			RecommendedActions: []contracts.RecommendedAction{{Action: "isolate_host", Target: "host-1", Tier: contracts.TierDestructive}},
		}},
		responder, &stubApprovalGate{}, store, newAuditClient(), nil, noopLogger(),
	)

	pending, err := engine.Run(context.Background(), testAlert())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	resolved, err := engine.ResumeFromApproval(context.Background(), pending.ID, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resolved.State != contracts.StateClosed {
		t.Errorf("expected RESPONDING to run to completion and close, got %s", resolved.State)
	}
	if len(responder.dispatched) != 1 {
		t.Errorf("expected the approved tier-2 action to dispatch exactly once, got %d", len(responder.dispatched))
	}
}

func TestResumeFromApprovalRefusesWhenNotAwaitingHuman(t *testing.T) {
	store := persistence.NewMemoryStore()
	engine := orchestrator.New(
		orchestrator.DefaultConfig(),
		stubParser{}, stubIOCEnricher{}, stubFPMatcher{match: &orchestrator.FPMatch{PatternID: "p1", Confidence: 0.95}},
		nil, nil, nil, nil, store, newAuditClient(), nil, noopLogger(),
	)

	inv, err := engine.Run(context.Background(), testAlert())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = engine.ResumeFromApproval(context.Background(), inv.ID, true)
	if err == nil {
		t.Fatal("expected refusal for an investigation not awaiting human approval")
	}
}
