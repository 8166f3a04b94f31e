package agents_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/go-logr/logr"

	"github.com/soclabs/investigator/pkg/audit"
	"github.com/soclabs/investigator/pkg/contracts"
	"github.com/soclabs/investigator/pkg/gateway"
	"github.com/soclabs/investigator/pkg/orchestrator/agents"
)

// fakeProvider returns a fixed sequence of reasoning outputs, one per call,
// so tests can drive a tier-1 / tier-1+ escalation sequence deterministically.
type fakeProvider struct {
	outputs []reasoningFixture
	calls   int
}

type reasoningFixture struct {
	classification string
	confidence     float64
	severity       contracts.Severity
}

func (f *fakeProvider) Name() string                               { return "fake" }
func (f *fakeProvider) AdaptSystem(_ []gateway.SystemBlock) any     { return nil }
func (f *fakeProvider) AdaptMessages(_ string) any                  { return nil }
func (f *fakeProvider) Call(_ context.Context, _ gateway.ProviderRequest) (gateway.ProviderResponse, error) {
	if f.calls >= len(f.outputs) {
		return gateway.ProviderResponse{}, errors.New("no more fixtures")
	}
	fx := f.outputs[f.calls]
	f.calls++
	payload, _ := json.Marshal(map[string]any{
		"classification": fx.classification,
		"confidence":     fx.confidence,
		"severity":       string(fx.severity),
	})
	return gateway.ProviderResponse{Content: string(payload), ModelID: "fake-model", InputTokens: 10, OutputTokens: 10}, nil
}

func newTestGateway(t *testing.T, provider gateway.Provider) *gateway.Gateway {
	t.Helper()
	budget := gateway.NewBudgetGate(gateway.NewMemorySpendLedger(), 1000, 900)
	auditClient := audit.NewAuditClient(audit.NewMemoryStore(0), logr.Discard())
	return gateway.New(gateway.Config{MonthlyHardCapUSD: 1000, MonthlySoftAlertUSD: 900, Retry: gateway.DefaultRetryPolicy()}, budget, provider, nil, auditClient, logr.Discard())
}

func TestReasoningAgentSingleTierWhenConfident(t *testing.T) {
	provider := &fakeProvider{outputs: []reasoningFixture{
		{classification: "credential_access", confidence: 0.9, severity: contracts.SeverityHigh},
	}}
	gw := newTestGateway(t, provider)
	agent := agents.NewReasoningAgent(gw, nil, logr.Discard())

	result, err := agent.Reason(context.Background(), contracts.Investigation{TenantID: "t1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Classification != "credential_access" || result.Confidence != 0.9 {
		t.Errorf("unexpected result: %+v", result)
	}
	if result.Escalated {
		t.Error("expected no escalation on confident tier-1 result")
	}
	if provider.calls != 1 {
		t.Errorf("expected exactly one gateway call, got %d", provider.calls)
	}
}

func TestReasoningAgentEscalatesOnLowConfidenceHighSeverity(t *testing.T) {
	provider := &fakeProvider{outputs: []reasoningFixture{
		{classification: "credential_access", confidence: 0.3, severity: contracts.SeverityHigh},
		{classification: "credential_access", confidence: 0.8, severity: contracts.SeverityHigh},
	}}
	gw := newTestGateway(t, provider)
	agent := agents.NewReasoningAgent(gw, nil, logr.Discard())

	result, err := agent.Reason(context.Background(), contracts.Investigation{TenantID: "t1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if provider.calls != 2 {
		t.Fatalf("expected tier-1 and tier-1+ calls, got %d", provider.calls)
	}
	if result.Confidence != 0.8 || !result.Escalated {
		t.Errorf("expected escalated result with higher confidence to supersede tier-1, got %+v", result)
	}
}

func TestReasoningAgentKeepsTier1WhenEscalationDoesNotImprove(t *testing.T) {
	provider := &fakeProvider{outputs: []reasoningFixture{
		{classification: "credential_access", confidence: 0.3, severity: contracts.SeverityCritical},
		{classification: "credential_access", confidence: 0.2, severity: contracts.SeverityCritical},
	}}
	gw := newTestGateway(t, provider)
	agent := agents.NewReasoningAgent(gw, nil, logr.Discard())

	result, err := agent.Reason(context.Background(), contracts.Investigation{TenantID: "t1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Confidence != 0.3 {
		t.Errorf("expected tier-1 confidence retained when escalation does not improve it, got %+v", result)
	}
	if !result.Escalated {
		t.Error("expected Escalated to be marked true even when tier-1+ did not supersede tier-1")
	}
}

func TestReasoningAgentDoesNotEscalateOnLowSeverity(t *testing.T) {
	provider := &fakeProvider{outputs: []reasoningFixture{
		{classification: "benign", confidence: 0.2, severity: contracts.SeverityLow},
	}}
	gw := newTestGateway(t, provider)
	agent := agents.NewReasoningAgent(gw, nil, logr.Discard())

	result, err := agent.Reason(context.Background(), contracts.Investigation{TenantID: "t1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if provider.calls != 1 {
		t.Errorf("expected no escalation call for low-severity findings, got %d calls", provider.calls)
	}
	if result.Escalated {
		t.Error("expected Escalated false")
	}
}

type stubVectorIndex struct {
	candidates []agents.VectorCandidate
	err        error
}

func (s *stubVectorIndex) Search(_ context.Context, _ string, _ []contracts.Entity, _ int) ([]agents.VectorCandidate, error) {
	return s.candidates, s.err
}

func TestReasoningAgentAttachesSimilarIncidents(t *testing.T) {
	provider := &fakeProvider{outputs: []reasoningFixture{
		{classification: "credential_access", confidence: 0.9, severity: contracts.SeverityHigh},
	}}
	gw := newTestGateway(t, provider)
	vector := &stubVectorIndex{candidates: []agents.VectorCandidate{
		{InvestigationID: "inv-old", Classification: "credential_access", VectorSimilarity: 0.9, EntityOverlap: 0.8, TacticOverlap: 0.7, AgeDays: 5},
	}}
	agent := agents.NewReasoningAgent(gw, vector, logr.Discard())

	result, err := agent.Reason(context.Background(), contracts.Investigation{TenantID: "t1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.SimilarIncidents) != 1 || result.SimilarIncidents[0].InvestigationID != "inv-old" {
		t.Errorf("expected similar incidents attached to the result, got %+v", result.SimilarIncidents)
	}
	if result.SimilarIncidents[0].Score <= 0 {
		t.Errorf("expected a positive composite score, got %f", result.SimilarIncidents[0].Score)
	}
}
