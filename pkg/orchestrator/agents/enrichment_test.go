package agents_test

import (
	"context"
	"errors"
	"testing"

	"github.com/soclabs/investigator/pkg/contracts"
	"github.com/soclabs/investigator/pkg/orchestrator/agents"
)

type stubBehaviouralStore struct {
	ctxs []contracts.BehaviouralContext
	err  error
}

func (s *stubBehaviouralStore) Lookup(_ context.Context, _ string, _ []contracts.Entity) ([]contracts.BehaviouralContext, error) {
	return s.ctxs, s.err
}

type stubExposureStore struct {
	correlations []contracts.ExposureCorrelation
	err          error
}

func (s *stubExposureStore) Correlate(_ context.Context, _ string, _ []contracts.Entity) ([]contracts.ExposureCorrelation, error) {
	return s.correlations, s.err
}

type stubAdversarialMLStore struct {
	dets []contracts.AdversarialMLDetection
	err  error
}

func (s *stubAdversarialMLStore) Detect(_ context.Context, _ string, _ []contracts.Entity) ([]contracts.AdversarialMLDetection, error) {
	return s.dets, s.err
}

func TestBehaviouralAgentEnrich(t *testing.T) {
	store := &stubBehaviouralStore{ctxs: []contracts.BehaviouralContext{{Entity: "host-1", Baseline: "rdp_hours"}}}
	agent := agents.NewBehaviouralAgent(store)

	if agent.Name() != "behavioural_agent" {
		t.Errorf("unexpected agent name: %s", agent.Name())
	}
	delta, err := agent.Enrich(context.Background(), contracts.Investigation{TenantID: "t1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(delta.Behavioural) != 1 {
		t.Errorf("expected one behavioural context, got %+v", delta.Behavioural)
	}
}

func TestExposureAgentEnrichPropagatesError(t *testing.T) {
	wantErr := errors.New("exposure db down")
	agent := agents.NewExposureAgent(&stubExposureStore{err: wantErr})

	_, err := agent.Enrich(context.Background(), contracts.Investigation{TenantID: "t1"})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected error to propagate, got %v", err)
	}
}

func TestAdversarialMLAgentEnrich(t *testing.T) {
	store := &stubAdversarialMLStore{dets: []contracts.AdversarialMLDetection{{Technique: "prompt_injection", TelemetryTrust: contracts.TrustUntrusted}}}
	agent := agents.NewAdversarialMLAgent(store)

	if agent.Name() != "adversarial_ml_agent" {
		t.Errorf("unexpected agent name: %s", agent.Name())
	}
	delta, err := agent.Enrich(context.Background(), contracts.Investigation{TenantID: "t1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(delta.AdversarialML) != 1 {
		t.Errorf("expected one adversarial-ML detection, got %+v", delta.AdversarialML)
	}
}
