package contracts

import (
	"testing"
	"time"
)

func TestCanAdvanceTo(t *testing.T) {
	tests := []struct {
		name string
		from State
		to   State
		want bool
	}{
		{"received to parsing", StateReceived, StateParsing, true},
		{"received to enriching is illegal", StateReceived, StateEnriching, false},
		{"parsing short-circuits to closed", StateParsing, StateClosed, true},
		{"parsing proceeds to enriching", StateParsing, StateEnriching, true},
		{"enriching to reasoning", StateEnriching, StateReasoning, true},
		{"reasoning to responding", StateReasoning, StateResponding, true},
		{"reasoning to awaiting human", StateReasoning, StateAwaitingHuman, true},
		{"awaiting human approved", StateAwaitingHuman, StateResponding, true},
		{"awaiting human rejected", StateAwaitingHuman, StateClosed, true},
		{"responding to closed", StateResponding, StateClosed, true},
		{"closed is absorbing", StateClosed, StateParsing, false},
		{"failed is absorbing", StateFailed, StateParsing, false},
		{"any state can fail", StateEnriching, StateFailed, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := Investigation{State: tt.from}
			if got := inv.CanAdvanceTo(tt.to); got != tt.want {
				t.Errorf("CanAdvanceTo(%s->%s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestAdvanceToAppendsDecision(t *testing.T) {
	inv := Investigation{State: StateReceived}
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	if err := inv.AdvanceTo(StateParsing, DecisionEntry{Agent: "ioc_extractor", Action: "extract", Timestamp: ts}); err != nil {
		t.Fatalf("AdvanceTo returned error: %v", err)
	}
	if inv.State != StateParsing {
		t.Fatalf("State = %s, want PARSING", inv.State)
	}
	if len(inv.DecisionChain) != 1 {
		t.Fatalf("DecisionChain has %d entries, want 1", len(inv.DecisionChain))
	}

	if err := inv.AdvanceTo(StateReceived, DecisionEntry{Agent: "x", Timestamp: ts}); err == nil {
		t.Fatal("expected illegal transition to return an error")
	}
}

func TestAllUntrusted(t *testing.T) {
	if AllUntrusted(nil) {
		t.Error("AllUntrusted(nil) should be false (no detections to force escalation on)")
	}
	mixed := []AdversarialMLDetection{
		{TelemetryTrust: TrustTrusted},
		{TelemetryTrust: TrustUntrusted},
	}
	if AllUntrusted(mixed) {
		t.Error("mixed trust set should not be AllUntrusted")
	}
	all := []AdversarialMLDetection{
		{TelemetryTrust: TrustUntrusted},
		{TelemetryTrust: TrustUntrusted},
	}
	if !AllUntrusted(all) {
		t.Error("uniformly untrusted set should be AllUntrusted")
	}
}

func TestSeverityAtLeast(t *testing.T) {
	if !SeverityCritical.AtLeast(SeverityHigh) {
		t.Error("critical should be at least as severe as high")
	}
	if SeverityLow.AtLeast(SeverityHigh) {
		t.Error("low should not be at least as severe as high")
	}
}
