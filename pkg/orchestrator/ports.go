/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package orchestrator implements the Investigation Orchestrator of
// spec.md §4.1: the state machine that drives one alert from RECEIVED to
// a terminal state, fanning enrichment out in parallel, mediating every
// model call through the Context Gateway, and gating destructive actions
// behind human approval.
package orchestrator

import (
	"context"
	"time"

	"github.com/soclabs/investigator/pkg/contracts"
)

// InvestigationStore is the persistence port consumed by the Engine. Every
// implementation must make AdvanceTo+persist atomic per spec.md §4.1
// "Persistence and crash safety": a crash between transition and persist
// must never happen.
type InvestigationStore interface {
	// StartOrResume returns the existing investigation for (tenantID,
	// alertID) if one exists, or creates and persists a new RECEIVED one.
	// The bool reports whether an existing investigation was resumed.
	StartOrResume(ctx context.Context, alert contracts.Alert) (*contracts.Investigation, bool, error)
	Get(ctx context.Context, investigationID string) (*contracts.Investigation, error)
	Save(ctx context.Context, inv *contracts.Investigation) error
}

// FPMatcher is the port to pkg/fpgovernance's fast matching path.
type FPMatcher interface {
	Match(ctx context.Context, alert contracts.Alert, bundle contracts.EntityBundle, ruleFamily, assetClass string) (*FPMatch, error)
}

// FPMatch mirrors fpgovernance.MatchResult without importing that package
// directly, keeping pkg/orchestrator decoupled from pkg/fpgovernance's
// internals (it depends only on this narrow shape).
type FPMatch struct {
	PatternID  string
	Confidence float64
}

// EntityParser extracts a typed entity bundle from an alert's raw payload.
// The concrete implementation is out of scope for this module (spec.md
// Non-goals); agents.HeuristicEntityParser ships a minimal heuristic implementation so
// the orchestrator is runnable standalone.
type EntityParser interface {
	Parse(ctx context.Context, alert contracts.Alert) (contracts.EntityBundle, error)
}

// IOCEnricher runs the IOC-extraction step between RECEIVED and PARSING
// (spec.md §4.1 graph topology): a Tier-0 Gateway call that resolves the
// parsed entity bundle's raw IOCs against threat intelligence.
type IOCEnricher interface {
	EnrichIOCs(ctx context.Context, tenantID string, bundle contracts.EntityBundle) ([]contracts.IOCMatch, error)
}

// EnrichmentAgent is one of the three agents run concurrently during
// ENRICHING (spec.md §4.1 "Parallel enrichment contract"). Each agent
// receives an immutable snapshot and returns only its own delta; agents
// must never mutate the snapshot they are given.
type EnrichmentAgent interface {
	Name() string
	Enrich(ctx context.Context, snapshot contracts.Investigation) (EnrichmentDelta, error)
}

// EnrichmentDelta is the field-level result of one enrichment agent. Only
// non-nil/non-empty fields are merged into the investigation.
type EnrichmentDelta struct {
	IOCEnrichment []contracts.IOCMatch
	Behavioural   []contracts.BehaviouralContext
	Exposure      []contracts.ExposureCorrelation
	AdversarialML []contracts.AdversarialMLDetection
}

// Reasoner produces the classification/confidence/severity/actions of
// spec.md §4.1 "Reasoning and escalation", including the internal
// escalation-to-a-second-model decision.
type Reasoner interface {
	Reason(ctx context.Context, inv contracts.Investigation) (ReasoningResult, error)
}

// ReasoningResult is the reasoner's output, already decided on escalation.
type ReasoningResult struct {
	Classification     string
	Confidence         float64
	Severity           contracts.Severity
	AttackTechniques   []string
	ATLASTechniques    []string
	RecommendedActions []contracts.RecommendedAction
	Reasoning          string
	Escalated          bool
	SimilarIncidents   []contracts.SimilarIncident
}

// Responder matches playbooks and dispatches the investigation's
// recommended actions (spec.md §4.1 "Action tiering").
type Responder interface {
	MatchPlaybooks(ctx context.Context, inv contracts.Investigation) ([]contracts.PlaybookMatch, error)
	Dispatch(ctx context.Context, inv contracts.Investigation, action contracts.RecommendedAction) error
}

// ApprovalGate mediates the AWAITING_HUMAN stage of spec.md §4.1.
type ApprovalGate interface {
	// RequestApproval opens an approval window for the given investigation
	// and returns the deadline it will expire at.
	RequestApproval(ctx context.Context, inv contracts.Investigation) (time.Time, error)
}

// Clock abstracts time.Now so tests can control the orchestrator's
// sense of "now" deterministically.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock backed by time.Now.
type SystemClock struct{}

// Now returns the current wall-clock time.
func (SystemClock) Now() time.Time { return time.Now() }
