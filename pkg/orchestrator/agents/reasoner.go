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

package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-logr/logr"
	"github.com/tmc/langchaingo/prompts"

	"github.com/soclabs/investigator/internal/simscore"
	"github.com/soclabs/investigator/pkg/contracts"
	"github.com/soclabs/investigator/pkg/gateway"
	"github.com/soclabs/investigator/pkg/orchestrator"
)

// reasoningPromptTemplate renders the task instruction handed to the
// Gateway per reasoning call. A langchaingo template rather than a fixed
// string because the instruction varies by prior escalation outcome: the
// tier1+ re-ask names what the tier1 pass already concluded, so the
// escalation model is told what it is being asked to improve on instead
// of re-deriving classification from nothing.
var reasoningPromptTemplate = prompts.NewPromptTemplate(
	`Classify this investigation and recommend response actions. Respond with JSON matching the schema.{{if .priorClassification}}

A prior pass classified this investigation as "{{.priorClassification}}" with confidence {{.priorConfidence}}. Re-examine the evidence independently; agree or revise.{{end}}`,
	[]string{"priorClassification", "priorConfidence"},
)

func renderReasoningPrompt(prior *reasoningOutput) string {
	values := map[string]any{"priorClassification": "", "priorConfidence": ""}
	if prior != nil {
		values["priorClassification"] = prior.Classification
		values["priorConfidence"] = fmt.Sprintf("%.2f", prior.Confidence)
	}
	rendered, err := reasoningPromptTemplate.Format(values)
	if err != nil {
		return "Classify this investigation and recommend response actions. Respond with JSON matching the schema."
	}
	return rendered
}

// escalationConfidenceThreshold implements spec.md §4.1's
// escalation-manager trigger: "confidence < 0.6 and severity in
// {critical, high}" — the severity half is checked in shouldEscalate via
// Severity.AtLeast(SeverityHigh).
const escalationConfidenceThreshold = 0.6

// VectorIndex is the read-only vector-similarity-search port. Candidates
// are scored with internal/simscore's fixed-weight composite formula
// (spec.md §9) before the top results are attached to the reasoning
// context.
type VectorIndex interface {
	Search(ctx context.Context, tenantID string, entities []contracts.Entity, limit int) ([]VectorCandidate, error)
}

// VectorCandidate is one unscored similarity-search hit.
type VectorCandidate struct {
	InvestigationID string
	Classification  string
	VectorSimilarity float64
	EntityOverlap    float64
	TacticOverlap    float64
	AgeDays          float64
	RareImportant    bool
}

// reasoningSchema bounds the Gateway's Tier-1/Tier-1+ reasoning output to
// the object shape of spec.md §4.1; recommended_actions and the technique
// lists are validated as arrays, their element shape is parsed directly.
var reasoningSchema = &gateway.SchemaFragment{
	Type:     "object",
	Required: []string{"classification", "confidence", "severity"},
	Properties: map[string]gateway.PropertySchema{
		"classification":      {Type: "string"},
		"confidence":          {Type: "number"},
		"severity":            {Type: "string"},
		"attack_techniques":   {Type: "array"},
		"atlas_techniques":    {Type: "array"},
		"recommended_actions": {Type: "array"},
		"reasoning":           {Type: "string"},
	},
}

type reasoningOutput struct {
	Classification     string                         `json:"classification"`
	Confidence         float64                        `json:"confidence"`
	Severity            contracts.Severity             `json:"severity"`
	AttackTechniques   []string                       `json:"attack_techniques"`
	ATLASTechniques    []string                       `json:"atlas_techniques"`
	RecommendedActions []contracts.RecommendedAction `json:"recommended_actions"`
	Reasoning          string                         `json:"reasoning"`
}

// ReasoningAgent implements orchestrator.Reasoner: a Tier-1 Gateway call,
// with escalation to a Tier-1+ model per spec.md §4.1 "Reasoning and
// escalation".
type ReasoningAgent struct {
	gw     *gateway.Gateway
	vector VectorIndex
	log    logr.Logger
}

// NewReasoningAgent builds a ReasoningAgent. vector may be nil to disable
// similar-incident retrieval.
func NewReasoningAgent(gw *gateway.Gateway, vector VectorIndex, log logr.Logger) *ReasoningAgent {
	return &ReasoningAgent{gw: gw, vector: vector, log: log.WithName("reasoning_agent")}
}

// Reason implements orchestrator.Reasoner.
func (a *ReasoningAgent) Reason(ctx context.Context, inv contracts.Investigation) (orchestrator.ReasoningResult, error) {
	similar := a.similarIncidents(ctx, inv)
	consolidated := buildConsolidatedContext(inv, similar)

	tier1, err := a.call(ctx, inv.TenantID, gateway.Tier1, consolidated, nil)
	if err != nil {
		return orchestrator.ReasoningResult{}, err
	}
	result := toResult(tier1, false)

	if shouldEscalate(tier1.Confidence, tier1.Severity) {
		tier1Plus, err := a.call(ctx, inv.TenantID, gateway.Tier1Plus, consolidated, &tier1)
		if err != nil {
			a.log.Error(err, "escalation call failed, keeping tier-1 result", "investigation_id", inv.ID)
		} else if tier1Plus.Confidence > tier1.Confidence {
			result = toResult(tier1Plus, true)
		} else {
			result.Escalated = true
		}
	}

	result.SimilarIncidents = similar
	return result, nil
}

func (a *ReasoningAgent) similarIncidents(ctx context.Context, inv contracts.Investigation) []contracts.SimilarIncident {
	if a.vector == nil {
		return nil
	}
	candidates, err := a.vector.Search(ctx, inv.TenantID, inv.Entities.All(), 5)
	if err != nil {
		a.log.Error(err, "vector search failed", "investigation_id", inv.ID)
		return nil
	}
	out := make([]contracts.SimilarIncident, 0, len(candidates))
	for _, c := range candidates {
		score := simscore.Composite(simscore.Inputs{
			VectorSimilarity: c.VectorSimilarity,
			EntityOverlap:    c.EntityOverlap,
			TacticOverlap:    c.TacticOverlap,
			AgeDays:          c.AgeDays,
			RareImportant:    c.RareImportant,
		})
		out = append(out, contracts.SimilarIncident{
			InvestigationID: c.InvestigationID,
			Score:           score,
			Classification:  c.Classification,
		})
	}
	return out
}

func buildConsolidatedContext(inv contracts.Investigation, similar []contracts.SimilarIncident) string {
	var b strings.Builder
	fmt.Fprintf(&b, "entities: %d\n", len(inv.Entities.All()))
	fmt.Fprintf(&b, "ioc_enrichment: %d matches\n", len(inv.IOCEnrichment))
	for _, m := range inv.IOCEnrichment {
		fmt.Fprintf(&b, "  ioc=%s type=%s verdict=%s confidence=%.2f\n", m.IOC, m.Type, m.Verdict, m.Confidence)
	}
	for _, bc := range inv.Behavioural {
		fmt.Fprintf(&b, "behavioural: entity=%s baseline=%s deviation=%.2f %s\n", bc.Entity, bc.Baseline, bc.Deviation, bc.Description)
	}
	for _, ex := range inv.Exposure {
		fmt.Fprintf(&b, "exposure: entity=%s exposure_id=%s %s\n", ex.Entity, ex.ExposureID, ex.Description)
	}
	for _, d := range inv.AdversarialML {
		fmt.Fprintf(&b, "adversarial_ml: technique=%s trust=%s attestation=%s confidence=%.2f\n", d.Technique, d.TelemetryTrust, d.AttestationStatus, d.Confidence)
	}
	for _, s := range similar {
		fmt.Fprintf(&b, "similar_incident: id=%s score=%.3f classification=%s\n", s.InvestigationID, s.Score, s.Classification)
	}
	return b.String()
}

func (a *ReasoningAgent) call(ctx context.Context, tenantID string, tier gateway.Tier, consolidatedContext string, prior *reasoningOutput) (reasoningOutput, error) {
	resp, err := a.gw.Complete(ctx, gateway.Request{
		TenantID:         tenantID,
		TaskType:         "reasoning",
		Tier:             tier,
		TaskPrompt:       renderReasoningPrompt(prior),
		RetrievalContext: consolidatedContext,
		Schema:           reasoningSchema,
		MaxTokens:        2048,
	})
	if err != nil {
		return reasoningOutput{}, err
	}
	var out reasoningOutput
	if !resp.Valid {
		return out, nil
	}
	if err := json.Unmarshal([]byte(resp.Content), &out); err != nil {
		return reasoningOutput{}, nil
	}
	return out, nil
}

func toResult(out reasoningOutput, escalated bool) orchestrator.ReasoningResult {
	return orchestrator.ReasoningResult{
		Classification:     out.Classification,
		Confidence:         out.Confidence,
		Severity:           out.Severity,
		AttackTechniques:   out.AttackTechniques,
		ATLASTechniques:    out.ATLASTechniques,
		RecommendedActions: out.RecommendedActions,
		Reasoning:          out.Reasoning,
		Escalated:          escalated,
	}
}

func shouldEscalate(confidence float64, severity contracts.Severity) bool {
	return confidence < escalationConfidenceThreshold && severity.AtLeast(contracts.SeverityHigh)
}
