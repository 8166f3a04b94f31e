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

package orchestrator

import (
	"context"

	"github.com/soclabs/investigator/internal/apperrors"
	"github.com/soclabs/investigator/pkg/audit"
	"github.com/soclabs/investigator/pkg/contracts"
)

// confidenceEscalationThreshold and its paired severities implement
// spec.md §4.1's approval-gate trigger: "tier >= 2 action, or final
// confidence < 0.6 with severity in {critical, high}".
const confidenceEscalationThreshold = 0.6

// step executes exactly one graph branch for inv.State, persists the
// result, and reports whether the driver loop should stop (the
// investigation is now terminal, or waiting on an external event such as
// human approval).
func (e *Engine) step(ctx context.Context, inv *contracts.Investigation, alert contracts.Alert) (stop bool, err error) {
	switch inv.State {
	case contracts.StateReceived:
		err = e.stepParsing(ctx, inv, alert)
	case contracts.StateParsing:
		stop, err = e.stepFPCheck(ctx, inv, alert)
	case contracts.StateEnriching:
		err = e.stepEnriching(ctx, inv)
	case contracts.StateReasoning:
		stop, err = e.stepReasoning(ctx, inv)
	case contracts.StateAwaitingHuman:
		stop, err = e.stepAwaitingHuman(ctx, inv)
	case contracts.StateResponding:
		err = e.stepResponding(ctx, inv)
	default:
		stop = true
	}
	if err != nil {
		return false, err
	}
	if saveErr := e.store.Save(ctx, inv); saveErr != nil {
		return false, apperrors.Wrap(saveErr, apperrors.ErrorTypeUnrecoverable, "persist investigation")
	}
	return stop, nil
}

// stepParsing moves RECEIVED -> PARSING. Entity extraction is idempotent:
// a resumed investigation with entities already populated is not
// re-parsed.
func (e *Engine) stepParsing(ctx context.Context, inv *contracts.Investigation, alert contracts.Alert) error {
	now := e.clock.Now()
	alreadyParsed := len(inv.Entities.All()) > 0
	if !alreadyParsed && e.parser != nil {
		bundle, err := e.parser.Parse(ctx, alert)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrorTypeUnrecoverable, "parse entities")
		}
		inv.Entities = bundle
	}
	if len(inv.IOCEnrichment) == 0 && e.iocEnricher != nil {
		matches, err := e.iocEnricher.EnrichIOCs(ctx, inv.TenantID, inv.Entities)
		if err != nil {
			return err // propagates ErrorTypeSpendExceeded unchanged per spec.md §4.1
		}
		inv.IOCEnrichment = matches
	}
	return inv.AdvanceTo(contracts.StateParsing, contracts.DecisionEntry{
		Agent: "ioc_extractor", Action: "parsed", Timestamp: now,
	})
}

// stepFPCheck runs the false-positive short-circuit of spec.md §4.1's
// graph ("PARSING -> [FP short-circuit] -> CLOSED(false_positive) or
// ENRICHING"). It is its own graph branch so a crash between the FP check
// and the state write still resumes correctly.
func (e *Engine) stepFPCheck(ctx context.Context, inv *contracts.Investigation, alert contracts.Alert) (bool, error) {
	now := e.clock.Now()
	if e.fpMatcher != nil {
		match, err := e.fpMatcher.Match(ctx, alert, inv.Entities, alert.Product, "")
		if err != nil {
			return false, apperrors.Wrap(err, apperrors.ErrorTypeUnrecoverable, "fp match")
		}
		if match != nil {
			inv.Classification = "false_positive"
			inv.Confidence = match.Confidence
			if err := inv.AdvanceTo(contracts.StateClosed, contracts.DecisionEntry{
				Agent: "fp_matcher", Action: "short_circuit", Timestamp: now,
				Confidence: &match.Confidence,
				Detail:     map[string]any{"pattern_id": match.PatternID},
			}); err != nil {
				return false, apperrors.Wrap(err, apperrors.ErrorTypeUnrecoverable, "advance to closed")
			}
			e.audit.Record(ctx, inv.TenantID, audit.EventDecisionShortCircuit, audit.EventSeverityInfo, audit.ActorAgent, "fp_matcher", "orchestrator", func(ev *audit.Event) {
				ev.InvestigationID = inv.ID
				ev.AlertID = inv.AlertID
				ev.Decision = map[string]any{"pattern_id": match.PatternID, "confidence": match.Confidence}
			})
			return true, nil
		}
	}
	if err := inv.AdvanceTo(contracts.StateEnriching, contracts.DecisionEntry{
		Agent: "fp_matcher", Action: "no_match", Timestamp: now,
	}); err != nil {
		return false, apperrors.Wrap(err, apperrors.ErrorTypeUnrecoverable, "advance to enriching")
	}
	return false, nil
}

// stepEnriching runs the three-agent fan-out and advances to REASONING.
func (e *Engine) stepEnriching(ctx context.Context, inv *contracts.Investigation) error {
	e.enrichAll(ctx, inv)
	return inv.AdvanceTo(contracts.StateReasoning, contracts.DecisionEntry{
		Agent: "orchestrator", Action: "enrichment_complete", Timestamp: e.clock.Now(),
	})
}

// stepReasoning calls the Reasoner, applies the trust constraint and the
// approval-gate trigger, and advances to RESPONDING or AWAITING_HUMAN.
func (e *Engine) stepReasoning(ctx context.Context, inv *contracts.Investigation) (bool, error) {
	result, err := e.reasoner.Reason(ctx, *inv)
	if err != nil {
		return false, err // propagate as-is: preserves ErrorTypeSpendExceeded per spec.md
	}

	inv.Classification = result.Classification
	inv.Confidence = result.Confidence
	inv.Severity = result.Severity
	inv.RecommendedActions = result.RecommendedActions
	inv.SimilarIncidents = result.SimilarIncidents

	now := e.clock.Now()
	confidence := result.Confidence
	inv.AppendDecision(contracts.DecisionEntry{
		Agent: "reasoner", Action: "classified", Timestamp: now,
		Confidence: &confidence,
		Detail: map[string]any{
			"classification":    result.Classification,
			"attack_techniques": result.AttackTechniques,
			"atlas_techniques":  result.ATLASTechniques,
			"escalated":         result.Escalated,
			"reasoning":         result.Reasoning,
		},
	})
	e.audit.Record(ctx, inv.TenantID, audit.EventDecisionClassification, audit.EventSeverityInfo, audit.ActorAgent, "reasoner", "orchestrator", func(ev *audit.Event) {
		ev.InvestigationID = inv.ID
		ev.AlertID = inv.AlertID
		ev.Decision = map[string]any{"classification": result.Classification, "confidence": result.Confidence}
	})

	requiresApproval := needsHumanApproval(result, inv.AdversarialML)
	inv.RequiresHumanApproval = requiresApproval

	if requiresApproval {
		if err := inv.AdvanceTo(contracts.StateAwaitingHuman, contracts.DecisionEntry{
			Agent: "orchestrator", Action: "escalated_to_human", Timestamp: now,
		}); err != nil {
			return false, apperrors.Wrap(err, apperrors.ErrorTypeUnrecoverable, "advance to awaiting_human")
		}
		return false, nil
	}

	if err := inv.AdvanceTo(contracts.StateResponding, contracts.DecisionEntry{
		Agent: "orchestrator", Action: "auto_approved", Timestamp: now,
	}); err != nil {
		return false, apperrors.Wrap(err, apperrors.ErrorTypeUnrecoverable, "advance to responding")
	}
	return false, nil
}

// needsHumanApproval implements spec.md §4.1's approval gate and trust
// constraint together: any recommended action at TierDestructive, a final
// confidence below threshold on a critical/high severity, or an
// all-untrusted adversarial-ML detection set, all force AWAITING_HUMAN
// regardless of each other.
func needsHumanApproval(result ReasoningResult, adversarialML []contracts.AdversarialMLDetection) bool {
	if contracts.AllUntrusted(adversarialML) {
		return true
	}
	for _, a := range result.RecommendedActions {
		if a.Tier == contracts.TierDestructive {
			return true
		}
	}
	if result.Confidence < confidenceEscalationThreshold && result.Severity.AtLeast(contracts.SeverityHigh) {
		return true
	}
	return false
}

// stepAwaitingHuman opens the approval window exactly once per entry into
// AWAITING_HUMAN and then stops the driver loop: resolution happens out
// of band via Engine.ResumeFromApproval (spec.md §4.1 approval-gate
// mechanics) or via the approval package's deadline sweep.
func (e *Engine) stepAwaitingHuman(ctx context.Context, inv *contracts.Investigation) (bool, error) {
	if e.approval == nil {
		return true, nil
	}
	for i := len(inv.DecisionChain) - 1; i >= 0; i-- {
		d := inv.DecisionChain[i]
		if d.Agent == "approval_gate" && d.Action == "requested" {
			return true, nil
		}
		if d.Action == "escalated_to_human" {
			break
		}
	}
	deadline, err := e.approval.RequestApproval(ctx, *inv)
	if err != nil {
		return false, apperrors.Wrap(err, apperrors.ErrorTypeUnrecoverable, "request approval")
	}
	inv.AppendDecision(contracts.DecisionEntry{
		Agent: "approval_gate", Action: "requested", Timestamp: e.clock.Now(),
		Detail: map[string]any{"deadline": deadline},
	})
	e.audit.Record(ctx, inv.TenantID, audit.EventApprovalRequested, audit.EventSeverityWarning, audit.ActorSystem, "approval_gate", "orchestrator", func(ev *audit.Event) {
		ev.InvestigationID = inv.ID
		ev.AlertID = inv.AlertID
		ev.Context = map[string]any{"deadline": deadline}
	})
	return true, nil
}

// stepResponding matches playbooks, dispatches every recommended action,
// and advances to CLOSED. Tier 0/1 actions execute unconditionally here;
// Tier 2 actions only ever reach RESPONDING after ResumeFromApproval
// granted them, so dispatch treats every action present as cleared.
func (e *Engine) stepResponding(ctx context.Context, inv *contracts.Investigation) error {
	if e.responder == nil {
		return inv.AdvanceTo(contracts.StateClosed, contracts.DecisionEntry{
			Agent: "orchestrator", Action: "closed", Timestamp: e.clock.Now(),
		})
	}

	matches, err := e.responder.MatchPlaybooks(ctx, *inv)
	if err != nil {
		inv.AppendDecision(contracts.DecisionEntry{
			Agent: "responder", Action: "playbook_match_failed", Timestamp: e.clock.Now(),
			Detail: map[string]any{"error": err.Error()},
		})
	} else {
		inv.PlaybookMatches = matches
	}

	now := e.clock.Now()
	for _, action := range inv.RecommendedActions {
		if dispatchErr := e.responder.Dispatch(ctx, *inv, action); dispatchErr != nil {
			inv.AppendDecision(contracts.DecisionEntry{
				Agent: "responder", Action: "dispatch_failed", Timestamp: now,
				Detail: map[string]any{"action": action.Action, "target": action.Target, "error": dispatchErr.Error()},
			})
			continue
		}
		inv.AppendDecision(contracts.DecisionEntry{
			Agent: "responder", Action: "dispatched", Timestamp: now,
			Detail: map[string]any{"action": action.Action, "target": action.Target, "tier": action.Tier},
		})
		e.audit.Record(ctx, inv.TenantID, audit.EventActionExecuted, audit.EventSeverityInfo, audit.ActorAgent, "responder", "orchestrator", func(ev *audit.Event) {
			ev.InvestigationID = inv.ID
			ev.AlertID = inv.AlertID
			ev.Outcome = map[string]any{"action": action.Action, "target": action.Target, "tier": action.Tier}
		})
	}

	return inv.AdvanceTo(contracts.StateClosed, contracts.DecisionEntry{
		Agent: "orchestrator", Action: "closed", Timestamp: now,
	})
}
