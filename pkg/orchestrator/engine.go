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

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"

	"github.com/soclabs/investigator/internal/apperrors"
	"github.com/soclabs/investigator/pkg/audit"
	"github.com/soclabs/investigator/pkg/contracts"
)

// Config carries the Engine's tunables.
type Config struct {
	// MaxConcurrentEnrichment bounds the errgroup worker pool used to fan
	// enrichment agents out (spec.md §4.1 "Parallel enrichment contract").
	MaxConcurrentEnrichment int
}

// DefaultConfig returns sane defaults: one worker per built-in enrichment
// agent, since the contract is exactly three concurrent agents per alert.
func DefaultConfig() Config {
	return Config{MaxConcurrentEnrichment: 3}
}

// Engine is the Investigation Orchestrator of spec.md §4.1.
type Engine struct {
	cfg Config

	parser      EntityParser
	iocEnricher IOCEnricher
	fpMatcher   FPMatcher
	enrichment  []EnrichmentAgent
	reasoner    Reasoner
	responder   Responder
	approval    ApprovalGate
	store       InvestigationStore
	audit       *audit.Client
	clock       Clock
	log         logr.Logger
}

// New builds an Engine. enrichment must hold exactly the agents that
// should run concurrently during ENRICHING; the spec calls for three
// (behavioural, exposure, adversarial-ML) but the Engine itself is
// agnostic to the count.
func New(cfg Config, parser EntityParser, iocEnricher IOCEnricher, fpMatcher FPMatcher, enrichment []EnrichmentAgent,
	reasoner Reasoner, responder Responder, approval ApprovalGate, store InvestigationStore,
	auditClient *audit.Client, clock Clock, log logr.Logger) *Engine {
	if clock == nil {
		clock = SystemClock{}
	}
	if cfg.MaxConcurrentEnrichment <= 0 {
		cfg.MaxConcurrentEnrichment = len(enrichment)
		if cfg.MaxConcurrentEnrichment == 0 {
			cfg.MaxConcurrentEnrichment = 1
		}
	}
	return &Engine{
		cfg:         cfg,
		parser:      parser,
		iocEnricher: iocEnricher,
		fpMatcher:   fpMatcher,
		enrichment:  enrichment,
		reasoner:    reasoner,
		responder:   responder,
		approval:    approval,
		store:       store,
		audit:       auditClient,
		clock:       clock,
		log:         log.WithName("orchestrator"),
	}
}

// Run is the top-level entrypoint of spec.md §4.1: "Run(alert) →
// Investigation", idempotent by (tenant_id, alert_id).
func (e *Engine) Run(ctx context.Context, alert contracts.Alert) (*contracts.Investigation, error) {
	if err := alert.Validate(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeValidation, "invalid alert")
	}

	inv, resumed, err := e.store.StartOrResume(ctx, alert)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeUnrecoverable, "start or resume investigation")
	}
	if resumed && inv.State.Terminal() {
		return inv, nil
	}

	e.log.Info("driving investigation", "investigation_id", inv.ID, "alert_id", alert.ID, "resumed", resumed, "state", inv.State)
	return e.drive(ctx, inv, alert)
}

// ResumeFromApproval is spec.md §4.1's second operation: resolves a
// pending AWAITING_HUMAN investigation after a human decision.
func (e *Engine) ResumeFromApproval(ctx context.Context, investigationID string, approved bool) (*contracts.Investigation, error) {
	inv, err := e.store.Get(ctx, investigationID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeUnrecoverable, "load investigation")
	}
	if inv.State != contracts.StateAwaitingHuman {
		return nil, apperrors.New(apperrors.ErrorTypeValidation, "investigation is not awaiting human approval").
			WithDetailsf("investigation_id=%s state=%s", inv.ID, inv.State)
	}

	now := e.clock.Now()
	eventType := audit.EventApprovalDenied
	if approved {
		eventType = audit.EventApprovalGranted
	}
	e.audit.Record(ctx, inv.TenantID, eventType, audit.EventSeverityInfo, audit.ActorAnalyst, "", "orchestrator", func(ev *audit.Event) {
		ev.InvestigationID = inv.ID
		ev.AlertID = inv.AlertID
	})

	if !approved {
		if err := inv.AdvanceTo(contracts.StateClosed, contracts.DecisionEntry{
			Agent: "orchestrator", Action: "rejected", Timestamp: now,
			Detail: map[string]any{"reason": "human rejected"},
		}); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrorTypeUnrecoverable, "advance to closed")
		}
		if err := e.store.Save(ctx, inv); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrorTypeUnrecoverable, "persist rejected investigation")
		}
		return inv, nil
	}

	if err := inv.AdvanceTo(contracts.StateResponding, contracts.DecisionEntry{
		Agent: "orchestrator", Action: "approved", Timestamp: now,
	}); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeUnrecoverable, "advance to responding")
	}
	if err := e.store.Save(ctx, inv); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeUnrecoverable, "persist approved investigation")
	}
	return e.drive(ctx, inv, contracts.Alert{ID: inv.AlertID, TenantID: inv.TenantID})
}

// drive runs the graph switch of spec.md §4.1 until the investigation
// reaches a terminal state or a step asks it to pause (AWAITING_HUMAN).
func (e *Engine) drive(ctx context.Context, inv *contracts.Investigation, alert contracts.Alert) (*contracts.Investigation, error) {
	for !inv.State.Terminal() {
		stop, err := e.step(ctx, inv, alert)
		if err != nil {
			e.fail(ctx, inv, err)
			return inv, err
		}
		if stop {
			return inv, nil
		}
	}
	return inv, nil
}

// fail appends a FAILED transition and persists it, never leaving a
// non-terminal investigation unpersisted (spec.md §4.1 "Failure
// semantics").
func (e *Engine) fail(ctx context.Context, inv *contracts.Investigation, cause error) {
	now := e.clock.Now()
	entry := contracts.DecisionEntry{
		Agent: "orchestrator", Action: "error", Timestamp: now,
		Detail: map[string]any{"error": cause.Error()},
	}
	if inv.State.Terminal() {
		inv.AppendDecision(entry)
	} else if advErr := inv.AdvanceTo(contracts.StateFailed, entry); advErr != nil {
		// Transition table has no path to FAILED from a terminal state;
		// this can only happen if inv.State was already terminal, which
		// the outer check above excludes. Record and move on.
		inv.AppendDecision(entry)
	}
	if err := e.store.Save(ctx, inv); err != nil {
		e.log.Error(err, "failed to persist failed investigation", "investigation_id", inv.ID)
	}
	e.log.Error(cause, "investigation failed", "investigation_id", inv.ID)
}

// enrichAll fans the configured agents out concurrently against an
// immutable snapshot and merges their deltas deterministically by agent
// order (spec.md §4.1 "deterministic field-level merge"). Any individual
// agent failure is recorded and treated as an empty delta: enrichment
// never fails the investigation (fail-soft).
func (e *Engine) enrichAll(ctx context.Context, inv *contracts.Investigation) {
	snapshot := *inv
	deltas := make([]EnrichmentDelta, len(e.enrichment))
	errs := make([]error, len(e.enrichment))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.MaxConcurrentEnrichment)
	for i, agent := range e.enrichment {
		i, agent := i, agent
		g.Go(func() error {
			delta, err := agent.Enrich(gctx, snapshot)
			deltas[i] = delta
			errs[i] = err
			return nil // never propagate: fail-soft per agent, not per group
		})
	}
	_ = g.Wait() // always nil: agents report their own errors via errs[]

	now := e.clock.Now()
	for i, agent := range e.enrichment {
		if errs[i] != nil {
			inv.AppendDecision(contracts.DecisionEntry{
				Agent: agent.Name(), Action: "enrichment_failed", Timestamp: now,
				Detail: map[string]any{"error": errs[i].Error()},
			})
			continue
		}
		mergeDelta(inv, deltas[i])
		inv.AppendDecision(contracts.DecisionEntry{
			Agent: agent.Name(), Action: "enriched", Timestamp: now,
		})
	}
}

func mergeDelta(inv *contracts.Investigation, d EnrichmentDelta) {
	inv.IOCEnrichment = append(inv.IOCEnrichment, d.IOCEnrichment...)
	inv.Behavioural = append(inv.Behavioural, d.Behavioural...)
	inv.Exposure = append(inv.Exposure, d.Exposure...)
	inv.AdversarialML = append(inv.AdversarialML, d.AdversarialML...)
}
