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

// Package audit implements the audit-events producer of spec.md §6: every
// component in this repository that reaches a decision, takes an action, or
// changes governance state emits one Event here. Production never raises:
// emission failures are logged and swallowed (spec.md §6, "fire-and-forget").
package audit

import (
	"time"

	"github.com/google/uuid"
)

// EventType is the closed, five-category event taxonomy of spec.md §6.
// Unknown event types are rejected by the producer.
type EventType string

const (
	// decision.*
	EventDecisionClassification EventType = "decision.classification"
	EventDecisionEnrichment     EventType = "decision.enrichment"
	EventDecisionRouting        EventType = "decision.routing"
	EventDecisionShortCircuit   EventType = "decision.short_circuit"
	EventDecisionStateChanged   EventType = "decision.state_changed"

	// action.*
	EventActionExecuted  EventType = "action.executed"
	EventActionPrepared  EventType = "action.prepared"
	EventActionIndexed   EventType = "action.indexed"
	EventActionFPCreated EventType = "action.fp_created"

	// approval.*
	EventApprovalRequested EventType = "approval.requested"
	EventApprovalGranted   EventType = "approval.granted"
	EventApprovalDenied    EventType = "approval.denied"
	EventApprovalTimedOut  EventType = "approval.timed_out"
	EventApprovalEscalated EventType = "approval.escalated"

	// security.*
	EventSecurityInjectionDetected    EventType = "security.injection_detected"
	EventSecurityTechniqueQuarantined EventType = "security.technique_quarantined"
	EventSecuritySpendSoftLimit       EventType = "security.spend_soft_limit"
	EventSecuritySpendHardLimit       EventType = "security.spend_hard_limit"
	EventSecurityAccumulationThreshold EventType = "security.accumulation_threshold"

	// system.*
	EventSystemDegradation   EventType = "system.degradation"
	EventSystemKillSwitchOn  EventType = "system.kill_switch_on"
	EventSystemKillSwitchOff EventType = "system.kill_switch_off"
	EventSystemConfigChanged EventType = "system.config_changed"
	EventSystemCircuitBreaker EventType = "system.circuit_breaker"
	EventSystemGenesis       EventType = "system.genesis"
)

// knownEventTypes backs EventType.Valid. Built from the constants above so
// the producer's rejection of unknown types is always in sync with the
// enum.
var knownEventTypes = map[EventType]struct{}{
	EventDecisionClassification: {}, EventDecisionEnrichment: {}, EventDecisionRouting: {},
	EventDecisionShortCircuit: {}, EventDecisionStateChanged: {},
	EventActionExecuted: {}, EventActionPrepared: {}, EventActionIndexed: {}, EventActionFPCreated: {},
	EventApprovalRequested: {}, EventApprovalGranted: {}, EventApprovalDenied: {},
	EventApprovalTimedOut: {}, EventApprovalEscalated: {},
	EventSecurityInjectionDetected: {}, EventSecurityTechniqueQuarantined: {},
	EventSecuritySpendSoftLimit: {}, EventSecuritySpendHardLimit: {}, EventSecurityAccumulationThreshold: {},
	EventSystemDegradation: {}, EventSystemKillSwitchOn: {}, EventSystemKillSwitchOff: {},
	EventSystemConfigChanged: {}, EventSystemCircuitBreaker: {}, EventSystemGenesis: {},
}

// Valid reports whether t is a member of the closed taxonomy.
func (t EventType) Valid() bool {
	_, ok := knownEventTypes[t]
	return ok
}

// Category returns the event's leading dotted segment ("decision",
// "action", "approval", "security", "system").
func (t EventType) Category() string {
	for i, r := range string(t) {
		if r == '.' {
			return string(t)[:i]
		}
	}
	return string(t)
}

// EventSeverity is the closed severity enum for audit events.
type EventSeverity string

const (
	EventSeverityInfo     EventSeverity = "info"
	EventSeverityWarning  EventSeverity = "warning"
	EventSeverityCritical EventSeverity = "critical"
)

// ActorType distinguishes automated actors from human analysts.
type ActorType string

const (
	ActorAgent   ActorType = "agent"
	ActorSystem  ActorType = "system"
	ActorAnalyst ActorType = "analyst"
)

// Event is one append-only audit record, per spec.md §6.
type Event struct {
	ID              string         `json:"id"`
	TenantID        string         `json:"tenant_id"`
	Timestamp       time.Time      `json:"timestamp"`
	Type            EventType      `json:"event_type"`
	Severity        EventSeverity  `json:"severity"`
	ActorType       ActorType      `json:"actor_type"`
	ActorID         string         `json:"actor_id"`
	SourceService   string         `json:"source_service"`
	InvestigationID string         `json:"investigation_id,omitempty"`
	AlertID         string         `json:"alert_id,omitempty"`
	EntityIDs       []string       `json:"entity_ids,omitempty"`
	Context         map[string]any `json:"context,omitempty"`
	Decision        map[string]any `json:"decision,omitempty"`
	Outcome         map[string]any `json:"outcome,omitempty"`
}

// New builds an Event with a fresh id and the given timestamp. Timestamp is
// a parameter (not time.Now()) so callers control it explicitly and tests
// stay deterministic.
func New(tenantID string, t EventType, severity EventSeverity, actorType ActorType, actorID, sourceService string, ts time.Time) Event {
	return Event{
		ID:            uuid.NewString(),
		TenantID:      tenantID,
		Timestamp:     ts.UTC(),
		Type:          t,
		Severity:      severity,
		ActorType:     actorType,
		ActorID:       actorID,
		SourceService: sourceService,
	}
}

// ISO8601 renders the event's timestamp with millisecond precision, UTC,
// trailing Z, exactly as spec.md §6 requires.
func (e Event) ISO8601() string {
	return e.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z")
}
