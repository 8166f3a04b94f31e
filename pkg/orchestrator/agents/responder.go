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
	"fmt"
	"sort"

	"github.com/soclabs/investigator/pkg/contracts"
)

// PlaybookStore is the read-only playbook-candidate lookup port.
type PlaybookStore interface {
	Match(ctx context.Context, tenantID, classification string, techniques []string) ([]contracts.PlaybookMatch, error)
}

// ActionDispatcher executes one recommended action against its target
// system (EDR isolation, firewall, IAM, ticketing — all out of scope for
// this module, consumed only as a port).
type ActionDispatcher interface {
	Dispatch(ctx context.Context, investigationID string, action contracts.RecommendedAction) error
}

// PlaybookResponder implements orchestrator.Responder. Dispatch is
// idempotent per (investigationID, action key): it skips an action whose
// action and target already have a "dispatched" entry in the
// investigation's decision chain. That check covers re-dispatch on resume
// and, because the Engine's stepResponding appends that entry after each
// dispatch, the same action appearing twice in one reasoning result.
type PlaybookResponder struct {
	playbooks  PlaybookStore
	dispatcher ActionDispatcher
}

// NewPlaybookResponder builds a PlaybookResponder.
func NewPlaybookResponder(playbooks PlaybookStore, dispatcher ActionDispatcher) *PlaybookResponder {
	return &PlaybookResponder{playbooks: playbooks, dispatcher: dispatcher}
}

// MatchPlaybooks implements orchestrator.Responder.
func (r *PlaybookResponder) MatchPlaybooks(ctx context.Context, inv contracts.Investigation) ([]contracts.PlaybookMatch, error) {
	if r.playbooks == nil {
		return nil, nil
	}
	matches, err := r.playbooks.Match(ctx, inv.TenantID, inv.Classification, attackTechniques(inv))
	if err != nil {
		return nil, err
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	return matches, nil
}

// Dispatch implements orchestrator.Responder.
func (r *PlaybookResponder) Dispatch(ctx context.Context, inv contracts.Investigation, action contracts.RecommendedAction) error {
	if r.dispatcher == nil {
		return nil
	}
	if alreadyDispatched(inv, action) {
		return nil
	}
	return r.dispatcher.Dispatch(ctx, inv.ID, action)
}

// alreadyDispatched consults the decision chain for a prior successful
// dispatch of this exact action, implementing spec.md §4.1's at-most-once
// side-effect guarantee on resume.
func alreadyDispatched(inv contracts.Investigation, action contracts.RecommendedAction) bool {
	key := actionKey(action)
	for _, d := range inv.DecisionChain {
		if d.Agent != "responder" || d.Action != "dispatched" {
			continue
		}
		if d.Detail != nil && fmt.Sprintf("%v:%v", d.Detail["action"], d.Detail["target"]) == key {
			return true
		}
	}
	return false
}

func actionKey(action contracts.RecommendedAction) string {
	return fmt.Sprintf("%s:%s", action.Action, action.Target)
}

// attackTechniques recovers the MITRE ATT&CK technique ids recorded by the
// reasoning agent's decision-chain entry, since Investigation itself does
// not carry a dedicated field for them (they are reasoning provenance, not
// durable investigation state).
func attackTechniques(inv contracts.Investigation) []string {
	for i := len(inv.DecisionChain) - 1; i >= 0; i-- {
		d := inv.DecisionChain[i]
		if d.Agent != "reasoner" || d.Action != "classified" || d.Detail == nil {
			continue
		}
		raw, ok := d.Detail["attack_techniques"].([]string)
		if !ok {
			return nil
		}
		return raw
	}
	return nil
}
