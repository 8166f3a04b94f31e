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

package stores

import (
	"context"
	"encoding/json"
	"time"

	"github.com/soclabs/investigator/pkg/contracts"
)

// dispatchBus is the narrow publish port a BusActionDispatcher needs; it
// is satisfied by internal/bus.RedisBus and by audit.Bus implementations,
// so the action-dispatch topic of spec.md §6 can share the same transport
// as the audit-events topic without this package importing either
// concrete bus type.
type dispatchBus interface {
	Publish(ctx context.Context, key string, payload []byte) error
}

// actionDispatchEvent is the wire shape spec.md §6 defines for the
// action-dispatch topic: "per executed Tier-0/1 action and per approved
// Tier-2 action: {investigation_id, action, target, tier, status,
// timestamp}".
type actionDispatchEvent struct {
	InvestigationID string               `json:"investigation_id"`
	Action          string               `json:"action"`
	Target          string               `json:"target"`
	Tier            contracts.ActionTier `json:"tier"`
	Status          string               `json:"status"`
	Timestamp       string               `json:"timestamp"`
}

// BusActionDispatcher implements agents.ActionDispatcher by publishing to
// the action-dispatch topic. Execution against the actual EDR/firewall/
// IAM target is an external collaborator per spec.md §1 Non-goals; this
// type only announces that dispatch happened, which is everything the
// core is responsible for.
type BusActionDispatcher struct {
	bus dispatchBus
	now func() time.Time
}

// NewBusActionDispatcher builds a BusActionDispatcher over bus. now
// defaults to time.Now when nil, overridable for deterministic tests.
func NewBusActionDispatcher(bus dispatchBus, now func() time.Time) *BusActionDispatcher {
	if now == nil {
		now = time.Now
	}
	return &BusActionDispatcher{bus: bus, now: now}
}

// Dispatch implements agents.ActionDispatcher.
func (d *BusActionDispatcher) Dispatch(ctx context.Context, investigationID string, action contracts.RecommendedAction) error {
	payload, err := json.Marshal(actionDispatchEvent{
		InvestigationID: investigationID,
		Action:          action.Action,
		Target:          action.Target,
		Tier:            action.Tier,
		Status:          "dispatched",
		Timestamp:       d.now().UTC().Format("2006-01-02T15:04:05.000Z"),
	})
	if err != nil {
		return err
	}
	return d.bus.Publish(ctx, investigationID, payload)
}
