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

	"github.com/soclabs/investigator/pkg/contracts"
	"github.com/soclabs/investigator/pkg/orchestrator"
)

// BehaviouralStore is the read-only behavioural-baseline lookup port
// (spec.md §4.1 "Behavioural/exposure/taxonomy-correlation stores:
// read-only to the core").
type BehaviouralStore interface {
	Lookup(ctx context.Context, tenantID string, entities []contracts.Entity) ([]contracts.BehaviouralContext, error)
}

// BehaviouralAgent is one of the three concurrent enrichment agents.
type BehaviouralAgent struct {
	store BehaviouralStore
}

// NewBehaviouralAgent builds a BehaviouralAgent over store.
func NewBehaviouralAgent(store BehaviouralStore) *BehaviouralAgent {
	return &BehaviouralAgent{store: store}
}

// Name implements orchestrator.EnrichmentAgent.
func (a *BehaviouralAgent) Name() string { return "behavioural_agent" }

// Enrich implements orchestrator.EnrichmentAgent.
func (a *BehaviouralAgent) Enrich(ctx context.Context, snapshot contracts.Investigation) (orchestrator.EnrichmentDelta, error) {
	ctxs, err := a.store.Lookup(ctx, snapshot.TenantID, snapshot.Entities.All())
	if err != nil {
		return orchestrator.EnrichmentDelta{}, err
	}
	return orchestrator.EnrichmentDelta{Behavioural: ctxs}, nil
}

// ExposureStore is the read-only exposure-correlation lookup port.
type ExposureStore interface {
	Correlate(ctx context.Context, tenantID string, entities []contracts.Entity) ([]contracts.ExposureCorrelation, error)
}

// ExposureAgent is one of the three concurrent enrichment agents.
type ExposureAgent struct {
	store ExposureStore
}

// NewExposureAgent builds an ExposureAgent over store.
func NewExposureAgent(store ExposureStore) *ExposureAgent {
	return &ExposureAgent{store: store}
}

// Name implements orchestrator.EnrichmentAgent.
func (a *ExposureAgent) Name() string { return "exposure_agent" }

// Enrich implements orchestrator.EnrichmentAgent.
func (a *ExposureAgent) Enrich(ctx context.Context, snapshot contracts.Investigation) (orchestrator.EnrichmentDelta, error) {
	correlations, err := a.store.Correlate(ctx, snapshot.TenantID, snapshot.Entities.All())
	if err != nil {
		return orchestrator.EnrichmentDelta{}, err
	}
	return orchestrator.EnrichmentDelta{Exposure: correlations}, nil
}

// AdversarialMLStore is the read-only trust-aware detection lookup port
// (spec.md §4.1 "Trust constraint (adversarial-ML)").
type AdversarialMLStore interface {
	Detect(ctx context.Context, tenantID string, entities []contracts.Entity) ([]contracts.AdversarialMLDetection, error)
}

// AdversarialMLAgent is one of the three concurrent enrichment agents.
type AdversarialMLAgent struct {
	store AdversarialMLStore
}

// NewAdversarialMLAgent builds an AdversarialMLAgent over store.
func NewAdversarialMLAgent(store AdversarialMLStore) *AdversarialMLAgent {
	return &AdversarialMLAgent{store: store}
}

// Name implements orchestrator.EnrichmentAgent.
func (a *AdversarialMLAgent) Name() string { return "adversarial_ml_agent" }

// Enrich implements orchestrator.EnrichmentAgent.
func (a *AdversarialMLAgent) Enrich(ctx context.Context, snapshot contracts.Investigation) (orchestrator.EnrichmentDelta, error) {
	dets, err := a.store.Detect(ctx, snapshot.TenantID, snapshot.Entities.All())
	if err != nil {
		return orchestrator.EnrichmentDelta{}, err
	}
	return orchestrator.EnrichmentDelta{AdversarialML: dets}, nil
}
