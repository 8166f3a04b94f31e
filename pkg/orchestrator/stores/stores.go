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

// Package stores implements the read-only correlation stores and the
// response-side ports consumed by pkg/orchestrator/agents: the
// behavioural-baseline, exposure-correlation, and adversarial-ML-detection
// lookups of spec.md §6 ("Behavioural/exposure/taxonomy-correlation
// stores: read-only to the core"), the playbook-match lookup, and the
// vector-similarity search backing agents.ReasoningAgent's
// similar-incident retrieval. All of them are thin query adapters over a
// shared Postgres pool populated by systems outside this module's scope;
// this package owns none of that data's lifecycle, only its read path.
package stores

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/soclabs/investigator/internal/sharederr"
	"github.com/soclabs/investigator/pkg/contracts"
	"github.com/soclabs/investigator/pkg/orchestrator/agents"
)

func entityValues(entities []contracts.Entity) []string {
	values := make([]string, len(entities))
	for i, e := range entities {
		values[i] = e.Value
	}
	return values
}

// BehaviouralStore implements agents.BehaviouralStore over the
// "behavioural_baselines" table.
type BehaviouralStore struct {
	pool *pgxpool.Pool
}

// NewBehaviouralStore builds a BehaviouralStore over pool.
func NewBehaviouralStore(pool *pgxpool.Pool) *BehaviouralStore {
	return &BehaviouralStore{pool: pool}
}

// Lookup implements agents.BehaviouralStore.
func (s *BehaviouralStore) Lookup(ctx context.Context, tenantID string, entities []contracts.Entity) ([]contracts.BehaviouralContext, error) {
	if len(entities) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT entity, baseline, deviation, description
		FROM behavioural_baselines
		WHERE tenant_id = $1 AND entity = ANY($2)`,
		tenantID, entityValues(entities))
	if err != nil {
		return nil, sharederr.FailedToWithDetails("query behavioural baselines", "behavioural_store", tenantID, err)
	}
	defer rows.Close()

	var out []contracts.BehaviouralContext
	for rows.Next() {
		var c contracts.BehaviouralContext
		if err := rows.Scan(&c.Entity, &c.Baseline, &c.Deviation, &c.Description); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ExposureStore implements agents.ExposureStore over the
// "exposure_correlations" table.
type ExposureStore struct {
	pool *pgxpool.Pool
}

// NewExposureStore builds an ExposureStore over pool.
func NewExposureStore(pool *pgxpool.Pool) *ExposureStore {
	return &ExposureStore{pool: pool}
}

// Correlate implements agents.ExposureStore.
func (s *ExposureStore) Correlate(ctx context.Context, tenantID string, entities []contracts.Entity) ([]contracts.ExposureCorrelation, error) {
	if len(entities) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT entity, exposure_id, description
		FROM exposure_correlations
		WHERE tenant_id = $1 AND entity = ANY($2)`,
		tenantID, entityValues(entities))
	if err != nil {
		return nil, sharederr.FailedToWithDetails("query exposure correlations", "exposure_store", tenantID, err)
	}
	defer rows.Close()

	var out []contracts.ExposureCorrelation
	for rows.Next() {
		var c contracts.ExposureCorrelation
		if err := rows.Scan(&c.Entity, &c.ExposureID, &c.Description); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// AdversarialMLStore implements agents.AdversarialMLStore over the
// "adversarial_ml_detections" table.
type AdversarialMLStore struct {
	pool *pgxpool.Pool
}

// NewAdversarialMLStore builds an AdversarialMLStore over pool.
func NewAdversarialMLStore(pool *pgxpool.Pool) *AdversarialMLStore {
	return &AdversarialMLStore{pool: pool}
}

// Detect implements agents.AdversarialMLStore.
func (s *AdversarialMLStore) Detect(ctx context.Context, tenantID string, entities []contracts.Entity) ([]contracts.AdversarialMLDetection, error) {
	if len(entities) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT technique, telemetry_trust_level, attestation_status, confidence
		FROM adversarial_ml_detections
		WHERE tenant_id = $1 AND entity = ANY($2)`,
		tenantID, entityValues(entities))
	if err != nil {
		return nil, sharederr.FailedToWithDetails("query adversarial ML detections", "adversarial_ml_store", tenantID, err)
	}
	defer rows.Close()

	var out []contracts.AdversarialMLDetection
	for rows.Next() {
		var d contracts.AdversarialMLDetection
		if err := rows.Scan(&d.Technique, &d.TelemetryTrust, &d.AttestationStatus, &d.Confidence); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// PlaybookStore implements agents.PlaybookStore over the "playbooks"
// table, matching on tenant, classification, and any MITRE technique
// overlap (a playbook with an empty technique list matches on
// classification alone).
type PlaybookStore struct {
	pool *pgxpool.Pool
}

// NewPlaybookStore builds a PlaybookStore over pool.
func NewPlaybookStore(pool *pgxpool.Pool) *PlaybookStore {
	return &PlaybookStore{pool: pool}
}

// Match implements agents.PlaybookStore.
func (s *PlaybookStore) Match(ctx context.Context, tenantID, classification string, techniques []string) ([]contracts.PlaybookMatch, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT playbook_id, score
		FROM playbooks
		WHERE tenant_id = $1
		  AND classification = $2
		  AND (techniques = '{}' OR techniques && $3)`,
		tenantID, classification, techniques)
	if err != nil {
		return nil, sharederr.FailedToWithDetails("query playbook matches", "playbook_store", tenantID, err)
	}
	defer rows.Close()

	var out []contracts.PlaybookMatch
	for rows.Next() {
		var m contracts.PlaybookMatch
		if err := rows.Scan(&m.PlaybookID, &m.Score); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// VectorIndex implements agents.VectorIndex over an "investigation
// embeddings" table whose rows carry a precomputed vector_similarity
// score; this adapter's job is only to project the raw row into the
// unscored agents.
// VectorCandidate shape that ReasoningAgent.similarIncidents then scores
// with internal/simscore's composite formula.
type VectorIndex struct {
	pool *pgxpool.Pool
}

// NewVectorIndex builds a VectorIndex over pool.
func NewVectorIndex(pool *pgxpool.Pool) *VectorIndex {
	return &VectorIndex{pool: pool}
}

// Search implements agents.VectorIndex. The query selects the tenant's
// rows whose entity_values array overlaps the given entity values and
// orders them by the stored vector_similarity column; it computes no
// embedding and uses no nearest-neighbour operator.
func (s *VectorIndex) Search(ctx context.Context, tenantID string, entities []contracts.Entity, limit int) ([]agents.VectorCandidate, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT investigation_id, classification, vector_similarity, entity_overlap,
		       tactic_overlap, age_days, rare_important
		FROM investigation_embeddings
		WHERE tenant_id = $1 AND entity_values && $2
		ORDER BY vector_similarity DESC
		LIMIT $3`,
		tenantID, entityValues(entities), limit)
	if err != nil {
		return nil, sharederr.FailedToWithDetails("query similar investigations", "vector_index", tenantID, err)
	}
	defer rows.Close()

	var out []agents.VectorCandidate
	for rows.Next() {
		var c agents.VectorCandidate
		if err := rows.Scan(&c.InvestigationID, &c.Classification, &c.VectorSimilarity,
			&c.EntityOverlap, &c.TacticOverlap, &c.AgeDays, &c.RareImportant); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
