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

// Package persistence implements the Investigation Orchestrator's
// durable store: a Postgres-backed, upsert-per-transition
// InvestigationStore, and the InvestigationReopener port consumed by
// pkg/fpgovernance when a pattern is revoked.
package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"

	"github.com/soclabs/investigator/internal/apperrors"
	"github.com/soclabs/investigator/pkg/contracts"
)

// PostgresStore implements orchestrator.InvestigationStore on top of a
// single "investigations" table, keyed by id with a unique
// (tenant_id, alert_id) index for the idempotency contract of spec.md
// §4.1. The full investigation (entities, enrichment lists, decision
// chain) is stored as one JSONB snapshot column: it is written and read
// atomically in its entirety, which is exactly the "atomic snapshot plus
// decision-entry upsert" crash-safety model the spec calls for — there is
// no way to lose a decision-chain append independent of its state
// transition when both live in the same column and the same UPDATE.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore builds a PostgresStore over pool. Schema migration is
// out of scope for this module (the teacher's pressly/goose tooling owns
// it, wired at cmd/orchestrator's composition root).
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

type investigationRow struct {
	ID       string `json:"id"`
	AlertID  string `json:"alert_id"`
	TenantID string `json:"tenant_id"`
	Snapshot json.RawMessage
}

// StartOrResume implements orchestrator.InvestigationStore.
func (s *PostgresStore) StartOrResume(ctx context.Context, alert contracts.Alert) (*contracts.Investigation, bool, error) {
	var snapshot json.RawMessage
	err := s.pool.QueryRow(ctx,
		`SELECT snapshot FROM investigations WHERE tenant_id = $1 AND alert_id = $2`,
		alert.TenantID, alert.ID,
	).Scan(&snapshot)

	if err == nil {
		var inv contracts.Investigation
		if jsonErr := json.Unmarshal(snapshot, &inv); jsonErr != nil {
			return nil, false, apperrors.Wrap(jsonErr, apperrors.ErrorTypeUnrecoverable, "decode resumed investigation")
		}
		return &inv, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, apperrors.Wrap(err, apperrors.ErrorTypeUnrecoverable, "query investigation")
	}

	now := time.Now().UTC()
	inv := &contracts.Investigation{
		ID:        ulid.Make().String(),
		AlertID:   alert.ID,
		TenantID:  alert.TenantID,
		State:     contracts.StateReceived,
		Severity:  alert.Severity,
		RiskState: contracts.RiskNoBaseline,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.insert(ctx, inv); err != nil {
		return nil, false, err
	}
	return inv, false, nil
}

func (s *PostgresStore) insert(ctx context.Context, inv *contracts.Investigation) error {
	payload, err := json.Marshal(inv)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeUnrecoverable, "encode investigation")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO investigations (id, alert_id, tenant_id, state, snapshot, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		inv.ID, inv.AlertID, inv.TenantID, string(inv.State), payload, inv.CreatedAt, inv.UpdatedAt,
	)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeUnrecoverable, "insert investigation")
	}
	return nil
}

// ListByState returns the ids of every investigation currently in state.
// Used by the approval package's deadline sweep to find AWAITING_HUMAN
// investigations without scanning the full table in application code.
func (s *PostgresStore) ListByState(ctx context.Context, state contracts.State) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM investigations WHERE state = $1`, string(state))
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeUnrecoverable, "list investigations by state")
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrorTypeUnrecoverable, "scan investigation id")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Get implements orchestrator.InvestigationStore.
func (s *PostgresStore) Get(ctx context.Context, investigationID string) (*contracts.Investigation, error) {
	var snapshot json.RawMessage
	err := s.pool.QueryRow(ctx,
		`SELECT snapshot FROM investigations WHERE id = $1`, investigationID,
	).Scan(&snapshot)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.New(apperrors.ErrorTypeValidation, "investigation not found").WithDetailsf("id=%s", investigationID)
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeUnrecoverable, "query investigation")
	}
	var inv contracts.Investigation
	if err := json.Unmarshal(snapshot, &inv); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeUnrecoverable, "decode investigation")
	}
	return &inv, nil
}

// Save implements orchestrator.InvestigationStore: one atomic UPDATE of
// the row StartOrResume inserted, writing the full snapshot, the
// denormalised state column used by ListByState, and updated_at. A row
// that does not exist is not created.
func (s *PostgresStore) Save(ctx context.Context, inv *contracts.Investigation) error {
	payload, err := json.Marshal(inv)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeUnrecoverable, "encode investigation")
	}
	_, err = s.pool.Exec(ctx,
		`UPDATE investigations SET state = $2, snapshot = $3, updated_at = $4 WHERE id = $1`,
		inv.ID, string(inv.State), payload, inv.UpdatedAt,
	)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeUnrecoverable, "save investigation")
	}
	return nil
}

// ReopenerStore implements fpgovernance.InvestigationReopener (the narrow
// port consumed by pkg/fpgovernance on pattern revocation) over the same
// table, without importing pkg/orchestrator — only contracts and pgx.
type ReopenerStore struct {
	pool *pgxpool.Pool
}

// NewReopenerStore builds a ReopenerStore over pool.
func NewReopenerStore(pool *pgxpool.Pool) *ReopenerStore {
	return &ReopenerStore{pool: pool}
}

// FindByDecisionPatternID returns the ids of every investigation whose
// decision chain records a short-circuit against the given FP pattern id.
// It relies on Postgres's JSONB containment operator rather than scanning
// every row in Go, since the decision chain is stored as an opaque JSONB
// array.
func (s *ReopenerStore) FindByDecisionPatternID(ctx context.Context, patternID string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id FROM investigations WHERE snapshot @> jsonb_build_object(
			'decision_chain', jsonb_build_array(jsonb_build_object('detail', jsonb_build_object('pattern_id', $1::text)))
		)`, patternID,
	)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeUnrecoverable, "query investigations by pattern")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrorTypeUnrecoverable, "scan investigation id")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ReopenToParsing resets a CLOSED(false_positive) investigation back to
// PARSING so it re-runs enrichment and reasoning under the
// post-revocation pattern set (spec.md §4.3 "Rollback on revoke").
func (s *ReopenerStore) ReopenToParsing(ctx context.Context, investigationID string) error {
	var snapshot json.RawMessage
	err := s.pool.QueryRow(ctx, `SELECT snapshot FROM investigations WHERE id = $1`, investigationID).Scan(&snapshot)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeUnrecoverable, "load investigation to reopen")
	}
	var inv contracts.Investigation
	if err := json.Unmarshal(snapshot, &inv); err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeUnrecoverable, "decode investigation to reopen")
	}

	now := time.Now().UTC()
	inv.State = contracts.StateParsing
	inv.AppendDecision(contracts.DecisionEntry{
		Agent: "fp_governance", Action: "reopened", Timestamp: now,
		Detail: map[string]any{"reason": "fp_pattern_revoked"},
	})

	payload, err := json.Marshal(inv)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeUnrecoverable, "encode reopened investigation")
	}
	_, err = s.pool.Exec(ctx,
		`UPDATE investigations SET state = $2, snapshot = $3, updated_at = $4 WHERE id = $1`,
		investigationID, string(inv.State), payload, now,
	)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeUnrecoverable, "save reopened investigation")
	}
	return nil
}
