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

package approval

import (
	"context"

	"github.com/go-logr/logr"

	"github.com/soclabs/investigator/internal/apperrors"
	"github.com/soclabs/investigator/pkg/audit"
	"github.com/soclabs/investigator/pkg/contracts"
)

// PendingStore is the narrow persistence port the Sweeper needs: find
// every AWAITING_HUMAN investigation and load/save it by id. The concrete
// implementation is persistence.PostgresStore.
type PendingStore interface {
	ListByState(ctx context.Context, state contracts.State) ([]string, error)
	Get(ctx context.Context, investigationID string) (*contracts.Investigation, error)
	Save(ctx context.Context, inv *contracts.Investigation) error
}

// Sweeper periodically closes AWAITING_HUMAN investigations whose
// deadline has passed with classification unchanged (spec.md §4.1
// "Approval gate", expiration branch).
type Sweeper struct {
	gate  *Gate
	store PendingStore
	audit *audit.Client
	log   logr.Logger
}

// NewSweeper builds a Sweeper.
func NewSweeper(gate *Gate, store PendingStore, auditClient *audit.Client, log logr.Logger) *Sweeper {
	return &Sweeper{gate: gate, store: store, audit: auditClient, log: log.WithName("approval_sweeper")}
}

// Sweep runs one pass, returning the number of investigations it timed
// out.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	ids, err := s.store.ListByState(ctx, contracts.StateAwaitingHuman)
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.ErrorTypeUnrecoverable, "list pending approvals")
	}

	timedOut := 0
	for _, id := range ids {
		expired, err := s.gate.Expired(ctx, id)
		if err != nil {
			s.log.Error(err, "failed to check approval deadline", "investigation_id", id)
			continue
		}
		if !expired {
			continue
		}
		if err := s.timeOut(ctx, id); err != nil {
			s.log.Error(err, "failed to time out investigation", "investigation_id", id)
			continue
		}
		timedOut++
	}
	return timedOut, nil
}

func (s *Sweeper) timeOut(ctx context.Context, investigationID string) error {
	inv, err := s.store.Get(ctx, investigationID)
	if err != nil {
		return err
	}
	if inv.State != contracts.StateAwaitingHuman {
		return nil // already resolved between ListByState and here
	}

	now := s.gate.now()
	if err := inv.AdvanceTo(contracts.StateClosed, contracts.DecisionEntry{
		Agent: "approval_gate", Action: "timed_out", Timestamp: now,
	}); err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeUnrecoverable, "advance to closed on timeout")
	}
	if err := s.store.Save(ctx, inv); err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeUnrecoverable, "persist timed-out investigation")
	}

	s.audit.Record(ctx, inv.TenantID, audit.EventApprovalTimedOut, audit.EventSeverityWarning, audit.ActorSystem, "approval_gate", "orchestrator", func(ev *audit.Event) {
		ev.InvestigationID = inv.ID
		ev.AlertID = inv.AlertID
	})
	return s.gate.Clear(ctx, investigationID)
}
