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

package persistence

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/soclabs/investigator/internal/apperrors"
	"github.com/soclabs/investigator/pkg/contracts"
)

// MemoryStore is an in-process orchestrator.InvestigationStore used by
// tests; cmd/orchestrator uses PostgresStore.
type MemoryStore struct {
	mu    sync.Mutex
	byID  map[string]*contracts.Investigation
	byKey map[[2]string]string // (tenant_id, alert_id) -> investigation id
}

// NewMemoryStore builds an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: map[string]*contracts.Investigation{}, byKey: map[[2]string]string{}}
}

// StartOrResume implements orchestrator.InvestigationStore.
func (s *MemoryStore) StartOrResume(_ context.Context, alert contracts.Alert) (*contracts.Investigation, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := [2]string{alert.TenantID, alert.ID}
	if id, ok := s.byKey[key]; ok {
		existing := *s.byID[id]
		return &existing, true, nil
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
	s.byKey[key] = inv.ID
	s.byID[inv.ID] = inv
	cp := *inv
	return &cp, false, nil
}

// Get implements orchestrator.InvestigationStore.
func (s *MemoryStore) Get(_ context.Context, investigationID string) (*contracts.Investigation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.byID[investigationID]
	if !ok {
		return nil, apperrors.New(apperrors.ErrorTypeValidation, "investigation not found").WithDetailsf("id=%s", investigationID)
	}
	cp := *inv
	return &cp, nil
}

// Save implements orchestrator.InvestigationStore.
func (s *MemoryStore) Save(_ context.Context, inv *contracts.Investigation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *inv
	s.byID[inv.ID] = &cp
	return nil
}

// ListByState implements approval.PendingStore.
func (s *MemoryStore) ListByState(_ context.Context, state contracts.State) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, inv := range s.byID {
		if inv.State == state {
			ids = append(ids, id)
		}
	}
	return ids, nil
}
