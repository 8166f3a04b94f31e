package audit_test

import (
	"context"
	"testing"
	"time"

	"github.com/soclabs/investigator/pkg/audit"
)

func TestMemoryStoreAppendsEvents(t *testing.T) {
	store := audit.NewMemoryStore(0)
	ev := audit.New("tenant-1", audit.EventDecisionRouting, audit.EventSeverityInfo, audit.ActorAgent, "router", "orchestrator", time.Now())

	if err := store.StoreAudit(context.Background(), ev); err != nil {
		t.Fatalf("StoreAudit returned error: %v", err)
	}
	if got := store.Events(); len(got) != 1 {
		t.Fatalf("expected 1 event, got %d", len(got))
	}
}

func TestMemoryStoreEvictsOldestWhenOverLimit(t *testing.T) {
	store := audit.NewMemoryStore(2)
	for i := 0; i < 3; i++ {
		ev := audit.New("tenant-1", audit.EventDecisionRouting, audit.EventSeverityInfo, audit.ActorAgent, "router", "orchestrator", time.Now())
		_ = store.StoreAudit(context.Background(), ev)
	}

	got := store.Events()
	if len(got) != 2 {
		t.Fatalf("expected eviction to cap at 2 events, got %d", len(got))
	}
}

func TestMemoryStoreEventsReturnsSnapshotCopy(t *testing.T) {
	store := audit.NewMemoryStore(0)
	ev := audit.New("tenant-1", audit.EventDecisionRouting, audit.EventSeverityInfo, audit.ActorAgent, "router", "orchestrator", time.Now())
	_ = store.StoreAudit(context.Background(), ev)

	snapshot := store.Events()
	snapshot[0].TenantID = "mutated"

	if store.Events()[0].TenantID != "tenant-1" {
		t.Error("expected Events() to return an isolated copy, internal state was mutated")
	}
}

func TestBusStorePublishesJSONKeyedByTenant(t *testing.T) {
	bus := &fakeBus{}
	store := audit.NewBusStore(bus)
	ev := audit.New("tenant-7", audit.EventActionFPCreated, audit.EventSeverityInfo, audit.ActorAnalyst, "analyst-3", "governance", time.Now())

	if err := store.StoreAudit(context.Background(), ev); err != nil {
		t.Fatalf("StoreAudit returned error: %v", err)
	}
	if bus.lastKey != "tenant-7" {
		t.Errorf("expected publish key tenant-7, got %q", bus.lastKey)
	}
	if len(bus.lastPayload) == 0 {
		t.Error("expected non-empty JSON payload")
	}
}

type fakeBus struct {
	lastKey     string
	lastPayload []byte
}

func (b *fakeBus) Publish(ctx context.Context, key string, payload []byte) error {
	b.lastKey = key
	b.lastPayload = payload
	return nil
}
