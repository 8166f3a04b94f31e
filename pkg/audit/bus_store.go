package audit

import (
	"context"
	"encoding/json"
	"fmt"
)

// BusStore adapts a Bus (e.g. a cloud pubsub topic) into a Store, publishing
// the JSON-encoded event keyed by tenant id per spec.md §6 ("Key = tenant
// id"). It has no Flush-able buffer of its own — Flush is a no-op — because
// the bus client is assumed to handle its own batching.
type BusStore struct {
	bus Bus
}

// NewBusStore wraps bus as a Store.
func NewBusStore(bus Bus) *BusStore {
	return &BusStore{bus: bus}
}

func (s *BusStore) StoreAudit(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("audit: marshal event %s: %w", event.ID, err)
	}
	return s.bus.Publish(ctx, event.TenantID, payload)
}

func (s *BusStore) Flush(ctx context.Context) error { return nil }

func (s *BusStore) Close() error { return nil }
