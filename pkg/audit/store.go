package audit

import "context"

// Store is the port this package consumes to durably persist audit events.
// Concrete storage (a message bus, a database) is an external collaborator
// per spec.md §1 — this package only depends on this narrow interface.
type Store interface {
	// StoreAudit persists a single event. It must be safe to call
	// concurrently.
	StoreAudit(ctx context.Context, event Event) error
	// Flush forces any buffered events to be persisted before returning.
	Flush(ctx context.Context) error
	// Close releases any resources held by the store.
	Close() error
}

// Bus is the narrower port used when the backing store is a pure
// publish-only message bus (e.g. a pubsub topic) rather than a queryable
// store. A Bus can be adapted into a Store via BusStore.
type Bus interface {
	Publish(ctx context.Context, key string, payload []byte) error
}
