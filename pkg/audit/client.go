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

package audit

import (
	"context"
	"time"

	"github.com/go-logr/logr"
)

// Client is the producer-side API the rest of the repository calls into.
// It never returns an error to the caller: spec.md §6 requires that audit
// emission be fire-and-forget, with producer failures logged but never
// raised, so a downstream outage can never become a reason an investigation,
// a gateway call, or a governance decision fails.
type Client struct {
	store Store
	log   logr.Logger
}

// NewAuditClient wraps store behind the fire-and-forget Emit API.
func NewAuditClient(store Store, log logr.Logger) *Client {
	return &Client{store: store, log: log}
}

// Emit persists event, rejecting unknown event types per the closed
// taxonomy (spec.md §6, "Unknown event types are rejected by the
// producer"). Rejections and store failures are logged at error level and
// otherwise swallowed.
func (c *Client) Emit(ctx context.Context, event Event) {
	if !event.Type.Valid() {
		c.log.Error(nil, "audit: rejecting unknown event type", "event_type", event.Type, "tenant_id", event.TenantID)
		return
	}
	if err := c.store.StoreAudit(ctx, event); err != nil {
		c.log.Error(err, "audit: store failed", "event_id", event.ID, "event_type", event.Type, "tenant_id", event.TenantID)
	}
}

// Record is a convenience wrapper over Emit that builds the Event for the
// caller, timestamping it at call time.
func (c *Client) Record(ctx context.Context, tenantID string, t EventType, severity EventSeverity, actorType ActorType, actorID, sourceService string, mutate func(*Event)) {
	ev := New(tenantID, t, severity, actorType, actorID, sourceService, time.Now())
	if mutate != nil {
		mutate(&ev)
	}
	c.Emit(ctx, ev)
}

// Close releases the underlying store.
func (c *Client) Close() error {
	return c.store.Close()
}
