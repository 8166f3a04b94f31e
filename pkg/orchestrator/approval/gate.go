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

// Package approval implements the Investigation Orchestrator's
// AWAITING_HUMAN stage: a configurable deadline per tenant, a Slack
// notification to the analyst channel, and a sweep that times out
// investigations nobody acted on (spec.md §4.1 "Approval gate").
package approval

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/slack-go/slack"

	"github.com/soclabs/investigator/internal/apperrors"
	"github.com/soclabs/investigator/pkg/audit"
	"github.com/soclabs/investigator/pkg/contracts"
)

// DefaultDeadline is the 4-hour default of spec.md §4.1, overridable per
// tenant via TenantDeadlines.
const DefaultDeadline = 4 * time.Hour

const deadlineKeyPrefix = "approval_deadline:"

// Notifier posts a human-readable approval request. SlackNotifier is the
// production implementation; tests supply a stub.
type Notifier interface {
	Notify(ctx context.Context, inv contracts.Investigation, deadline time.Time) error
}

// SlackNotifier posts approval requests to a fixed channel via
// slack-go, the teacher pack's chat-ops dependency.
type SlackNotifier struct {
	client  *slack.Client
	channel string
}

// NewSlackNotifier builds a SlackNotifier posting to channel.
func NewSlackNotifier(client *slack.Client, channel string) *SlackNotifier {
	return &SlackNotifier{client: client, channel: channel}
}

// Notify implements Notifier.
func (n *SlackNotifier) Notify(ctx context.Context, inv contracts.Investigation, deadline time.Time) error {
	text := fmt.Sprintf("Investigation %s requires approval (classification=%s, confidence=%.2f, severity=%s) — deadline %s",
		inv.ID, inv.Classification, inv.Confidence, inv.Severity, deadline.UTC().Format(time.RFC3339))
	_, _, err := n.client.PostMessageContext(ctx, n.channel, slack.MsgOptionText(text, false))
	return err
}

// Gate implements orchestrator.ApprovalGate: it records a deadline in
// Redis keyed by investigation id and notifies an analyst channel.
// TenantDeadlines overrides DefaultDeadline per tenant id.
type Gate struct {
	rdb             *redis.Client
	notifier        Notifier
	audit           *audit.Client
	tenantDeadlines map[string]time.Duration
	now             func() time.Time
}

// NewGate builds a Gate. now defaults to time.Now.
func NewGate(rdb *redis.Client, notifier Notifier, auditClient *audit.Client, tenantDeadlines map[string]time.Duration, now func() time.Time) *Gate {
	if now == nil {
		now = time.Now
	}
	return &Gate{rdb: rdb, notifier: notifier, audit: auditClient, tenantDeadlines: tenantDeadlines, now: now}
}

func (g *Gate) deadlineFor(tenantID string) time.Duration {
	if d, ok := g.tenantDeadlines[tenantID]; ok {
		return d
	}
	return DefaultDeadline
}

// RequestApproval implements orchestrator.ApprovalGate.
func (g *Gate) RequestApproval(ctx context.Context, inv contracts.Investigation) (time.Time, error) {
	deadline := g.now().Add(g.deadlineFor(inv.TenantID))
	key := deadlineKeyPrefix + inv.ID
	ttl := time.Until(deadline) + time.Minute
	if err := g.rdb.Set(ctx, key, deadline.Format(time.RFC3339), ttl).Err(); err != nil {
		return time.Time{}, apperrors.Wrap(err, apperrors.ErrorTypeUnrecoverable, "record approval deadline")
	}
	if g.notifier != nil {
		if err := g.notifier.Notify(ctx, inv, deadline); err != nil {
			// A failed notification must not block the approval window
			// from opening; the deadline still stands.
			g.audit.Record(ctx, inv.TenantID, audit.EventSystemDegradation, audit.EventSeverityWarning, audit.ActorSystem, "approval_gate", "orchestrator", func(ev *audit.Event) {
				ev.InvestigationID = inv.ID
				ev.Context = map[string]any{"error": err.Error(), "stage": "approval_notify"}
			})
		}
	}
	return deadline, nil
}

// Expired reports whether the recorded deadline for investigationID has
// passed. A missing key (never requested, or already resolved) reports
// false.
func (g *Gate) Expired(ctx context.Context, investigationID string) (bool, error) {
	val, err := g.rdb.Get(ctx, deadlineKeyPrefix+investigationID).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, apperrors.Wrap(err, apperrors.ErrorTypeUnrecoverable, "read approval deadline")
	}
	deadline, err := time.Parse(time.RFC3339, val)
	if err != nil {
		return false, apperrors.Wrap(err, apperrors.ErrorTypeUnrecoverable, "parse approval deadline")
	}
	return g.now().After(deadline), nil
}

// Clear removes the deadline record once an investigation has been
// resolved (approved, rejected, or timed out).
func (g *Gate) Clear(ctx context.Context, investigationID string) error {
	return g.rdb.Del(ctx, deadlineKeyPrefix+investigationID).Err()
}
