package fpgovernance

import (
	"context"
	"time"

	"github.com/soclabs/investigator/internal/apperrors"
	"github.com/soclabs/investigator/pkg/audit"
	"github.com/soclabs/investigator/pkg/contracts"
)

// InvestigationReopener is the narrow port Revoke/RollbackPattern use to
// re-open investigations auto-closed by a now-revoked pattern, without this
// package depending on the orchestrator package directly.
type InvestigationReopener interface {
	// FindByDecisionPatternID returns investigation ids whose decision
	// chain contains {action: short_circuit, detail.pattern_id}.
	FindByDecisionPatternID(ctx context.Context, patternID string) ([]string, error)
	// ReopenToParsing resets the investigation's state to PARSING.
	ReopenToParsing(ctx context.Context, investigationID string) error
}

// Governance implements the lifecycle operations of spec.md §4.3
// "Governance operations".
type Governance struct {
	cache     *PatternCache
	reopener  InvestigationReopener
	audit     *audit.Client
	now       func() time.Time
}

// NewGovernance builds a Governance engine. now defaults to time.Now when
// nil, overridable for deterministic tests.
func NewGovernance(cache *PatternCache, reopener InvestigationReopener, auditClient *audit.Client, now func() time.Time) *Governance {
	if now == nil {
		now = time.Now
	}
	return &Governance{cache: cache, reopener: reopener, audit: auditClient, now: now}
}

// Approve implements the two-person approval rule: the first call records
// approver_1; a second call by a distinct approver records approver_2,
// stamps approval_date, sets expiry_date = now + 90 days, and moves status
// to approved. A repeated approver fails with a governance error.
func (g *Governance) Approve(ctx context.Context, patternID, approver string) (*contracts.FPPattern, error) {
	p, err := g.find(patternID)
	if err != nil {
		return nil, err
	}

	switch {
	case p.Approver1 == "":
		p.Approver1 = approver
	case p.Approver1 == approver:
		return nil, apperrors.New(apperrors.ErrorTypeGovernance, "the same approver cannot provide both approvals").WithDetailsf("pattern_id=%s approver=%s", patternID, approver)
	case p.Approver2 == "":
		p.Approver2 = approver
		now := g.now()
		expiry := now.Add(contracts.PatternApprovalWindow)
		p.ApprovalDate = &now
		p.ExpiryDate = &expiry
		p.Status = contracts.PatternApproved
	default:
		return nil, apperrors.New(apperrors.ErrorTypeGovernance, "pattern already has two approvers").WithDetailsf("pattern_id=%s", patternID)
	}
	p.UpdatedAt = g.now()

	if err := g.cache.Put(ctx, p); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeUnrecoverable, "persist approval")
	}
	return &p, nil
}

// CheckExpiry returns the ids of patterns whose expiry_date has passed and
// whose status is not already expired/revoked/deprecated, per spec.md
// §4.3.
func (g *Governance) CheckExpiry(ctx context.Context, now time.Time) []string {
	var expired []string
	for _, p := range g.cache.Snapshot() {
		if p.Status == contracts.PatternExpired || p.Status == contracts.PatternRevoked || p.Status == contracts.PatternDeprecated {
			continue
		}
		if p.ExpiryDate != nil && p.ExpiryDate.Before(now) {
			expired = append(expired, p.ID)
		}
	}
	return expired
}

// Reaffirm stamps reaffirmed_date/by and resets expiry_date forward 90
// days, re-activating an expired pattern.
func (g *Governance) Reaffirm(ctx context.Context, patternID, approver string) (*contracts.FPPattern, error) {
	p, err := g.find(patternID)
	if err != nil {
		return nil, err
	}

	now := g.now()
	p.ReaffirmedDate = &now
	p.ReaffirmedBy = approver
	expiry := now.Add(contracts.PatternApprovalWindow)
	p.ExpiryDate = &expiry
	if p.Status == contracts.PatternExpired {
		p.Status = contracts.PatternActive
	}
	p.UpdatedAt = now

	if err := g.cache.Put(ctx, p); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeUnrecoverable, "persist reaffirmation")
	}
	return &p, nil
}

// Revoke marks a pattern revoked and reopens every investigation it
// auto-closed, emitting one decision.state_changed audit event (context
// reason "pattern_revoked") per reopened investigation.
func (g *Governance) Revoke(ctx context.Context, patternID, approver string) error {
	p, err := g.find(patternID)
	if err != nil {
		return err
	}
	p.Status = contracts.PatternRevoked
	p.UpdatedAt = g.now()
	if err := g.cache.Put(ctx, p); err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeUnrecoverable, "persist revocation")
	}
	return g.RollbackPattern(ctx, patternID, approver)
}

// RollbackPattern re-opens every investigation whose decision chain
// contains {action: short_circuit, detail.pattern_id}, resetting each to
// PARSING.
func (g *Governance) RollbackPattern(ctx context.Context, patternID, actor string) error {
	investigationIDs, err := g.reopener.FindByDecisionPatternID(ctx, patternID)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeUnrecoverable, "find investigations for pattern rollback")
	}
	for _, id := range investigationIDs {
		if err := g.reopener.ReopenToParsing(ctx, id); err != nil {
			return apperrors.Wrapf(err, apperrors.ErrorTypeUnrecoverable, "reopen investigation %s", id)
		}
		g.audit.Record(ctx, "", audit.EventDecisionStateChanged, audit.EventSeverityWarning, audit.ActorAnalyst, actor, "fpgovernance", func(e *audit.Event) {
			e.InvestigationID = id
			e.Context = map[string]any{"pattern_id": patternID, "reason": "pattern_revoked"}
		})
	}
	return nil
}

func (g *Governance) find(patternID string) (contracts.FPPattern, error) {
	for _, p := range g.cache.Snapshot() {
		if p.ID == patternID {
			return p, nil
		}
	}
	return contracts.FPPattern{}, apperrors.New(apperrors.ErrorTypeGovernance, "pattern not found").WithDetailsf("pattern_id=%s", patternID)
}
