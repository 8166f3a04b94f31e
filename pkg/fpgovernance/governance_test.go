package fpgovernance_test

import (
	"context"
	"testing"
	"time"

	"github.com/soclabs/investigator/internal/apperrors"
	"github.com/soclabs/investigator/pkg/audit"
	"github.com/soclabs/investigator/pkg/contracts"
	"github.com/soclabs/investigator/pkg/fpgovernance"
)

type fakeReopener struct {
	byPattern map[string][]string
	reopened  []string
}

func (f *fakeReopener) FindByDecisionPatternID(ctx context.Context, patternID string) ([]string, error) {
	return f.byPattern[patternID], nil
}

func (f *fakeReopener) ReopenToParsing(ctx context.Context, investigationID string) error {
	f.reopened = append(f.reopened, investigationID)
	return nil
}

func TestGovernanceApproveRequiresTwoDistinctApprovers(t *testing.T) {
	rdb := newTestRedis(t)
	cache := fpgovernance.NewPatternCache(rdb)
	seedPattern(t, cache, contracts.FPPattern{ID: "p1", Status: contracts.PatternPendingReview})

	auditClient := audit.NewAuditClient(audit.NewMemoryStore(0), noopLogger())
	reopener := &fakeReopener{byPattern: map[string][]string{}}
	gov := fpgovernance.NewGovernance(cache, reopener, auditClient, nil)

	p, err := gov.Approve(context.Background(), "p1", "alice")
	if err != nil {
		t.Fatalf("first approval should succeed: %v", err)
	}
	if p.Status != contracts.PatternPendingReview {
		t.Errorf("expected status to remain pending_review after first approval, got %s", p.Status)
	}

	_, err = gov.Approve(context.Background(), "p1", "alice")
	if err == nil {
		t.Fatal("expected repeated approver to fail")
	}
	if !apperrors.IsType(err, apperrors.ErrorTypeGovernance) {
		t.Errorf("expected governance error type, got %v", apperrors.GetType(err))
	}

	p2, err := gov.Approve(context.Background(), "p1", "bob")
	if err != nil {
		t.Fatalf("second distinct approval should succeed: %v", err)
	}
	if p2.Status != contracts.PatternApproved {
		t.Errorf("expected status approved after second approval, got %s", p2.Status)
	}
	if p2.ExpiryDate == nil {
		t.Fatal("expected expiry_date to be set")
	}
}

func TestGovernanceCheckExpiry(t *testing.T) {
	rdb := newTestRedis(t)
	cache := fpgovernance.NewPatternCache(rdb)

	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)
	seedPattern(t, cache, contracts.FPPattern{ID: "expired-1", Status: contracts.PatternActive, ExpiryDate: &past})
	seedPattern(t, cache, contracts.FPPattern{ID: "fresh-1", Status: contracts.PatternActive, ExpiryDate: &future})
	seedPattern(t, cache, contracts.FPPattern{ID: "already-revoked", Status: contracts.PatternRevoked, ExpiryDate: &past})

	auditClient := audit.NewAuditClient(audit.NewMemoryStore(0), noopLogger())
	gov := fpgovernance.NewGovernance(cache, &fakeReopener{byPattern: map[string][]string{}}, auditClient, nil)

	expired := gov.CheckExpiry(context.Background(), time.Now())
	if len(expired) != 1 || expired[0] != "expired-1" {
		t.Errorf("expected only expired-1 to be reported, got %v", expired)
	}
}

func TestGovernanceRevokeReopensInvestigations(t *testing.T) {
	rdb := newTestRedis(t)
	cache := fpgovernance.NewPatternCache(rdb)
	seedPattern(t, cache, contracts.FPPattern{ID: "p1", Status: contracts.PatternActive})

	auditClient := audit.NewAuditClient(audit.NewMemoryStore(0), noopLogger())
	reopener := &fakeReopener{byPattern: map[string][]string{"p1": {"inv-1", "inv-2"}}}
	gov := fpgovernance.NewGovernance(cache, reopener, auditClient, nil)

	if err := gov.Revoke(context.Background(), "p1", "analyst-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(reopener.reopened) != 2 {
		t.Fatalf("expected 2 investigations reopened, got %d", len(reopener.reopened))
	}
}

func TestGovernanceReaffirmResetsExpiryAndReactivates(t *testing.T) {
	rdb := newTestRedis(t)
	cache := fpgovernance.NewPatternCache(rdb)
	past := time.Now().Add(-time.Hour)
	seedPattern(t, cache, contracts.FPPattern{ID: "p1", Status: contracts.PatternExpired, ExpiryDate: &past})

	auditClient := audit.NewAuditClient(audit.NewMemoryStore(0), noopLogger())
	gov := fpgovernance.NewGovernance(cache, &fakeReopener{byPattern: map[string][]string{}}, auditClient, nil)

	p, err := gov.Reaffirm(context.Background(), "p1", "alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Status != contracts.PatternActive {
		t.Errorf("expected reaffirm to reactivate expired pattern, got %s", p.Status)
	}
	if !p.ExpiryDate.After(time.Now()) {
		t.Error("expected expiry_date to be reset forward")
	}
}
