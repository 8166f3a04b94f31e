package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/soclabs/investigator/internal/apperrors"
	"github.com/soclabs/investigator/pkg/contracts"
)

// SpendLedger tracks monthly cumulative spend per tenant and enforces the
// hard cap / soft alert of spec.md §4.2 step 1 and §4.2 "Configuration".
// An in-memory implementation is provided here; a durable backing store is
// expected to wrap or replace it in production (the interface is kept
// narrow enough that either works).
type SpendLedger interface {
	// MonthlySpend returns the tenant's cumulative spend for the month
	// containing at.
	MonthlySpend(ctx context.Context, tenantID string, at time.Time) (float64, error)
	// Record appends a spend record.
	Record(ctx context.Context, record contracts.SpendRecord) error
	// SoftAlertFired reports whether the one-shot soft alert has already
	// fired for the tenant's current month.
	SoftAlertFired(ctx context.Context, tenantID string, at time.Time) (bool, error)
	// MarkSoftAlertFired records that the soft alert fired.
	MarkSoftAlertFired(ctx context.Context, tenantID string, at time.Time) error
}

// MemorySpendLedger is an in-process SpendLedger, sufficient for a single
// gateway instance or for tests.
type MemorySpendLedger struct {
	mu         sync.Mutex
	records    []contracts.SpendRecord
	softAlerts map[string]struct{} // key: tenantID + month bucket
}

// NewMemorySpendLedger returns an empty ledger.
func NewMemorySpendLedger() *MemorySpendLedger {
	return &MemorySpendLedger{softAlerts: make(map[string]struct{})}
}

func monthBucket(tenantID string, at time.Time) string {
	return tenantID + "|" + at.UTC().Format("2006-01")
}

func (l *MemorySpendLedger) MonthlySpend(ctx context.Context, tenantID string, at time.Time) (float64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	bucket := at.UTC().Format("2006-01")
	var total float64
	for _, r := range l.records {
		if r.TenantID == tenantID && r.Timestamp.UTC().Format("2006-01") == bucket {
			total += r.CostUSD
		}
	}
	return total, nil
}

func (l *MemorySpendLedger) Record(ctx context.Context, record contracts.SpendRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, record)
	return nil
}

func (l *MemorySpendLedger) SoftAlertFired(ctx context.Context, tenantID string, at time.Time) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.softAlerts[monthBucket(tenantID, at)]
	return ok, nil
}

func (l *MemorySpendLedger) MarkSoftAlertFired(ctx context.Context, tenantID string, at time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.softAlerts[monthBucket(tenantID, at)] = struct{}{}
	return nil
}

// BudgetGate enforces the hard cap and fires the one-shot soft alert.
type BudgetGate struct {
	ledger       SpendLedger
	hardCapUSD   float64
	softAlertUSD float64
}

// NewBudgetGate builds a BudgetGate over ledger with the given monthly caps.
func NewBudgetGate(ledger SpendLedger, hardCapUSD, softAlertUSD float64) *BudgetGate {
	return &BudgetGate{ledger: ledger, hardCapUSD: hardCapUSD, softAlertUSD: softAlertUSD}
}

// BudgetCheck is the result of Check. SoftAlertCrossed reports whether
// crossing the soft threshold for this request should emit a one-shot alert
// (the caller is responsible for marking it fired via the ledger once
// emitted).
type BudgetCheck struct {
	Refused         bool
	SoftAlertCrossed bool
	CurrentSpend    float64
}

// Check refuses the request if monthly cumulative spend is at or above the
// hard cap, and reports whether the soft threshold was just crossed and has
// not yet alerted this month (spec.md §4.2 step 1).
func (g *BudgetGate) Check(ctx context.Context, tenantID string, at time.Time) (BudgetCheck, error) {
	spend, err := g.ledger.MonthlySpend(ctx, tenantID, at)
	if err != nil {
		return BudgetCheck{}, apperrors.Wrap(err, apperrors.ErrorTypeTransientProvider, "read monthly spend")
	}

	if spend >= g.hardCapUSD {
		return BudgetCheck{Refused: true, CurrentSpend: spend}, apperrors.New(apperrors.ErrorTypeSpendExceeded, "monthly hard cap reached").WithDetailsf("spend=%.2f cap=%.2f", spend, g.hardCapUSD)
	}

	crossed := false
	if spend >= g.softAlertUSD {
		fired, err := g.ledger.SoftAlertFired(ctx, tenantID, at)
		if err != nil {
			return BudgetCheck{}, apperrors.Wrap(err, apperrors.ErrorTypeTransientProvider, "read soft alert state")
		}
		if !fired {
			crossed = true
		}
	}

	return BudgetCheck{Refused: false, SoftAlertCrossed: crossed, CurrentSpend: spend}, nil
}

// RecordSpend appends a spend record accounted by {tenant, task_type,
// model} (spec.md §4.2 step 10).
func (g *BudgetGate) RecordSpend(ctx context.Context, record contracts.SpendRecord) error {
	return g.ledger.Record(ctx, record)
}
