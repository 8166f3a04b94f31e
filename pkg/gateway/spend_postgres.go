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

package gateway

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/soclabs/investigator/pkg/contracts"
)

// PostgresSpendLedger implements SpendLedger over a "spend_records" table,
// the durable backing store MemorySpendLedger's doc comment anticipates
// for production: the BudgetGate's monthly-cap arithmetic must survive a
// gateway process restart, since the cap is a calendar-month invariant,
// not a process-lifetime one.
type PostgresSpendLedger struct {
	pool *pgxpool.Pool
}

// NewPostgresSpendLedger builds a PostgresSpendLedger over pool.
func NewPostgresSpendLedger(pool *pgxpool.Pool) *PostgresSpendLedger {
	return &PostgresSpendLedger{pool: pool}
}

// MonthlySpend implements SpendLedger.
func (l *PostgresSpendLedger) MonthlySpend(ctx context.Context, tenantID string, at time.Time) (float64, error) {
	var total float64
	err := l.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(cost_usd), 0)
		FROM spend_records
		WHERE tenant_id = $1 AND date_trunc('month', occurred_at) = date_trunc('month', $2::timestamptz)`,
		tenantID, at).Scan(&total)
	return total, err
}

// Record implements SpendLedger.
func (l *PostgresSpendLedger) Record(ctx context.Context, record contracts.SpendRecord) error {
	_, err := l.pool.Exec(ctx, `
		INSERT INTO spend_records (tenant_id, model_id, task_type, cost_usd, occurred_at)
		VALUES ($1, $2, $3, $4, $5)`,
		record.TenantID, record.ModelID, record.TaskType, record.CostUSD, record.Timestamp)
	return err
}

// SoftAlertFired implements SpendLedger.
func (l *PostgresSpendLedger) SoftAlertFired(ctx context.Context, tenantID string, at time.Time) (bool, error) {
	var fired bool
	err := l.pool.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM spend_soft_alerts
			WHERE tenant_id = $1 AND month_bucket = date_trunc('month', $2::timestamptz)
		)`, tenantID, at).Scan(&fired)
	return fired, err
}

// MarkSoftAlertFired implements SpendLedger.
func (l *PostgresSpendLedger) MarkSoftAlertFired(ctx context.Context, tenantID string, at time.Time) error {
	_, err := l.pool.Exec(ctx, `
		INSERT INTO spend_soft_alerts (tenant_id, month_bucket)
		VALUES ($1, date_trunc('month', $2::timestamptz))
		ON CONFLICT (tenant_id, month_bucket) DO NOTHING`,
		tenantID, at)
	return err
}
