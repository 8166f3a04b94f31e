package contracts

import "time"

// SpendRecord is an append-only record of one LLM call's cost, keyed for
// monthly aggregation by tenant/task/model.
type SpendRecord struct {
	CostUSD   float64   `json:"cost_usd"`
	ModelID   string    `json:"model_id"`
	TaskType  string    `json:"task_type"`
	TenantID  string    `json:"tenant_id"`
	Timestamp time.Time `json:"timestamp"`
}
