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

package contracts

import (
	"time"

	wildcard "github.com/IGLOU-EU/go-wildcard/v2"
)

// PatternStatus is the FP pattern lifecycle enum.
type PatternStatus string

const (
	PatternPendingReview PatternStatus = "pending_review"
	PatternApproved      PatternStatus = "approved"
	PatternActive        PatternStatus = "active"
	PatternShadow        PatternStatus = "shadow"
	PatternDeprecated    PatternStatus = "deprecated"
	PatternExpired       PatternStatus = "expired"
	PatternRevoked        PatternStatus = "revoked"
)

// EntityPattern is one entity-level clause of an FP pattern. Exactly one of
// ValueRegex or ValueCIDR is set, per spec.md §3.
type EntityPattern struct {
	Type       EntityType `json:"type"`
	ValueRegex string     `json:"value_regex,omitempty"`
	ValueCIDR  string     `json:"value_cidr,omitempty"`
}

// PatternScope narrows where a pattern is allowed to match. An empty string
// field is a wildcard for that dimension.
type PatternScope struct {
	RuleFamily string `json:"rule_family"`
	TenantID   string `json:"tenant_id"`
	AssetClass string `json:"asset_class"`
}

// Matches reports whether the scope accepts the given concrete values.
// An empty scope field is a wildcard for that dimension; a non-empty
// field may itself carry glob characters (e.g. asset_class "prod-*") so
// one governed pattern can cover a fleet of related asset classes without
// an entry per literal value.
func (s PatternScope) Matches(ruleFamily, tenantID, assetClass string) bool {
	if s.RuleFamily != "" && !wildcard.Match(s.RuleFamily, ruleFamily) {
		return false
	}
	if s.TenantID != "" && !wildcard.Match(s.TenantID, tenantID) {
		return false
	}
	if s.AssetClass != "" && !wildcard.Match(s.AssetClass, assetClass) {
		return false
	}
	return true
}

// FPPattern is a governed false-positive short-circuit pattern.
type FPPattern struct {
	ID              string          `json:"id"`
	AlertNameRegex  string          `json:"alert_name_regex"`
	EntityPatterns  []EntityPattern `json:"entity_patterns"`
	SeverityBand    []Severity      `json:"severity_band"`
	Confidence      float64         `json:"confidence"`
	Status          PatternStatus   `json:"status"`
	Approver1       string          `json:"approver_1,omitempty"`
	Approver2       string          `json:"approver_2,omitempty"`
	ApprovalDate    *time.Time      `json:"approval_date,omitempty"`
	ExpiryDate      *time.Time      `json:"expiry_date,omitempty"`
	ReaffirmedDate  *time.Time      `json:"reaffirmed_date,omitempty"`
	ReaffirmedBy    string          `json:"reaffirmed_by,omitempty"`
	Scope           PatternScope    `json:"scope"`
	SourceInvestigations []string   `json:"source_investigations,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// PatternApprovalWindow is the 90-day expiry window mandated by spec.md §3.
const PatternApprovalWindow = 90 * 24 * time.Hour

// KillSwitchDimension is the closed set of kill-switch dimensions.
type KillSwitchDimension string

const (
	DimensionTenant     KillSwitchDimension = "tenant"
	DimensionPattern    KillSwitchDimension = "pattern"
	DimensionTechnique  KillSwitchDimension = "technique"
	DimensionDatasource KillSwitchDimension = "datasource"
)

// KillSwitch is an operator-activated block on FP auto-close.
type KillSwitch struct {
	Dimension KillSwitchDimension `json:"dimension"`
	Value     string              `json:"value"`
	Activator string              `json:"activator"`
	Timestamp time.Time           `json:"timestamp"`
	Reason    string              `json:"reason"`
}

// Key returns "{dimension}:{value}" for this switch. It does not include the
// "kill_switch:" prefix of the cache namespace from spec.md §4.3.
func (k KillSwitch) Key() string {
	return string(k.Dimension) + ":" + k.Value
}
