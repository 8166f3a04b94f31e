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

package agents

import (
	"context"

	"github.com/soclabs/investigator/pkg/contracts"
	"github.com/soclabs/investigator/pkg/orchestrator"
)

// FPGovernanceMatcher adapts *fpgovernance.Matcher to orchestrator.FPMatcher.
// It is constructed with a closure rather than the fpgovernance type
// directly so this package compiles without importing pkg/fpgovernance;
// cmd/orchestrator supplies the closure over its own *fpgovernance.Matcher.
type FPGovernanceMatcher struct {
	match func(ctx context.Context, alert contracts.Alert, bundle contracts.EntityBundle, ruleFamily, assetClass string) (patternID string, confidence float64, matched bool, err error)
}

// NewFPGovernanceMatcher builds an FPGovernanceMatcher over match, typically
// a thin closure around *fpgovernance.Matcher.Match.
func NewFPGovernanceMatcher(match func(ctx context.Context, alert contracts.Alert, bundle contracts.EntityBundle, ruleFamily, assetClass string) (string, float64, bool, error)) *FPGovernanceMatcher {
	return &FPGovernanceMatcher{match: match}
}

// Match implements orchestrator.FPMatcher.
func (a *FPGovernanceMatcher) Match(ctx context.Context, alert contracts.Alert, bundle contracts.EntityBundle, ruleFamily, assetClass string) (*orchestrator.FPMatch, error) {
	patternID, confidence, matched, err := a.match(ctx, alert, bundle, ruleFamily, assetClass)
	if err != nil {
		return nil, err
	}
	if !matched {
		return nil, nil
	}
	return &orchestrator.FPMatch{PatternID: patternID, Confidence: confidence}, nil
}
