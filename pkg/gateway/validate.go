package gateway

import (
	"encoding/json"
	"fmt"
	"regexp"
)

var techniqueIDPattern = regexp.MustCompile(`\bT\d{4}(?:\.\d{3})?\b|\bAML\.T\d{4}\b`)

// SchemaFragment is the narrow JSON-Schema subset this package enforces:
// top-level type, required-field presence, and primitive-type conformance
// of declared properties (spec.md §4.2 step 6). It deliberately does not
// implement the full JSON Schema spec — the gateway validates shape, not
// semantics.
type SchemaFragment struct {
	Type       string                    `json:"type"`
	Required   []string                  `json:"required,omitempty"`
	Properties map[string]PropertySchema `json:"properties,omitempty"`
}

// PropertySchema declares a single property's expected JSON primitive
// type: "string", "number", "boolean", "object", or "array".
type PropertySchema struct {
	Type string `json:"type"`
}

// ValidationResult carries every schema/taxonomy violation found, plus the
// set of quarantined technique ids.
type ValidationResult struct {
	Valid          bool
	Errors         []string
	QuarantinedIDs []string
}

// ValidateOutput runs the schema check (if schema is non-nil) and the
// taxonomy check against raw, the provider's raw output (spec.md §4.2 step
// 6). knownTechniqueIDs may be nil to disable taxonomy validation.
func ValidateOutput(raw string, schema *SchemaFragment, knownTechniqueIDs map[string]struct{}) ValidationResult {
	var errs []string

	if schema != nil {
		errs = append(errs, validateSchema(raw, schema)...)
	}

	var quarantined []string
	if knownTechniqueIDs != nil {
		for _, id := range dedupe(techniqueIDPattern.FindAllString(raw, -1)) {
			if _, ok := knownTechniqueIDs[id]; !ok {
				quarantined = append(quarantined, id)
			}
		}
	}

	return ValidationResult{
		Valid:          len(errs) == 0,
		Errors:         errs,
		QuarantinedIDs: quarantined,
	}
}

func validateSchema(raw string, schema *SchemaFragment) []string {
	var errs []string
	var doc map[string]any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return []string{fmt.Sprintf("output is not valid JSON: %v", err)}
	}

	if schema.Type != "" && schema.Type != "object" {
		// This package only validates object-shaped top-level outputs; any
		// other declared top-level type is accepted without further checks.
		return nil
	}

	for _, field := range schema.Required {
		if _, ok := doc[field]; !ok {
			errs = append(errs, fmt.Sprintf("missing required field %q", field))
		}
	}

	for name, propSchema := range schema.Properties {
		v, ok := doc[name]
		if !ok {
			continue
		}
		if !matchesPrimitiveType(v, propSchema.Type) {
			errs = append(errs, fmt.Sprintf("field %q: expected type %q", name, propSchema.Type))
		}
	}

	return errs
}

func matchesPrimitiveType(v any, t string) bool {
	switch t {
	case "string":
		_, ok := v.(string)
		return ok
	case "number":
		_, ok := v.(float64)
		return ok
	case "boolean":
		_, ok := v.(bool)
		return ok
	case "object":
		_, ok := v.(map[string]any)
		return ok
	case "array":
		_, ok := v.([]any)
		return ok
	default:
		return true
	}
}

func dedupe(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	return out
}

// StripQuarantined replaces every id in quarantinedIDs with the empty
// string in content, matching on word boundaries only — a substring strip
// could corrupt unrelated text that happens to contain a quarantined id as
// a substring (spec.md §4.2 step 7).
func StripQuarantined(content string, quarantinedIDs []string) string {
	out := content
	for _, id := range quarantinedIDs {
		re := regexp.MustCompile(`\b` + regexp.QuoteMeta(id) + `\b`)
		out = re.ReplaceAllString(out, "")
	}
	return out
}
