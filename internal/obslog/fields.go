// Package obslog provides the structured-logging field builder threaded
// through every component constructor in this repository, backed by
// go-logr/logr (with go-logr/zapr over zap in production wiring — see
// cmd/*/main.go).
package obslog

import "time"

// Fields is a structured-field accumulator for logr.Logger.WithValues,
// used so call sites build up context incrementally instead of repeating
// key names as string literals.
type Fields map[string]any

// NewFields returns an empty field set.
func NewFields() Fields {
	return Fields{}
}

// Component tags the emitting component (e.g. "gateway", "fp_matcher").
func (f Fields) Component(name string) Fields {
	f["component"] = name
	return f
}

// Operation tags the operation in progress (e.g. "redact", "match").
func (f Fields) Operation(op string) Fields {
	f["operation"] = op
	return f
}

// Resource tags a resource type and, if non-empty, its name.
func (f Fields) Resource(resourceType, name string) Fields {
	f["resource_type"] = resourceType
	if name != "" {
		f["resource_name"] = name
	}
	return f
}

// Duration records an elapsed duration.
func (f Fields) Duration(d time.Duration) Fields {
	f["duration_ms"] = d.Milliseconds()
	return f
}

// Tenant tags the owning tenant.
func (f Fields) Tenant(tenantID string) Fields {
	f["tenant_id"] = tenantID
	return f
}

// Investigation tags the investigation id in progress.
func (f Fields) Investigation(id string) Fields {
	f["investigation_id"] = id
	return f
}

// Agent tags the agent emitting a decision entry.
func (f Fields) Agent(name string) Fields {
	f["agent"] = name
	return f
}

// Pairs flattens the fields into the alternating key/value slice
// logr.Logger.WithValues/Info expect.
func (f Fields) Pairs() []any {
	out := make([]any, 0, len(f)*2)
	for k, v := range f {
		out = append(out, k, v)
	}
	return out
}
