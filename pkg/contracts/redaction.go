package contracts

import "fmt"

// RedactionMap is a per-request bidirectional mapping between real values
// and stable placeholders, with a per-prefix counter so that repeated
// redaction of the same request yields the same placeholders (spec.md §3,
// "redaction idempotence" in spec.md §8).
type RedactionMap struct {
	realToPlaceholder map[string]string
	placeholderToReal map[string]string
	prefixCounters    map[string]int
}

// NewRedactionMap returns an empty, request-scoped redaction map.
func NewRedactionMap() *RedactionMap {
	return &RedactionMap{
		realToPlaceholder: make(map[string]string),
		placeholderToReal: make(map[string]string),
		prefixCounters:    make(map[string]int),
	}
}

// PlaceholderFor returns the stable placeholder for real under the given
// prefix (e.g. "USER", "IP_SRC", "HOST"), allocating a new one the first
// time real is seen in this request and reusing it thereafter. The mapping
// real -> placeholder is injective within one request: two distinct real
// values are never assigned the same placeholder, because placeholders are
// suffixed with a monotonically increasing, prefix-scoped counter.
func (m *RedactionMap) PlaceholderFor(prefix, real string) string {
	if ph, ok := m.realToPlaceholder[real]; ok {
		return ph
	}
	m.prefixCounters[prefix]++
	ph := formatPlaceholder(prefix, m.prefixCounters[prefix])
	m.realToPlaceholder[real] = ph
	m.placeholderToReal[ph] = real
	return ph
}

// RealFor returns the real value behind a placeholder, and whether it was
// found.
func (m *RedactionMap) RealFor(placeholder string) (string, bool) {
	v, ok := m.placeholderToReal[placeholder]
	return v, ok
}

// Placeholders returns every placeholder minted in this request, longest
// first — callers must deanonymise longest-placeholder-first to avoid one
// placeholder being a prefix of another (spec.md §4.2 step 9).
func (m *RedactionMap) Placeholders() []string {
	out := make([]string, 0, len(m.placeholderToReal))
	for ph := range m.placeholderToReal {
		out = append(out, ph)
	}
	sortByLengthDesc(out)
	return out
}

func sortByLengthDesc(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && len(s[j-1]) < len(s[j]); j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

func formatPlaceholder(prefix string, n int) string {
	return fmt.Sprintf("%s_%03d", prefix, n)
}
