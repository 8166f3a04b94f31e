package gateway

import (
	"regexp"
	"strings"

	"github.com/soclabs/investigator/pkg/contracts"
)

var (
	ipv4Pattern = regexp.MustCompile(`\b(?:(?:25[0-5]|2[0-4]\d|1?\d?\d)\.){3}(?:25[0-5]|2[0-4]\d|1?\d?\d)\b`)
	emailPattern = regexp.MustCompile(`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`)
)

// RedactPairs are caller-supplied {value, prefix} pairs requiring
// pseudonymisation beyond the automatically detected IPs/emails (spec.md
// §4.2 step 3).
type RedactPairs map[string]string // real value -> prefix

// Redact replaces IPs, emails, and any RedactPairs member found in input
// with stable placeholders from m, returning the redacted text. The same
// real value always yields the same placeholder within m's lifetime
// (request-scoped).
func Redact(input string, pairs RedactPairs, m *contracts.RedactionMap) string {
	out := emailPattern.ReplaceAllStringFunc(input, func(match string) string {
		return m.PlaceholderFor("EMAIL", match)
	})
	out = ipv4Pattern.ReplaceAllStringFunc(out, func(match string) string {
		return m.PlaceholderFor("IP", match)
	})
	for real, prefix := range pairs {
		out = replaceLiteral(out, real, m.PlaceholderFor(prefix, real))
	}
	return out
}

// Deanonymize reverses Redact, replacing every placeholder minted in m with
// its real value, longest-placeholder-first to avoid one placeholder being
// a prefix of another (spec.md §4.2 step 9).
func Deanonymize(output string, m *contracts.RedactionMap) string {
	out := output
	for _, ph := range m.Placeholders() {
		real, ok := m.RealFor(ph)
		if !ok {
			continue
		}
		out = replaceLiteral(out, ph, real)
	}
	return out
}

func replaceLiteral(s, old, new string) string {
	if old == "" {
		return s
	}
	return strings.ReplaceAll(s, old, new)
}
