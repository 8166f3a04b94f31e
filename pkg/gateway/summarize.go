package gateway

import (
	"regexp"
	"strings"
)

var sentenceBoundary = regexp.MustCompile(`(?:[.!?]+\s+|\n+)`)

var instructionVerbs = []string{
	"ignore", "disregard", "repeat", "reveal", "pretend", "forget", "override",
	"bypass", "act as", "you are now", "print the", "show the", "output the",
}

var factualVerbs = []string{
	"connected", "accessed", "executed", "authenticated", "logged in",
	"logged out", "downloaded", "uploaded", "created", "deleted", "modified",
	"transferred", "escalated", "scanned", "queried",
}

var extractedEntityPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b(?:(?:25[0-5]|2[0-4]\d|1?\d?\d)\.){3}(?:25[0-5]|2[0-4]\d|1?\d?\d)\b`),                  // IPv4
	regexp.MustCompile(`(?i)\b[0-9a-f]{2}(?::[0-9a-f]{2}){5}\b`),                                                  // stand-in for IPv6/segmented hex identifiers
	regexp.MustCompile(`(?i)\b[a-f0-9]{32}\b`),                                                                    // MD5
	regexp.MustCompile(`(?i)\b[a-f0-9]{40}\b`),                                                                    // SHA1
	regexp.MustCompile(`(?i)\b[a-f0-9]{64}\b`),                                                                    // SHA256
	regexp.MustCompile(`\b[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`),                                                       // domain
	regexp.MustCompile(`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`),                                    // email
}

// Summarize removes instruction-shaped sentences from text, used when the
// injection classifier rates input "suspicious" (spec.md §4.2, "Lossy
// summariser"). A sentence survives if it contains an extracted entity or a
// factual verb; it is dropped if it matches the injection-pattern set or
// contains an instruction verb. No visible redaction markers are emitted —
// an attacker probing the filter sees only fewer sentences, never a marker.
func Summarize(text string) string {
	sentences := sentenceBoundary.Split(text, -1)
	var kept []string
	for _, s := range sentences {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if hasEntity(s) || hasFactualVerb(s) {
			kept = append(kept, s)
			continue
		}
		if hasInstructionVerb(s) {
			continue
		}
		sanitized := Sanitize(s)
		if len(sanitized.Detections) > 0 {
			continue
		}
		kept = append(kept, s)
	}
	return strings.Join(kept, ". ")
}

func hasEntity(s string) bool {
	for _, re := range extractedEntityPatterns {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

func hasFactualVerb(s string) bool {
	lower := strings.ToLower(s)
	for _, v := range factualVerbs {
		if strings.Contains(lower, v) {
			return true
		}
	}
	return false
}

func hasInstructionVerb(s string) bool {
	lower := strings.ToLower(s)
	for _, v := range instructionVerbs {
		if strings.Contains(lower, v) {
			return true
		}
	}
	return false
}
