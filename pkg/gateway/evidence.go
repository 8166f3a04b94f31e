package gateway

import "strings"

// WrapEvidence wraps untrusted field content in an XML-delimited
// <evidence>...</evidence> block, escaping angle brackets and stripping any
// embedded evidence tags so the content cannot break out of the block it is
// placed in (spec.md §4.2, "Evidence block isolation").
func WrapEvidence(raw string) string {
	escaped := strings.NewReplacer("<", "&lt;", ">", "&gt;").Replace(raw)
	escaped = stripEmbeddedEvidenceTokens(escaped)
	var b strings.Builder
	b.WriteString("<evidence>")
	b.WriteString(escaped)
	b.WriteString("</evidence>")
	return b.String()
}

// stripEmbeddedEvidenceTokens removes any residual "evidence" open/close
// token text (after angle-bracket escaping the literal tags are already
// inert, but the word sequence itself is stripped too so a model cannot be
// coaxed into treating "&lt;evidence&gt;" text as a real boundary).
func stripEmbeddedEvidenceTokens(s string) string {
	replacer := strings.NewReplacer(
		"&lt;evidence&gt;", "",
		"&lt;/evidence&gt;", "",
	)
	return replacer.Replace(s)
}
