package gateway_test

import (
	"strings"
	"testing"

	"github.com/soclabs/investigator/pkg/contracts"
	"github.com/soclabs/investigator/pkg/gateway"
)

func TestRedactStableWithinRequest(t *testing.T) {
	m := contracts.NewRedactionMap()
	out := gateway.Redact("contact alice@example.com about alice@example.com again", nil, m)

	if strings.Contains(out, "alice@example.com") {
		t.Error("expected email to be redacted")
	}
	first := strings.Index(out, "EMAIL_")
	second := strings.LastIndex(out, "EMAIL_")
	if first == -1 {
		t.Fatal("expected an EMAIL placeholder")
	}
	if out[first:first+9] != out[second:second+9] {
		t.Error("expected the same real value to map to the same placeholder")
	}
}

func TestRedactIPv4(t *testing.T) {
	m := contracts.NewRedactionMap()
	out := gateway.Redact("source host 192.168.1.50 reached out", nil, m)
	if strings.Contains(out, "192.168.1.50") {
		t.Error("expected IP to be redacted")
	}
	if !strings.Contains(out, "IP_") {
		t.Errorf("expected IP placeholder, got %q", out)
	}
}

func TestRedactDeanonymizeRoundTrip(t *testing.T) {
	m := contracts.NewRedactionMap()
	redacted := gateway.Redact("user bob@example.com from 10.1.1.1", nil, m)
	restored := gateway.Deanonymize(redacted, m)

	if !strings.Contains(restored, "bob@example.com") || !strings.Contains(restored, "10.1.1.1") {
		t.Errorf("expected round trip to restore real values, got %q", restored)
	}
}

func TestRedactCustomPairs(t *testing.T) {
	m := contracts.NewRedactionMap()
	pairs := gateway.RedactPairs{"acct-998877": "ACCOUNT"}
	out := gateway.Redact("flagged account acct-998877 for review", pairs, m)

	if strings.Contains(out, "acct-998877") {
		t.Error("expected custom pair value to be redacted")
	}
	if !strings.Contains(out, "ACCOUNT_") {
		t.Errorf("expected ACCOUNT placeholder, got %q", out)
	}
}
