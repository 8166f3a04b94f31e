package contracts

import "testing"

func TestRedactionMapStablePlaceholders(t *testing.T) {
	m := NewRedactionMap()

	ph1 := m.PlaceholderFor("IP_SRC", "10.0.0.1")
	ph2 := m.PlaceholderFor("IP_SRC", "10.0.0.1")
	if ph1 != ph2 {
		t.Errorf("same real value yielded different placeholders: %q vs %q", ph1, ph2)
	}

	ph3 := m.PlaceholderFor("IP_SRC", "10.0.0.2")
	if ph3 == ph1 {
		t.Error("distinct real values must not share a placeholder (injectivity)")
	}

	real, ok := m.RealFor(ph1)
	if !ok || real != "10.0.0.1" {
		t.Errorf("RealFor(%q) = (%q, %v), want (10.0.0.1, true)", ph1, real, ok)
	}
}

func TestRedactionMapPlaceholdersLongestFirst(t *testing.T) {
	m := NewRedactionMap()
	m.PlaceholderFor("USER", "a")
	m.PlaceholderFor("HOST", "b")

	phs := m.Placeholders()
	for i := 1; i < len(phs); i++ {
		if len(phs[i-1]) < len(phs[i]) {
			t.Fatalf("Placeholders() not sorted longest-first: %v", phs)
		}
	}
}
