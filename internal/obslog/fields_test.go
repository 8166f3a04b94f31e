package obslog

import (
	"testing"
	"time"
)

func TestNewFields(t *testing.T) {
	fields := NewFields()
	if fields == nil {
		t.Fatal("NewFields() returned nil")
	}
	if len(fields) != 0 {
		t.Errorf("NewFields() should be empty, got %d fields", len(fields))
	}
}

func TestFieldsComponent(t *testing.T) {
	fields := NewFields().Component("fp_matcher")
	if fields["component"] != "fp_matcher" {
		t.Errorf("Component() = %v, want fp_matcher", fields["component"])
	}
}

func TestFieldsOperation(t *testing.T) {
	fields := NewFields().Operation("match")
	if fields["operation"] != "match" {
		t.Errorf("Operation() = %v, want match", fields["operation"])
	}
}

func TestFieldsResource(t *testing.T) {
	fields := NewFields().Resource("investigation", "inv-1")
	if fields["resource_type"] != "investigation" {
		t.Errorf("resource_type = %v, want investigation", fields["resource_type"])
	}
	if fields["resource_name"] != "inv-1" {
		t.Errorf("resource_name = %v, want inv-1", fields["resource_name"])
	}
}

func TestFieldsResourceWithoutName(t *testing.T) {
	fields := NewFields().Resource("investigation", "")
	if _, exists := fields["resource_name"]; exists {
		t.Error("Resource() should not set resource_name when empty")
	}
}

func TestFieldsDuration(t *testing.T) {
	fields := NewFields().Duration(150 * time.Millisecond)
	if fields["duration_ms"] != int64(150) {
		t.Errorf("duration_ms = %v, want 150", fields["duration_ms"])
	}
}

func TestFieldsPairsLength(t *testing.T) {
	fields := NewFields().Component("gateway").Tenant("t1")
	pairs := fields.Pairs()
	if len(pairs) != 4 {
		t.Errorf("Pairs() returned %d elements, want 4 (2 keys x 2)", len(pairs))
	}
}
