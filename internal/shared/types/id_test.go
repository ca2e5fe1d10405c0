package types

import "testing"

func TestParseID(t *testing.T) {
	id := NewID()
	parsed, err := ParseID(id.String())
	if err != nil {
		t.Fatalf("ParseID(%q): %v", id, err)
	}
	if parsed != id {
		t.Fatalf("ParseID(%q) = %q", id, parsed)
	}

	if _, err := ParseID("not-a-uuid"); err == nil {
		t.Fatal("expected error for malformed ID")
	}
}

func TestNilID(t *testing.T) {
	if !NilID.IsZero() {
		t.Fatal("NilID must be zero")
	}
	if NewID().IsZero() {
		t.Fatal("fresh ID must not be zero")
	}

	v, err := NilID.Value()
	if err != nil {
		t.Fatalf("Value: %v", err)
	}
	if v != nil {
		t.Fatalf("NilID.Value() = %v, want nil", v)
	}
}
