package crypto

import "testing"

func TestHashRecord_OrderIndependent(t *testing.T) {
	a := map[string]any{"name": "Achieng", "phone": "0700000000", "version": float64(2)}
	b := map[string]any{"version": float64(2), "phone": "0700000000", "name": "Achieng"}

	if HashRecord(a) != HashRecord(b) {
		t.Error("expected identical digests for identical content in different field order")
	}
}

func TestHashRecord_FieldDifferenceChangesDigest(t *testing.T) {
	a := map[string]any{"phone": "0700000000"}
	b := map[string]any{"phone": "0711111111"}

	if HashRecord(a) == HashRecord(b) {
		t.Error("expected different digests for different field values")
	}
}

func TestHashRecord_NestedMapsSorted(t *testing.T) {
	a := map[string]any{"address": map[string]any{"village": "Kisumu", "district": "Nyanza"}}
	b := map[string]any{"address": map[string]any{"district": "Nyanza", "village": "Kisumu"}}

	if HashRecord(a) != HashRecord(b) {
		t.Error("expected nested map key order not to affect the digest")
	}
}

func TestHashRecord_IntegralFloatMatchesInt(t *testing.T) {
	// JSON round-trips integers through float64; a payload built in Go
	// with int versions must hash the same as its decoded form.
	a := map[string]any{"version": 3}
	b := map[string]any{"version": float64(3)}

	if HashRecord(a) != HashRecord(b) {
		t.Error("expected int and integral float64 to canonicalize identically")
	}
}

func TestHashRecord_NilVsMissingDiffer(t *testing.T) {
	a := map[string]any{"notes": nil}
	b := map[string]any{}

	if HashRecord(a) == HashRecord(b) {
		t.Error("expected an explicit null field to differ from an absent field")
	}
}
