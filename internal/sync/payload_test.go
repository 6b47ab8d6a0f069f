package sync

import (
	"encoding/json"
	"testing"
	"time"
)

func TestChecksumCalculator_ComputeChecksum(t *testing.T) {
	calc := NewChecksumCalculator()

	payload := Payload{
		"name":     String("Pump inspection"),
		"quantity": Number(3),
		"urgent":   Boolean(true),
		"tags":     Array(String("mechanical"), String("scheduled")),
	}

	hash1 := calc.ComputeChecksum(payload)
	if hash1 == "" {
		t.Error("Expected non-empty hash")
	}
	if len(hash1) != 64 {
		t.Errorf("Expected 64-character SHA256 hash, got %d characters", len(hash1))
	}

	// Compute again - should be deterministic
	hash2 := calc.ComputeChecksum(payload)
	if hash1 != hash2 {
		t.Error("Checksum should be deterministic")
	}

	// Change a field - hash should change
	payload["name"] = String("Pump replacement")
	hash3 := calc.ComputeChecksum(payload)
	if hash1 == hash3 {
		t.Error("Checksum should change when content changes")
	}
}

func TestChecksumCalculator_FieldOrderIndependent(t *testing.T) {
	calc := NewChecksumCalculator()

	a := Payload{}
	a["alpha"] = Number(1)
	a["beta"] = Number(2)
	a["gamma"] = Number(3)

	b := Payload{}
	b["gamma"] = Number(3)
	b["alpha"] = Number(1)
	b["beta"] = Number(2)

	if calc.ComputeChecksum(a) != calc.ComputeChecksum(b) {
		t.Error("Checksum must not depend on field insertion order")
	}
}

func TestPayload_JSONRoundTrip(t *testing.T) {
	ts := time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)
	original := Payload{
		"name":         String("Valve check"),
		"count":        Number(7),
		"active":       Boolean(true),
		"scheduled_at": Timestamp(ts),
		"tags":         Array(String("a"), String("b")),
		"meta":         Object(Payload{"nested": Number(1)}),
		"cleared":      Null(),
	}

	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var decoded Payload
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if !decoded.Equal(original) {
		t.Errorf("Round trip changed the payload:\n before %s\n after  %s", data, mustJSON(t, decoded))
	}
}

func TestPayload_RFC3339StringsDecodeAsTimestamps(t *testing.T) {
	var p Payload
	if err := json.Unmarshal([]byte(`{"updated_at": "2026-03-01T10:30:00Z", "name": "not a date"}`), &p); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if p["updated_at"].Type != TypeTimestamp {
		t.Errorf("RFC 3339 string should decode as timestamp, got %s", p["updated_at"].Type)
	}
	if p["name"].Type != TypeString {
		t.Errorf("Plain string should stay a string, got %s", p["name"].Type)
	}

	want := time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)
	if !p["updated_at"].Time.Equal(want) {
		t.Errorf("Decoded timestamp mismatch: %s", p["updated_at"].Time)
	}
}

func TestPayload_FromInterface(t *testing.T) {
	p := PayloadFromInterface(map[string]interface{}{
		"count":  float64(3),
		"name":   "hello",
		"ok":     true,
		"absent": nil,
		"items":  []interface{}{float64(1), "two"},
		"nested": map[string]interface{}{"k": "v"},
	})

	if p["count"].Type != TypeNumber || p["count"].Num != 3 {
		t.Errorf("Number conversion failed: %+v", p["count"])
	}
	if p["name"].Type != TypeString {
		t.Errorf("String conversion failed: %+v", p["name"])
	}
	if p["ok"].Type != TypeBool || !p["ok"].Bool {
		t.Errorf("Bool conversion failed: %+v", p["ok"])
	}
	if p["absent"].Type != TypeNull {
		t.Errorf("Nil should become null: %+v", p["absent"])
	}
	if p["items"].Type != TypeArray || len(p["items"].List) != 2 {
		t.Errorf("Array conversion failed: %+v", p["items"])
	}
	if p["nested"].Type != TypeObject || p["nested"].Map["k"].Str != "v" {
		t.Errorf("Object conversion failed: %+v", p["nested"])
	}
}

func TestPayload_CloneIsDeep(t *testing.T) {
	original := Payload{
		"tags": Array(String("a")),
		"meta": Object(Payload{"k": String("v")}),
	}

	cloned := original.Clone()
	cloned["tags"].List[0] = String("changed")
	cloned["meta"].Map["k"] = String("changed")

	if original["tags"].List[0].Str != "a" {
		t.Error("Clone shares array backing with original")
	}
	if original["meta"].Map["k"].Str != "v" {
		t.Error("Clone shares nested map with original")
	}
}

func TestValue_Equal(t *testing.T) {
	if !Number(1.5).Equal(Number(1.5)) {
		t.Error("Equal numbers should compare equal")
	}
	if Number(1).Equal(String("1")) {
		t.Error("Different types must not compare equal")
	}
	if !Array(Number(1), Number(2)).Equal(Array(Number(1), Number(2))) {
		t.Error("Equal arrays should compare equal")
	}
	if Array(Number(1)).Equal(Array(Number(1), Number(2))) {
		t.Error("Arrays of different length must not compare equal")
	}

	utc := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	berlin := utc.In(time.FixedZone("CET", 3600))
	if !Timestamp(utc).Equal(Timestamp(berlin)) {
		t.Error("Timestamps should compare by instant, not zone")
	}
}

func mustJSON(t *testing.T, v interface{}) string {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	return string(b)
}
