package dedup

import (
	"testing"
	"time"
)

func TestShouldProcessWithinTTL(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	d := New(time.Minute, 10)
	d.now = func() time.Time { return now }

	id := Fingerprint([]byte(`{"waterLevel":9}`))
	if !d.ShouldProcess(id) {
		t.Fatalf("first sighting must be processed")
	}
	if d.ShouldProcess(id) {
		t.Fatalf("duplicate within ttl must be skipped")
	}

	now = now.Add(2 * time.Minute)
	if !d.ShouldProcess(id) {
		t.Fatalf("expired fingerprint must be processed again")
	}
	if !d.ShouldProcess("") {
		t.Fatalf("empty id is always processed")
	}
}

func TestCapacityIsBounded(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	d := New(time.Hour, 3)
	d.now = func() time.Time {
		now = now.Add(time.Second)
		return now
	}

	for _, id := range []string{"a", "b", "c", "d", "e"} {
		d.ShouldProcess(id)
	}
	if d.Len() != 3 {
		t.Fatalf("expected 3 tracked fingerprints, got %d", d.Len())
	}
	// "a" e' stato espulso per primo
	if !d.ShouldProcess("a") {
		t.Fatalf("oldest fingerprint should have been evicted")
	}
}

func TestFingerprintIsStable(t *testing.T) {
	if Fingerprint([]byte("x")) != Fingerprint([]byte("x")) {
		t.Fatalf("fingerprint must be deterministic")
	}
	if Fingerprint([]byte("x")) == Fingerprint([]byte("y")) {
		t.Fatalf("different payloads must differ")
	}
}
