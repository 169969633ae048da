package dedup

import (
	"testing"
	"time"
)

func TestShouldProcessWithinTTL(t *testing.T) {
	d := New(time.Minute, 10)
	now := time.Date(2025, 6, 1, 6, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }

	key := PayloadKey([]byte(`{"type":"ph","comp_ph":6.8}`))
	if !d.ShouldProcess(key) {
		t.Fatal("first delivery must be processed")
	}
	if d.ShouldProcess(key) {
		t.Fatal("redelivery within TTL must be dropped")
	}
	now = now.Add(2 * time.Minute)
	if !d.ShouldProcess(key) {
		t.Fatal("key must be accepted again after TTL")
	}
	if !d.ShouldProcess("") {
		t.Fatal("empty key is always processed")
	}
}

func TestCapIsEnforced(t *testing.T) {
	d := New(time.Hour, 3)
	for _, k := range []string{"a", "b", "c", "d", "e"} {
		d.ShouldProcess(k)
	}
	if d.size() > 3 {
		t.Fatalf("len = %d, want <= 3", d.size())
	}
}

func TestPayloadKeyStable(t *testing.T) {
	if PayloadKey([]byte("x")) != PayloadKey([]byte("x")) {
		t.Fatal("same payload must hash to the same key")
	}
	if PayloadKey([]byte("x")) == PayloadKey([]byte("y")) {
		t.Fatal("different payloads must differ")
	}
}

func TestNilDeduper(t *testing.T) {
	var d *Deduper
	if !d.ShouldProcess("k") {
		t.Fatal("nil deduper processes everything")
	}
}
