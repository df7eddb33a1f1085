package client

import (
	"fmt"
	"testing"
)

func TestDedupRemember(t *testing.T) {
	d := NewDedup()

	if !d.Remember("evt_1") {
		t.Fatal("first sighting reported as duplicate")
	}
	if d.Remember("evt_1") {
		t.Fatal("second sighting reported as new")
	}
	if !d.Remember("evt_2") {
		t.Fatal("different ID reported as duplicate")
	}
}

func TestDedupEvictsOldestBatchAtCapacity(t *testing.T) {
	d := NewDedup()

	for i := 0; i < dedupCapacity; i++ {
		d.Remember(fmt.Sprintf("evt_%d", i))
	}
	if d.Len() != dedupCapacity {
		t.Fatalf("len = %d, want %d", d.Len(), dedupCapacity)
	}

	// The next new ID evicts the oldest batch first.
	d.Remember("evt_overflow")
	if got := d.Len(); got != dedupCapacity-dedupEvictBatch+1 {
		t.Fatalf("len = %d after overflow, want %d", got, dedupCapacity-dedupEvictBatch+1)
	}

	// The oldest IDs were forgotten, the newest still remembered.
	if !d.Remember("evt_0") {
		t.Error("evicted ID still remembered")
	}
	if d.Remember(fmt.Sprintf("evt_%d", dedupCapacity-1)) {
		t.Error("recent ID was evicted")
	}
	if d.Remember("evt_overflow") {
		t.Error("overflow ID was not remembered")
	}
}
