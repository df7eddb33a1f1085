package id

import (
	"strings"
	"testing"
)

func TestNewEventID(t *testing.T) {
	evtID := NewEventID()

	if evtID.IsNil() {
		t.Fatal("generated ID is nil")
	}
	if evtID.Prefix() != PrefixEvent {
		t.Errorf("prefix = %q, want %q", evtID.Prefix(), PrefixEvent)
	}
	if !strings.HasPrefix(evtID.String(), "evt_") {
		t.Errorf("string = %q, want evt_ prefix", evtID.String())
	}
}

func TestParseRoundTrip(t *testing.T) {
	orig := NewEventID()

	parsed, err := Parse(orig.String())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if parsed.String() != orig.String() {
		t.Errorf("round trip changed %q to %q", orig, parsed)
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	for _, s := range []string{"", "not an id", "evt_!!!"} {
		if _, err := Parse(s); err == nil {
			t.Errorf("Parse(%q) accepted", s)
		}
	}
}

func TestParseEventIDChecksPrefix(t *testing.T) {
	connID := NewConnID()

	if _, err := ParseEventID(connID.String()); err == nil {
		t.Fatal("conn ID accepted as event ID")
	}
	if _, err := ParseEventID(NewEventID().String()); err != nil {
		t.Fatalf("event ID rejected: %v", err)
	}
}

func TestIDsAreSortableByCreation(t *testing.T) {
	a := NewEventID()
	b := NewEventID()

	// UUIDv7 suffixes sort by creation time; two IDs minted in sequence
	// from the same process never collide.
	if a.String() == b.String() {
		t.Fatal("consecutive IDs collided")
	}
	if a.String() > b.String() {
		t.Errorf("IDs not k-sortable: %s > %s", a, b)
	}
}

func TestTextMarshaling(t *testing.T) {
	orig := NewEventID()

	data, err := orig.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText: %v", err)
	}

	var decoded ID
	if err := decoded.UnmarshalText(data); err != nil {
		t.Fatalf("UnmarshalText: %v", err)
	}
	if decoded.String() != orig.String() {
		t.Errorf("round trip changed %q to %q", orig, decoded)
	}

	var nilID ID
	if err := nilID.UnmarshalText(nil); err != nil {
		t.Fatalf("UnmarshalText(nil): %v", err)
	}
	if !nilID.IsNil() {
		t.Error("empty text did not decode to Nil")
	}
}
