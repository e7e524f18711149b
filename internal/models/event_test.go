package models

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

func TestLocationJSONShape(t *testing.T) {
	loc := NewLocation("  1 Main St ", &Coordinates{Lat: 52.1, Lng: 21.0})
	b, err := json.Marshal(loc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"address":"1 Main St","coordinates":{"lat":52.1,"lng":21}}`
	if string(b) != want {
		t.Fatalf("got %s want %s", b, want)
	}

	b, _ = json.Marshal(NewLocation("", nil))
	if string(b) != `{"address":"","coordinates":null}` {
		t.Fatalf("unexpected json for empty location: %s", b)
	}

	var back Location
	if err := json.Unmarshal([]byte(want), &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if c := back.Coordinates(); c == nil || c.Lat != 52.1 || c.Lng != 21 {
		t.Fatalf("coordinates lost: %#v", c)
	}
}

func TestNormalizeCategories(t *testing.T) {
	got := NormalizeCategories([]string{" Tech", "music", "TECH", "", "  "})
	want := []string{"music", "tech"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
	if got := NormalizeCategories(nil); got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", got)
	}
}

func TestParseSourceAndStatus(t *testing.T) {
	if s, err := ParseSource(" Meetup "); err != nil || s != SourceMeetup {
		t.Fatalf("ParseSource = %q, %v", s, err)
	}
	if _, err := ParseSource("twitter"); err == nil {
		t.Fatalf("expected error for unknown source")
	}
	if s, err := ParseStatus("published"); err != nil || s != StatusPublished {
		t.Fatalf("ParseStatus = %q, %v", s, err)
	}
	if _, err := ParseStatus("archived"); err == nil || !strings.Contains(err.Error(), "archived") {
		t.Fatalf("expected error naming the bad status, got %v", err)
	}
	if len(Sources()) != 5 {
		t.Fatalf("expected five sources")
	}
}

func TestIsFree(t *testing.T) {
	zero := decimal.Zero
	paid := decimal.NewFromInt(20)
	if (Event{}).IsFree() {
		t.Fatalf("unknown price must not be reported as confirmed free")
	}
	if !(Event{Price: &zero}).IsFree() {
		t.Fatalf("zero price should be free")
	}
	if (Event{Price: &paid}).IsFree() {
		t.Fatalf("paid event reported free")
	}
}
