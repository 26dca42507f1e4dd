package event_test

import (
	"testing"
	"time"

	"github.com/felixgeelhaar/sourcing-go/domain/event"
)

type thingRenamed struct {
	Name string `json:"name"`
}

func (thingRenamed) EventType() event.Type { return "thing.renamed" }

func TestEvent_HasTag(t *testing.T) {
	t.Parallel()

	e := event.Event{
		Meta: event.Metadata{Tags: []string{"thing", "audit"}},
		Type: "thing.renamed",
		Data: thingRenamed{Name: "a"},
	}

	if !e.HasTag("thing") {
		t.Error("HasTag(thing) = false, want true")
	}
	if e.HasTag("order") {
		t.Error("HasTag(order) = true, want false")
	}
}

func TestFilter_Matches(t *testing.T) {
	t.Parallel()

	tagged := event.Event{Meta: event.Metadata{Tags: []string{"thing"}}}
	untagged := event.Event{}

	tests := []struct {
		name   string
		filter event.Filter
		e      event.Event
		want   bool
	}{
		{"empty filter matches tagged", event.Filter{}, tagged, true},
		{"empty filter matches untagged", event.Filter{}, untagged, true},
		{"matching tag", event.Filter{Tags: []string{"thing"}}, tagged, true},
		{"non-matching tag", event.Filter{Tags: []string{"order"}}, tagged, false},
		{"tagged filter rejects untagged", event.Filter{Tags: []string{"thing"}}, untagged, false},
		{"any of several tags", event.Filter{Tags: []string{"order", "thing"}}, tagged, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.filter.Matches(tt.e); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSystemClock_Now(t *testing.T) {
	t.Parallel()

	now := event.SystemClock{}.Now()
	if now.IsZero() {
		t.Error("Now() returned zero time")
	}
	if now.Location() != time.UTC {
		t.Errorf("Now() location = %v, want UTC", now.Location())
	}
}

func TestUUIDSource_NewID(t *testing.T) {
	t.Parallel()

	src := event.UUIDSource{}
	seen := make(map[string]bool)
	for range 100 {
		id := src.NewID()
		if id == "" {
			t.Fatal("NewID() returned empty string")
		}
		if seen[id] {
			t.Fatalf("NewID() produced duplicate %s", id)
		}
		seen[id] = true
	}
}
