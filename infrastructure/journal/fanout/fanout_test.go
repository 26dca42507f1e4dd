package fanout_test

import (
	"context"
	"testing"
	"time"

	"github.com/felixgeelhaar/sourcing-go/domain/event"
	"github.com/felixgeelhaar/sourcing-go/infrastructure/journal/fanout"
)

type marked struct{}

func (marked) EventType() event.Type { return "marked" }

func mkEvent(aggregateID string, seq uint64, tags ...string) event.Event {
	return event.Event{
		Meta:     event.Metadata{AggregateID: aggregateID, EventID: aggregateID + "-" + string(rune('0'+seq)), Tags: tags},
		Type:     "marked",
		Sequence: seq,
		Data:     marked{},
	}
}

func receive(t *testing.T, ch <-chan event.Event, n int) []event.Event {
	t.Helper()
	out := make([]event.Event, 0, n)
	timeout := time.After(3 * time.Second)
	for len(out) < n {
		select {
		case e, open := <-ch:
			if !open {
				t.Fatalf("channel closed after %d of %d events", len(out), n)
			}
			out = append(out, e)
		case <-timeout:
			t.Fatalf("timed out after %d of %d events", len(out), n)
		}
	}
	return out
}

func TestMulticaster_ReplayThenLive(t *testing.T) {
	t.Parallel()

	m := fanout.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	replay := []event.Event{mkEvent("A", 1), mkEvent("A", 2)}
	ch, err := m.Subscribe(ctx, event.Filter{}, func(context.Context) ([]event.Event, error) {
		return replay, nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	m.Publish([]event.Event{mkEvent("A", 3)})

	got := receive(t, ch, 3)
	for i, e := range got {
		if e.Sequence != uint64(i+1) {
			t.Fatalf("got[%d].Sequence = %d, want %d", i, e.Sequence, i+1)
		}
	}
}

func TestMulticaster_DropsLiveEventsCoveredByReplay(t *testing.T) {
	t.Parallel()

	// An event published between registration and load shows up in both;
	// the replay copy must win and the live copy must be discarded.
	m := fanout.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := m.Subscribe(ctx, event.Filter{}, func(context.Context) ([]event.Event, error) {
		m.Publish([]event.Event{mkEvent("A", 1)}) // races the load in real backends
		return []event.Event{mkEvent("A", 1)}, nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	m.Publish([]event.Event{mkEvent("A", 2)})

	got := receive(t, ch, 2)
	if got[0].Sequence != 1 || got[1].Sequence != 2 {
		t.Fatalf("sequences = %d,%d, want 1,2", got[0].Sequence, got[1].Sequence)
	}
}

func TestMulticaster_FilterByTag(t *testing.T) {
	t.Parallel()

	m := fanout.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := m.Subscribe(ctx, event.Filter{Tags: []string{"wanted"}}, nil)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	m.Publish([]event.Event{mkEvent("A", 1, "other")})
	m.Publish([]event.Event{mkEvent("B", 1, "wanted")})

	got := receive(t, ch, 1)
	if got[0].Meta.AggregateID != "B" {
		t.Errorf("AggregateID = %s, want B", got[0].Meta.AggregateID)
	}
}

func TestMulticaster_CloseOnCancel(t *testing.T) {
	t.Parallel()

	m := fanout.New()
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := m.Subscribe(ctx, event.Filter{}, nil)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	cancel()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, open := <-ch:
			if !open {
				return
			}
		case <-deadline:
			t.Fatal("channel not closed after cancel")
		}
	}
}
