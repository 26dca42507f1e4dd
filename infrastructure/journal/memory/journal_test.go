package memory_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/felixgeelhaar/sourcing-go/domain/event"
	"github.com/felixgeelhaar/sourcing-go/infrastructure/journal/memory"
)

type priced struct {
	Amount int `json:"amount"`
}

func (priced) EventType() event.Type { return "item.priced" }

func newEvent(aggregateID, commandID string, amount int, tags ...string) event.Event {
	return event.Event{
		Meta: event.Metadata{
			AggregateID: aggregateID,
			CommandID:   commandID,
			Timestamp:   time.Now(),
			Tags:        tags,
		},
		Type: "item.priced",
		Data: priced{Amount: amount},
	}
}

func TestJournal_Append(t *testing.T) {
	t.Parallel()

	t.Run("assigns contiguous sequences per aggregate", func(t *testing.T) {
		t.Parallel()

		j := memory.NewJournal()
		ctx := context.Background()

		first := []event.Event{newEvent("A1", "c1", 1), newEvent("A1", "c1", 2)}
		if err := j.Append(ctx, "A1", first); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
		second := []event.Event{newEvent("A1", "c2", 3)}
		if err := j.Append(ctx, "A1", second); err != nil {
			t.Fatalf("Append() error = %v", err)
		}

		if first[0].Sequence != 1 || first[1].Sequence != 2 || second[0].Sequence != 3 {
			t.Errorf("sequences = %d,%d,%d, want 1,2,3",
				first[0].Sequence, first[1].Sequence, second[0].Sequence)
		}
	})

	t.Run("independent sequences across aggregates", func(t *testing.T) {
		t.Parallel()

		j := memory.NewJournal()
		ctx := context.Background()

		a := []event.Event{newEvent("A1", "c1", 1)}
		b := []event.Event{newEvent("B1", "c2", 1)}
		if err := j.Append(ctx, "A1", a); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
		if err := j.Append(ctx, "B1", b); err != nil {
			t.Fatalf("Append() error = %v", err)
		}

		if a[0].Sequence != 1 || b[0].Sequence != 1 {
			t.Errorf("sequences = %d,%d, want 1,1", a[0].Sequence, b[0].Sequence)
		}
	})

	t.Run("assigns missing event ids", func(t *testing.T) {
		t.Parallel()

		j := memory.NewJournal()
		events := []event.Event{newEvent("A1", "c1", 1)}
		if err := j.Append(context.Background(), "A1", events); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
		if events[0].Meta.EventID == "" {
			t.Error("EventID not assigned")
		}
	})

	t.Run("rejects events without a type", func(t *testing.T) {
		t.Parallel()

		j := memory.NewJournal()
		err := j.Append(context.Background(), "A1", []event.Event{{}})
		if !errors.Is(err, event.ErrInvalidEvent) {
			t.Errorf("Append() error = %v, want ErrInvalidEvent", err)
		}
	})
}

func TestJournal_Load(t *testing.T) {
	t.Parallel()

	j := memory.NewJournal()
	ctx := context.Background()

	if err := j.Append(ctx, "A1", []event.Event{newEvent("A1", "c1", 1), newEvent("A1", "c1", 2)}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	events, err := j.Load(ctx, "A1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("Load() returned %d events, want 2", len(events))
	}
	for i, e := range events {
		if e.Sequence != uint64(i+1) {
			t.Errorf("events[%d].Sequence = %d, want %d", i, e.Sequence, i+1)
		}
	}

	empty, err := j.Load(ctx, "missing")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("Load(missing) returned %d events, want 0", len(empty))
	}
}

func TestJournal_Subscribe(t *testing.T) {
	t.Parallel()

	t.Run("replays existing log then streams live appends", func(t *testing.T) {
		t.Parallel()

		j := memory.NewJournal()
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		if err := j.Append(ctx, "A1", []event.Event{newEvent("A1", "c1", 1)}); err != nil {
			t.Fatalf("Append() error = %v", err)
		}

		ch, err := j.Subscribe(ctx, event.Filter{})
		if err != nil {
			t.Fatalf("Subscribe() error = %v", err)
		}

		if err := j.Append(ctx, "A1", []event.Event{newEvent("A1", "c2", 2)}); err != nil {
			t.Fatalf("Append() error = %v", err)
		}

		got := receive(t, ch, 2)
		if got[0].Sequence != 1 || got[1].Sequence != 2 {
			t.Errorf("sequences = %d,%d, want 1,2", got[0].Sequence, got[1].Sequence)
		}
	})

	t.Run("filters by tag", func(t *testing.T) {
		t.Parallel()

		j := memory.NewJournal()
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		ch, err := j.Subscribe(ctx, event.Filter{Tags: []string{"wanted"}})
		if err != nil {
			t.Fatalf("Subscribe() error = %v", err)
		}

		if err := j.Append(ctx, "A1", []event.Event{newEvent("A1", "c1", 1, "other")}); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
		if err := j.Append(ctx, "A2", []event.Event{newEvent("A2", "c2", 2, "wanted")}); err != nil {
			t.Fatalf("Append() error = %v", err)
		}

		got := receive(t, ch, 1)
		if got[0].Meta.AggregateID != "A2" {
			t.Errorf("AggregateID = %s, want A2", got[0].Meta.AggregateID)
		}
	})

	t.Run("slow subscriber loses nothing", func(t *testing.T) {
		t.Parallel()

		j := memory.NewJournal()
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		ch, err := j.Subscribe(ctx, event.Filter{})
		if err != nil {
			t.Fatalf("Subscribe() error = %v", err)
		}

		// Far more events than any channel buffer before the consumer reads.
		const total = 500
		for i := range total {
			if err := j.Append(ctx, "A1", []event.Event{newEvent("A1", "c", i)}); err != nil {
				t.Fatalf("Append() error = %v", err)
			}
		}

		got := receive(t, ch, total)
		for i, e := range got {
			if e.Sequence != uint64(i+1) {
				t.Fatalf("events[%d].Sequence = %d, want %d", i, e.Sequence, i+1)
			}
		}
	})

	t.Run("per-id order preserved under concurrent appends", func(t *testing.T) {
		t.Parallel()

		j := memory.NewJournal()
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		ch, err := j.Subscribe(ctx, event.Filter{})
		if err != nil {
			t.Fatalf("Subscribe() error = %v", err)
		}

		const perAggregate = 50
		var wg sync.WaitGroup
		for _, id := range []string{"A1", "A2"} {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := range perAggregate {
					if err := j.Append(ctx, id, []event.Event{newEvent(id, "c", i)}); err != nil {
						t.Errorf("Append() error = %v", err)
						return
					}
				}
			}()
		}
		wg.Wait()

		got := receive(t, ch, 2*perAggregate)
		last := map[string]uint64{}
		for _, e := range got {
			if e.Sequence != last[e.Meta.AggregateID]+1 {
				t.Fatalf("aggregate %s: sequence %d after %d", e.Meta.AggregateID, e.Sequence, last[e.Meta.AggregateID])
			}
			last[e.Meta.AggregateID] = e.Sequence
		}
	})

	t.Run("channel closes on context cancel", func(t *testing.T) {
		t.Parallel()

		j := memory.NewJournal()
		ctx, cancel := context.WithCancel(context.Background())

		ch, err := j.Subscribe(ctx, event.Filter{})
		if err != nil {
			t.Fatalf("Subscribe() error = %v", err)
		}
		cancel()

		select {
		case _, open := <-ch:
			if open {
				return // a buffered event may still arrive first
			}
		case <-time.After(2 * time.Second):
			t.Fatal("channel not closed after cancel")
		}
	})
}

// receive reads n events from ch or fails the test.
func receive(t *testing.T, ch <-chan event.Event, n int) []event.Event {
	t.Helper()
	out := make([]event.Event, 0, n)
	timeout := time.After(5 * time.Second)
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
