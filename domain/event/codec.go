package event

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Registry maps event types to their Go fact types so durable journal
// backends can round-trip events losslessly. In-memory backends keep facts
// as live values and do not need a registry.
type Registry struct {
	mu       sync.RWMutex
	decoders map[Type]func(json.RawMessage) (Fact, error)
}

// NewRegistry creates an empty codec registry.
func NewRegistry() *Registry {
	return &Registry{decoders: make(map[Type]func(json.RawMessage) (Fact, error))}
}

// Register records the fact type F under its EventType. F must be a value
// type whose zero value reports the correct EventType. Registering the same
// type twice replaces the earlier registration.
func Register[F Fact](r *Registry) {
	var zero F
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decoders[zero.EventType()] = func(data json.RawMessage) (Fact, error) {
		var f F
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, err
		}
		return f, nil
	}
}

// stored is the persisted form of an event.
type stored struct {
	Meta     Metadata        `json:"meta"`
	Type     Type            `json:"type"`
	Sequence uint64          `json:"sequence"`
	Data     json.RawMessage `json:"data"`
}

// Encode serialises an event, metadata included, to JSON.
func (r *Registry) Encode(e Event) ([]byte, error) {
	data, err := r.EncodeData(e)
	if err != nil {
		return nil, err
	}
	return json.Marshal(stored{
		Meta:     e.Meta,
		Type:     e.Type,
		Sequence: e.Sequence,
		Data:     data,
	})
}

// Decode restores an event serialised with Encode.
func (r *Registry) Decode(b []byte) (Event, error) {
	var s stored
	if err := json.Unmarshal(b, &s); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	fact, err := r.DecodeData(s.Type, s.Data)
	if err != nil {
		return Event{}, err
	}
	return Event{Meta: s.Meta, Type: s.Type, Sequence: s.Sequence, Data: fact}, nil
}

// EncodeData serialises only the event's fact payload.
func (r *Registry) EncodeData(e Event) ([]byte, error) {
	data, err := json.Marshal(e.Data)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", e.Type, err)
	}
	return data, nil
}

// DecodeData restores a fact payload for the given event type.
func (r *Registry) DecodeData(t Type, data []byte) (Fact, error) {
	r.mu.RLock()
	decode, ok := r.decoders[t]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnregisteredType, t)
	}
	fact, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", t, err)
	}
	return fact, nil
}
