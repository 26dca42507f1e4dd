// Package badger provides an embedded, durable implementation of
// event.Journal on BadgerDB.
package badger

import (
	"context"
	"encoding/binary"
	"errors"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/felixgeelhaar/sourcing-go/domain/event"
	"github.com/felixgeelhaar/sourcing-go/infrastructure/journal/fanout"
)

// Config configures the Badger journal.
type Config struct {
	// Dir is the database directory. Ignored with InMemory.
	Dir string

	// InMemory keeps everything in memory; used by tests.
	InMemory bool

	// KeyPrefix namespaces the journal's keys within a shared database.
	KeyPrefix string
}

// Journal is a BadgerDB-backed implementation of event.Journal. Events
// are stored under keys sorted by aggregate id and sequence, so a prefix
// scan yields replay order.
type Journal struct {
	db        *badger.DB
	keyPrefix string
	registry  *event.Registry
	fan       *fanout.Multicaster
	ownsDB    bool
}

// NewJournal opens a database and creates a journal over it.
func NewJournal(cfg Config, registry *event.Registry) (*Journal, error) {
	opts := badger.DefaultOptions(cfg.Dir).WithLogger(nil)
	if cfg.InMemory {
		opts = opts.WithInMemory(true).WithDir("").WithValueDir("")
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Join(event.ErrJournalFailure, err)
	}
	j := NewJournalFromDB(db, cfg.KeyPrefix, registry)
	j.ownsDB = true
	return j, nil
}

// NewJournalFromDB creates a journal over an existing database.
func NewJournalFromDB(db *badger.DB, keyPrefix string, registry *event.Registry) *Journal {
	return &Journal{
		db:        db,
		keyPrefix: keyPrefix,
		registry:  registry,
		fan:       fanout.New(),
	}
}

// Close closes the underlying database when this journal opened it.
func (j *Journal) Close() error {
	if !j.ownsDB {
		return nil
	}
	return j.db.Close()
}

// Key format: prefix + "events:" + aggregateID + ":" + sequence (8 bytes,
// big-endian), so lexicographic key order is replay order.
func (j *Journal) eventKey(aggregateID string, seq uint64) []byte {
	seqBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(seqBytes, seq)
	return append([]byte(j.keyPrefix+"events:"+aggregateID+":"), seqBytes...)
}

// Key format: prefix + "seq:" + aggregateID for the sequence counter.
func (j *Journal) seqKey(aggregateID string) []byte {
	return []byte(j.keyPrefix + "seq:" + aggregateID)
}

// Append atomically persists the events under the aggregate id, assigning
// contiguous sequence numbers in place.
func (j *Journal) Append(ctx context.Context, aggregateID string, events []event.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}

	err := j.db.Update(func(txn *badger.Txn) error {
		var seq uint64
		item, err := txn.Get(j.seqKey(aggregateID))
		if err == nil {
			err = item.Value(func(val []byte) error {
				if len(val) == 8 {
					seq = binary.BigEndian.Uint64(val)
				}
				return nil
			})
			if err != nil {
				return err
			}
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		for i := range events {
			if events[i].Type == "" {
				return event.ErrInvalidEvent
			}
			if events[i].Meta.EventID == "" {
				events[i].Meta.EventID = uuid.New().String()
			}
			seq++
			events[i].Sequence = seq
			events[i].Meta.AggregateID = aggregateID

			data, err := j.registry.Encode(events[i])
			if err != nil {
				return err
			}
			if err := txn.Set(j.eventKey(aggregateID, seq), data); err != nil {
				return err
			}
		}

		seqBytes := make([]byte, 8)
		binary.BigEndian.PutUint64(seqBytes, seq)
		return txn.Set(j.seqKey(aggregateID), seqBytes)
	})
	if err != nil {
		if errors.Is(err, event.ErrInvalidEvent) || errors.Is(err, event.ErrUnregisteredType) {
			return err
		}
		return errors.Join(event.ErrJournalFailure, err)
	}

	j.fan.Publish(events)
	return nil
}

// Load retrieves all events for an aggregate in sequence order.
func (j *Journal) Load(ctx context.Context, aggregateID string) ([]event.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return j.scanPrefix([]byte(j.keyPrefix + "events:" + aggregateID + ":"))
}

// Subscribe returns the filtered feed: a replay of the stored log, then
// live appends made through this journal instance.
func (j *Journal) Subscribe(ctx context.Context, filter event.Filter) (<-chan event.Event, error) {
	return j.fan.Subscribe(ctx, filter, func(context.Context) ([]event.Event, error) {
		return j.scanPrefix([]byte(j.keyPrefix + "events:"))
	})
}

// scanPrefix iterates keys under the prefix in sorted order, decoding each
// stored event.
func (j *Journal) scanPrefix(prefix []byte) ([]event.Event, error) {
	var events []event.Event
	err := j.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				e, err := j.registry.Decode(val)
				if err != nil {
					return err
				}
				events = append(events, e)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, event.ErrUnregisteredType) {
			return nil, err
		}
		return nil, errors.Join(event.ErrJournalFailure, err)
	}
	return events, nil
}

// Ensure Journal implements event.Journal.
var _ event.Journal = (*Journal)(nil)
