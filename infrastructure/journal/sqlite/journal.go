// Package sqlite provides a SQLite-backed implementation of event.Journal
// on database/sql with the mattn driver.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/felixgeelhaar/sourcing-go/domain/event"
	"github.com/felixgeelhaar/sourcing-go/infrastructure/journal/fanout"
)

// Journal is a SQLite-backed implementation of event.Journal. Facts
// round-trip through the codec registry.
type Journal struct {
	db       *sql.DB
	registry *event.Registry
	fan      *fanout.Multicaster
	ownsDB   bool
}

// NewJournal opens (or creates) the database at path and migrates the
// schema. Use ":memory:" for an in-process database.
func NewJournal(path string, registry *event.Registry) (*Journal, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Join(event.ErrJournalFailure, err)
	}
	// SQLite allows one writer; a second connection would fail with
	// SQLITE_BUSY under the single-writer workers' parallel appends.
	db.SetMaxOpenConns(1)

	j, err := NewJournalFromDB(db, registry)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	j.ownsDB = true
	return j, nil
}

// NewJournalFromDB creates a journal over an existing connection and
// migrates the schema.
func NewJournalFromDB(db *sql.DB, registry *event.Registry) (*Journal, error) {
	j := &Journal{
		db:       db,
		registry: registry,
		fan:      fanout.New(),
	}
	if err := j.migrate(); err != nil {
		return nil, err
	}
	return j, nil
}

// Close closes the underlying database when this journal opened it.
func (j *Journal) Close() error {
	if !j.ownsDB {
		return nil
	}
	return j.db.Close()
}

// migrate creates the events table if it doesn't exist.
func (j *Journal) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS events (
			event_id     TEXT PRIMARY KEY,
			aggregate_id TEXT NOT NULL,
			command_id   TEXT NOT NULL,
			type         TEXT NOT NULL,
			timestamp    INTEGER NOT NULL,
			tags         TEXT NOT NULL,
			payload      BLOB NOT NULL,
			sequence     INTEGER NOT NULL
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_events_aggregate_seq ON events(aggregate_id, sequence);
	`
	if _, err := j.db.Exec(schema); err != nil {
		return errors.Join(event.ErrJournalFailure, err)
	}
	return nil
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

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Join(event.ErrJournalFailure, err)
	}
	defer func() { _ = tx.Rollback() }()

	var seq uint64
	var maxSeq sql.NullInt64
	err = tx.QueryRowContext(ctx,
		"SELECT MAX(sequence) FROM events WHERE aggregate_id = ?", aggregateID,
	).Scan(&maxSeq)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return errors.Join(event.ErrJournalFailure, err)
	}
	if maxSeq.Valid {
		seq = uint64(maxSeq.Int64)
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

		payload, err := j.registry.EncodeData(events[i])
		if err != nil {
			return err
		}
		tags, err := json.Marshal(events[i].Meta.Tags)
		if err != nil {
			return errors.Join(event.ErrJournalFailure, err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO events (event_id, aggregate_id, command_id, type, timestamp, tags, payload, sequence)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			events[i].Meta.EventID,
			aggregateID,
			events[i].Meta.CommandID,
			string(events[i].Type),
			events[i].Meta.Timestamp.UnixNano(),
			string(tags),
			payload,
			events[i].Sequence,
		)
		if err != nil {
			return errors.Join(event.ErrJournalFailure, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Join(event.ErrJournalFailure, err)
	}

	j.fan.Publish(events)
	return nil
}

// Load retrieves all events for an aggregate in sequence order.
func (j *Journal) Load(ctx context.Context, aggregateID string) ([]event.Event, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT event_id, aggregate_id, command_id, type, timestamp, tags, payload, sequence
		FROM events WHERE aggregate_id = ? ORDER BY sequence ASC`, aggregateID)
	if err != nil {
		return nil, errors.Join(event.ErrJournalFailure, err)
	}
	defer rows.Close()

	return j.scanEvents(rows)
}

// Subscribe returns the filtered feed: a replay of the table, then live
// appends made through this journal instance.
func (j *Journal) Subscribe(ctx context.Context, filter event.Filter) (<-chan event.Event, error) {
	return j.fan.Subscribe(ctx, filter, func(ctx context.Context) ([]event.Event, error) {
		rows, err := j.db.QueryContext(ctx, `
			SELECT event_id, aggregate_id, command_id, type, timestamp, tags, payload, sequence
			FROM events ORDER BY aggregate_id, sequence ASC`)
		if err != nil {
			return nil, errors.Join(event.ErrJournalFailure, err)
		}
		defer rows.Close()
		return j.scanEvents(rows)
	})
}

// scanEvents scans rows into events, decoding payloads through the
// registry.
func (j *Journal) scanEvents(rows *sql.Rows) ([]event.Event, error) {
	var events []event.Event
	for rows.Next() {
		var (
			e         event.Event
			eventType string
			ts        int64
			tags      string
			payload   []byte
		)
		err := rows.Scan(
			&e.Meta.EventID,
			&e.Meta.AggregateID,
			&e.Meta.CommandID,
			&eventType,
			&ts,
			&tags,
			&payload,
			&e.Sequence,
		)
		if err != nil {
			return nil, errors.Join(event.ErrJournalFailure, err)
		}
		e.Type = event.Type(eventType)
		e.Meta.Timestamp = time.Unix(0, ts).UTC()
		if err := json.Unmarshal([]byte(tags), &e.Meta.Tags); err != nil {
			return nil, errors.Join(event.ErrJournalFailure, err)
		}
		e.Data, err = j.registry.DecodeData(e.Type, payload)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Ensure Journal implements event.Journal.
var _ event.Journal = (*Journal)(nil)
