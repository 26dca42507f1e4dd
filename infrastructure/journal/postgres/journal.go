// Package postgres provides a PostgreSQL-backed implementation of
// event.Journal using pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/felixgeelhaar/sourcing-go/domain/event"
	"github.com/felixgeelhaar/sourcing-go/infrastructure/journal/fanout"
)

// Journal is a PostgreSQL-backed implementation of event.Journal. Facts
// round-trip through the codec registry; subscriptions are served from the
// in-process multicaster seeded by a table scan.
type Journal struct {
	pool     *pgxpool.Pool
	schema   string
	registry *event.Registry
	fan      *fanout.Multicaster
}

// NewJournal creates a PostgreSQL journal. Every fact type the journal
// will see must be registered on registry.
func NewJournal(pool *pgxpool.Pool, schema string, registry *event.Registry) *Journal {
	if schema == "" {
		schema = "public"
	}
	return &Journal{
		pool:     pool,
		schema:   schema,
		registry: registry,
		fan:      fanout.New(),
	}
}

// tableName returns the fully qualified table name.
func (j *Journal) tableName() string {
	return fmt.Sprintf("%s.events", j.schema)
}

// EnsureSchema creates the events table when it does not exist.
func (j *Journal) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			event_id     TEXT PRIMARY KEY,
			aggregate_id TEXT NOT NULL,
			command_id   TEXT NOT NULL,
			type         TEXT NOT NULL,
			timestamp    TIMESTAMPTZ NOT NULL,
			tags         TEXT[] NOT NULL DEFAULT '{}',
			payload      JSONB NOT NULL,
			sequence     BIGINT NOT NULL,
			UNIQUE (aggregate_id, sequence)
		)
	`, j.tableName())

	if _, err := j.pool.Exec(ctx, ddl); err != nil {
		return j.wrapError(err)
	}
	return nil
}

// Append atomically persists the events under the aggregate id, assigning
// contiguous sequence numbers in place.
func (j *Journal) Append(ctx context.Context, aggregateID string, events []event.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := j.pool.Begin(ctx)
	if err != nil {
		return j.wrapError(err)
	}
	defer tx.Rollback(ctx)

	var seq uint64
	var maxSeq *uint64
	err = tx.QueryRow(ctx,
		fmt.Sprintf("SELECT MAX(sequence) FROM %s WHERE aggregate_id = $1", j.tableName()),
		aggregateID,
	).Scan(&maxSeq)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return j.wrapError(err)
	}
	if maxSeq != nil {
		seq = *maxSeq
	}

	insert := fmt.Sprintf(`
		INSERT INTO %s (event_id, aggregate_id, command_id, type, timestamp, tags, payload, sequence)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, j.tableName())

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

		_, err = tx.Exec(ctx, insert,
			events[i].Meta.EventID,
			aggregateID,
			events[i].Meta.CommandID,
			string(events[i].Type),
			events[i].Meta.Timestamp,
			events[i].Meta.Tags,
			payload,
			events[i].Sequence,
		)
		if err != nil {
			return j.wrapError(err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return j.wrapError(err)
	}

	j.fan.Publish(events)
	return nil
}

// Load retrieves all events for an aggregate in sequence order.
func (j *Journal) Load(ctx context.Context, aggregateID string) ([]event.Event, error) {
	query := fmt.Sprintf(`
		SELECT event_id, aggregate_id, command_id, type, timestamp, tags, payload, sequence
		FROM %s
		WHERE aggregate_id = $1
		ORDER BY sequence ASC
	`, j.tableName())

	rows, err := j.pool.Query(ctx, query, aggregateID)
	if err != nil {
		return nil, j.wrapError(err)
	}
	defer rows.Close()

	return j.scanEvents(rows)
}

// Subscribe returns the filtered feed: a replay of the table, then live
// appends made through this journal instance.
func (j *Journal) Subscribe(ctx context.Context, filter event.Filter) (<-chan event.Event, error) {
	return j.fan.Subscribe(ctx, filter, j.loadAll)
}

// loadAll scans the whole table, per-aggregate order preserved.
func (j *Journal) loadAll(ctx context.Context) ([]event.Event, error) {
	query := fmt.Sprintf(`
		SELECT event_id, aggregate_id, command_id, type, timestamp, tags, payload, sequence
		FROM %s
		ORDER BY aggregate_id, sequence ASC
	`, j.tableName())

	rows, err := j.pool.Query(ctx, query)
	if err != nil {
		return nil, j.wrapError(err)
	}
	defer rows.Close()

	return j.scanEvents(rows)
}

// scanEvents scans rows into events, decoding payloads through the
// registry.
func (j *Journal) scanEvents(rows pgx.Rows) ([]event.Event, error) {
	var events []event.Event
	for rows.Next() {
		var (
			e         event.Event
			eventType string
			payload   []byte
		)
		err := rows.Scan(
			&e.Meta.EventID,
			&e.Meta.AggregateID,
			&e.Meta.CommandID,
			&eventType,
			&e.Meta.Timestamp,
			&e.Meta.Tags,
			&payload,
			&e.Sequence,
		)
		if err != nil {
			return nil, j.wrapError(err)
		}
		e.Type = event.Type(eventType)
		e.Data, err = j.registry.DecodeData(e.Type, payload)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// wrapError marks database errors as journal failures.
func (j *Journal) wrapError(err error) error {
	if err == nil {
		return nil
	}
	return errors.Join(event.ErrJournalFailure, err)
}

// Ensure Journal implements event.Journal.
var _ event.Journal = (*Journal)(nil)
