// Package sqlstore keeps checkpoints in a relational table shared by the
// sqlite and postgres stores. Rows are keyed by (pipeline, topic, partition).
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"logpipe/checkpoint"
)

const schema = `
CREATE TABLE IF NOT EXISTS log_checkpoints (
	pipeline TEXT NOT NULL,
	topic TEXT NOT NULL,
	partition_id INTEGER NOT NULL,
	next_offset BIGINT NOT NULL,
	next_event_time BIGINT,
	max_event_time BIGINT NOT NULL,
	updated_at_ns BIGINT NOT NULL,
	PRIMARY KEY (pipeline, topic, partition_id)
);
`

const (
	selectQuery = `
SELECT partition_id, next_offset, next_event_time, max_event_time
FROM log_checkpoints
WHERE pipeline = ? AND topic = ?`

	upsertQuery = `
INSERT INTO log_checkpoints(pipeline, topic, partition_id, next_offset, next_event_time, max_event_time, updated_at_ns)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(pipeline, topic, partition_id)
DO UPDATE SET next_offset=excluded.next_offset, next_event_time=excluded.next_event_time,
	max_event_time=excluded.max_event_time, updated_at_ns=excluded.updated_at_ns`
)

// Dialect adapts the shared queries to a driver's bind variable syntax.
type Dialect struct {
	Name     string
	Numbered bool // $1, $2 ... instead of ?
}

var (
	SQLite   = Dialect{Name: "sqlite"}
	Postgres = Dialect{Name: "postgres", Numbered: true}
)

func (d Dialect) rebind(q string) string {
	if !d.Numbered {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

type Store struct {
	db       *sql.DB
	dialect  Dialect
	pipeline string
	topic    string

	selectQ string
	upsertQ string
}

// New wraps an open database and creates the table when missing.
func New(ctx context.Context, db *sql.DB, d Dialect, pipeline, topic string) (*Store, error) {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("%s: init schema: %w", d.Name, err)
	}
	return &Store{
		db:       db,
		dialect:  d,
		pipeline: pipeline,
		topic:    topic,
		selectQ:  d.rebind(selectQuery),
		upsertQ:  d.rebind(upsertQuery),
	}, nil
}

func (s *Store) Load(ctx context.Context, partitions []int32) (map[int32]checkpoint.Checkpoint, error) {
	out := make(map[int32]checkpoint.Checkpoint, len(partitions))
	for _, p := range partitions {
		out[p] = checkpoint.None()
	}

	rows, err := s.db.QueryContext(ctx, s.selectQ, s.pipeline, s.topic)
	if err != nil {
		return nil, fmt.Errorf("%s: load checkpoints: %w", s.dialect.Name, err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			partition     int32
			nextOffset    int64
			nextEventTime sql.NullInt64
			maxEventTime  int64
		)
		if err := rows.Scan(&partition, &nextOffset, &nextEventTime, &maxEventTime); err != nil {
			return nil, err
		}
		if _, wanted := out[partition]; !wanted {
			continue
		}
		var next *int64
		if nextEventTime.Valid {
			next = &nextEventTime.Int64
		}
		out[partition] = checkpoint.FromColumns(nextOffset, next, maxEventTime)
	}
	return out, rows.Err()
}

func (s *Store) Save(ctx context.Context, cps map[int32]checkpoint.Checkpoint) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: begin: %w", s.dialect.Name, err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, s.upsertQ)
	if err != nil {
		return fmt.Errorf("%s: prepare upsert: %w", s.dialect.Name, err)
	}
	defer stmt.Close()

	now := time.Now().UTC().UnixNano()
	for p, cp := range cps {
		if _, err := stmt.ExecContext(ctx, s.pipeline, s.topic, p, cp.NextOffset, cp.NextEventTime, cp.MaxEventTime, now); err != nil {
			return fmt.Errorf("%s: save partition %d: %w", s.dialect.Name, p, err)
		}
	}
	return tx.Commit()
}

func (s *Store) Close() error {
	return s.db.Close()
}
