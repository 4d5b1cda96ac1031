// Package checkpoint defines the per-partition progress marker persisted by a
// pipeline and the pluggable stores that keep it across restarts.
package checkpoint

import (
	"context"
	"fmt"
	"maps"
)

// Unknown marks a field that has never been written.
const Unknown int64 = -1

// Checkpoint is the resume state of one partition.
//
// NextOffset and NextEventTime point at the oldest event not yet flushed.
// MaxEventTime is the largest event time flushed so far and never decreases.
type Checkpoint struct {
	NextOffset    int64
	NextEventTime int64
	MaxEventTime  int64
}

// None returns a checkpoint with every field unknown.
func None() Checkpoint {
	return Checkpoint{NextOffset: Unknown, NextEventTime: Unknown, MaxEventTime: Unknown}
}

// Valid reports whether all three fields were persisted.
func (c Checkpoint) Valid() bool {
	return c.NextOffset >= 0 && c.NextEventTime >= 0 && c.MaxEventTime >= 0
}

func (c Checkpoint) String() string {
	return fmt.Sprintf("Checkpoint{nextOffset=%d, nextEventTime=%d, maxEventTime=%d}",
		c.NextOffset, c.NextEventTime, c.MaxEventTime)
}

// Store persists checkpoints for a fixed (pipeline, topic) namespace.
type Store interface {
	// Load returns one checkpoint per requested partition. Partitions that were
	// never saved map to None().
	Load(ctx context.Context, partitions []int32) (map[int32]Checkpoint, error)
	Save(ctx context.Context, cps map[int32]Checkpoint) error
	Close() error
}

// Clone copies a checkpoint map so that callers can keep mutating theirs.
func Clone(cps map[int32]Checkpoint) map[int32]Checkpoint {
	return maps.Clone(cps)
}

// Equal reports whether two snapshots hold the same checkpoints.
func Equal(a, b map[int32]Checkpoint) bool {
	return maps.Equal(a, b)
}

// FromColumns builds a checkpoint from stored columns. Rows written before
// next_event_time existed only carry max_event_time, which had the same meaning.
func FromColumns(nextOffset int64, nextEventTime *int64, maxEventTime int64) Checkpoint {
	cp := Checkpoint{NextOffset: nextOffset, NextEventTime: maxEventTime, MaxEventTime: maxEventTime}
	if nextEventTime != nil {
		cp.NextEventTime = *nextEventTime
	}
	return cp
}
