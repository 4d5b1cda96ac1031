package kafka

import (
	"context"
	"errors"
)

var (
	// ErrOffsetOutOfRange means the requested offset is no longer (or not yet)
	// stored by the broker, typically because retention removed it.
	ErrOffsetOutOfRange = errors.New("kafka: offset out of range")
	// ErrLeaderNotAvailable means the partition has no reachable leader right
	// now. Callers retry on a later iteration.
	ErrLeaderNotAvailable = errors.New("kafka: leader not available")
)

// Record is one fetched message.
type Record struct {
	Offset int64
	Key    []byte
	Value  []byte
	// Timestamp is the broker timestamp in unix ms, -1 when absent.
	Timestamp int64
}

// Broker fetches records of a single topic by explicit offset. Consumer group
// coordination is not used; progress lives in checkpoints.
type Broker interface {
	Configure(Config) error
	// Fetch returns records of partition starting at offset, bounded by
	// roughly maxBytes. An empty slice means the partition has no newer data.
	Fetch(ctx context.Context, partition int32, offset int64, maxBytes int32) ([]Record, error)
	EarliestOffset(ctx context.Context, partition int32) (int64, error)
	LatestOffset(ctx context.Context, partition int32) (int64, error)
	Close() error
}
