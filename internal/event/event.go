// Package event holds the record shape that flows from the broker, through the
// merge buffer, into a sink.
package event

import "fmt"

// Token is the position a partition's consumer resumes from once every event up
// to and including the one carrying it has been flushed.
type Token struct {
	Offset    int64
	EventTime int64
}

// Less orders tokens by offset.
func (t Token) Less(o Token) bool { return t.Offset < o.Offset }

func (t Token) String() string {
	return fmt.Sprintf("%d@%d", t.Offset, t.EventTime)
}

// Event is a decoded broker record. It is never mutated after it is enqueued.
type Event struct {
	Topic     string
	Partition int32
	Offset    int64
	Time      int64 // logical event time, unix millis
	Size      int64 // estimate used for buffer accounting
	Key       []byte
	Payload   []byte
	Token     Token
}
