package kafka

import (
	"context"
	"fmt"
	"sync"
)

// MemTopic is an in-process partitioned log. It backs the "memory" driver used
// for local runs and tests.
type MemTopic struct {
	mu    sync.Mutex
	parts map[int32]*memPartition
}

type memPartition struct {
	start   int64 // offset of recs[0]
	recs    []Record
	failErr error
	failN   int
	fetches int
}

var (
	memMu     sync.Mutex
	memTopics = map[string]*MemTopic{}
)

// SharedMemTopic returns the process-wide topic registered under name,
// creating it on first use.
func SharedMemTopic(name string) *MemTopic {
	memMu.Lock()
	defer memMu.Unlock()
	t, ok := memTopics[name]
	if !ok {
		t = NewMemTopic()
		memTopics[name] = t
	}
	return t
}

func NewMemTopic() *MemTopic {
	return &MemTopic{parts: map[int32]*memPartition{}}
}

func (t *MemTopic) part(p int32) *memPartition {
	mp, ok := t.parts[p]
	if !ok {
		mp = &memPartition{}
		t.parts[p] = mp
	}
	return mp
}

// Append adds a record and returns its offset.
func (t *MemTopic) Append(partition int32, key, value []byte, ts int64) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	mp := t.part(partition)
	off := mp.start + int64(len(mp.recs))
	mp.recs = append(mp.recs, Record{Offset: off, Key: key, Value: value, Timestamp: ts})
	return off
}

// Truncate drops every record below offset, the way retention would.
func (t *MemTopic) Truncate(partition int32, offset int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	mp := t.part(partition)
	end := mp.start + int64(len(mp.recs))
	if offset > end {
		offset = end
	}
	if offset <= mp.start {
		return
	}
	mp.recs = append([]Record(nil), mp.recs[offset-mp.start:]...)
	mp.start = offset
}

// FailFetches makes the next n fetches of partition return err.
func (t *MemTopic) FailFetches(partition int32, err error, n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	mp := t.part(partition)
	mp.failErr, mp.failN = err, n
}

// Fetches returns how many fetches partition served, failed ones included.
func (t *MemTopic) Fetches(partition int32) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.part(partition).fetches
}

func (t *MemTopic) fetch(partition int32, offset int64, maxBytes int32) ([]Record, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	mp := t.part(partition)
	mp.fetches++
	if mp.failN > 0 {
		mp.failN--
		return nil, mp.failErr
	}
	end := mp.start + int64(len(mp.recs))
	if offset < mp.start || offset > end {
		return nil, fmt.Errorf("%w: partition %d offset %d not in [%d, %d]",
			ErrOffsetOutOfRange, partition, offset, mp.start, end)
	}
	var (
		out  []Record
		size int64
	)
	for _, r := range mp.recs[offset-mp.start:] {
		size += int64(len(r.Value))
		if len(out) > 0 && size > int64(maxBytes) {
			break
		}
		out = append(out, r)
	}
	return out, nil
}

func (t *MemTopic) bounds(partition int32) (int64, int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	mp := t.part(partition)
	return mp.start, mp.start + int64(len(mp.recs))
}

// Broker returns a driver reading from t.
func (t *MemTopic) Broker() *MemDriver {
	return &MemDriver{topic: t}
}

// MemDriver implements Broker on top of a MemTopic.
type MemDriver struct {
	topic *MemTopic
}

// Configure binds the driver to the shared topic named in config unless it
// was created from a MemTopic.
func (d *MemDriver) Configure(config Config) error {
	if d.topic == nil {
		d.topic = SharedMemTopic(config.Topic)
	}
	return nil
}

func (d *MemDriver) Fetch(ctx context.Context, partition int32, offset int64, maxBytes int32) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return d.topic.fetch(partition, offset, maxBytes)
}

func (d *MemDriver) EarliestOffset(ctx context.Context, partition int32) (int64, error) {
	if err := ctx.Err(); err != nil {
		return -1, err
	}
	start, _ := d.topic.bounds(partition)
	return start, nil
}

func (d *MemDriver) LatestOffset(ctx context.Context, partition int32) (int64, error) {
	if err := ctx.Err(); err != nil {
		return -1, err
	}
	_, end := d.topic.bounds(partition)
	return end, nil
}

func (d *MemDriver) Close() error { return nil }
