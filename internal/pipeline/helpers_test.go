package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"logpipe/checkpoint/memory"
	"logpipe/internal/codec"
	"logpipe/internal/event"
	"logpipe/source/kafka"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock(ms int64) *fakeClock { return &fakeClock{t: time.UnixMilli(ms)} }

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) set(ms int64) {
	c.mu.Lock()
	c.t = time.UnixMilli(ms)
	c.mu.Unlock()
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type recordingSink struct {
	mu        sync.Mutex
	events    []event.Event
	okBudget  int // deliveries that succeed before deliverErr applies; <0 = unlimited
	deliverEr error
	syncErr   error
	flushes   int
	syncs     int
	started   bool
	closed    bool
}

func newRecordingSink() *recordingSink { return &recordingSink{okBudget: -1} }

func (s *recordingSink) Configure(any) error { return nil }

func (s *recordingSink) Start(context.Context) error {
	s.mu.Lock()
	s.started = true
	s.mu.Unlock()
	return nil
}

func (s *recordingSink) Deliver(_ context.Context, ev event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deliverEr != nil {
		if s.okBudget == 0 {
			return s.deliverEr
		}
		if s.okBudget > 0 {
			s.okBudget--
		}
	}
	s.events = append(s.events, ev)
	return nil
}

func (s *recordingSink) Flush(context.Context) error {
	s.mu.Lock()
	s.flushes++
	s.mu.Unlock()
	return nil
}

func (s *recordingSink) Sync(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncs++
	return s.syncErr
}

func (s *recordingSink) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// failAfter makes deliveries fail once n more have succeeded.
func (s *recordingSink) failAfter(n int, err error) {
	s.mu.Lock()
	s.okBudget, s.deliverEr = n, err
	s.mu.Unlock()
}

func (s *recordingSink) heal() {
	s.mu.Lock()
	s.okBudget, s.deliverEr = -1, nil
	s.mu.Unlock()
}

func (s *recordingSink) delivered() []event.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]event.Event(nil), s.events...)
}

func times(evs []event.Event) []int64 {
	out := make([]int64, len(evs))
	for i, e := range evs {
		out[i] = e.Time
	}
	return out
}

func equalInts(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

var errSink = errors.New("sink unavailable")

type harness struct {
	p     *Pipeline
	topic *kafka.MemTopic
	sink  *recordingSink
	store *memory.Store
	clock *fakeClock
	slept []time.Duration
}

type option func(*kafka.Config, *kafka.MemTopic)

func withMaxSize(n int64) option {
	return func(c *kafka.Config, _ *kafka.MemTopic) { c.Buffer.MaxSize = n }
}

func withDelay(d time.Duration) option {
	return func(c *kafka.Config, _ *kafka.MemTopic) { c.Buffer.EventDelay = d }
}

func withInterval(d time.Duration) option {
	return func(c *kafka.Config, _ *kafka.MemTopic) { c.Checkpoint.Interval = d }
}

// newHarness builds a pipeline over an in-memory topic without starting the
// control goroutine, so tests can drive iterations one by one.
func newHarness(t *testing.T, topic *kafka.MemTopic, store *memory.Store, partitions []int32, opts ...option) *harness {
	t.Helper()
	if topic == nil {
		topic = kafka.NewMemTopic()
	}
	if store == nil {
		store = memory.New()
	}
	cfg := kafka.Config{
		Brokers:    []string{"mem"},
		Topic:      "logs",
		Partitions: partitions,
		Buffer:     kafka.BufferCfg{MaxSize: 1 << 20, EventDelay: time.Second},
		Checkpoint: kafka.CheckpointCfg{Interval: 10 * time.Second},
	}
	for _, o := range opts {
		o(&cfg, topic)
	}
	cfg = cfg.WithDefaults()

	h := &harness{topic: topic, sink: newRecordingSink(), store: store, clock: newClock(0)}
	p, err := New("test/"+t.Name(), cfg, Deps{
		Broker:  topic.Broker(),
		Store:   store,
		Sink:    h.sink,
		Decoder: codec.Raw{},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	p.now = h.clock.now
	p.sleep = func(_ context.Context, d time.Duration) { h.slept = append(h.slept, d) }
	p.retry = time.Millisecond
	h.p = p
	return h
}

// open prepares the pipeline like Start without launching the control
// goroutine, then resolves offsets synchronously.
func (h *harness) open(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	p := h.p
	if err := p.open(ctx); err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(p.pool.stop)
	if err := p.resolveAll(ctx); err != nil {
		t.Fatalf("resolve: %v", err)
	}
}

func (h *harness) append(partition int32, ts ...int64) {
	for _, v := range ts {
		h.topic.Append(partition, nil, []byte("0123456789"), v)
	}
}
