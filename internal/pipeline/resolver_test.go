package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"logpipe/checkpoint"
	"logpipe/source/kafka"
)

// flakyBroker fails the first n earliest-offset lookups.
type flakyBroker struct {
	kafka.Broker
	mu    sync.Mutex
	fails int
	calls int
}

func (f *flakyBroker) EarliestOffset(ctx context.Context, partition int32) (int64, error) {
	f.mu.Lock()
	f.calls++
	fail := f.fails > 0
	if fail {
		f.fails--
	}
	f.mu.Unlock()
	if fail {
		return -1, kafka.ErrLeaderNotAvailable
	}
	return f.Broker.EarliestOffset(ctx, partition)
}

func TestStartOffset(t *testing.T) {
	topic := kafka.NewMemTopic()
	for i := 0; i < 10; i++ {
		topic.Append(0, nil, []byte("x"), int64(i))
	}
	topic.Truncate(0, 3)
	b := topic.Broker()

	cases := []struct {
		name string
		cp   checkpoint.Checkpoint
		want int64
	}{
		{"none", checkpoint.None(), 3},
		{"zero", checkpoint.Checkpoint{}, 3},
		{"inside", checkpoint.Checkpoint{NextOffset: 5, NextEventTime: 5, MaxEventTime: 4}, 5},
		{"below earliest", checkpoint.Checkpoint{NextOffset: 1, NextEventTime: 1, MaxEventTime: 0}, 3},
		{"above latest", checkpoint.Checkpoint{NextOffset: 11, NextEventTime: 1, MaxEventTime: 0}, 3},
		{"at latest", checkpoint.Checkpoint{NextOffset: 10, NextEventTime: 9, MaxEventTime: 9}, 10},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := StartOffset(context.Background(), b, tc.cp, 0)
			if err != nil {
				t.Fatal(err)
			}
			if got != tc.want {
				t.Fatalf("want %d, got %d", tc.want, got)
			}
		})
	}
}

func TestResolveAll_RetriesOnlyFailedPartitions(t *testing.T) {
	h := newHarness(t, nil, nil, []int32{0, 1})
	h.append(0, 1, 2)
	h.append(1, 1)
	fb := &flakyBroker{Broker: h.p.broker, fails: 3}
	h.p.broker = fb
	h.open(t)

	if fb.calls != 5 {
		t.Fatalf("want 5 lookups (2 + 2 + 1), got %d", fb.calls)
	}
	if len(h.slept) != 2 || h.slept[0] != h.p.retry {
		t.Fatalf("want two retry pauses, got %v", h.slept)
	}
	if h.p.offsets[0] != 0 || h.p.offsets[1] != 0 {
		t.Fatalf("unexpected offsets %v", h.p.offsets)
	}
}

func TestResolveAll_StopsWhenCancelled(t *testing.T) {
	h := newHarness(t, nil, nil, []int32{0})
	h.p.broker = &flakyBroker{Broker: h.p.broker, fails: 1 << 30}
	if err := h.p.open(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(h.p.pool.stop)

	ctx, cancel := context.WithCancel(context.Background())
	h.p.sleep = func(context.Context, time.Duration) { cancel() }
	if err := h.p.resolveAll(ctx); err == nil {
		t.Fatal("resolveAll must give up once ctx is done")
	}
}

func TestResolveAll_PullsBackCheckpointBeyondLog(t *testing.T) {
	h := newHarness(t, nil, nil, []int32{0})
	h.append(0, 1, 2, 3, 4, 5)
	if err := h.store.Save(context.Background(), map[int32]checkpoint.Checkpoint{
		0: {NextOffset: 20, NextEventTime: 5, MaxEventTime: 5},
	}); err != nil {
		t.Fatal(err)
	}
	h.open(t)

	if h.p.offsets[0] != 0 {
		t.Fatalf("want restart from earliest, got %d", h.p.offsets[0])
	}
	if cp := h.p.checkpoints[0]; cp.NextOffset != 0 {
		t.Fatalf("checkpoint must follow the reset, got %v", cp)
	}
}
