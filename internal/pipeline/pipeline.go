// Package pipeline consumes a partitioned Kafka topic, merges partitions by
// event time within a bounded window, and delivers events to a sink while
// persisting per-partition checkpoints. Delivery is at-least-once.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"logpipe/checkpoint"
	"logpipe/internal/codec"
	"logpipe/internal/event"
	"logpipe/internal/eventqueue"
	"logpipe/internal/logging"
	"logpipe/internal/telemetry"
	"logpipe/sink"
	"logpipe/source/kafka"
)

// stopTimeout bounds the final drain and persist on Stop.
const stopTimeout = 30 * time.Second

// Deps are the collaborators of a pipeline. Broker and Sink must already be
// configured; the pipeline owns all of them and closes them on Stop.
type Deps struct {
	Broker  kafka.Broker
	Store   checkpoint.Store
	Sink    sink.Adapter
	Decoder codec.Decoder
}

type Pipeline struct {
	name string
	cfg  kafka.Config

	broker kafka.Broker
	store  checkpoint.Store
	sink   sink.Adapter
	dec    codec.Decoder

	log     *slog.Logger
	outage  *logging.Sampler
	metrics *telemetry.Pipeline
	now     func() time.Time
	sleep   func(context.Context, time.Duration)
	retry   time.Duration
	bp      backpressure

	// owned by the control goroutine once started
	queue       *eventqueue.Queue
	offsets     map[int32]int64
	checkpoints map[int32]checkpoint.Checkpoint
	saved       map[int32]checkpoint.Checkpoint
	unsynced    int
	lastPersist time.Time
	pool        *fetchPool

	status atomic.Pointer[Status]

	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New validates cfg and assembles a pipeline. Nothing is started.
func New(name string, cfg kafka.Config, deps Deps) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Broker == nil || deps.Store == nil || deps.Sink == nil {
		return nil, errors.New("pipeline: broker, store and sink are required")
	}
	if deps.Decoder == nil {
		deps.Decoder = codec.Raw{}
	}
	return &Pipeline{
		name:        name,
		cfg:         cfg,
		broker:      deps.Broker,
		store:       deps.Store,
		sink:        deps.Sink,
		dec:         deps.Decoder,
		log:         logging.Pipeline(name),
		outage:      logging.Sampled(logging.OutageWindow),
		metrics:     telemetry.For(name),
		now:         time.Now,
		sleep:       sleep,
		retry:       DefaultResolveRetry,
		bp:          backpressure{maxSize: cfg.Buffer.MaxSize},
		queue:       eventqueue.New(cfg.Partitions),
		offsets:     make(map[int32]int64, len(cfg.Partitions)),
		checkpoints: make(map[int32]checkpoint.Checkpoint, len(cfg.Partitions)),
		done:        make(chan struct{}),
	}, nil
}

func (p *Pipeline) Name() string { return p.name }

// Status is a point-in-time view of a pipeline, safe to read from any
// goroutine.
type Status struct {
	Name           string
	Topic          string
	Running        bool
	BufferedEvents int
	BufferedBytes  int64
	Offsets        map[int32]int64
	Checkpoints    map[int32]checkpoint.Checkpoint
}

// Status returns the view published after the last iteration.
func (p *Pipeline) Status() Status {
	if st := p.status.Load(); st != nil {
		return *st
	}
	return Status{Name: p.name, Topic: p.cfg.Topic}
}

// publish must run on the control goroutine or after it exited.
func (p *Pipeline) publish(running bool) {
	p.status.Store(&Status{
		Name:           p.name,
		Topic:          p.cfg.Topic,
		Running:        running,
		BufferedEvents: p.queue.Len(),
		BufferedBytes:  p.queue.Bytes(),
		Offsets:        maps.Clone(p.offsets),
		Checkpoints:    checkpoint.Clone(p.checkpoints),
	})
}

// Start loads checkpoints, starts the sink and launches the control
// goroutine. The goroutine lives until Stop or until ctx is done.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.stopped {
		return fmt.Errorf("pipeline %s: already started", p.name)
	}

	if err := p.open(ctx); err != nil {
		return fmt.Errorf("pipeline %s: %w", p.name, err)
	}

	p.log.Info("pipeline starting", "topic", p.cfg.Topic, "partitions", p.cfg.Partitions,
		"checkpoints", len(p.checkpoints))

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.started = true
	go p.run(runCtx)
	return nil
}

// open loads checkpoints, starts the sink and the fetch pool.
func (p *Pipeline) open(ctx context.Context) error {
	loaded, err := p.store.Load(ctx, p.cfg.Partitions)
	if err != nil {
		return fmt.Errorf("load checkpoints: %w", err)
	}
	for part, cp := range loaded {
		if cp.Valid() {
			p.checkpoints[part] = cp
		}
	}
	p.saved = checkpoint.Clone(p.checkpoints)
	p.lastPersist = p.now()

	if err := p.sink.Start(ctx); err != nil {
		return fmt.Errorf("start sink: %w", err)
	}
	p.pool = newFetchPool(p.broker, len(p.cfg.Partitions), p.cfg.FetchBufferSize, p.cfg.SocketTimeout)
	p.publishConfig()
	return nil
}

func (p *Pipeline) publishConfig() {
	p.metrics.Config("partitions", len(p.cfg.Partitions))
	p.metrics.Config("buffer_max_size", p.cfg.Buffer.MaxSize)
	p.metrics.Config("event_delay_ms", p.cfg.Buffer.EventDelay)
	p.metrics.Config("checkpoint_interval_ms", p.cfg.Checkpoint.Interval)
	p.metrics.Config("fetch_buffer_size", p.cfg.FetchBufferSize)
}

func (p *Pipeline) run(ctx context.Context) {
	defer close(p.done)
	if err := p.resolveAll(ctx); err != nil {
		return
	}
	for ctx.Err() == nil {
		p.iterate(ctx)
	}
}

// iterate runs one fetch, flush, persist and sleep cycle.
func (p *Pipeline) iterate(ctx context.Context) {
	fetched := p.fetchAndMerge(ctx)
	if ctx.Err() != nil {
		return
	}
	now := p.nowMs()
	p.flush(ctx, now, p.bp.over(p.queue.Bytes()))
	untilCheckpoint := p.persist(ctx)
	p.publish(true)
	if fetched > 0 {
		return
	}
	if d := p.sleepFor(now, untilCheckpoint); d > 0 {
		p.sleep(ctx, d)
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (p *Pipeline) nowMs() int64 { return p.now().UnixMilli() }

// fetchAndMerge fetches every partition once and merges the records into the
// buffer. It returns how many records were consumed.
func (p *Pipeline) fetchAndMerge(ctx context.Context) int {
	consumed := 0
	for _, res := range p.pool.dispatch(ctx, p.offsets) {
		if res.err != nil {
			p.fetchFailed(ctx, res)
			continue
		}
		consumed += p.merge(ctx, res)
	}
	return consumed
}

func (p *Pipeline) merge(ctx context.Context, res fetchResult) int {
	n := 0
	for _, rec := range res.records {
		if p.bp.full(p.queue.Bytes()) && p.flush(ctx, p.nowMs(), true) == 0 {
			// leave the fetch offset here so the record is fetched again
			break
		}
		next := rec.Offset + 1
		d, err := p.dec.Decode(rec.Value, rec.Timestamp)
		if err != nil {
			p.metrics.DecodeError()
			p.log.Debug("skipping undecodable record", "partition", res.partition, "offset", rec.Offset, "err", err)
		} else {
			p.queue.Add(event.Event{
				Topic:     p.cfg.Topic,
				Partition: res.partition,
				Offset:    rec.Offset,
				Time:      d.Time,
				Size:      int64(len(d.Body)),
				Key:       rec.Key,
				Payload:   d.Body,
				Token:     event.Token{Offset: next, EventTime: d.Time},
			})
		}
		p.offsets[res.partition] = next
		n++
	}
	if n > 0 {
		p.metrics.FetchOffset(res.partition, p.offsets[res.partition])
	}
	return n
}

func (p *Pipeline) fetchFailed(ctx context.Context, res fetchResult) {
	if ctx.Err() != nil {
		return
	}
	switch {
	case errors.Is(res.err, kafka.ErrOffsetOutOfRange):
		p.metrics.FetchError(res.partition, "out_of_range")
		octx, cancel := context.WithTimeout(ctx, p.cfg.SocketTimeout)
		earliest, err := p.broker.EarliestOffset(octx, res.partition)
		cancel()
		if err != nil {
			p.outage.Warn("offset out of range and earliest offset unavailable",
				"pipeline", p.name, "partition", res.partition, "offset", res.offset, "err", err)
			return
		}
		p.outage.Warn("offset out of range, data before the retained range was skipped",
			"pipeline", p.name, "partition", res.partition, "offset", res.offset, "earliest", earliest)
		p.rewind(res.partition, earliest)
	case errors.Is(res.err, kafka.ErrLeaderNotAvailable):
		p.metrics.FetchError(res.partition, "leader")
		p.outage.Warn("partition leader not available",
			"pipeline", p.name, "partition", res.partition, "err", res.err)
	case errors.Is(res.err, context.DeadlineExceeded):
		p.metrics.FetchError(res.partition, "timeout")
		p.outage.Warn("fetch timed out", "pipeline", p.name, "partition", res.partition)
	default:
		p.metrics.FetchError(res.partition, "other")
		p.outage.Warn("fetch failed", "pipeline", p.name, "partition", res.partition, "err", res.err)
	}
}

// rewind moves the fetch offset of partition to off. A checkpoint ahead of off
// is pulled back with it; this only happens when the broker lost the log the
// checkpoint referred to.
func (p *Pipeline) rewind(partition int32, off int64) {
	p.offsets[partition] = off
	p.metrics.FetchOffset(partition, off)
	if cp, ok := p.checkpoints[partition]; ok && cp.NextOffset > off {
		cp.NextOffset = off
		p.checkpoints[partition] = cp
	}
}

// Stop terminates the control goroutine, delivers every buffered event,
// persists checkpoints and releases the broker, store and sink. It is safe to
// call more than once and from any goroutine.
func (p *Pipeline) Stop() error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	started := p.started
	p.mu.Unlock()
	if !started {
		return p.close()
	}

	p.cancel()
	<-p.done
	p.pool.stop()

	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()

	p.flush(ctx, math.MaxInt64, false)
	if !p.queue.Empty() {
		p.log.Warn("events left undelivered on stop, they will be fetched again",
			"events", p.queue.Len())
	}
	if err := p.syncAndSave(ctx); err == nil {
		p.unsynced = 0
	}

	p.publish(false)

	if err := p.close(); err != nil {
		return fmt.Errorf("pipeline %s: close: %w", p.name, err)
	}
	p.log.Info("pipeline stopped")
	return nil
}

func (p *Pipeline) close() error {
	return errors.Join(p.sink.Close(), p.store.Close(), p.broker.Close())
}

// Done is closed when the control goroutine has exited.
func (p *Pipeline) Done() <-chan struct{} { return p.done }
