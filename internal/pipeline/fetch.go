package pipeline

import (
	"context"
	"sort"
	"sync"
	"time"

	"logpipe/source/kafka"
)

type fetchTask struct {
	ctx       context.Context
	partition int32
	offset    int64
	out       chan<- fetchResult
}

type fetchResult struct {
	partition int32
	offset    int64
	records   []kafka.Record
	err       error
}

// fetchPool runs partition fetches concurrently. Workers only talk to the
// broker; results are merged by the control goroutine.
type fetchPool struct {
	broker   kafka.Broker
	maxBytes int32
	timeout  time.Duration

	tasks chan fetchTask
	wg    sync.WaitGroup
	once  sync.Once
}

func newFetchPool(b kafka.Broker, workers int, maxBytes int32, timeout time.Duration) *fetchPool {
	if workers < 1 {
		workers = 1
	}
	fp := &fetchPool{
		broker:   b,
		maxBytes: maxBytes,
		timeout:  timeout,
		tasks:    make(chan fetchTask),
	}
	fp.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go fp.worker()
	}
	return fp
}

func (fp *fetchPool) worker() {
	defer fp.wg.Done()
	for t := range fp.tasks {
		ctx, cancel := context.WithTimeout(t.ctx, fp.timeout)
		recs, err := fp.broker.Fetch(ctx, t.partition, t.offset, fp.maxBytes)
		cancel()
		t.out <- fetchResult{partition: t.partition, offset: t.offset, records: recs, err: err}
	}
}

// dispatch fetches every partition of offsets once and returns the results
// ordered by partition. It returns early with what it has when ctx is done.
func (fp *fetchPool) dispatch(ctx context.Context, offsets map[int32]int64) []fetchResult {
	out := make(chan fetchResult, len(offsets))
	submitted := 0
	for p, off := range offsets {
		select {
		case fp.tasks <- fetchTask{ctx: ctx, partition: p, offset: off, out: out}:
			submitted++
		case <-ctx.Done():
		}
	}

	results := make([]fetchResult, 0, submitted)
	for i := 0; i < submitted; i++ {
		results = append(results, <-out)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].partition < results[j].partition })
	return results
}

func (fp *fetchPool) stop() {
	fp.once.Do(func() {
		close(fp.tasks)
		fp.wg.Wait()
	})
}
