package pipeline

import (
	"context"
	"time"

	"logpipe/checkpoint"
	"logpipe/internal/event"
)

// flush delivers buffered events in event-time order. Unless the buffer is
// above the retained size, it stops at the first event younger than
// now - event_delay. It returns how many events reached the sink.
func (p *Pipeline) flush(ctx context.Context, now int64, forced bool) int {
	retain := p.bp.retain(forced)
	if forced {
		p.metrics.ForcedFlush()
	}
	cutoff := now - p.cfg.Buffer.EventDelay.Milliseconds()

	var (
		flushed          int
		minDelay, maxDly int64
	)
	it := p.queue.Iterator()
	for it.Next() {
		ev := it.Event()
		if p.queue.Bytes() <= retain && ev.Time >= cutoff {
			break
		}
		if err := p.sink.Deliver(ctx, ev); err != nil {
			p.metrics.SinkError("deliver")
			p.outage.Warn("failed to deliver event, will retry",
				"pipeline", p.name, "partition", ev.Partition, "offset", ev.Offset, "err", err)
			break
		}
		it.Remove()
		p.advance(ev)

		delay := p.nowMs() - ev.Time
		if flushed == 0 || delay < minDelay {
			minDelay = delay
		}
		if delay > maxDly {
			maxDly = delay
		}
		flushed++
	}

	// nothing buffered means everything up to the fetch offset was handled
	for part, off := range p.offsets {
		if !p.queue.IsEmpty(part) {
			continue
		}
		if cp, ok := p.checkpoints[part]; ok && off > cp.NextOffset {
			cp.NextOffset = off
			cp.NextEventTime = cp.MaxEventTime
			p.checkpoints[part] = cp
		}
	}

	if err := p.sink.Flush(ctx); err != nil {
		p.metrics.SinkError("flush")
		p.outage.Warn("failed to flush sink", "pipeline", p.name, "err", err)
	}

	p.unsynced += flushed
	p.metrics.Flushed(flushed, minDelay, maxDly)
	p.metrics.Buffer(p.queue.Bytes(), p.queue.Len())
	return flushed
}

// advance moves the checkpoint of ev's partition after ev was delivered.
func (p *Pipeline) advance(ev event.Event) {
	tok, ok := p.queue.SmallestResumeToken(ev.Partition)
	if !ok {
		tok = ev.Token
	}
	cp, exists := p.checkpoints[ev.Partition]
	if !exists {
		p.checkpoints[ev.Partition] = checkpoint.Checkpoint{
			NextOffset:    tok.Offset,
			NextEventTime: tok.EventTime,
			MaxEventTime:  ev.Time,
		}
		return
	}
	if prev := (event.Token{Offset: cp.NextOffset, EventTime: cp.NextEventTime}); prev.Less(tok) {
		cp.NextOffset = tok.Offset
		cp.NextEventTime = tok.EventTime
	}
	if ev.Time > cp.MaxEventTime {
		cp.MaxEventTime = ev.Time
	}
	p.checkpoints[ev.Partition] = cp
}

// persist syncs the sink and saves checkpoints when events were flushed since
// the last save and the checkpoint interval elapsed. It returns how long until
// the next save is due.
func (p *Pipeline) persist(ctx context.Context) time.Duration {
	interval := p.cfg.Checkpoint.Interval
	if p.unsynced <= 0 {
		return interval
	}
	now := p.now()
	if elapsed := now.Sub(p.lastPersist); elapsed < interval {
		return interval - elapsed
	}
	if err := p.syncAndSave(ctx); err != nil {
		return interval
	}
	p.lastPersist = now
	p.unsynced = 0
	return interval
}

// syncAndSave makes delivered events durable, then stores the checkpoints.
// Identical snapshots are not written twice.
func (p *Pipeline) syncAndSave(ctx context.Context) error {
	if err := p.sink.Sync(ctx); err != nil {
		p.metrics.SinkError("sync")
		p.outage.Warn("failed to sync sink, checkpoints not persisted", "pipeline", p.name, "err", err)
		return err
	}
	if checkpoint.Equal(p.checkpoints, p.saved) {
		return nil
	}
	snap := checkpoint.Clone(p.checkpoints)
	err := p.store.Save(ctx, snap)
	p.metrics.CheckpointSave(err)
	if err != nil {
		p.outage.Warn("failed to persist checkpoints", "pipeline", p.name, "err", err)
		return err
	}
	p.saved = snap
	p.log.Debug("checkpoints persisted", "partitions", len(snap))
	return nil
}

// sleepFor returns how long the loop may idle after an iteration that fetched
// nothing: until the oldest buffered event leaves the time window, bounded by
// the next checkpoint.
func (p *Pipeline) sleepFor(now int64, untilCheckpoint time.Duration) time.Duration {
	d := p.cfg.Buffer.EventDelay
	if first, ok := p.queue.First(); ok {
		d += time.Duration(first.Time-now) * time.Millisecond
	}
	return min(d, untilCheckpoint)
}
