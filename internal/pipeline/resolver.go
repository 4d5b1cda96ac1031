package pipeline

import (
	"context"
	"fmt"
	"time"

	"logpipe/checkpoint"
	"logpipe/internal/logging"
	"logpipe/source/kafka"
)

// DefaultResolveRetry is the pause between attempts to resolve partitions
// whose start offset could not be determined.
const DefaultResolveRetry = 2 * time.Second

// StartOffset returns the offset partition should be fetched from given its
// persisted checkpoint. Unknown checkpoints and checkpoints pointing outside
// the broker's retained range start from the earliest available offset.
func StartOffset(ctx context.Context, b kafka.Broker, cp checkpoint.Checkpoint, partition int32) (int64, error) {
	earliest, err := b.EarliestOffset(ctx, partition)
	if err != nil {
		return -1, fmt.Errorf("earliest offset: %w", err)
	}
	if !cp.Valid() || cp.NextOffset <= 0 {
		return earliest, nil
	}
	latest, err := b.LatestOffset(ctx, partition)
	if err != nil {
		return -1, fmt.Errorf("latest offset: %w", err)
	}
	if cp.NextOffset < earliest || cp.NextOffset > latest {
		logging.L().Warn("checkpoint outside retained range, starting from earliest",
			"partition", partition, "checkpoint", cp.String(),
			"earliest", earliest, "latest", latest)
		return earliest, nil
	}
	return cp.NextOffset, nil
}

// resolveAll seeds the fetch offset of every partition. Partitions that fail
// are retried until they resolve or ctx is done; resolved ones are kept.
func (p *Pipeline) resolveAll(ctx context.Context) error {
	pending := append([]int32(nil), p.cfg.Partitions...)
	for {
		var failed []int32
		for _, part := range pending {
			cp, ok := p.checkpoints[part]
			if !ok {
				cp = checkpoint.None()
			}
			rctx, cancel := context.WithTimeout(ctx, p.cfg.SocketTimeout)
			off, err := StartOffset(rctx, p.broker, cp, part)
			cancel()
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				p.outage.Warn("failed to resolve start offset, will retry",
					"pipeline", p.name, "partition", part, "err", err)
				failed = append(failed, part)
				continue
			}
			p.rewind(part, off)
			p.log.Info("partition resolved", "partition", part, "offset", off)
		}
		if len(failed) == 0 {
			return nil
		}
		pending = failed

		p.sleep(ctx, p.retry)
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}
