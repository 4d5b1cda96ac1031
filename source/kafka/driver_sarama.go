package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"logpipe/internal/logging"

	"github.com/IBM/sarama"
)

// SaramaDriver fetches by explicit offset straight from partition leaders.
type SaramaDriver struct {
	cfg     Config
	version sarama.KafkaVersion
	cl      sarama.Client
}

func (d *SaramaDriver) Configure(config Config) error {
	d.cfg = config

	ver, err := sarama.ParseKafkaVersion(config.Version)
	if err != nil {
		return err
	}
	d.version = ver

	sc := sarama.NewConfig()
	sc.Version = ver
	sc.ClientID = config.ClientID
	sc.Net.DialTimeout = config.SocketTimeout
	sc.Net.ReadTimeout = config.SocketTimeout
	sc.Net.WriteTimeout = config.SocketTimeout
	if config.TLSEn {
		sc.Net.TLS.Enable = true
	}
	if config.SASLUser != "" {
		sc.Net.SASL.Enable = true
		sc.Net.SASL.User, sc.Net.SASL.Password = config.SASLUser, config.SASLPass
	}

	d.cl, err = sarama.NewClient(config.Brokers, sc)
	return err
}

func (d *SaramaDriver) Fetch(ctx context.Context, partition int32, offset int64, maxBytes int32) ([]Record, error) {
	leader, err := d.cl.Leader(d.cfg.Topic, partition)
	if err != nil {
		return nil, fmt.Errorf("%w: partition %d: %v", ErrLeaderNotAvailable, partition, err)
	}

	req := d.fetchRequest(partition, offset, maxBytes)
	resp, err := call(ctx, func() (*sarama.FetchResponse, error) { return leader.Fetch(req) })
	if err != nil {
		if ctx.Err() == nil {
			// force a reconnect on the next Leader lookup
			_ = leader.Close()
			d.refresh()
		}
		return nil, fmt.Errorf("kafka: fetch partition %d: %w", partition, err)
	}

	block := resp.GetBlock(d.cfg.Topic, partition)
	if block == nil {
		return nil, fmt.Errorf("kafka: fetch partition %d: %w", partition, sarama.ErrIncompleteResponse)
	}
	if err := blockError(block.Err); err != nil {
		if errors.Is(err, ErrLeaderNotAvailable) {
			d.refresh()
		}
		return nil, fmt.Errorf("kafka: fetch partition %d at %d: %w", partition, offset, err)
	}

	recs := blockRecords(block, offset)
	if len(recs) == 0 && block.Partial {
		return nil, fmt.Errorf("kafka: record at partition %d offset %d exceeds fetch_buffer_size %d",
			partition, offset, maxBytes)
	}
	return recs, nil
}

func (d *SaramaDriver) EarliestOffset(ctx context.Context, partition int32) (int64, error) {
	return d.offset(ctx, partition, sarama.OffsetOldest)
}

func (d *SaramaDriver) LatestOffset(ctx context.Context, partition int32) (int64, error) {
	return d.offset(ctx, partition, sarama.OffsetNewest)
}

func (d *SaramaDriver) offset(ctx context.Context, partition int32, at int64) (int64, error) {
	off, err := call(ctx, func() (int64, error) { return d.cl.GetOffset(d.cfg.Topic, partition, at) })
	if err != nil {
		return -1, fmt.Errorf("kafka: offset lookup partition %d: %w", partition, mapClientError(err))
	}
	return off, nil
}

func (d *SaramaDriver) Close() error {
	if d.cl == nil {
		return nil
	}
	return d.cl.Close()
}

func (d *SaramaDriver) refresh() {
	if err := d.cl.RefreshMetadata(d.cfg.Topic); err != nil {
		logging.L().Debug("sarama-driver: metadata refresh failed", "topic", d.cfg.Topic, "err", err)
	}
}

func (d *SaramaDriver) fetchRequest(partition int32, offset int64, maxBytes int32) *sarama.FetchRequest {
	req := &sarama.FetchRequest{
		MinBytes:    1,
		MaxWaitTime: int32(d.cfg.SocketTimeout.Milliseconds() / 2),
		MaxBytes:    maxBytes,
	}
	switch {
	case d.version.IsAtLeast(sarama.V0_11_0_0):
		req.Version = 4
		req.Isolation = sarama.ReadUncommitted
	case d.version.IsAtLeast(sarama.V0_10_0_0):
		req.Version = 2
	}
	req.AddBlock(d.cfg.Topic, partition, offset, maxBytes, -1)
	return req
}

// call runs fn and returns early when ctx is done. fn keeps running in the
// background in that case; sarama bounds it with the socket timeout.
func call[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{v, err}
	}()
	select {
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case r := <-ch:
		return r.v, r.err
	}
}

func blockError(kerr sarama.KError) error {
	switch kerr {
	case sarama.ErrNoError:
		return nil
	case sarama.ErrOffsetOutOfRange:
		return ErrOffsetOutOfRange
	case sarama.ErrNotLeaderForPartition, sarama.ErrLeaderNotAvailable,
		sarama.ErrUnknownTopicOrPartition, sarama.ErrReplicaNotAvailable:
		return fmt.Errorf("%w: %v", ErrLeaderNotAvailable, kerr)
	default:
		return kerr
	}
}

func mapClientError(err error) error {
	var kerr sarama.KError
	if errors.As(err, &kerr) {
		if mapped := blockError(kerr); mapped != nil {
			return mapped
		}
	}
	return err
}

// blockRecords flattens legacy message sets and record batches of a fetch
// block. Records before offset are dropped since brokers return whole batches.
func blockRecords(block *sarama.FetchResponseBlock, offset int64) []Record {
	var out []Record
	for _, rs := range block.RecordsSet {
		switch {
		case rs.MsgSet != nil:
			out = appendMessageSet(out, rs.MsgSet, offset)
		case rs.RecordBatch != nil:
			out = appendRecordBatch(out, rs.RecordBatch, offset)
		}
	}
	return out
}

func appendMessageSet(out []Record, set *sarama.MessageSet, offset int64) []Record {
	for _, outer := range set.Messages {
		if outer.Msg == nil {
			continue
		}
		inner := outer.Messages()
		for _, mb := range inner {
			off := mb.Offset
			ts := mb.Msg.Timestamp
			if mb.Msg.Version >= 1 && outer.Msg.Set != nil {
				// inner offsets of compressed v1 sets are relative
				off += outer.Offset - inner[len(inner)-1].Offset
				if mb.Msg.LogAppendTime {
					ts = outer.Msg.Timestamp
				}
			}
			if off < offset {
				continue
			}
			out = append(out, Record{
				Offset:    off,
				Key:       mb.Msg.Key,
				Value:     mb.Msg.Value,
				Timestamp: unixMilli(ts),
			})
		}
	}
	return out
}

func appendRecordBatch(out []Record, batch *sarama.RecordBatch, offset int64) []Record {
	if batch.Control {
		return out
	}
	for _, rec := range batch.Records {
		off := batch.FirstOffset + rec.OffsetDelta
		if off < offset {
			continue
		}
		ts := batch.FirstTimestamp.Add(rec.TimestampDelta)
		if batch.LogAppendTime {
			ts = batch.MaxTimestamp
		}
		out = append(out, Record{
			Offset:    off,
			Key:       rec.Key,
			Value:     rec.Value,
			Timestamp: unixMilli(ts),
		})
	}
	return out
}

func unixMilli(t time.Time) int64 {
	if t.IsZero() || t.Unix() <= 0 {
		return -1
	}
	return t.UnixMilli()
}
