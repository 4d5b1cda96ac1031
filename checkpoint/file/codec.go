package file

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"logpipe/checkpoint"
)

// Wire layout, protobuf compatible:
//
//	message Snapshot { string pipeline = 1; string topic = 2; repeated Entry entries = 3; }
//	message Entry {
//	  int32 partition = 1;
//	  sint64 next_offset = 2;
//	  sint64 next_event_time = 3;
//	  sint64 max_event_time = 4;
//	}
const (
	snapPipeline protowire.Number = 1
	snapTopic    protowire.Number = 2
	snapEntry    protowire.Number = 3

	entryPartition     protowire.Number = 1
	entryNextOffset    protowire.Number = 2
	entryNextEventTime protowire.Number = 3
	entryMaxEventTime  protowire.Number = 4
)

var errNamespace = errors.New("checkpoint file belongs to another pipeline")

func encode(pipeline, topic string, cps map[int32]checkpoint.Checkpoint) []byte {
	var b []byte
	b = protowire.AppendTag(b, snapPipeline, protowire.BytesType)
	b = protowire.AppendString(b, pipeline)
	b = protowire.AppendTag(b, snapTopic, protowire.BytesType)
	b = protowire.AppendString(b, topic)
	for p, cp := range cps {
		var e []byte
		e = protowire.AppendTag(e, entryPartition, protowire.VarintType)
		e = protowire.AppendVarint(e, uint64(p))
		e = appendSint(e, entryNextOffset, cp.NextOffset)
		e = appendSint(e, entryNextEventTime, cp.NextEventTime)
		e = appendSint(e, entryMaxEventTime, cp.MaxEventTime)
		b = protowire.AppendTag(b, snapEntry, protowire.BytesType)
		b = protowire.AppendBytes(b, e)
	}
	return b
}

func appendSint(b []byte, num protowire.Number, v int64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, protowire.EncodeZigZag(v))
}

func decode(b []byte, pipeline, topic string) (map[int32]checkpoint.Checkpoint, error) {
	out := make(map[int32]checkpoint.Checkpoint)
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]
		switch {
		case (num == snapPipeline || num == snapTopic) && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			if (num == snapPipeline && v != pipeline) || (num == snapTopic && v != topic) {
				return nil, fmt.Errorf("%w: %q", errNamespace, v)
			}
			b = b[n:]
		case num == snapEntry && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			p, cp, err := decodeEntry(v)
			if err != nil {
				return nil, err
			}
			out[p] = cp
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return out, nil
}

func decodeEntry(b []byte) (int32, checkpoint.Checkpoint, error) {
	var (
		partition     int32
		nextOffset    = checkpoint.Unknown
		maxEventTime  = checkpoint.Unknown
		nextEventTime *int64
	)
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return 0, checkpoint.Checkpoint{}, protowire.ParseError(n)
		}
		b = b[n:]
		if typ != protowire.VarintType {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return 0, checkpoint.Checkpoint{}, protowire.ParseError(n)
			}
			b = b[n:]
			continue
		}
		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return 0, checkpoint.Checkpoint{}, protowire.ParseError(n)
		}
		b = b[n:]
		switch num {
		case entryPartition:
			partition = int32(v)
		case entryNextOffset:
			nextOffset = protowire.DecodeZigZag(v)
		case entryNextEventTime:
			t := protowire.DecodeZigZag(v)
			nextEventTime = &t
		case entryMaxEventTime:
			maxEventTime = protowire.DecodeZigZag(v)
		}
	}
	return partition, checkpoint.FromColumns(nextOffset, nextEventTime, maxEventTime), nil
}
