package kafka

import (
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
)

func TestBlockRecords_RecordBatch(t *testing.T) {
	t0 := time.UnixMilli(1_700_000_000_000)
	block := &sarama.FetchResponseBlock{
		RecordsSet: []*sarama.Records{{
			RecordBatch: &sarama.RecordBatch{
				FirstOffset:    10,
				FirstTimestamp: t0,
				Records: []*sarama.Record{
					{OffsetDelta: 0, Value: []byte("a")},
					{OffsetDelta: 1, TimestampDelta: 5 * time.Millisecond, Value: []byte("b")},
					{OffsetDelta: 2, TimestampDelta: 9 * time.Millisecond, Key: []byte("k"), Value: []byte("c")},
				},
			},
		}},
	}

	recs := blockRecords(block, 11)
	if len(recs) != 2 {
		t.Fatalf("want 2 records at or after offset 11, got %d", len(recs))
	}
	if recs[0].Offset != 11 || string(recs[0].Value) != "b" || recs[0].Timestamp != t0.UnixMilli()+5 {
		t.Fatalf("unexpected first record: %+v", recs[0])
	}
	if recs[1].Offset != 12 || string(recs[1].Key) != "k" {
		t.Fatalf("unexpected second record: %+v", recs[1])
	}
}

func TestBlockRecords_SkipsControlBatches(t *testing.T) {
	block := &sarama.FetchResponseBlock{
		RecordsSet: []*sarama.Records{
			{RecordBatch: &sarama.RecordBatch{FirstOffset: 0, Control: true,
				Records: []*sarama.Record{{OffsetDelta: 0}}}},
			{RecordBatch: &sarama.RecordBatch{FirstOffset: 1,
				Records: []*sarama.Record{{OffsetDelta: 0, Value: []byte("x")}}}},
		},
	}
	recs := blockRecords(block, 0)
	if len(recs) != 1 || recs[0].Offset != 1 {
		t.Fatalf("want only offset 1, got %+v", recs)
	}
	if recs[0].Timestamp != -1 {
		t.Fatalf("zero timestamp must map to -1, got %d", recs[0].Timestamp)
	}
}

func TestBlockRecords_CompressedLegacySetUsesRelativeOffsets(t *testing.T) {
	ts := time.UnixMilli(1_600_000_000_000)
	inner := &sarama.MessageSet{Messages: []*sarama.MessageBlock{
		{Offset: 0, Msg: &sarama.Message{Version: 1, Value: []byte("m5"), Timestamp: ts}},
		{Offset: 1, Msg: &sarama.Message{Version: 1, Value: []byte("m6"), Timestamp: ts}},
		{Offset: 2, Msg: &sarama.Message{Version: 1, Value: []byte("m7"), Timestamp: ts}},
	}}
	block := &sarama.FetchResponseBlock{
		RecordsSet: []*sarama.Records{{
			MsgSet: &sarama.MessageSet{Messages: []*sarama.MessageBlock{
				{Offset: 7, Msg: &sarama.Message{Version: 1, Codec: sarama.CompressionGZIP, Set: inner}},
			}},
		}},
	}

	recs := blockRecords(block, 6)
	if len(recs) != 2 {
		t.Fatalf("want 2 records, got %+v", recs)
	}
	if recs[0].Offset != 6 || string(recs[0].Value) != "m6" || recs[0].Timestamp != ts.UnixMilli() {
		t.Fatalf("unexpected record: %+v", recs[0])
	}
	if recs[1].Offset != 7 {
		t.Fatalf("unexpected record: %+v", recs[1])
	}
}

func TestBlockRecords_PlainLegacyMessages(t *testing.T) {
	block := &sarama.FetchResponseBlock{
		RecordsSet: []*sarama.Records{{
			MsgSet: &sarama.MessageSet{Messages: []*sarama.MessageBlock{
				{Offset: 3, Msg: &sarama.Message{Value: []byte("a")}},
				{Offset: 4, Msg: &sarama.Message{Value: []byte("b")}},
			}},
		}},
	}
	recs := blockRecords(block, 3)
	if len(recs) != 2 || recs[0].Offset != 3 || recs[1].Offset != 4 {
		t.Fatalf("unexpected records: %+v", recs)
	}
}

func TestBlockError_Mapping(t *testing.T) {
	if err := blockError(sarama.ErrNoError); err != nil {
		t.Fatalf("no error: got %v", err)
	}
	if err := blockError(sarama.ErrOffsetOutOfRange); !errors.Is(err, ErrOffsetOutOfRange) {
		t.Fatalf("out of range: got %v", err)
	}
	for _, kerr := range []sarama.KError{
		sarama.ErrNotLeaderForPartition,
		sarama.ErrLeaderNotAvailable,
		sarama.ErrUnknownTopicOrPartition,
	} {
		if err := blockError(kerr); !errors.Is(err, ErrLeaderNotAvailable) {
			t.Fatalf("%v: want ErrLeaderNotAvailable, got %v", kerr, err)
		}
	}
	err := blockError(sarama.ErrInvalidMessage)
	if errors.Is(err, ErrLeaderNotAvailable) || errors.Is(err, ErrOffsetOutOfRange) {
		t.Fatalf("unexpected mapping for corrupt message: %v", err)
	}
	if !errors.Is(mapClientError(sarama.ErrOffsetOutOfRange), ErrOffsetOutOfRange) {
		t.Fatal("client errors must map the same way")
	}
}

func TestFetchRequest_VersionFollowsKafkaVersion(t *testing.T) {
	d := &SaramaDriver{cfg: Config{Topic: "logs", SocketTimeout: 3 * time.Second}}

	d.version = sarama.V2_1_0_0
	if req := d.fetchRequest(0, 5, 1024); req.Version != 4 || req.MaxWaitTime != 1500 {
		t.Fatalf("want v4 with 1500ms wait, got v%d %dms", req.Version, req.MaxWaitTime)
	}
	d.version = sarama.V0_10_2_0
	if req := d.fetchRequest(0, 5, 1024); req.Version != 2 {
		t.Fatalf("want v2, got v%d", req.Version)
	}
	d.version = sarama.V0_9_0_0
	if req := d.fetchRequest(0, 5, 1024); req.Version != 0 {
		t.Fatalf("want v0, got v%d", req.Version)
	}
}
