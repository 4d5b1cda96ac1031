package stdout

import (
	"bytes"
	"context"
	"testing"

	"logpipe/internal/event"
	"logpipe/sink"
)

func TestDriver_BuffersUntilFlush(t *testing.T) {
	var buf bytes.Buffer
	s, err := sink.NewAdapter("stdout")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Configure(Config{Output: &buf, PrintMeta: true, ValueMaxBytes: 5}); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatal(err)
	}

	ev := event.Event{Topic: "logs", Partition: 1, Offset: 7, Time: 1500, Payload: []byte("hello world")}
	if err := s.Deliver(ctx, ev); err != nil {
		t.Fatal(err)
	}
	if buf.Len() != 0 {
		t.Fatalf("output written before flush: %q", buf.String())
	}
	if err := s.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	if got, want := buf.String(), "logs[1]@7 t=1500 hello\n"; got != want {
		t.Fatalf("want %q, got %q", want, got)
	}

	_ = s.Deliver(ctx, event.Event{Payload: []byte("x")})
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if !bytes.HasSuffix(buf.Bytes(), []byte("x\n")) {
		t.Fatalf("close must flush pending output, got %q", buf.String())
	}
}

func TestDriver_RejectsForeignConfig(t *testing.T) {
	d := &driver{}
	if err := d.Configure(struct{}{}); err == nil {
		t.Fatal("expected error")
	}
	if err := d.Deliver(context.Background(), event.Event{}); err == nil {
		t.Fatal("deliver before start must fail")
	}
}
