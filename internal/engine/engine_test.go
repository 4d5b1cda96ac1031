package engine

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/types/known/emptypb"

	"logpipe/internal/event"
	"logpipe/internal/transport"
	"logpipe/sink"
	"logpipe/source/kafka"
)

type captureSink struct {
	mu     sync.Mutex
	events []event.Event
	closed bool
}

func (s *captureSink) Configure(any) error         { return nil }
func (s *captureSink) Start(context.Context) error { return nil }
func (s *captureSink) Flush(context.Context) error { return nil }
func (s *captureSink) Sync(context.Context) error  { return nil }

func (s *captureSink) Deliver(_ context.Context, ev event.Event) error {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
	return nil
}

func (s *captureSink) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *captureSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

var capture = &captureSink{}

func init() { sink.Register("engine-capture", func() sink.Adapter { return capture }) }

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func TestEngine_BootstrapRunShutdown(t *testing.T) {
	topic := kafka.SharedMemTopic("engine-test")
	for i := 0; i < 6; i++ {
		topic.Append(int32(i%2), nil, []byte("line"), int64(1000+i))
	}

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "kafka.yaml"),
		[]byte("brokers: [mem]\ntopic: engine-test\npartitions: [0, 1]\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	grpcPort := freePort(t)
	daemon := filepath.Join(dir, "logpiped.yaml")
	body := fmt.Sprintf(`
grpc_port: %d
metrics_port: %d
pipelines:
  - name: access
    driver: memory
    config: kafka.yaml
    sink: engine-capture
`, grpcPort, freePort(t))
	if err := os.WriteFile(daemon, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e, err := Bootstrap(ctx, daemon)
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	errc := make(chan error, 1)
	go func() { errc <- e.Run(ctx) }()

	cl, err := transport.Dial(grpcPort)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer cl.Close()

	deadline := time.Now().Add(5 * time.Second)
	for capture.count() < 6 {
		if time.Now().After(deadline) {
			t.Fatalf("only %d events delivered", capture.count())
		}
		time.Sleep(10 * time.Millisecond)
	}

	rctx, rcancel := context.WithTimeout(ctx, 5*time.Second)
	defer rcancel()
	res, err := cl.Health.Check(rctx, &healthpb.HealthCheckRequest{Service: "access"})
	if err != nil || res.Status != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("health: %v %v", res, err)
	}
	st, err := cl.Control.Status(rctx, &emptypb.Empty{})
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	list := st.GetFields()["pipelines"].GetListValue().GetValues()
	if len(list) != 1 || list[0].GetStructValue().GetFields()["name"].GetStringValue() != "access" {
		t.Fatalf("unexpected status %v", st)
	}

	cancel()
	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("engine did not stop")
	}
	capture.mu.Lock()
	closed := capture.closed
	capture.mu.Unlock()
	if !closed {
		t.Fatal("sink must be closed on shutdown")
	}
}

func TestBootstrap_BadFile(t *testing.T) {
	if _, err := Bootstrap(context.Background(), filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("missing daemon file must fail")
	}
}
