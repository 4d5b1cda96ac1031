package transport

import (
	"context"
	"testing"
	"time"

	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

type fakeControl struct{}

func (fakeControl) Status(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{"pipelines": []any{"access"}})
}

func startTestServer(t *testing.T) (*Server, *Client) {
	t.Helper()
	srv, err := StartServer(0, fakeControl{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	go srv.Serve()
	t.Cleanup(srv.Stop)

	cl, err := Dial(srv.Port())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = cl.Close() })
	return srv, cl
}

func TestHealth_PerServiceStatus(t *testing.T) {
	srv, cl := startTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := cl.Health.Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if res.Status != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("daemon status %v", res.Status)
	}

	srv.SetServing("access", true)
	res, err = cl.Health.Check(ctx, &healthpb.HealthCheckRequest{Service: "access"})
	if err != nil || res.Status != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("access: %v %v", res, err)
	}

	srv.SetServing("access", false)
	res, err = cl.Health.Check(ctx, &healthpb.HealthCheckRequest{Service: "access"})
	if err != nil || res.Status != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("access after failure: %v %v", res, err)
	}

	if _, err := cl.Health.Check(ctx, &healthpb.HealthCheckRequest{Service: "unknown"}); err == nil {
		t.Fatal("unknown service must be an error")
	}
}

func TestControl_Status(t *testing.T) {
	_, cl := startTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	st, err := cl.Control.Status(ctx, &emptypb.Empty{})
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	list := st.GetFields()["pipelines"].GetListValue().GetValues()
	if len(list) != 1 || list[0].GetStringValue() != "access" {
		t.Fatalf("unexpected status %v", st)
	}
}
