package engine

import (
	"context"
	"errors"
	"fmt"

	"logpipe/internal/logging"
	"logpipe/internal/pipeline"
	"logpipe/internal/telemetry"
	"logpipe/internal/transport"
)

// Bootstrap loads the daemon file at path, starts every pipeline, the gRPC
// transport and the metrics endpoint.
func Bootstrap(ctx context.Context, path string) (*Engine, error) {
	// 1. pipelines
	file, ps, err := pipeline.Compile(path)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	if file.Log.Level != "" || file.Log.JSON {
		logging.Configure(file.Log)
	}
	e := &Engine{pipelines: ps}

	// 2. transport server
	srv, err := transport.StartServer(file.GRPCPort, e)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("transport: %w", err), e.stopPipelines())
	}
	e.transport = srv

	for _, p := range ps {
		if err := p.Start(ctx); err != nil {
			srv.Stop()
			return nil, errors.Join(err, e.stopPipelines())
		}
		srv.SetServing(p.Name(), true)
	}

	// 3. metrics
	e.metrics = telemetry.Expose(file.MetricsPort)

	logging.L().Info("logpiped started", "pipelines", len(ps),
		"grpc_port", file.GRPCPort, "metrics_port", file.MetricsPort)
	return e, nil
}
