package engine

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"logpipe/internal/logging"
	"logpipe/internal/pipeline"
	"logpipe/internal/transport"
)

const shutdownTimeout = 5 * time.Second

type Engine struct {
	transport *transport.Server
	metrics   *http.Server
	pipelines []*pipeline.Pipeline
}

// Run serves gRPC until ctx is done, then stops every pipeline. A pipeline
// whose control loop exits early is reported NOT_SERVING.
func (e *Engine) Run(ctx context.Context) error {
	for _, p := range e.pipelines {
		go e.watch(ctx, p)
	}

	errc := make(chan error, 1)
	go func() { errc <- e.transport.Serve() }()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errc:
	}
	return errors.Join(serveErr, e.shutdown())
}

func (e *Engine) watch(ctx context.Context, p *pipeline.Pipeline) {
	select {
	case <-ctx.Done():
	case <-p.Done():
		if ctx.Err() == nil {
			e.transport.SetServing(p.Name(), false)
			logging.L().Error("pipeline exited unexpectedly", "pipeline", p.Name())
		}
	}
}

func (e *Engine) shutdown() error {
	for _, p := range e.pipelines {
		e.transport.SetServing(p.Name(), false)
	}
	err := e.stopPipelines()
	e.transport.Stop()
	if e.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err = errors.Join(err, e.metrics.Shutdown(ctx))
	}
	logging.L().Info("logpiped stopped")
	return err
}

func (e *Engine) stopPipelines() error {
	var errs []error
	for _, p := range e.pipelines {
		errs = append(errs, p.Stop())
	}
	return errors.Join(errs...)
}

// Status implements transport.ControlServer.
func (e *Engine) Status(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	list := make([]any, 0, len(e.pipelines))
	for _, p := range e.pipelines {
		st := p.Status()
		cps := map[string]any{}
		for part, cp := range st.Checkpoints {
			cps[strconv.FormatInt(int64(part), 10)] = map[string]any{
				"next_offset":     cp.NextOffset,
				"next_event_time": cp.NextEventTime,
				"max_event_time":  cp.MaxEventTime,
			}
		}
		list = append(list, map[string]any{
			"name":            st.Name,
			"topic":           st.Topic,
			"running":         st.Running,
			"buffered_events": st.BufferedEvents,
			"buffered_bytes":  st.BufferedBytes,
			"checkpoints":     cps,
		})
	}
	return structpb.NewStruct(map[string]any{"pipelines": list})
}
