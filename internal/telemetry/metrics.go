package telemetry

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"logpipe/internal/logging"
)

const namespace = "logpipe"

var (
	processed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "events_processed_total",
		Help: "Events delivered to the sink.",
	}, []string{"pipeline"})

	flushDelay = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace, Name: "flush_delay_ms",
		Help: "Min and max age of events delivered by the last flush pass.",
	}, []string{"pipeline", "bound"})

	bufferBytes = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace, Name: "buffer_bytes",
		Help: "Payload bytes held in the merge buffer.",
	}, []string{"pipeline"})

	bufferEvents = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace, Name: "buffer_events",
		Help: "Events held in the merge buffer.",
	}, []string{"pipeline"})

	forcedFlushes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "forced_flushes_total",
		Help: "Flush passes that ignored the time window because the buffer was full.",
	}, []string{"pipeline"})

	fetchErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "fetch_errors_total",
		Help: "Failed partition fetches by kind.",
	}, []string{"pipeline", "partition", "kind"})

	decodeErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "decode_errors_total",
		Help: "Records skipped because they could not be decoded.",
	}, []string{"pipeline"})

	sinkErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "sink_errors_total",
		Help: "Sink failures by operation.",
	}, []string{"pipeline", "op"})

	checkpointSaves = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "checkpoint_saves_total",
		Help: "Checkpoint persist attempts by result.",
	}, []string{"pipeline", "result"})

	fetchOffset = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace, Name: "fetch_offset",
		Help: "Next offset fetched per partition.",
	}, []string{"pipeline", "partition"})

	config = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace, Name: "config",
		Help: "Effective pipeline configuration values.",
	}, []string{"pipeline", "key"})
)

func init() {
	prometheus.MustRegister(processed, flushDelay, bufferBytes, bufferEvents, forcedFlushes,
		fetchErrors, decodeErrors, sinkErrors, checkpointSaves, fetchOffset, config)
}

// Pipeline records the metrics of one named pipeline.
type Pipeline struct {
	name string

	processed     prometheus.Counter
	delayMin      prometheus.Gauge
	delayMax      prometheus.Gauge
	bufferBytes   prometheus.Gauge
	bufferEvents  prometheus.Gauge
	forcedFlushes prometheus.Counter
	decodeErrors  prometheus.Counter
}

func For(name string) *Pipeline {
	return &Pipeline{
		name:          name,
		processed:     processed.WithLabelValues(name),
		delayMin:      flushDelay.WithLabelValues(name, "min"),
		delayMax:      flushDelay.WithLabelValues(name, "max"),
		bufferBytes:   bufferBytes.WithLabelValues(name),
		bufferEvents:  bufferEvents.WithLabelValues(name),
		forcedFlushes: forcedFlushes.WithLabelValues(name),
		decodeErrors:  decodeErrors.WithLabelValues(name),
	}
}

// Flushed records one flush pass that delivered n events whose ages ranged
// from minDelay to maxDelay milliseconds.
func (p *Pipeline) Flushed(n int, minDelay, maxDelay int64) {
	if n == 0 {
		return
	}
	p.processed.Add(float64(n))
	p.delayMin.Set(float64(minDelay))
	p.delayMax.Set(float64(maxDelay))
}

func (p *Pipeline) Buffer(bytes int64, events int) {
	p.bufferBytes.Set(float64(bytes))
	p.bufferEvents.Set(float64(events))
}

func (p *Pipeline) ForcedFlush() { p.forcedFlushes.Inc() }

func (p *Pipeline) DecodeError() { p.decodeErrors.Inc() }

func (p *Pipeline) FetchError(partition int32, kind string) {
	fetchErrors.WithLabelValues(p.name, strconv.Itoa(int(partition)), kind).Inc()
}

func (p *Pipeline) FetchOffset(partition int32, offset int64) {
	fetchOffset.WithLabelValues(p.name, strconv.Itoa(int(partition))).Set(float64(offset))
}

func (p *Pipeline) SinkError(op string) {
	sinkErrors.WithLabelValues(p.name, op).Inc()
}

func (p *Pipeline) CheckpointSave(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	checkpointSaves.WithLabelValues(p.name, result).Inc()
}

// Config publishes a configuration value, durations in milliseconds.
func (p *Pipeline) Config(key string, v any) {
	var f float64
	switch x := v.(type) {
	case time.Duration:
		f = float64(x.Milliseconds())
	case int:
		f = float64(x)
	case int32:
		f = float64(x)
	case int64:
		f = float64(x)
	case float64:
		f = x
	default:
		return
	}
	config.WithLabelValues(p.name, key).Set(f)
}

// Expose serves /metrics on port until the returned server is shut down.
func Expose(port int) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.L().Error("metrics endpoint stopped", "port", port, "err", err)
		}
	}()
	return srv
}
