package telemetry

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPipeline_FlushedAndBuffer(t *testing.T) {
	p := For("metrics-flushed")
	p.Flushed(3, 10, 250)
	p.Flushed(0, 999, 999) // empty pass leaves gauges alone
	p.Buffer(2048, 7)

	if got := testutil.ToFloat64(processed.WithLabelValues("metrics-flushed")); got != 3 {
		t.Fatalf("processed: want 3, got %v", got)
	}
	if got := testutil.ToFloat64(flushDelay.WithLabelValues("metrics-flushed", "max")); got != 250 {
		t.Fatalf("max delay: want 250, got %v", got)
	}
	if got := testutil.ToFloat64(bufferBytes.WithLabelValues("metrics-flushed")); got != 2048 {
		t.Fatalf("buffer bytes: want 2048, got %v", got)
	}
}

func TestPipeline_ErrorCountersAndConfig(t *testing.T) {
	p := For("metrics-errors")
	p.FetchError(2, "leader")
	p.FetchError(2, "leader")
	p.CheckpointSave(nil)
	p.CheckpointSave(errors.New("disk full"))
	p.Config("event_delay_ms", 2*time.Second)
	p.Config("ignored", "string")

	if got := testutil.ToFloat64(fetchErrors.WithLabelValues("metrics-errors", "2", "leader")); got != 2 {
		t.Fatalf("fetch errors: want 2, got %v", got)
	}
	if got := testutil.ToFloat64(checkpointSaves.WithLabelValues("metrics-errors", "error")); got != 1 {
		t.Fatalf("failed saves: want 1, got %v", got)
	}
	if got := testutil.ToFloat64(config.WithLabelValues("metrics-errors", "event_delay_ms")); got != 2000 {
		t.Fatalf("config gauge: want 2000, got %v", got)
	}
}
