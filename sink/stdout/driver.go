package stdout

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"logpipe/internal/event"
	"logpipe/sink"
)

/* ────────── public YAML config ────────── */
type Config struct {
	PrintMeta     bool `yaml:"print_meta"`      // prefix partition@offset and event time
	ValueMaxBytes int  `yaml:"value_max_bytes"` // 0 = unlimited
	BufferSize    int  `yaml:"buffer_size"`     // bufio size, 0 = 64 KiB

	Output io.Writer `yaml:"-"` // defaults to os.Stdout
}

/* ────────── driver ────────── */
type driver struct {
	cfg Config

	mu     sync.Mutex
	w      *bufio.Writer
	out    io.Writer
	closed bool
}

/* ────────── sink.Adapter ────────── */
func (d *driver) Configure(raw any) error {
	switch c := raw.(type) {
	case Config:
		d.cfg = c
	case *Config:
		d.cfg = *c
	case nil:
	default:
		return fmt.Errorf("stdout-sink: expected Config, got %T", raw)
	}
	return nil
}

func (d *driver) Start(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.out = d.cfg.Output
	if d.out == nil {
		d.out = os.Stdout
	}
	size := d.cfg.BufferSize
	if size <= 0 {
		size = 64 << 10
	}
	d.w = bufio.NewWriterSize(d.out, size)
	return nil
}

func (d *driver) Deliver(_ context.Context, ev event.Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.w == nil {
		return fmt.Errorf("stdout-sink: not started")
	}
	if d.cfg.PrintMeta {
		if _, err := fmt.Fprintf(d.w, "%s[%d]@%d t=%d ", ev.Topic, ev.Partition, ev.Offset, ev.Time); err != nil {
			return err
		}
	}
	v := ev.Payload
	if n := d.cfg.ValueMaxBytes; n > 0 && len(v) > n {
		v = v[:n]
	}
	if _, err := d.w.Write(v); err != nil {
		return err
	}
	return d.w.WriteByte('\n')
}

func (d *driver) Flush(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.flushLocked()
}

func (d *driver) Sync(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.flushLocked(); err != nil {
		return err
	}
	// regular files are fsynced; terminals and pipes have nothing to sync
	if f, ok := d.out.(*os.File); ok && f != os.Stdout && f != os.Stderr {
		return f.Sync()
	}
	return nil
}

func (d *driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	return d.flushLocked()
}

// must be called with d.mu *held*
func (d *driver) flushLocked() error {
	if d.w == nil {
		return nil
	}
	return d.w.Flush()
}

/* ────────── auto-register ────────── */
func init() {
	sink.Register("stdout", func() sink.Adapter { return &driver{} })
}
