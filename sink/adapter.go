package sink

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"logpipe/internal/event"
)

// Adapter is the common behaviour every sink exposes. All methods except
// Close are called from the pipeline's control goroutine only.
type Adapter interface {
	Configure(any) error // driver-specific YAML ⇒ struct
	Start(context.Context) error
	// Deliver hands over one event in event-time order. An error aborts the
	// current flush pass; the event stays buffered and is retried.
	Deliver(context.Context, event.Event) error
	// Flush is called once per flush pass.
	Flush(context.Context) error
	// Sync returns once everything delivered so far is durable downstream.
	// Checkpoints are persisted only after Sync succeeds.
	Sync(context.Context) error
	Close() error // idempotent
}

/*──────── registry ───────*/

type factory = func() Adapter

var (
	mu  sync.RWMutex
	reg = map[string]factory{}
)

func Register(name string, f factory) {
	mu.Lock()
	reg[name] = f
	mu.Unlock()
}

func NewAdapter(name string) (Adapter, error) {
	mu.RLock()
	f, ok := reg[name]
	mu.RUnlock()
	if ok {
		return f(), nil
	}
	return nil, fmt.Errorf("unknown sink %q", name)
}

// Names lists registered sinks.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(reg))
	for n := range reg {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
