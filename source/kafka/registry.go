package kafka

import (
	"fmt"
	"sort"
	"sync"
)

// Factory builds an unconfigured Broker.
type Factory func() Broker

var (
	mu       sync.RWMutex
	registry = map[string]Factory{}
)

func init() {
	Register("sarama", func() Broker { return &SaramaDriver{} })
	Register("memory", func() Broker { return &MemDriver{} })
}

// Register makes a driver available by name. Later registrations win.
func Register(name string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	registry[name] = f
}

// NewBroker returns a driver by name ("sarama", "memory", ...).
func NewBroker(name string) (Broker, error) {
	mu.RLock()
	f, ok := registry[name]
	mu.RUnlock()
	if ok {
		return f(), nil
	}
	return nil, fmt.Errorf("kafka: unsupported driver %q", name)
}

// Drivers lists the registered driver names.
func Drivers() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
