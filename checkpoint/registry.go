package checkpoint

import "fmt"

// Config selects and parameterises a store.
type Config struct {
	Kind     string `yaml:"store"`
	Path     string `yaml:"path"` // file store location or sqlite database file
	DSN      string `yaml:"dsn"`  // postgres connection string
	Pipeline string `yaml:"-"`
	Topic    string `yaml:"-"`
}

// Factory opens a store.
type Factory func(Config) (Store, error)

var registry = map[string]Factory{}

// Register is called from each store's init().
func Register(name string, f Factory) { registry[name] = f }

// Open returns a store by kind ("memory", "file", "sqlite", "postgres").
func Open(cfg Config) (Store, error) {
	kind := cfg.Kind
	if kind == "" {
		kind = "memory"
	}
	if f, ok := registry[kind]; ok {
		return f(cfg)
	}
	return nil, fmt.Errorf("checkpoint: unknown store %q", kind)
}
