package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"logpipe/internal/spec"
)

const SupportedSchema = "v1"

const (
	DefaultGRPCPort    = 7070
	DefaultMetricsPort = 9100
)

// LoadDaemonSpec parses the daemon YAML, validates schema_version, fills
// defaults and resolves relative paths against the file's directory.
func LoadDaemonSpec(path string) (spec.File, error) {
	var cfg spec.File
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	if cfg.SchemaVersion == "" {
		cfg.SchemaVersion = SupportedSchema
	}
	if cfg.SchemaVersion != SupportedSchema {
		return cfg, fmt.Errorf("daemon schema_version %q not supported (want %q)", cfg.SchemaVersion, SupportedSchema)
	}
	if cfg.GRPCPort == 0 {
		cfg.GRPCPort = DefaultGRPCPort
	}
	if cfg.MetricsPort == 0 {
		cfg.MetricsPort = DefaultMetricsPort
	}

	dir := filepath.Dir(path)
	seen := map[string]bool{}
	var errs []error
	for i := range cfg.Pipelines {
		p := &cfg.Pipelines[i]
		if p.Name == "" {
			errs = append(errs, fmt.Errorf("pipelines[%d]: name is required", i))
		} else if seen[p.Name] {
			errs = append(errs, fmt.Errorf("pipelines[%d]: duplicate name %q", i, p.Name))
		}
		seen[p.Name] = true
		if p.Driver == "" {
			p.Driver = "sarama"
		}
		if p.Sink == "" {
			p.Sink = "stdout"
		}
		p.Config = resolve(dir, p.Config)
		p.Checkpoint.Path = resolve(dir, p.Checkpoint.Path)
	}
	if len(cfg.Pipelines) == 0 {
		errs = append(errs, errors.New("no pipelines defined"))
	}
	return cfg, errors.Join(errs...)
}

func resolve(dir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}
