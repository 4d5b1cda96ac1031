package config

import (
	"fmt"

	"logpipe/internal/spec"
	"logpipe/source/kafka"
)

// LoadKafkaConfig reads the source settings of one pipeline. Without a config
// file every setting must come from LOGPIPE_KAFKA__ variables.
func LoadKafkaConfig(ps spec.Pipeline) (kafka.Config, error) {
	cfg, err := kafka.LoadConfig(ps.Config)
	if err != nil {
		src := ps.Config
		if src == "" {
			src = "environment"
		}
		return cfg, fmt.Errorf("kafka config (%s): %w", src, err)
	}
	return cfg, nil
}
