package config

import (
	"strings"
	"testing"

	"logpipe/internal/spec"
)

func TestLoadKafkaConfig_ReadsPipelineFile(t *testing.T) {
	dir := t.TempDir()
	path := write(t, dir, "kafka.yml", "brokers: [k1:9092]\ntopic: logs\npartitions: [0, 1]\n")

	cfg, err := LoadKafkaConfig(spec.Pipeline{Name: "access", Config: path})
	if err != nil {
		t.Fatalf("LoadKafkaConfig: %v", err)
	}
	if cfg.Topic != "logs" || len(cfg.Partitions) != 2 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestLoadKafkaConfig_NamesTheSource(t *testing.T) {
	dir := t.TempDir()
	path := write(t, dir, "kafka.yml", "topic: logs\n")

	_, err := LoadKafkaConfig(spec.Pipeline{Name: "access", Config: path})
	if err == nil || !strings.Contains(err.Error(), path) || !strings.Contains(err.Error(), "brokers") {
		t.Fatalf("error should name the file and the problem: %v", err)
	}

	_, err = LoadKafkaConfig(spec.Pipeline{Name: "access"})
	if err == nil || !strings.Contains(err.Error(), "environment") {
		t.Fatalf("error should mention the environment: %v", err)
	}
}
