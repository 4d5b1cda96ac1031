// Package spec is the shape of the daemon YAML file.
package spec

import (
	"logpipe/checkpoint"
	"logpipe/internal/codec"
	"logpipe/internal/logging"
	"logpipe/sink/amqp"
	kafkasink "logpipe/sink/kafka"
	"logpipe/sink/stdout"
)

type SinkConfigs struct {
	Stdout stdout.Config    `yaml:"stdout"`
	Kafka  kafkasink.Config `yaml:"kafka"`
	AMQP   amqp.Config      `yaml:"amqp"`
}

// Pipeline describes one topic consumer and where its events go.
type Pipeline struct {
	Name       string            `yaml:"name"`
	Driver     string            `yaml:"driver"` // source driver: "sarama", "memory"
	Config     string            `yaml:"config"` // Kafka source config file
	Decoder    codec.Config      `yaml:"decoder"`
	Checkpoint checkpoint.Config `yaml:"checkpoint"`

	Sink        string      `yaml:"sink"`
	SinkConfigs SinkConfigs `yaml:"sink_configs"`
}

type File struct {
	SchemaVersion string `yaml:"schema_version"`

	GRPCPort    int             `yaml:"grpc_port"`
	MetricsPort int             `yaml:"metrics_port"`
	Log         logging.Options `yaml:"log"`

	Pipelines []Pipeline `yaml:"pipelines"`
}
