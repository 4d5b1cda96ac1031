package pipeline

import (
	"errors"
	"fmt"

	"logpipe/checkpoint"
	_ "logpipe/checkpoint/file"
	_ "logpipe/checkpoint/memory"
	_ "logpipe/checkpoint/postgres"
	_ "logpipe/checkpoint/sqlite"
	"logpipe/internal/codec"
	"logpipe/internal/config"
	"logpipe/internal/spec"
	"logpipe/sink"
	_ "logpipe/sink/amqp"
	_ "logpipe/sink/kafka"
	_ "logpipe/sink/stdout"
	"logpipe/source/kafka"
)

// Compile loads the daemon file at path and builds one pipeline per entry.
// Nothing is started.
func Compile(path string) (spec.File, []*Pipeline, error) {
	file, err := config.LoadDaemonSpec(path)
	if err != nil {
		return file, nil, err
	}
	var out []*Pipeline
	for _, ps := range file.Pipelines {
		p, err := Build(ps)
		if err != nil {
			for _, built := range out {
				_ = built.close()
			}
			return file, nil, fmt.Errorf("pipeline %s: %w", ps.Name, err)
		}
		out = append(out, p)
	}
	return file, out, nil
}

// Build wires the source driver, decoder, checkpoint store and sink of ps.
func Build(ps spec.Pipeline) (*Pipeline, error) {
	kc, err := config.LoadKafkaConfig(ps)
	if err != nil {
		return nil, err
	}
	dec, err := codec.New(ps.Decoder)
	if err != nil {
		return nil, err
	}

	src, err := kafka.NewBroker(ps.Driver)
	if err != nil {
		return nil, err
	}
	if err = src.Configure(kc); err != nil {
		return nil, fmt.Errorf("source %s: %w", ps.Driver, err)
	}

	cc := ps.Checkpoint
	cc.Pipeline, cc.Topic = ps.Name, kc.Topic
	store, err := checkpoint.Open(cc)
	if err != nil {
		_ = src.Close()
		return nil, err
	}

	sDrv, err := sink.NewAdapter(ps.Sink)
	if err == nil {
		err = sDrv.Configure(sinkConfig(ps))
	}
	if err != nil {
		return nil, errors.Join(err, src.Close(), store.Close())
	}

	p, err := New(ps.Name, kc, Deps{Broker: src, Store: store, Sink: sDrv, Decoder: dec})
	if err != nil {
		return nil, errors.Join(err, src.Close(), store.Close(), sDrv.Close())
	}
	return p, nil
}

func sinkConfig(ps spec.Pipeline) any {
	switch ps.Sink {
	case "stdout":
		return ps.SinkConfigs.Stdout
	case "kafka":
		return ps.SinkConfigs.Kafka
	case "amqp":
		return ps.SinkConfigs.AMQP
	default:
		return nil
	}
}
