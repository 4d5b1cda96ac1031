package kafka

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/IBM/sarama"

	"logpipe/internal/event"
	"logpipe/internal/logging"
	"logpipe/sink"
)

type Config struct {
	Brokers   []string `yaml:"brokers"`
	Topic     string   `yaml:"topic"`
	Acks      int16    `yaml:"required_acks"` // 0,1,-1
	Version   string   `yaml:"version"`
	BatchSize int      `yaml:"batch_size"`  // send once this many events are pending
	KeepKey   bool     `yaml:"keep_key"`    // reuse the source record key
	ClientID  string   `yaml:"client_id"`
}

const defaultBatchSize = 500

type driver struct {
	cfg     Config
	p       sarama.SyncProducer
	pending []*sarama.ProducerMessage
}

func (d *driver) Configure(c any) error {
	switch cfg := c.(type) {
	case Config:
		d.cfg = cfg
	case *Config:
		d.cfg = *cfg
	default:
		return fmt.Errorf("kafka-sink: want Config, got %T", c)
	}
	if len(d.cfg.Brokers) == 0 || d.cfg.Topic == "" {
		return errors.New("kafka-sink: brokers and topic are required")
	}
	if d.cfg.BatchSize <= 0 {
		d.cfg.BatchSize = defaultBatchSize
	}
	return nil
}

func (d *driver) saramaConfig() (*sarama.Config, error) {
	sc := sarama.NewConfig()
	if d.cfg.Version != "" {
		ver, err := sarama.ParseKafkaVersion(d.cfg.Version)
		if err != nil {
			return nil, err
		}
		sc.Version = ver
	}
	if d.cfg.ClientID != "" {
		sc.ClientID = d.cfg.ClientID
	}
	sc.Producer.RequiredAcks = sarama.RequiredAcks(d.cfg.Acks)
	sc.Producer.Return.Successes = true
	sc.Producer.Return.Errors = true
	sc.Producer.Retry.Backoff = 250 * time.Millisecond
	return sc, nil
}

func (d *driver) Start(context.Context) error {
	if d.p != nil {
		return nil
	}
	sc, err := d.saramaConfig()
	if err != nil {
		return err
	}
	d.p, err = sarama.NewSyncProducer(d.cfg.Brokers, sc)
	return err
}

func (d *driver) Deliver(ctx context.Context, ev event.Event) error {
	msg := &sarama.ProducerMessage{
		Topic:     d.cfg.Topic,
		Value:     sarama.ByteEncoder(ev.Payload),
		Timestamp: time.UnixMilli(ev.Time),
		Headers: []sarama.RecordHeader{
			{Key: []byte("source-topic"), Value: []byte(ev.Topic)},
			{Key: []byte("source-partition"), Value: []byte(strconv.Itoa(int(ev.Partition)))},
			{Key: []byte("source-offset"), Value: []byte(strconv.FormatInt(ev.Offset, 10))},
		},
	}
	if d.cfg.KeepKey && ev.Key != nil {
		msg.Key = sarama.ByteEncoder(ev.Key)
	}
	d.pending = append(d.pending, msg)
	if len(d.pending) >= d.cfg.BatchSize {
		return d.send()
	}
	return nil
}

func (d *driver) Flush(context.Context) error { return d.send() }

func (d *driver) Sync(context.Context) error { return d.send() }

// send produces every pending message. Messages that failed stay pending and
// are sent again on the next call.
func (d *driver) send() error {
	if len(d.pending) == 0 {
		return nil
	}
	err := d.p.SendMessages(d.pending)
	if err == nil {
		d.pending = d.pending[:0]
		return nil
	}
	var perrs sarama.ProducerErrors
	if errors.As(err, &perrs) {
		failed := make([]*sarama.ProducerMessage, 0, len(perrs))
		for _, pe := range perrs {
			failed = append(failed, pe.Msg)
		}
		d.pending = failed
	}
	return fmt.Errorf("kafka-sink: %d message(s) not acknowledged: %w", len(d.pending), err)
}

func (d *driver) Close() error {
	if d.p == nil {
		return nil
	}
	if err := d.send(); err != nil {
		logging.L().Warn("kafka-sink: dropping unsent messages on close", "count", len(d.pending), "err", err)
	}
	p := d.p
	d.p = nil
	return p.Close()
}

func init() { sink.Register("kafka", func() sink.Adapter { return &driver{} }) }
