package amqp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"

	"logpipe/internal/event"
	"logpipe/sink"
)

type Config struct {
	URL          string `yaml:"url"`
	Exchange     string `yaml:"exchange"`
	ExchangeKind string `yaml:"exchange_kind"` // declared when set
	RoutingKey   string `yaml:"routing_key"`   // "{partition}" is replaced
	ContentType  string `yaml:"content_type"`
	Persistent   bool   `yaml:"persistent"`
}

// publisher is the slice of *amqp091.Channel the driver needs.
type publisher interface {
	PublishWithDeferredConfirmWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) (*amqp091.DeferredConfirmation, error)
	Close() error
}

// confirmation abstracts *amqp091.DeferredConfirmation.
type confirmation interface {
	WaitContext(ctx context.Context) (bool, error)
}

type driver struct {
	cfg  Config
	conn *amqp091.Connection
	ch   publisher

	publish func(ctx context.Context, key string, msg amqp091.Publishing) (confirmation, error)
	pending []confirmation
}

func (d *driver) Configure(c any) error {
	switch cfg := c.(type) {
	case Config:
		d.cfg = cfg
	case *Config:
		d.cfg = *cfg
	default:
		return fmt.Errorf("amqp-sink: want Config, got %T", c)
	}
	if d.cfg.URL == "" {
		return errors.New("amqp-sink: url is required")
	}
	if d.cfg.ContentType == "" {
		d.cfg.ContentType = "application/octet-stream"
	}
	return nil
}

func (d *driver) Start(ctx context.Context) error {
	conn, err := amqp091.DialConfig(d.cfg.URL, amqp091.Config{Properties: amqp091.Table{"connection_name": "logpipe"}})
	if err != nil {
		return fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open rabbitmq channel: %w", err)
	}
	if d.cfg.ExchangeKind != "" {
		if err := ch.ExchangeDeclare(d.cfg.Exchange, d.cfg.ExchangeKind, true, false, false, false, nil); err != nil {
			ch.Close()
			conn.Close()
			return fmt.Errorf("declare exchange: %w", err)
		}
	}
	if err := ch.Confirm(false); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("enable publisher confirms: %w", err)
	}
	d.conn, d.ch = conn, ch
	d.publish = func(ctx context.Context, key string, msg amqp091.Publishing) (confirmation, error) {
		dc, err := ch.PublishWithDeferredConfirmWithContext(ctx, d.cfg.Exchange, key, false, false, msg)
		if err != nil || dc == nil {
			return nil, err
		}
		return dc, nil
	}
	return nil
}

func (d *driver) routingKey(ev event.Event) string {
	return strings.ReplaceAll(d.cfg.RoutingKey, "{partition}", fmt.Sprint(ev.Partition))
}

func (d *driver) Deliver(ctx context.Context, ev event.Event) error {
	if d.publish == nil {
		return errors.New("amqp-sink: not started")
	}
	msg := amqp091.Publishing{
		ContentType: d.cfg.ContentType,
		MessageId:   uuid.NewString(),
		Timestamp:   time.UnixMilli(ev.Time),
		Body:        ev.Payload,
		Headers: amqp091.Table{
			"source_topic":     ev.Topic,
			"source_partition": ev.Partition,
			"source_offset":    ev.Offset,
		},
	}
	if d.cfg.Persistent {
		msg.DeliveryMode = amqp091.Persistent
	}
	dc, err := d.publish(ctx, d.routingKey(ev), msg)
	if err != nil {
		return fmt.Errorf("amqp-sink: publish: %w", err)
	}
	if dc != nil {
		d.pending = append(d.pending, dc)
	}
	return nil
}

// Flush is a no-op: publishes leave immediately and Sync awaits the confirms.
func (d *driver) Flush(context.Context) error { return nil }

func (d *driver) Sync(ctx context.Context) error {
	var nacked int
	for i, dc := range d.pending {
		ok, err := dc.WaitContext(ctx)
		if err != nil {
			d.pending = d.pending[i:]
			return fmt.Errorf("amqp-sink: awaiting confirms: %w", err)
		}
		if !ok {
			nacked++
		}
	}
	d.pending = d.pending[:0]
	if nacked > 0 {
		return fmt.Errorf("amqp-sink: broker nacked %d message(s)", nacked)
	}
	return nil
}

func (d *driver) Close() error {
	var errs []error
	if d.ch != nil {
		errs = append(errs, d.ch.Close())
		d.ch = nil
	}
	if d.conn != nil {
		errs = append(errs, d.conn.Close())
		d.conn = nil
	}
	d.publish = nil
	return errors.Join(errs...)
}

func init() { sink.Register("amqp", func() sink.Adapter { return &driver{} }) }
