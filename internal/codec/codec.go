// Package codec turns raw Kafka record payloads into timestamped events.
package codec

import (
	"errors"
	"fmt"
)

// ErrNoTimestamp is returned when a payload carries no usable event time.
var ErrNoTimestamp = errors.New("codec: no event timestamp")

// Decoded is the result of decoding one record.
type Decoded struct {
	// Time is the event time in unix milliseconds.
	Time int64
	Body []byte
}

// Decoder extracts the event time and body from a payload. brokerTime is the
// record timestamp assigned by the broker in unix milliseconds, or -1.
type Decoder interface {
	Decode(payload []byte, brokerTime int64) (Decoded, error)
}

// Config selects a decoder in the daemon file.
type Config struct {
	Kind      string `yaml:"kind"`
	TimeField string `yaml:"time_field"`
}

// New builds the decoder named by cfg.Kind. An empty kind selects "raw".
func New(cfg Config) (Decoder, error) {
	switch cfg.Kind {
	case "", "raw":
		return Raw{}, nil
	case "json":
		return NewJSON(cfg.TimeField), nil
	case "envelope":
		return Envelope{}, nil
	default:
		return nil, fmt.Errorf("codec: unknown decoder %q", cfg.Kind)
	}
}

// Raw keeps the payload as is and stamps it with the broker timestamp.
type Raw struct{}

func (Raw) Decode(payload []byte, brokerTime int64) (Decoded, error) {
	if brokerTime < 0 {
		return Decoded{}, ErrNoTimestamp
	}
	return Decoded{Time: brokerTime, Body: payload}, nil
}
