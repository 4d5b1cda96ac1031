package codec

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Envelope field numbers.
const (
	envTimestamp protowire.Number = 1 // int64, unix ms
	envBody      protowire.Number = 2 // bytes
)

var errMalformed = errors.New("codec: malformed envelope")

// Envelope decodes the protobuf message
//
//	message Envelope { int64 timestamp_ms = 1; bytes body = 2; }
//
// Unknown fields are skipped.
type Envelope struct{}

func (Envelope) Decode(payload []byte, _ int64) (Decoded, error) {
	var (
		out    Decoded
		seenTS bool
	)
	b := payload
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Decoded{}, fmt.Errorf("%w: %v", errMalformed, protowire.ParseError(n))
		}
		b = b[n:]
		switch {
		case num == envTimestamp && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return Decoded{}, fmt.Errorf("%w: %v", errMalformed, protowire.ParseError(m))
			}
			out.Time = int64(v)
			seenTS = true
			b = b[m:]
		case num == envBody && typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return Decoded{}, fmt.Errorf("%w: %v", errMalformed, protowire.ParseError(m))
			}
			out.Body = v
			b = b[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return Decoded{}, fmt.Errorf("%w: %v", errMalformed, protowire.ParseError(m))
			}
			b = b[m:]
		}
	}
	if !seenTS {
		return Decoded{}, ErrNoTimestamp
	}
	return out, nil
}

// EncodeEnvelope is the inverse of Envelope.Decode.
func EncodeEnvelope(ts int64, body []byte) []byte {
	var b []byte
	b = protowire.AppendTag(b, envTimestamp, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(ts))
	b = protowire.AppendTag(b, envBody, protowire.BytesType)
	b = protowire.AppendBytes(b, body)
	return b
}
