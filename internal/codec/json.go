package codec

import (
	"encoding/json"
	"fmt"
	"time"
)

const defaultTimeField = "timestamp"

// JSON reads the event time from a top-level field of a JSON object. The
// field may hold unix milliseconds or an RFC 3339 string. The body is the
// untouched payload.
type JSON struct {
	field string
}

func NewJSON(field string) JSON {
	if field == "" {
		field = defaultTimeField
	}
	return JSON{field: field}
}

func (j JSON) Decode(payload []byte, _ int64) (Decoded, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(payload, &obj); err != nil {
		return Decoded{}, fmt.Errorf("codec: json: %w", err)
	}
	raw, ok := obj[j.field]
	if !ok {
		return Decoded{}, fmt.Errorf("%w: missing field %q", ErrNoTimestamp, j.field)
	}
	ts, err := parseTime(raw)
	if err != nil {
		return Decoded{}, fmt.Errorf("codec: json field %q: %w", j.field, err)
	}
	return Decoded{Time: ts, Body: payload}, nil
}

func parseTime(raw json.RawMessage) (int64, error) {
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		if ms, err := n.Int64(); err == nil {
			return ms, nil
		}
		f, err := n.Float64()
		if err != nil {
			return 0, err
		}
		return int64(f), nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, ErrNoTimestamp
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return 0, err
	}
	return t.UnixMilli(), nil
}
