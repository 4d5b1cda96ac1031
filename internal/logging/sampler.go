package logging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// OutageWindow is how long an identical outage message stays muted.
const OutageWindow = time.Minute

const samplerKeys = 1024

// Sampler emits a given message at most once per window. It is meant for
// conditions that repeat every loop iteration while a dependency is down.
type Sampler struct {
	logger *slog.Logger
	window time.Duration
	now    func() time.Time
	last   *expirable.LRU[string, time.Time]
}

// Sampled returns a Sampler that writes through L().
func Sampled(window time.Duration) *Sampler {
	return NewSampler(nil, window)
}

// NewSampler returns a Sampler writing to l, or to L() when l is nil.
func NewSampler(l *slog.Logger, window time.Duration) *Sampler {
	if window <= 0 {
		window = OutageWindow
	}
	return &Sampler{
		logger: l,
		window: window,
		now:    time.Now,
		last:   expirable.NewLRU[string, time.Time](samplerKeys, nil, window),
	}
}

// WithClock replaces the time source.
func (s *Sampler) WithClock(now func() time.Time) *Sampler {
	s.now = now
	return s
}

// Allow reports whether key may be logged now and records the emission.
func (s *Sampler) Allow(key string) bool {
	now := s.now()
	if at, ok := s.last.Get(key); ok && now.Sub(at) < s.window {
		return false
	}
	s.last.Add(key, now)
	return true
}

func (s *Sampler) Warn(msg string, args ...any) bool {
	return s.log(slog.LevelWarn, msg, args...)
}

func (s *Sampler) Error(msg string, args ...any) bool {
	return s.log(slog.LevelError, msg, args...)
}

func (s *Sampler) log(lvl slog.Level, msg string, args ...any) bool {
	if !s.Allow(key(msg, args)) {
		return false
	}
	l := s.logger
	if l == nil {
		l = L()
	}
	l.Log(context.Background(), lvl, msg, args...)
	return true
}

// identityKeys are the attributes that tell one outage apart from another.
// Everything else, errors in particular, varies between repeats.
var identityKeys = map[string]bool{"pipeline": true, "topic": true, "partition": true}

func key(msg string, args []any) string {
	var b strings.Builder
	b.WriteString(msg)
	for i := 0; i < len(args); i++ {
		var (
			k string
			v any
		)
		switch a := args[i].(type) {
		case slog.Attr:
			k, v = a.Key, a.Value.Any()
		case string:
			if i+1 >= len(args) {
				continue
			}
			k, v = a, args[i+1]
			i++
		default:
			continue
		}
		if identityKeys[k] {
			fmt.Fprintf(&b, "|%s=%v", k, v)
		}
	}
	return b.String()
}
