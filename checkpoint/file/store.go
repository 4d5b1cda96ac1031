// Package file persists checkpoints as one protobuf-encoded file per
// (pipeline, topic), replaced atomically on every save.
package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"logpipe/checkpoint"
)

type Store struct {
	path     string
	pipeline string
	topic    string

	mu  sync.Mutex
	cur map[int32]checkpoint.Checkpoint
}

// New opens (or prepares) the checkpoint file under dir.
func New(dir, pipeline, topic string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir checkpoint dir: %w", err)
	}
	s := &Store{
		path:     filepath.Join(dir, fmt.Sprintf("%s.%s.ckpt", pipeline, topic)),
		pipeline: pipeline,
		topic:    topic,
		cur:      make(map[int32]checkpoint.Checkpoint),
	}
	raw, err := os.ReadFile(s.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		if s.cur, err = decode(raw, pipeline, topic); err != nil {
			return nil, fmt.Errorf("decode %s: %w", s.path, err)
		}
	}
	return s, nil
}

func (s *Store) Load(_ context.Context, partitions []int32) (map[int32]checkpoint.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int32]checkpoint.Checkpoint, len(partitions))
	for _, p := range partitions {
		cp, ok := s.cur[p]
		if !ok {
			cp = checkpoint.None()
		}
		out[p] = cp
	}
	return out, nil
}

func (s *Store) Save(_ context.Context, cps map[int32]checkpoint.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := checkpoint.Clone(s.cur)
	for p, cp := range cps {
		next[p] = cp
	}
	if err := writeAtomic(s.path, encode(s.pipeline, s.topic, next)); err != nil {
		return err
	}
	s.cur = next
	return nil
}

func (s *Store) Close() error { return nil }

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".ckpt-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func init() {
	checkpoint.Register("file", func(c checkpoint.Config) (checkpoint.Store, error) {
		dir := c.Path
		if dir == "" {
			dir = "checkpoints"
		}
		return New(dir, c.Pipeline, c.Topic)
	})
}
