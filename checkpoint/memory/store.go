// Package memory keeps checkpoints in process memory. It is the default store
// and the one used by tests; nothing survives a restart.
package memory

import (
	"context"
	"sync"

	"logpipe/checkpoint"
)

type Store struct {
	mu    sync.Mutex
	cps   map[int32]checkpoint.Checkpoint
	saves int
	fail  error
}

func New() *Store {
	return &Store{cps: make(map[int32]checkpoint.Checkpoint)}
}

func (s *Store) Load(_ context.Context, partitions []int32) (map[int32]checkpoint.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int32]checkpoint.Checkpoint, len(partitions))
	for _, p := range partitions {
		if cp, ok := s.cps[p]; ok {
			out[p] = cp
		} else {
			out[p] = checkpoint.None()
		}
	}
	return out, nil
}

func (s *Store) Save(_ context.Context, cps map[int32]checkpoint.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	for p, cp := range cps {
		s.cps[p] = cp
	}
	s.saves++
	return nil
}

// FailSaves makes every following Save return err until it is called with nil.
func (s *Store) FailSaves(err error) {
	s.mu.Lock()
	s.fail = err
	s.mu.Unlock()
}

// Saves returns how many Save calls succeeded.
func (s *Store) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

// Get returns the stored checkpoint of one partition.
func (s *Store) Get(p int32) (checkpoint.Checkpoint, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp, ok := s.cps[p]
	return cp, ok
}

func (s *Store) Close() error { return nil }

func init() {
	checkpoint.Register("memory", func(checkpoint.Config) (checkpoint.Store, error) { return New(), nil })
}
