package verstore

import (
	"context"
	"sync"
)

// Memory is an in-process Store. The mutex makes Patch's check-and-write a
// single atomic step, which is all the optimistic update loop needs.
type Memory struct {
	mu   sync.RWMutex
	recs map[string]Record
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{recs: make(map[string]Record)}
}

func (s *Memory) Get(_ context.Context, key string) (Record, bool, error) {
	s.mu.RLock()
	r, ok := s.recs[key]
	s.mu.RUnlock()
	if !ok {
		return Record{}, false, nil
	}
	r.Attrs = clone(r.Attrs)
	return r, true, nil
}

func (s *Memory) Create(_ context.Context, key string, attrs Attrs) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.recs[key]; ok {
		return Record{}, ErrExists
	}
	r := Record{Key: key, Version: 1, Attrs: clone(attrs)}
	s.recs[key] = r
	r.Attrs = clone(r.Attrs)
	return r, nil
}

func (s *Memory) Patch(_ context.Context, key string, changes Attrs, expectedVersion int64) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.recs[key]
	if !ok {
		return Record{}, ErrNotFound
	}
	if r.Version != expectedVersion {
		return Record{}, ErrVersionConflict
	}
	next := Record{Key: key, Version: expectedVersion + 1, Attrs: clone(r.Attrs)}
	for k, v := range changes {
		next.Attrs[k] = v
	}
	s.recs[key] = next
	next.Attrs = clone(next.Attrs)
	return next, nil
}

func (s *Memory) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.recs, key)
	s.mu.Unlock()
	return nil
}

func (s *Memory) Close(_ context.Context) error { return nil }
