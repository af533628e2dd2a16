// Package memory provides the in-process GrantStore used by tests and
// single-node deployments.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/dropDatabas3/grantd/internal/store/core"
)

type Store struct {
	mu      sync.RWMutex
	entries map[string]*core.GrantEntry // "type:hashedKey" -> entry
}

func New() *Store {
	return &Store{entries: make(map[string]*core.GrantEntry)}
}

func storageKey(typ core.GrantType, hashedKey string) string {
	return string(typ) + ":" + hashedKey
}

func (s *Store) Store(_ context.Context, entry *core.GrantEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := storageKey(entry.Type, entry.Key)
	if _, exists := s.entries[k]; exists {
		return core.ErrConflict
	}
	cp := *entry
	s.entries[k] = &cp
	return nil
}

func (s *Store) GetByKey(_ context.Context, typ core.GrantType, hashedKey string) (*core.GrantEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[storageKey(typ, hashedKey)]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

// MarkConsumed is the check-and-set the engine relies on: the consumed flag is
// tested and written under the same lock, so exactly one concurrent caller wins.
func (s *Store) MarkConsumed(_ context.Context, typ core.GrantType, hashedKey string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[storageKey(typ, hashedKey)]
	if !ok {
		return core.ErrNotFound
	}
	if e.ConsumedTime != nil {
		return core.ErrAlreadyConsumed
	}
	t := at
	e.ConsumedTime = &t
	return nil
}

func (s *Store) RemoveByKey(_ context.Context, typ core.GrantType, hashedKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, storageKey(typ, hashedKey))
	return nil
}

func (s *Store) RemoveAll(_ context.Context, f core.Filter) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, e := range s.entries {
		if f.Matches(e) {
			delete(s.entries, k)
			n++
		}
	}
	return n, nil
}

// SweepExpired re-checks expiration under the write lock so an entry being
// consumed concurrently is never deleted on stale information.
func (s *Store) SweepExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, e := range s.entries {
		if e.Expired(now) {
			delete(s.entries, k)
			n++
		}
	}
	return n, nil
}

// Len is a test helper: number of live entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
