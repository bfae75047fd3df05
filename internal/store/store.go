// Package store tracks investigations across their lifetime so the
// HTTP layer can poll status and fetch reports. In-memory only; a
// restart loses suspended investigations.
package store

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/tareqmamari/rca-agent/internal/agent"
)

// ErrNotFound is returned for unknown investigation IDs.
var ErrNotFound = fmt.Errorf("investigation not found")

// Store holds point-in-time snapshots of all known investigations,
// keyed by ID. The goroutine running an investigation owns the live
// record; it publishes state here via Put and the progress sink, and
// readers only ever see those published copies.
type Store struct {
	mu             sync.RWMutex
	investigations map[string]agent.Investigation
	logger         *zap.Logger
}

func New(logger *zap.Logger) *Store {
	return &Store{
		investigations: make(map[string]agent.Investigation),
		logger:         logger,
	}
}

// Put records the investigation's current state. The caller must be the
// record's owner; the store keeps a copy so pollers never observe
// in-flight mutations.
func (s *Store) Put(inv *agent.Investigation) {
	s.mu.Lock()
	s.investigations[inv.ID] = *inv
	s.mu.Unlock()
}

// Get returns the last published snapshot of the investigation.
func (s *Store) Get(id string) (*agent.Investigation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inv, ok := s.investigations[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return &inv, nil
}

// List returns snapshots of all investigations, newest first.
func (s *Store) List() []*agent.Investigation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := make([]*agent.Investigation, 0, len(s.investigations))
	for _, inv := range s.investigations {
		cp := inv
		list = append(list, &cp)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].StartedAt.After(list[j].StartedAt)
	})
	return list
}

// OnStageChange is the progress sink wired into every engine. The engine
// invokes it synchronously between stages, so publishing the record here
// is race free.
func (s *Store) OnStageChange(inv *agent.Investigation) {
	s.Put(inv)
	s.logger.Info("investigation progress",
		zap.String("id", inv.ID),
		zap.String("stage", string(inv.Stage)),
		zap.Int("iteration", inv.IterationCount))
}

// Len returns the number of tracked investigations.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.investigations)
}
