package chat

import (
	"sync"

	"github.com/charmbracelet/log"
)

// Stores is the registry of per-project chat stores.
type Stores struct {
	runner Runner
	logger *log.Logger

	mu     sync.RWMutex
	stores map[string]*Store
}

// NewStores creates a registry whose stores share one runner.
func NewStores(runner Runner) *Stores {
	return &Stores{
		runner: runner,
		stores: make(map[string]*Store),
	}
}

// SetLogger propagates a logger to newly created stores.
func (s *Stores) SetLogger(logger *log.Logger) {
	s.logger = logger
}

// ChatStore returns the store for a project, or nil if none exists. The
// coordinator treats a missing store as a setup failure for queued work.
func (s *Stores) ChatStore(projectID string) *Store {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stores[projectID]
}

// Ensure returns the store for a project, creating it if needed.
func (s *Stores) Ensure(projectID string) *Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.stores[projectID]; ok {
		return st
	}
	st := NewStore(projectID, s.runner)
	if s.logger != nil {
		st.SetLogger(s.logger)
	}
	s.stores[projectID] = st
	return st
}
