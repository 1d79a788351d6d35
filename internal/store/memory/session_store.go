// Package memory provides an in-memory scraper.SessionStore for single-node
// deployments and tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/paddockdata/racepipe/internal/scraper"
)

// SessionStore keeps sessions and results in process memory.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]scraper.PipelineSession
	results  map[string]scraper.RunResult
}

// NewSessionStore builds an empty store.
func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]scraper.PipelineSession),
		results:  make(map[string]scraper.RunResult),
	}
}

// CreateRun registers a new session. Duplicate IDs are rejected.
func (s *SessionStore) CreateRun(_ context.Context, session scraper.PipelineSession) error {
	if session.ID == "" {
		return fmt.Errorf("session id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[session.ID]; exists {
		return fmt.Errorf("run %s already exists", session.ID)
	}
	s.sessions[session.ID] = session
	return nil
}

// GetRun returns the stored session.
func (s *SessionStore) GetRun(_ context.Context, runID string) (scraper.PipelineSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[runID]
	if !ok {
		return scraper.PipelineSession{}, fmt.Errorf("get run %s: %w", runID, scraper.ErrRunNotFound)
	}
	return session, nil
}

// UpdateRun overwrites an existing session.
func (s *SessionStore) UpdateRun(_ context.Context, session scraper.PipelineSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[session.ID]; !ok {
		return fmt.Errorf("update run %s: %w", session.ID, scraper.ErrRunNotFound)
	}
	s.sessions[session.ID] = session
	return nil
}

// SaveResult stores the finalized result for a run.
func (s *SessionStore) SaveResult(_ context.Context, result scraper.RunResult) error {
	if result.RunID == "" {
		return fmt.Errorf("result run id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[result.RunID] = result
	return nil
}

// GetResult returns the finalized result for a run.
func (s *SessionStore) GetResult(_ context.Context, runID string) (scraper.RunResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result, ok := s.results[runID]
	if !ok {
		return scraper.RunResult{}, fmt.Errorf("get result %s: %w", runID, scraper.ErrRunNotFound)
	}
	return result, nil
}
