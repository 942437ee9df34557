// In-memory storage for conversations and the assessment log.
//
// Information Hiding:
// - Map storage structure hidden from users
// - Thread-safe access via RWMutex hidden behind interface
// - Suitable for testing and ephemeral sessions

package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/richinex/draftguard/model"
)

// InMemoryStorage implements ConversationStorage and AssessmentLog using maps.
// Data is lost when process terminates.
type InMemoryStorage struct {
	mu          sync.RWMutex
	sessions    map[string][]model.Message
	updated     map[string]int64 // session -> sequence of last update
	seq         int64
	assessments []model.AssessmentRecord
}

// NewInMemoryStorage creates a new in-memory storage.
func NewInMemoryStorage() *InMemoryStorage {
	return &InMemoryStorage{
		sessions: make(map[string][]model.Message),
		updated:  make(map[string]int64),
	}
}

// Append adds a message to the end of a session.
func (s *InMemoryStorage) Append(ctx context.Context, sessionID string, msg model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[sessionID] = append(s.sessions[sessionID], normalizeMessage(msg))
	s.seq++
	s.updated[sessionID] = s.seq
	return nil
}

// Load returns a session's messages oldest first.
// Returns empty slice if session doesn't exist.
func (s *InMemoryStorage) Load(ctx context.Context, sessionID string) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history, ok := s.sessions[sessionID]
	if !ok {
		return []model.Message{}, nil
	}

	// Return a copy to avoid external mutations
	copied := make([]model.Message, len(history))
	copy(copied, history)
	return copied, nil
}

// Delete deletes a session.
func (s *InMemoryStorage) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, sessionID)
	delete(s.updated, sessionID)
	return nil
}

// ListSessions lists all session IDs, most recently updated first.
func (s *InMemoryStorage) ListSessions(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sessions := make([]string, 0, len(s.sessions))
	for sessionID := range s.sessions {
		sessions = append(sessions, sessionID)
	}
	sort.Slice(sessions, func(i, j int) bool {
		return s.updated[sessions[i]] > s.updated[sessions[j]]
	})
	return sessions, nil
}

// Exists checks if a session exists.
func (s *InMemoryStorage) Exists(ctx context.Context, sessionID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.sessions[sessionID]
	return ok, nil
}

// RecordAssessment appends an assessment record.
func (s *InMemoryStorage) RecordAssessment(ctx context.Context, rec model.AssessmentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec.Factors = append([]string(nil), rec.Factors...)
	s.assessments = append(s.assessments, rec)
	return nil
}

// RecentAssessments returns up to limit records, newest first.
func (s *InMemoryStorage) RecentAssessments(ctx context.Context, limit int) ([]model.AssessmentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.assessments)
	if limit < 0 || limit > n {
		limit = n
	}
	records := make([]model.AssessmentRecord, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		records = append(records, s.assessments[i])
	}
	return records, nil
}

// Verify InMemoryStorage implements all interfaces
var _ ConversationStorage = (*InMemoryStorage)(nil)
var _ AssessmentLog = (*InMemoryStorage)(nil)
