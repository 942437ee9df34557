// Package storage persists conversations and the assessment log.
//
// Information Hiding:
// - Storage backend implementation details hidden behind interfaces
// - Allows swapping between memory and SQLite without API changes
// - Each storage implementation encapsulates its own data structures and protocols

package storage

import (
	"context"

	"github.com/richinex/draftguard/model"
)

// ConversationStorage stores the messages of chat sessions.
type ConversationStorage interface {
	// Append adds a message to the end of a session, creating it if needed.
	Append(ctx context.Context, sessionID string, msg model.Message) error

	// Load returns a session's messages oldest first.
	// Returns empty slice (not nil) if session doesn't exist.
	// Returns error only for storage failures (I/O errors, etc.), not missing sessions.
	Load(ctx context.Context, sessionID string) ([]model.Message, error)

	// Delete deletes a session and its messages.
	Delete(ctx context.Context, sessionID string) error

	// ListSessions lists all session IDs, most recently updated first.
	ListSessions(ctx context.Context) ([]string, error)

	// Exists checks if a session exists.
	Exists(ctx context.Context, sessionID string) (bool, error)
}

// AssessmentLog stores assessment outcomes. Records never contain message text.
type AssessmentLog interface {
	RecordAssessment(ctx context.Context, rec model.AssessmentRecord) error

	// RecentAssessments returns up to limit records, newest first.
	RecentAssessments(ctx context.Context, limit int) ([]model.AssessmentRecord, error)
}
