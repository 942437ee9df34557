package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/richinex/draftguard/model"
)

// History is one session's conversation, cached in memory and written
// through to a ConversationStorage. It is safe for concurrent use.
type History struct {
	store     ConversationStorage
	sessionID string

	mu       sync.RWMutex
	messages []model.Message
}

// OpenHistory loads a session. An empty sessionID starts a new session.
func OpenHistory(ctx context.Context, store ConversationStorage, sessionID string) (*History, error) {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	messages, err := store.Load(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", sessionID, err)
	}
	return &History{store: store, sessionID: sessionID, messages: messages}, nil
}

// SessionID returns the session this history belongs to.
func (h *History) SessionID() string {
	return h.sessionID
}

// Messages returns the message texts oldest first.
func (h *History) Messages() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	texts := make([]string, len(h.messages))
	for i, m := range h.messages {
		texts[i] = m.Text
	}
	return texts
}

// Entries returns a copy of the full messages.
func (h *History) Entries() []model.Message {
	h.mu.RLock()
	defer h.mu.RUnlock()

	copied := make([]model.Message, len(h.messages))
	copy(copied, h.messages)
	return copied
}

// AppendSent records a message the user sent.
func (h *History) AppendSent(ctx context.Context, text string) error {
	return h.append(ctx, text, model.DirectionSent)
}

// AppendReceived records a message from the other party.
func (h *History) AppendReceived(ctx context.Context, text string) error {
	return h.append(ctx, text, model.DirectionReceived)
}

func (h *History) append(ctx context.Context, text string, dir model.Direction) error {
	msg := model.Message{
		ID:        uuid.NewString(),
		Text:      text,
		Direction: dir,
		Timestamp: time.Now(),
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.store.Append(ctx, h.sessionID, msg); err != nil {
		return err
	}
	h.messages = append(h.messages, msg)
	return nil
}
