// SQLite storage for conversations and the assessment log.
//
// Information Hiding:
// - SQLite connection management hidden behind interface
// - Schema and migration details encapsulated
// - Thread-safe via sql.DB's built-in connection pooling

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/richinex/draftguard/model"
)

// SqliteStorage implements ConversationStorage and AssessmentLog using SQLite.
// Thread-safe: sql.DB handles connection pooling and concurrent access.
type SqliteStorage struct {
	db *sql.DB
}

// OpenSqlite opens or creates a SQLite database at the given path.
// Creates parent directories if they don't exist.
func OpenSqlite(path string) (*SqliteStorage, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	storage := &SqliteStorage{db: db}
	if err := storage.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return storage, nil
}

// NewSqliteInMemory creates an in-memory database (useful for testing).
func NewSqliteInMemory() (*SqliteStorage, error) {
	db, err := sql.Open("sqlite3", ":memory:?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory SQLite: %w", err)
	}
	// Each connection to :memory: is a separate database.
	db.SetMaxOpenConns(1)

	storage := &SqliteStorage{db: db}
	if err := storage.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return storage, nil
}

// Close closes the database connection.
func (s *SqliteStorage) Close() error {
	return s.db.Close()
}

func (s *SqliteStorage) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			created_at TEXT NOT NULL DEFAULT (datetime('now')),
			updated_at TEXT NOT NULL DEFAULT (datetime('now'))
		);

		CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			message_index INTEGER NOT NULL,
			direction TEXT NOT NULL,
			text TEXT NOT NULL,
			sent_at INTEGER NOT NULL,
			FOREIGN KEY (session_id) REFERENCES sessions(session_id) ON DELETE CASCADE,
			UNIQUE(session_id, message_index)
		);

		CREATE INDEX IF NOT EXISTS idx_messages_session
		ON messages(session_id, message_index);

		CREATE TABLE IF NOT EXISTS assessments (
			request_id TEXT NOT NULL,
			draft_digest TEXT,
			outcome TEXT NOT NULL,
			risk_level TEXT,
			show_warning INTEGER NOT NULL DEFAULT 0,
			factors TEXT,
			error TEXT,
			span_count INTEGER NOT NULL DEFAULT 0,
			duration_ms INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_assessments_created
		ON assessments(created_at DESC);
	`

	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func (s *SqliteStorage) ensureSession(ctx context.Context, tx *sql.Tx, sessionID string) error {
	_, err := tx.ExecContext(ctx,
		"INSERT OR IGNORE INTO sessions (session_id) VALUES (?)",
		sessionID,
	)
	if err != nil {
		return fmt.Errorf("failed to ensure session: %w", err)
	}
	return nil
}

// Append adds a message to the end of a session.
// Missing ID and timestamp are filled in.
func (s *SqliteStorage) Append(ctx context.Context, sessionID string, msg model.Message) error {
	msg = normalizeMessage(msg)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	// defer tx.Rollback() is safe even after Commit() - it becomes a no-op
	defer func() { _ = tx.Rollback() }()

	if err := s.ensureSession(ctx, tx, sessionID); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, session_id, message_index, direction, text, sent_at)
		VALUES (?, ?, (SELECT COALESCE(MAX(message_index), -1) + 1 FROM messages WHERE session_id = ?), ?, ?, ?)`,
		msg.ID, sessionID, sessionID, string(msg.Direction), msg.Text, msg.Timestamp.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE sessions SET updated_at = datetime('now') WHERE session_id = ?",
		sessionID)
	if err != nil {
		return fmt.Errorf("failed to update session timestamp: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Load loads a session's messages oldest first.
// Returns empty slice if session doesn't exist.
func (s *SqliteStorage) Load(ctx context.Context, sessionID string) ([]model.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, direction, text, sent_at FROM messages WHERE session_id = ? ORDER BY message_index ASC",
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	messages := []model.Message{} // Start with empty slice, not nil
	for rows.Next() {
		var msg model.Message
		var direction string
		var sentAt int64
		if err := rows.Scan(&msg.ID, &direction, &msg.Text, &sentAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msg.Direction = model.Direction(direction)
		msg.Timestamp = time.UnixMilli(sentAt)
		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}

	return messages, nil
}

// Delete deletes a session and, by cascade, its messages.
func (s *SqliteStorage) Delete(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM sessions WHERE session_id = ?",
		sessionID)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// ListSessions lists all session IDs.
func (s *SqliteStorage) ListSessions(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT session_id FROM sessions ORDER BY updated_at DESC, rowid DESC")
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	sessions := []string{} // Start with empty slice, not nil
	for rows.Next() {
		var sessionID string
		if err := rows.Scan(&sessionID); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, sessionID)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sessions: %w", err)
	}

	return sessions, nil
}

// Exists checks if a session exists.
func (s *SqliteStorage) Exists(ctx context.Context, sessionID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sessions WHERE session_id = ?",
		sessionID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check session existence: %w", err)
	}

	return count > 0, nil
}

// AssessmentLog implementation

// RecordAssessment appends an assessment record.
func (s *SqliteStorage) RecordAssessment(ctx context.Context, rec model.AssessmentRecord) error {
	// Convert empty values to NULL for optional fields
	var digest, level, factors, errMsg interface{}
	if rec.DraftDigest != "" {
		digest = rec.DraftDigest
	}
	if rec.Outcome == model.ResultSuccess {
		level = rec.Level.String()
		encoded, err := json.Marshal(rec.Factors)
		if err != nil {
			return fmt.Errorf("failed to encode risk factors: %w", err)
		}
		factors = string(encoded)
	}
	if rec.Error != "" {
		errMsg = rec.Error
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO assessments
		(request_id, draft_digest, outcome, risk_level, show_warning, factors, error, span_count, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RequestID,
		digest,
		rec.Outcome.String(),
		level,
		rec.ShowWarning,
		factors,
		errMsg,
		rec.SpanCount,
		rec.Duration.Milliseconds(),
		createdAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to record assessment: %w", err)
	}
	return nil
}

// RecentAssessments returns up to limit records, newest first.
func (s *SqliteStorage) RecentAssessments(ctx context.Context, limit int) ([]model.AssessmentRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT request_id, draft_digest, outcome, risk_level, show_warning, factors, error, span_count, duration_ms, created_at
		FROM assessments
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query assessments: %w", err)
	}
	defer rows.Close()

	records := []model.AssessmentRecord{}
	for rows.Next() {
		rec, err := scanAssessmentRow(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating assessments: %w", err)
	}

	return records, nil
}

// scanAssessmentRow scans a single assessment row from the result set.
func scanAssessmentRow(rows *sql.Rows) (model.AssessmentRecord, error) {
	var rec model.AssessmentRecord
	var outcome string
	var digest, level, factors, errMsg sql.NullString
	var durationMs, createdAt int64

	err := rows.Scan(
		&rec.RequestID,
		&digest,
		&outcome,
		&level,
		&rec.ShowWarning,
		&factors,
		&errMsg,
		&rec.SpanCount,
		&durationMs,
		&createdAt,
	)
	if err != nil {
		return model.AssessmentRecord{}, fmt.Errorf("failed to scan assessment: %w", err)
	}

	if err := rec.Outcome.UnmarshalText([]byte(outcome)); err != nil {
		// Invalid outcome in database indicates data corruption or schema mismatch.
		return model.AssessmentRecord{}, fmt.Errorf("invalid outcome in database: %w", err)
	}
	rec.DraftDigest = digest.String

	if level.Valid {
		rec.Level = model.ParseRiskLevel(level.String)
	}
	if factors.Valid {
		if err := json.Unmarshal([]byte(factors.String), &rec.Factors); err != nil {
			return model.AssessmentRecord{}, fmt.Errorf("invalid risk factors in database: %w", err)
		}
	}
	if errMsg.Valid {
		rec.Error = errMsg.String
	}
	rec.Duration = time.Duration(durationMs) * time.Millisecond
	rec.CreatedAt = time.UnixMilli(createdAt)

	return rec, nil
}

// normalizeMessage fills in a missing ID, direction and timestamp.
func normalizeMessage(msg model.Message) model.Message {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Direction == "" {
		msg.Direction = model.DirectionSent
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	return msg
}

// Verify SqliteStorage implements all interfaces
var _ ConversationStorage = (*SqliteStorage)(nil)
var _ AssessmentLog = (*SqliteStorage)(nil)
