package store

import (
	"fmt"
)

// Message is one flat persisted row of a conversation. Kind and the
// header grammars inside Content are what the replay package consumes
// when rebuilding the timeline.
type Message struct {
	ID              string `json:"id"`
	ConversationID  string `json:"conversation_id"`
	Role            string `json:"role"`
	Content         string `json:"content"`
	Kind            string `json:"message_kind"`
	UsageJSON       string `json:"usage_json,omitempty"`
	AttachmentsJSON string `json:"attachments_json,omitempty"`
	CreatedAtMs     int64  `json:"created_at"`
}

// MessageStore handles message row persistence.
type MessageStore struct {
	db *DB
}

func NewMessageStore(db *DB) *MessageStore {
	return &MessageStore{db: db}
}

// Insert appends one message row.
func (s *MessageStore) Insert(m Message) error {
	_, err := s.db.Exec(
		`INSERT INTO messages (id, conversation_id, role, content, message_kind, usage_json, attachments_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ConversationID, m.Role, m.Content, m.Kind,
		nullable(m.UsageJSON), nullable(m.AttachmentsJSON), m.CreatedAtMs,
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// InsertBatch appends rows in one transaction so a sealed turn lands
// atomically.
func (s *MessageStore) InsertBatch(msgs []Message) error {
	if len(msgs) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`INSERT INTO messages (id, conversation_id, role, content, message_kind, usage_json, attachments_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, m := range msgs {
		if _, err := stmt.Exec(
			m.ID, m.ConversationID, m.Role, m.Content, m.Kind,
			nullable(m.UsageJSON), nullable(m.AttachmentsJSON), m.CreatedAtMs,
		); err != nil {
			return fmt.Errorf("insert message %s: %w", m.ID, err)
		}
	}
	return tx.Commit()
}

// ListByConversation returns all rows for a conversation ordered by
// (created_at, id), the same order replay sorts into.
func (s *MessageStore) ListByConversation(conversationID string) ([]Message, error) {
	rows, err := s.db.Query(
		`SELECT id, conversation_id, role, content, message_kind,
		        COALESCE(usage_json, ''), COALESCE(attachments_json, ''), created_at
		 FROM messages WHERE conversation_id = ? ORDER BY created_at, id`,
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	msgs := []Message{}
	for rows.Next() {
		var m Message
		if err := rows.Scan(
			&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.Kind,
			&m.UsageJSON, &m.AttachmentsJSON, &m.CreatedAtMs,
		); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// Count returns the number of rows stored for a conversation.
func (s *MessageStore) Count(conversationID string) (int, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM messages WHERE conversation_id = ?`, conversationID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
