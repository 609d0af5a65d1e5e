// Package service ties the engine to storage: it owns live sessions,
// persists sealed turns, and serves timelines from either the live
// tracker or a replay of stored rows.
package service

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/morganhq/relay/internal/replay"
	"github.com/morganhq/relay/internal/store"
	"github.com/morganhq/relay/internal/stream"
	"github.com/morganhq/relay/internal/timeline"
)

// ErrNotFound reports an id (or alias) that resolves to no stored
// conversation. Callers branch on it with errors.Is.
var ErrNotFound = errors.New("conversation not found")

// Manager coordinates conversations, their live sessions, and the
// backing stores.
type Manager struct {
	log           *slog.Logger
	conversations *store.ConversationStore
	messages      *store.MessageStore

	mu       sync.Mutex
	sessions map[string]*Session
	aliases  map[string]string // provider-assigned id -> local id
}

func NewManager(db *store.DB, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		log:           log,
		conversations: store.NewConversationStore(db),
		messages:      store.NewMessageStore(db),
		sessions:      make(map[string]*Session),
		aliases:       make(map[string]string),
	}
}

// CreateConversation persists a new conversation and returns it.
func (m *Manager) CreateConversation(title string) (store.Conversation, error) {
	c := store.Conversation{
		ID:          uuid.NewString(),
		Title:       title,
		CreatedAtMs: time.Now().UnixMilli(),
	}
	if err := m.conversations.Create(c); err != nil {
		return store.Conversation{}, err
	}
	return c, nil
}

// ListConversations returns conversations newest-first.
func (m *Manager) ListConversations(limit int) ([]store.Conversation, error) {
	return m.conversations.List(limit)
}

// GetConversation resolves id (or a provider alias for it) to the
// stored conversation, or nil when unknown.
func (m *Manager) GetConversation(id string) (*store.Conversation, error) {
	return m.conversations.Get(m.resolve(id))
}

// RenameConversation updates the stored title.
func (m *Manager) RenameConversation(id, title string) error {
	id = m.resolve(id)
	c, err := m.conversations.Get(id)
	if err != nil {
		return err
	}
	if c == nil {
		return fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	return m.conversations.Rename(id, title)
}

// Timeline returns the conversation's timeline: a snapshot of the live
// one when a session is active, otherwise a pure rebuild from stored
// rows. The live timeline is single-owner (the ingesting stream), so
// the snapshot is taken under the session lock and callers can read it
// without racing the stream.
func (m *Manager) Timeline(id string) (*timeline.Timeline, error) {
	id = m.resolve(id)

	m.mu.Lock()
	sess := m.sessions[id]
	m.mu.Unlock()
	if sess != nil {
		sess.mu.Lock()
		defer sess.mu.Unlock()
		return sess.tracker.Timeline().Clone(), nil
	}

	c, err := m.conversations.Get(id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, nil
	}
	msgs, err := m.messages.ListByConversation(id)
	if err != nil {
		return nil, err
	}
	return replay.Rebuild(rowsToReplay(msgs)), nil
}

// PostUserMessage persists a user message row and, when a live session
// exists, feeds it into the tracker so the next turn boundary is set.
func (m *Manager) PostUserMessage(id, content string, attachments []timeline.Attachment) (store.Message, error) {
	id = m.resolve(id)
	c, err := m.conversations.Get(id)
	if err != nil {
		return store.Message{}, err
	}
	if c == nil {
		return store.Message{}, fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}

	msg := timeline.UserMessage{
		Content:     content,
		Attachments: attachments,
		CreatedAt:   time.Now().UTC(),
	}
	row := encodeUserMessage(id, msg)
	if err := m.messages.Insert(row); err != nil {
		return store.Message{}, err
	}

	m.mu.Lock()
	sess := m.sessions[id]
	m.mu.Unlock()
	if sess != nil {
		sess.mu.Lock()
		sess.tracker.BeginUserMessage(msg)
		sess.mu.Unlock()
	}
	return row, nil
}

// IngestEvents reads newline-delimited event records and applies them
// to the conversation's live session, creating the session (seeded from
// stored history) on first use. Returns the number of lines consumed.
func (m *Manager) IngestEvents(id string, r io.Reader, maxEventBytes int) (int, error) {
	id = m.resolve(id)
	sess, err := m.session(id)
	if err != nil {
		return 0, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventBytes)
	n := 0
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		sess.tracker.Apply(line)
		n++
	}
	if err := scanner.Err(); err != nil {
		// The transport died mid-stream: surface it on the timeline as
		// a note and end the stream.
		sess.tracker.Fail(err.Error())
		return n, fmt.Errorf("read event stream: %w", err)
	}
	return n, nil
}

// Abort hard-cancels the conversation's live stream: partial correlation
// state is discarded, committed timeline content stays. No-op without a
// live session.
func (m *Manager) Abort(id string) {
	if sess := m.liveSession(id); sess != nil {
		sess.mu.Lock()
		sess.tracker.Abort()
		sess.mu.Unlock()
	}
}

// Stop soft-cancels the live stream: further events are ignored but
// nothing committed is rolled back.
func (m *Manager) Stop(id string) {
	if sess := m.liveSession(id); sess != nil {
		sess.mu.Lock()
		sess.tracker.Stop()
		sess.mu.Unlock()
	}
}

func (m *Manager) liveSession(id string) *Session {
	id = m.resolve(id)
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[id]
}

// session returns the live session for id, creating one seeded from the
// conversation's stored rows when none is active.
func (m *Manager) session(id string) (*Session, error) {
	m.mu.Lock()
	if sess, ok := m.sessions[id]; ok {
		m.mu.Unlock()
		return sess, nil
	}
	m.mu.Unlock()

	c, err := m.conversations.Get(id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	msgs, err := m.messages.ListByConversation(id)
	if err != nil {
		return nil, err
	}

	sess := &Session{
		conversationID: id,
		manager:        m,
		log:            m.log.With("conversation_id", id),
	}
	sess.tracker = stream.NewTracker(replay.Rebuild(rowsToReplay(msgs)), sess, sess.log)

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.sessions[id]; ok {
		return existing, nil
	}
	m.sessions[id] = sess
	return sess, nil
}

func (m *Manager) addAlias(remoteID, localID string) {
	m.mu.Lock()
	m.aliases[remoteID] = localID
	m.mu.Unlock()
}

func (m *Manager) resolve(id string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if local, ok := m.aliases[id]; ok {
		return local
	}
	return id
}
