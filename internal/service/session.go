package service

import (
	"log/slog"
	"sync"

	"github.com/morganhq/relay/internal/stream"
	"github.com/morganhq/relay/internal/timeline"
)

// Session is the live side of one conversation: a tracker seeded with
// the conversation's persisted history, plus the persistence hooks the
// tracker fires through its observer.
type Session struct {
	mu             sync.Mutex
	conversationID string
	tracker        *stream.Tracker
	manager        *Manager
	log            *slog.Logger
}

// ConversationAssigned records a provider-side id as an alias for this
// conversation so follow-up requests under either id land here.
func (s *Session) ConversationAssigned(remoteID string) {
	if remoteID == "" || remoteID == s.conversationID {
		return
	}
	s.log.Info("conversation id assigned", "local", s.conversationID, "remote", remoteID)
	s.manager.addAlias(remoteID, s.conversationID)
}

// TurnSealed persists the sealed turn as flat rows. Persistence failure
// is logged, not propagated: the in-memory timeline is already correct
// and the stream must keep flowing.
func (s *Session) TurnSealed(t *timeline.Turn) {
	rows := encodeTurn(s.conversationID, t)
	if err := s.manager.messages.InsertBatch(rows); err != nil {
		s.log.Error("persist sealed turn", "conversation_id", s.conversationID, "error", err)
	}
}
