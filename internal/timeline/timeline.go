// Package timeline holds the conversation data model: an ordered list of
// user messages and assistant turns, where each turn is an ordered list of
// content blocks plus a registry of tool calls.
package timeline

import (
	"maps"
	"slices"
	"time"
)

// BlockKind tags the variant of a content block.
type BlockKind string

const (
	BlockText        BlockKind = "text"
	BlockReasoning   BlockKind = "reasoning"
	BlockNote        BlockKind = "note"
	BlockToolCallRef BlockKind = "tool_call_ref"
)

// Block is one ordered unit of turn content. For tool_call_ref blocks
// CallKey points at an entry in the turn's registry; Content is empty.
type Block struct {
	ID      string    `json:"id"`
	Kind    BlockKind `json:"kind"`
	Content string    `json:"content,omitempty"`
	CallKey string    `json:"call_key,omitempty"`
}

// Attachment is a reference to an uploaded file carried on a message or turn.
// Upload handling lives outside the engine; only the reference round-trips.
type Attachment struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Mime string `json:"mime,omitempty"`
}

// UserMessage is a timeline item authored by the user.
type UserMessage struct {
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

// Turn is one assistant response unit.
type Turn struct {
	ID          string       `json:"id"`
	StartedAt   time.Time    `json:"started_at"`
	Blocks      []Block      `json:"blocks"`
	Calls       Registry     `json:"calls"`
	Attachments []Attachment `json:"attachments,omitempty"`

	// Usage and ResponseMetadata are raw provider blobs captured from the
	// final event (or from persisted meta rows).
	Usage            map[string]interface{} `json:"usage,omitempty"`
	ResponseMetadata map[string]interface{} `json:"response_metadata,omitempty"`
	ReasoningTokens  int                    `json:"reasoning_tokens,omitempty"`

	Sealed bool `json:"sealed"`
}

// Item is one entry in the timeline: exactly one of User or Turn is set.
type Item struct {
	User *UserMessage `json:"user,omitempty"`
	Turn *Turn        `json:"turn,omitempty"`
}

// Timeline is the ordered conversation view for one loaded conversation.
// It is append-only during a session and owned by a single stream at a time.
type Timeline struct {
	Items []Item `json:"items"`
}

// Clone returns a deep copy of the timeline. A stream keeps mutating
// its live timeline; readers that outlive their lock (serialization,
// handlers) take a snapshot instead of sharing the slices.
func (tl *Timeline) Clone() *Timeline {
	out := &Timeline{Items: make([]Item, len(tl.Items))}
	for i, item := range tl.Items {
		if item.User != nil {
			u := *item.User
			u.Attachments = slices.Clone(u.Attachments)
			out.Items[i].User = &u
		}
		if item.Turn != nil {
			out.Items[i].Turn = item.Turn.Clone()
		}
	}
	return out
}

// Clone returns a deep copy of the turn. Registry entries are replaced
// wholesale on update, never field-mutated, so sharing their interior
// args/artifact maps across copies is safe.
func (t *Turn) Clone() *Turn {
	out := *t
	out.Blocks = slices.Clone(t.Blocks)
	out.Calls = slices.Clone(t.Calls)
	out.Attachments = slices.Clone(t.Attachments)
	out.Usage = maps.Clone(t.Usage)
	out.ResponseMetadata = maps.Clone(t.ResponseMetadata)
	return &out
}

// NewTurn creates an empty, unsealed turn.
func NewTurn(id string, at time.Time) *Turn {
	return &Turn{ID: id, StartedAt: at}
}

// AppendUser appends a user message item. The caller is responsible for
// sealing any open turn first; a user message always starts a fresh turn
// boundary for subsequent assistant content.
func (tl *Timeline) AppendUser(msg UserMessage) {
	tl.Items = append(tl.Items, Item{User: &msg})
}

// AppendTurn appends an assistant turn item and returns it.
func (tl *Timeline) AppendTurn(t *Turn) *Turn {
	tl.Items = append(tl.Items, Item{Turn: t})
	return t
}

// CurrentTurn returns the trailing turn if it is open, or nil when the
// timeline is empty, ends in a user message, or the last turn is sealed.
func (tl *Timeline) CurrentTurn() *Turn {
	if len(tl.Items) == 0 {
		return nil
	}
	last := tl.Items[len(tl.Items)-1]
	if last.Turn == nil || last.Turn.Sealed {
		return nil
	}
	return last.Turn
}

// SealCurrent marks the trailing open turn (if any) as sealed and returns it.
func (tl *Timeline) SealCurrent() *Turn {
	t := tl.CurrentTurn()
	if t != nil {
		t.Sealed = true
	}
	return t
}

// AppendBlock appends a block to the turn and returns its id.
func (t *Turn) AppendBlock(b Block) string {
	t.Blocks = append(t.Blocks, b)
	return b.ID
}

// Block returns a copy of the block with the given id.
func (t *Turn) Block(id string) (Block, bool) {
	for _, b := range t.Blocks {
		if b.ID == id {
			return b, true
		}
	}
	return Block{}, false
}

// ReplaceBlock swaps the block with b.ID for b wholesale. Blocks are
// replaced, never field-mutated, so a concurrent reader of a previously
// returned copy never observes a half-updated block.
func (t *Turn) ReplaceBlock(b Block) bool {
	for i := range t.Blocks {
		if t.Blocks[i].ID == b.ID {
			t.Blocks[i] = b
			return true
		}
	}
	return false
}

// AppendToBlock appends text to the identified block's content.
func (t *Turn) AppendToBlock(id, text string) {
	if b, ok := t.Block(id); ok {
		b.Content += text
		t.ReplaceBlock(b)
	}
}

// HasCallRef reports whether a tool_call_ref block for key already exists.
// A ref block is created at most once per registry key.
func (t *Turn) HasCallRef(key string) bool {
	for _, b := range t.Blocks {
		if b.Kind == BlockToolCallRef && b.CallKey == key {
			return true
		}
	}
	return false
}

// NonEmptyText reports whether the turn already holds a text block with
// content. Used to keep final-output text idempotent when the reply
// already streamed token by token.
func (t *Turn) NonEmptyText() bool {
	for _, b := range t.Blocks {
		if b.Kind == BlockText && b.Content != "" {
			return true
		}
	}
	return false
}
