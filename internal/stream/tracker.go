package stream

import (
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/google/uuid"

	"github.com/morganhq/relay/internal/timeline"
)

// Observer receives engine notifications that concern the caller rather
// than the timeline itself.
type Observer interface {
	// ConversationAssigned fires when the server reports the id of a
	// conversation that had not been persisted when streaming began.
	ConversationAssigned(id string)
	// TurnSealed fires exactly once per turn, after no further mutation
	// can reach it.
	TurnSealed(t *timeline.Turn)
}

// corrState is the short-lived per-stream correlation state. It is a
// value: every event handler works on a copy and the tracker swaps the
// whole value in at the end, so readers never see a half-applied update.
type corrState struct {
	version      int
	indexKeys    map[int]string    // delta index -> correlation key
	callIDKeys   map[string]string // provider call id -> correlation key
	openText     string            // open text block id, "" when closed
	openReason   string            // open reasoning block id
	sandboxNotes map[string]string // sandbox run id -> note block id
}

func newCorrState() corrState {
	return corrState{
		indexKeys:    make(map[int]string),
		callIDKeys:   make(map[string]string),
		sandboxNotes: make(map[string]string),
	}
}

func (s corrState) clone() corrState {
	out := s
	out.indexKeys = maps.Clone(s.indexKeys)
	out.callIDKeys = maps.Clone(s.callIDKeys)
	out.sandboxNotes = maps.Clone(s.sandboxNotes)
	out.version++
	return out
}

// Tracker routes one stream of wire events onto timeline mutations.
// Events are applied strictly in arrival order by a single goroutine;
// the tracker holds no locks and runs each transform to completion
// before the next event is seen.
type Tracker struct {
	tl      *timeline.Timeline
	obs     Observer
	log     *slog.Logger
	st      corrState
	stopped bool
}

// NewTracker creates a tracker feeding tl. obs may be nil.
func NewTracker(tl *timeline.Timeline, obs Observer, log *slog.Logger) *Tracker {
	if log == nil {
		log = slog.Default()
	}
	return &Tracker{tl: tl, obs: obs, log: log, st: newCorrState()}
}

// Timeline returns the timeline the tracker mutates.
func (t *Tracker) Timeline() *timeline.Timeline { return t.tl }

// StateVersion returns the correlation-state version, bumped once per
// applied event. Exposed for tests.
func (t *Tracker) StateVersion() int { return t.st.version }

// Apply decodes and applies one raw event record. Payloads that fail
// schema validation are dropped with no observable side effect.
func (t *Tracker) Apply(data []byte) {
	ev, err := Decode(data)
	if err != nil {
		t.log.Debug("dropping malformed event", "error", err)
		return
	}
	t.ApplyEvent(ev)
}

// ApplyEvent applies one decoded event. No-op after Stop.
func (t *Tracker) ApplyEvent(ev Event) {
	if t.stopped {
		return
	}
	st := t.st.clone()
	switch ev := ev.(type) {
	case TextDelta:
		st = t.applyTextDelta(st, ev)
	case ReasoningDelta:
		st = t.applyReasoningDelta(st, ev)
	case ToolCallDelta:
		st = t.applyToolCallDelta(st, ev)
	case ToolCall:
		st = t.applyToolCall(st, ev)
	case ToolResult:
		st = t.applyToolResult(st, ev)
	case SandboxStatus:
		st = t.applySandbox(st, ev)
	case ConversationAssigned:
		if t.obs != nil {
			t.obs.ConversationAssigned(ev.ConversationID)
		}
	case Final:
		st = t.applyFinal(st, ev)
	}
	t.st = st
}

// Abort is the hard cancellation: all partial per-stream correlation
// state is discarded. Content already committed to the timeline stays.
// Must be called before starting a new stream for the same or a
// different conversation; safe to call when no stream is active.
func (t *Tracker) Abort() {
	t.st = newCorrState()
	t.stopped = false
}

// Stop is the soft cancellation: further events are ignored but
// everything already committed to the timeline remains visible.
// Idempotent.
func (t *Tracker) Stop() {
	t.stopped = true
}

// Fail converts a transport failure into a single note block on the
// (possibly newly created) current turn and ends the stream.
func (t *Tracker) Fail(msg string) {
	st := t.st.clone()
	st, turn := t.ensureTurn(st)
	st.openText, st.openReason = "", ""
	turn.AppendBlock(timeline.Block{
		ID:      blockID(turn),
		Kind:    timeline.BlockNote,
		Content: "stream interrupted: " + msg,
	})
	t.st = st
	t.stopped = true
}

// BeginUserMessage seals any open turn, appends the user message, and
// resets per-turn correlation state. A user message always starts a
// fresh turn boundary for subsequent assistant content, so it also
// clears a prior soft stop: the next stream belongs to the new turn.
func (t *Tracker) BeginUserMessage(msg timeline.UserMessage) {
	if sealed := t.tl.SealCurrent(); sealed != nil && t.obs != nil {
		t.obs.TurnSealed(sealed)
	}
	t.tl.AppendUser(msg)
	t.st = newCorrState()
	t.stopped = false
}

// ensureTurn returns the open turn, creating one lazily on the first
// event that needs it. Creating a turn invalidates all correlation
// state from the previous turn: keys are never reused across turns.
func (t *Tracker) ensureTurn(st corrState) (corrState, *timeline.Turn) {
	if turn := t.tl.CurrentTurn(); turn != nil {
		return st, turn
	}
	fresh := newCorrState()
	fresh.version = st.version
	turn := timeline.NewTurn(uuid.NewString(), time.Now().UTC())
	t.tl.AppendTurn(turn)
	return fresh, turn
}

func (t *Tracker) applyTextDelta(st corrState, ev TextDelta) corrState {
	st, turn := t.ensureTurn(st)
	if st.openText == "" {
		st.openReason = ""
		st.openText = turn.AppendBlock(timeline.Block{ID: blockID(turn), Kind: timeline.BlockText})
	}
	turn.AppendToBlock(st.openText, ev.Content)
	return st
}

func (t *Tracker) applyReasoningDelta(st corrState, ev ReasoningDelta) corrState {
	st, turn := t.ensureTurn(st)
	if st.openReason == "" {
		st.openText = ""
		st.openReason = turn.AppendBlock(timeline.Block{ID: blockID(turn), Kind: timeline.BlockReasoning})
	}
	turn.AppendToBlock(st.openReason, ev.Content)
	return st
}

func (t *Tracker) applyToolCallDelta(st corrState, ev ToolCallDelta) corrState {
	st, turn := t.ensureTurn(st)

	key, ok := "", false
	if ev.ID != "" {
		key, ok = st.callIDKeys[ev.ID]
	}
	if !ok && ev.Index != nil {
		key, ok = st.indexKeys[*ev.Index]
	}
	if !ok {
		key = newCallKey(turn)
	}

	upd := timeline.ToolCallEntry{
		Key:          key,
		Name:         ev.Name,
		CallID:       ev.ID,
		StreamedArgs: ev.Args,
		Status:       timeline.StatusStreaming,
	}
	if !ok && upd.Name == "" {
		upd.Name = timeline.PlaceholderName
	}
	turn.Calls = turn.Calls.UpsertByKey(upd)

	if ev.Index != nil {
		st.indexKeys[*ev.Index] = key
	}
	if ev.ID != "" {
		st.callIDKeys[ev.ID] = key
	}
	return t.ensureCallRef(st, turn, key)
}

func (t *Tracker) applyToolCall(st corrState, ev ToolCall) corrState {
	st, turn := t.ensureTurn(st)

	key, ok := resolveFinalCall(st, turn.Calls, ev)
	if !ok {
		key = newCallKey(turn)
		t.log.Debug("tool_call matched no streamed entry, appending", "name", ev.Name, "call_id", ev.ID)
	}

	turn.Calls = turn.Calls.UpsertByKey(timeline.ToolCallEntry{
		Key:       key,
		Name:      ev.Name,
		CallID:    ev.ID,
		CallType:  ev.CallType,
		FinalArgs: ev.Args,
		Status:    timeline.StatusCalled,
	})
	if ev.ID != "" {
		st.callIDKeys[ev.ID] = key
	}
	return t.ensureCallRef(st, turn, key)
}

func (t *Tracker) applyToolResult(st corrState, ev ToolResult) corrState {
	st, turn := t.ensureTurn(st)

	key, ok := resolveResult(st, turn.Calls, ev.ToolCallID)
	if !ok {
		// No candidate at all: results are never dropped, so a bare
		// entry is appended to carry the payload.
		key = newCallKey(turn)
		t.log.Debug("tool_result matched no entry, appending", "tool_call_id", ev.ToolCallID)
		turn.Calls = turn.Calls.UpsertByKey(timeline.ToolCallEntry{
			Key:    key,
			Name:   timeline.PlaceholderName,
			CallID: ev.ToolCallID,
		})
	}

	turn.Calls = turn.Calls.UpsertByKey(timeline.ToolCallEntry{
		Key:             key,
		CallID:          ev.ToolCallID,
		Status:          timeline.StatusCompleted,
		ResultContent:   ev.Content,
		ResultArtifacts: ev.Artifacts,
		HasResult:       true,
	})
	if ev.ToolCallID != "" {
		st.callIDKeys[ev.ToolCallID] = key
	}
	return t.ensureCallRef(st, turn, key)
}

func (t *Tracker) applySandbox(st corrState, ev SandboxStatus) corrState {
	st, turn := t.ensureTurn(st)
	content := sandboxNote(ev)
	if id, ok := st.sandboxNotes[ev.RunID]; ok {
		if b, found := turn.Block(id); found {
			b.Content = content
			turn.ReplaceBlock(b)
			return st
		}
	}
	id := turn.AppendBlock(timeline.Block{ID: blockID(turn), Kind: timeline.BlockNote, Content: content})
	st.sandboxNotes[ev.RunID] = id
	return st
}

func (t *Tracker) applyFinal(st corrState, ev Final) corrState {
	st, turn := t.ensureTurn(st)

	if ev.OutputText != "" && !turn.NonEmptyText() {
		st.openText, st.openReason = "", ""
		turn.AppendBlock(timeline.Block{
			ID:      blockID(turn),
			Kind:    timeline.BlockText,
			Content: ev.OutputText,
		})
	}
	if ev.Usage != nil {
		turn.Usage = ev.Usage
		turn.ReasoningTokens = timeline.ReasoningTokens(ev.Usage)
	}
	if ev.ResponseMetadata != nil {
		turn.ResponseMetadata = ev.ResponseMetadata
	}

	turn.Sealed = true
	if t.obs != nil {
		t.obs.TurnSealed(turn)
	}
	return newCorrStateAt(st.version)
}

// ensureCallRef appends the tool_call_ref block for key once, closing any
// open text or reasoning block first.
func (t *Tracker) ensureCallRef(st corrState, turn *timeline.Turn, key string) corrState {
	if turn.HasCallRef(key) {
		return st
	}
	st.openText, st.openReason = "", ""
	turn.AppendBlock(timeline.Block{ID: blockID(turn), Kind: timeline.BlockToolCallRef, CallKey: key})
	return st
}

// resolveFinalCall maps a finalized tool_call onto an existing entry.
// The priority order is deliberate and load-bearing:
//  1. correlation key registered for the provider id
//  2. any entry already carrying that provider id
//  3. a streaming entry that never got a name (delta placeholder)
//  4. any streaming entry
//  5. a called entry with no result yet whose name matches, when the
//     event carries a name
func resolveFinalCall(st corrState, reg timeline.Registry, ev ToolCall) (string, bool) {
	if ev.ID != "" {
		if key, ok := st.callIDKeys[ev.ID]; ok {
			return key, true
		}
		if key, ok := reg.FindByCallID(ev.ID); ok {
			return key, true
		}
	}
	if key, ok := reg.FindFirst(func(e timeline.ToolCallEntry) bool {
		return e.Status == timeline.StatusStreaming && e.Name == timeline.PlaceholderName
	}); ok {
		return key, true
	}
	if key, ok := reg.FindFirst(func(e timeline.ToolCallEntry) bool {
		return e.Status == timeline.StatusStreaming
	}); ok {
		return key, true
	}
	if ev.Name != "" {
		if key, ok := reg.FindFirst(func(e timeline.ToolCallEntry) bool {
			return e.Status == timeline.StatusCalled && !e.HasResult && e.Name == ev.Name
		}); ok {
			return key, true
		}
	}
	return "", false
}

// resolveResult maps a tool result onto an entry: id map, id scan, then
// the first entry still lacking a result. The FIFO tail is best-effort
// by design; with concurrent id-less calls it can attach to the wrong
// one, and the replay path mirrors it exactly for structural parity.
func resolveResult(st corrState, reg timeline.Registry, callID string) (string, bool) {
	if callID != "" {
		if key, ok := st.callIDKeys[callID]; ok {
			return key, true
		}
		if key, ok := reg.FindByCallID(callID); ok {
			return key, true
		}
	}
	return reg.FindFirst(func(e timeline.ToolCallEntry) bool { return !e.HasResult })
}

func sandboxNote(ev SandboxStatus) string {
	if ev.Message == "" {
		return ev.Stage
	}
	return ev.Stage + ": " + ev.Message
}

func newCorrStateAt(version int) corrState {
	st := newCorrState()
	st.version = version
	return st
}

func blockID(t *timeline.Turn) string {
	return fmt.Sprintf("%s/b%d", t.ID, len(t.Blocks)+1)
}

func newCallKey(t *timeline.Turn) string {
	return fmt.Sprintf("%s/%d", t.ID, len(t.Calls)+1)
}
