// Package replay rebuilds a conversation timeline from its persisted
// message rows. It is the offline counterpart of the stream tracker:
// replaying the rows written for a conversation must yield a timeline
// structurally equivalent to the one the live path produced, and the
// rebuild is a pure function of its input rows.
package replay

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/morganhq/relay/internal/rowenc"
	"github.com/morganhq/relay/internal/timeline"
)

// Row roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Row kinds.
const (
	KindNormal     = "normal"
	KindReasoning  = "reasoning"
	KindSummary    = "summary"
	KindMeta       = "meta"
	KindToolCall   = "tool_call"
	KindToolResult = "tool_result"
)

// Row is one persisted message record, as stored.
type Row struct {
	ID          string
	Role        string
	Content     string
	Kind        string
	UsageJSON   string
	Attachments []timeline.Attachment
	CreatedAtMs int64
}

// Rebuild replays rows into a timeline. Input order does not matter:
// rows are sorted by (created_at, id) first. Every user row closes the
// current turn; any assistant row opens one when none is active.
func Rebuild(rows []Row) *timeline.Timeline {
	sorted := make([]Row, len(rows))
	copy(sorted, rows)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].CreatedAtMs != sorted[j].CreatedAtMs {
			return sorted[i].CreatedAtMs < sorted[j].CreatedAtMs
		}
		return sorted[i].ID < sorted[j].ID
	})

	tl := &timeline.Timeline{}
	var turn *timeline.Turn

	for _, row := range sorted {
		if row.Role == RoleUser {
			if turn != nil {
				turn.Sealed = true
				turn = nil
			}
			tl.AppendUser(timeline.UserMessage{
				Content:     row.Content,
				Attachments: row.Attachments,
				CreatedAt:   msTime(row.CreatedAtMs),
			})
			continue
		}

		if turn == nil {
			// Deterministic turn id: derived from the opening row so
			// the rebuild stays a pure function of its input.
			turn = timeline.NewTurn("turn-"+row.ID, msTime(row.CreatedAtMs))
			tl.AppendTurn(turn)
		}
		applyRow(turn, row)
	}

	if turn != nil {
		turn.Sealed = true
	}
	return tl
}

func applyRow(turn *timeline.Turn, row Row) {
	if row.UsageJSON != "" && turn.Usage == nil {
		var usage map[string]interface{}
		if err := json.Unmarshal([]byte(row.UsageJSON), &usage); err == nil {
			setUsage(turn, usage)
		}
	}
	if len(row.Attachments) > 0 {
		turn.Attachments = append(turn.Attachments, row.Attachments...)
	}

	switch row.Kind {
	case KindReasoning:
		appendBlock(turn, timeline.BlockReasoning, row.Content)
	case KindSummary:
		appendBlock(turn, timeline.BlockNote, "summary: "+row.Content)
	case KindToolCall:
		applyToolCallRow(turn, row.Content)
	case KindToolResult:
		applyToolResultRow(turn, row.Content)
	case KindMeta:
		applyMetaRow(turn, row.Content)
	default: // normal, plus any unknown kind degrades to plain text
		appendBlock(turn, timeline.BlockText, row.Content)
	}
}

func applyToolCallRow(turn *timeline.Turn, content string) {
	e := rowenc.ParseToolCallRow(content)
	if key, ok := turn.Calls.FindByCallID(e.CallID); ok {
		e.Key = key
	} else {
		e.Key = newCallKey(turn)
	}
	turn.Calls = turn.Calls.UpsertByKey(e)
	ensureCallRef(turn, e.Key)
}

func applyToolResultRow(turn *timeline.Turn, content string) {
	callID, body := rowenc.ParseToolResultRow(content)

	key, ok := turn.Calls.FindByCallID(callID)
	if !ok {
		// Same FIFO fallback as the live path, by design, so both
		// paths group results identically.
		key, ok = turn.Calls.FindFirst(func(e timeline.ToolCallEntry) bool { return !e.HasResult })
	}
	if !ok {
		key = newCallKey(turn)
		turn.Calls = turn.Calls.UpsertByKey(timeline.ToolCallEntry{
			Key:    key,
			Name:   timeline.PlaceholderName,
			CallID: callID,
		})
	}
	if callID != "" {
		turn.Calls = turn.Calls.UpsertByKey(timeline.ToolCallEntry{Key: key, CallID: callID})
	}
	turn.Calls = turn.Calls.AttachResult(key, body, nil)
	ensureCallRef(turn, key)
}

func applyMetaRow(turn *timeline.Turn, content string) {
	label, body := rowenc.ParseMetaRow(content)
	switch label {
	case rowenc.MetaLabelUsage:
		var usage map[string]interface{}
		if err := json.Unmarshal([]byte(body), &usage); err == nil && usage != nil {
			setUsage(turn, usage)
			return
		}
	case rowenc.MetaLabelResponseMetadata:
		var meta map[string]interface{}
		if err := json.Unmarshal([]byte(body), &meta); err == nil && meta != nil {
			turn.ResponseMetadata = meta
			return
		}
	case rowenc.MetaLabelReasoning:
		appendBlock(turn, timeline.BlockReasoning, body)
		return
	}
	// Unrecognized label, or a recognized one whose payload failed to
	// parse: keep the raw content visible instead of dropping it.
	appendBlock(turn, timeline.BlockNote, content)
}

func setUsage(turn *timeline.Turn, usage map[string]interface{}) {
	turn.Usage = usage
	turn.ReasoningTokens = timeline.ReasoningTokens(usage)
}

func appendBlock(turn *timeline.Turn, kind timeline.BlockKind, content string) {
	turn.AppendBlock(timeline.Block{ID: blockID(turn), Kind: kind, Content: content})
}

func ensureCallRef(turn *timeline.Turn, key string) {
	if turn.HasCallRef(key) {
		return
	}
	turn.AppendBlock(timeline.Block{ID: blockID(turn), Kind: timeline.BlockToolCallRef, CallKey: key})
}

func blockID(t *timeline.Turn) string {
	return fmt.Sprintf("%s/b%d", t.ID, len(t.Blocks)+1)
}

func newCallKey(t *timeline.Turn) string {
	return fmt.Sprintf("%s/%d", t.ID, len(t.Calls)+1)
}

func msTime(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
