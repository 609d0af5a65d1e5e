package service

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/morganhq/relay/internal/replay"
	"github.com/morganhq/relay/internal/rowenc"
	"github.com/morganhq/relay/internal/store"
	"github.com/morganhq/relay/internal/timeline"
)

// encodeTurn flattens a sealed turn into persisted rows, in block order.
// Each row's created_at is bumped by one millisecond over the previous
// so the replay sort reproduces exactly this order even when the wall
// clock does not advance between rows.
func encodeTurn(conversationID string, turn *timeline.Turn) []store.Message {
	var rows []store.Message
	baseMs := time.Now().UnixMilli()

	add := func(kind, content string) {
		rows = append(rows, store.Message{
			ID:             uuid.NewString(),
			ConversationID: conversationID,
			Role:           replay.RoleAssistant,
			Content:        content,
			Kind:           kind,
			CreatedAtMs:    baseMs + int64(len(rows)),
		})
	}

	for _, b := range turn.Blocks {
		switch b.Kind {
		case timeline.BlockText:
			add(replay.KindNormal, b.Content)
		case timeline.BlockReasoning:
			add(replay.KindReasoning, b.Content)
		case timeline.BlockNote:
			// Notes round-trip through the meta kind: replay keeps the
			// raw content when the label is not a recognized one.
			add(replay.KindMeta, b.Content)
		case timeline.BlockToolCallRef:
			entry, ok := turn.Calls.ByKey(b.CallKey)
			if !ok {
				continue
			}
			add(replay.KindToolCall, rowenc.ToolCallRow(entry))
			if entry.HasResult {
				add(replay.KindToolResult, rowenc.ToolResultRow(entry.CallID, entry.ResultContent))
			}
		}
	}

	if turn.Usage != nil {
		add(replay.KindMeta, rowenc.MetaRow(rowenc.MetaLabelUsage, turn.Usage))
	}
	if turn.ResponseMetadata != nil {
		add(replay.KindMeta, rowenc.MetaRow(rowenc.MetaLabelResponseMetadata, turn.ResponseMetadata))
	}
	return rows
}

// encodeUserMessage builds the persisted row for one user message.
func encodeUserMessage(conversationID string, msg timeline.UserMessage) store.Message {
	row := store.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           replay.RoleUser,
		Content:        msg.Content,
		Kind:           replay.KindNormal,
		CreatedAtMs:    msg.CreatedAt.UnixMilli(),
	}
	if len(msg.Attachments) > 0 {
		if data, err := json.Marshal(msg.Attachments); err == nil {
			row.AttachmentsJSON = string(data)
		}
	}
	return row
}

// rowsToReplay converts stored rows into replay input.
func rowsToReplay(msgs []store.Message) []replay.Row {
	rows := make([]replay.Row, 0, len(msgs))
	for _, m := range msgs {
		r := replay.Row{
			ID:          m.ID,
			Role:        m.Role,
			Content:     m.Content,
			Kind:        m.Kind,
			UsageJSON:   m.UsageJSON,
			CreatedAtMs: m.CreatedAtMs,
		}
		if m.AttachmentsJSON != "" {
			var atts []timeline.Attachment
			if err := json.Unmarshal([]byte(m.AttachmentsJSON), &atts); err == nil {
				r.Attachments = atts
			}
		}
		rows = append(rows, r)
	}
	return rows
}
