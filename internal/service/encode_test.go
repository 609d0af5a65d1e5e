package service

import (
	"testing"
	"time"

	"github.com/morganhq/relay/internal/replay"
	"github.com/morganhq/relay/internal/store"
	"github.com/morganhq/relay/internal/stream"
	"github.com/morganhq/relay/internal/timeline"
)

type nopObserver struct{ sealed []*timeline.Turn }

func (o *nopObserver) ConversationAssigned(string) {}
func (o *nopObserver) TurnSealed(t *timeline.Turn) { o.sealed = append(o.sealed, t) }

func idx(i int) *int { return &i }

// Replaying the rows written for a live turn must produce a turn with
// the same block structure, tool calls, and usage as the live one.
func TestEncodeTurn_ReplayParity(t *testing.T) {
	obs := &nopObserver{}
	tr := stream.NewTracker(&timeline.Timeline{}, obs, nil)

	tr.ApplyEvent(stream.ReasoningDelta{Content: "let me check"})
	tr.ApplyEvent(stream.TextDelta{Content: "Looking at "})
	tr.ApplyEvent(stream.TextDelta{Content: "the file."})
	tr.ApplyEvent(stream.ToolCallDelta{Index: idx(0), ID: "call_1", Name: "read_file", Args: `{"path":"x"}`})
	tr.ApplyEvent(stream.ToolCall{ID: "call_1", Name: "read_file", CallType: "function", Args: map[string]interface{}{"path": "x"}})
	tr.ApplyEvent(stream.ToolResult{ToolCallID: "call_1", Content: "package main"})
	tr.ApplyEvent(stream.SandboxStatus{RunID: "r1", Stage: "running", Message: "tests"})
	tr.ApplyEvent(stream.TextDelta{Content: "All good."})
	tr.ApplyEvent(stream.Final{
		Usage:            map[string]interface{}{"reasoning_tokens": float64(5), "total_tokens": float64(40)},
		ResponseMetadata: map[string]interface{}{"model": "m1"},
	})

	if len(obs.sealed) != 1 {
		t.Fatalf("expected 1 sealed turn, got %d", len(obs.sealed))
	}
	live := obs.sealed[0]

	rows := encodeTurn("conv-1", live)
	rebuilt := replay.Rebuild(rowsToReplay(rows))

	if len(rebuilt.Items) != 1 || rebuilt.Items[0].Turn == nil {
		t.Fatalf("rebuilt timeline shape: %+v", rebuilt.Items)
	}
	got := rebuilt.Items[0].Turn

	if len(got.Blocks) != len(live.Blocks) {
		t.Fatalf("block count: got %d, want %d", len(got.Blocks), len(live.Blocks))
	}
	for i := range live.Blocks {
		if got.Blocks[i].Kind != live.Blocks[i].Kind {
			t.Errorf("block %d kind: got %v, want %v", i, got.Blocks[i].Kind, live.Blocks[i].Kind)
		}
		if got.Blocks[i].Content != live.Blocks[i].Content {
			t.Errorf("block %d content: got %q, want %q", i, got.Blocks[i].Content, live.Blocks[i].Content)
		}
	}

	if len(got.Calls) != len(live.Calls) {
		t.Fatalf("call count: got %d, want %d", len(got.Calls), len(live.Calls))
	}
	for i := range live.Calls {
		lc, gc := live.Calls[i], got.Calls[i]
		if gc.Name != lc.Name || gc.CallID != lc.CallID || gc.CallType != lc.CallType {
			t.Errorf("call %d identity: got %+v, want %+v", i, gc, lc)
		}
		if gc.Status != lc.Status || gc.HasResult != lc.HasResult || gc.ResultContent != lc.ResultContent {
			t.Errorf("call %d result: got %+v, want %+v", i, gc, lc)
		}
		if gc.FinalArgs["path"] != lc.FinalArgs["path"] {
			t.Errorf("call %d args: got %#v, want %#v", i, gc.FinalArgs, lc.FinalArgs)
		}
	}

	if got.ReasoningTokens != live.ReasoningTokens {
		t.Errorf("reasoning tokens: got %d, want %d", got.ReasoningTokens, live.ReasoningTokens)
	}
	if got.ResponseMetadata["model"] != "m1" {
		t.Errorf("response metadata: %#v", got.ResponseMetadata)
	}
	if !got.Sealed {
		t.Error("rebuilt turn must be sealed")
	}
}

func TestEncodeTurn_RowOrderIsStrict(t *testing.T) {
	turn := timeline.NewTurn("t1", time.Now().UTC())
	turn.AppendBlock(timeline.Block{ID: "b1", Kind: timeline.BlockText, Content: "a"})
	turn.AppendBlock(timeline.Block{ID: "b2", Kind: timeline.BlockText, Content: "b"})
	turn.Usage = map[string]interface{}{"total_tokens": float64(1)}

	rows := encodeTurn("conv-1", turn)
	if len(rows) != 3 {
		t.Fatalf("expected 2 text rows + usage meta, got %d", len(rows))
	}
	for i := 1; i < len(rows); i++ {
		if rows[i].CreatedAtMs <= rows[i-1].CreatedAtMs {
			t.Fatalf("row %d timestamp not strictly increasing", i)
		}
	}
	if rows[0].Kind != replay.KindNormal || rows[2].Kind != replay.KindMeta {
		t.Errorf("kinds: %q %q %q", rows[0].Kind, rows[1].Kind, rows[2].Kind)
	}
}

func TestEncodeUserMessage_Attachments(t *testing.T) {
	msg := timeline.UserMessage{
		Content:     "see attached",
		Attachments: []timeline.Attachment{{ID: "f1", Name: "notes.txt", Mime: "text/plain"}},
		CreatedAt:   time.Now().UTC(),
	}
	row := encodeUserMessage("conv-1", msg)

	if row.Role != replay.RoleUser || row.Kind != replay.KindNormal {
		t.Errorf("row identity: %+v", row)
	}

	rr := rowsToReplay([]store.Message{row})
	if len(rr) != 1 || len(rr[0].Attachments) != 1 || rr[0].Attachments[0].Name != "notes.txt" {
		t.Errorf("attachments did not round-trip: %+v", rr)
	}
}
