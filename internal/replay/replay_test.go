package replay

import (
	"testing"

	"github.com/morganhq/relay/internal/rowenc"
	"github.com/morganhq/relay/internal/timeline"
)

func row(id string, at int64, role, kind, content string) Row {
	return Row{ID: id, Role: role, Kind: kind, Content: content, CreatedAtMs: at}
}

func TestRebuild_SortsByTimestampThenID(t *testing.T) {
	rows := []Row{
		row("m3", 300, RoleAssistant, KindNormal, "third"),
		row("m1", 100, RoleUser, KindNormal, "question"),
		row("m2b", 200, RoleAssistant, KindNormal, "second"),
		row("m2a", 200, RoleAssistant, KindNormal, "first"),
	}
	tl := Rebuild(rows)

	if len(tl.Items) != 2 {
		t.Fatalf("expected user + turn, got %d items", len(tl.Items))
	}
	if tl.Items[0].User == nil || tl.Items[0].User.Content != "question" {
		t.Fatalf("user row should sort first: %+v", tl.Items[0])
	}
	turn := tl.Items[1].Turn
	if len(turn.Blocks) != 3 {
		t.Fatalf("expected 3 blocks, got %d", len(turn.Blocks))
	}
	for i, want := range []string{"first", "second", "third"} {
		if turn.Blocks[i].Content != want {
			t.Errorf("block %d: got %q, want %q", i, turn.Blocks[i].Content, want)
		}
	}
	if !turn.Sealed {
		t.Error("trailing turn must come back sealed")
	}
}

func TestRebuild_UserRowSealsTurn(t *testing.T) {
	rows := []Row{
		row("m1", 100, RoleAssistant, KindNormal, "turn one"),
		row("m2", 200, RoleUser, KindNormal, "follow-up"),
		row("m3", 300, RoleAssistant, KindNormal, "turn two"),
	}
	tl := Rebuild(rows)

	if len(tl.Items) != 3 {
		t.Fatalf("expected turn, user, turn — got %d items", len(tl.Items))
	}
	if !tl.Items[0].Turn.Sealed {
		t.Error("turn before a user row must be sealed")
	}
	if tl.Items[0].Turn.ID == tl.Items[2].Turn.ID {
		t.Error("each turn needs its own id")
	}
}

func TestRebuild_IsDeterministic(t *testing.T) {
	rows := []Row{
		row("m1", 100, RoleAssistant, KindReasoning, "thinking"),
		row("m2", 200, RoleAssistant, KindNormal, "answer"),
	}
	a := Rebuild(rows)
	// Same rows, reversed input order.
	b := Rebuild([]Row{rows[1], rows[0]})

	if a.Items[0].Turn.ID != b.Items[0].Turn.ID {
		t.Error("turn id must be a pure function of the rows")
	}
	if len(a.Items[0].Turn.Blocks) != len(b.Items[0].Turn.Blocks) {
		t.Fatal("block count differs across input orders")
	}
	for i := range a.Items[0].Turn.Blocks {
		if a.Items[0].Turn.Blocks[i] != b.Items[0].Turn.Blocks[i] {
			t.Errorf("block %d differs: %+v vs %+v", i,
				a.Items[0].Turn.Blocks[i], b.Items[0].Turn.Blocks[i])
		}
	}
}

func TestRebuild_KindMapping(t *testing.T) {
	rows := []Row{
		row("m1", 100, RoleAssistant, KindReasoning, "thinking"),
		row("m2", 200, RoleAssistant, KindSummary, "what happened"),
		row("m3", 300, RoleAssistant, "mystery_kind", "odd"),
	}
	turn := Rebuild(rows).Items[0].Turn

	if turn.Blocks[0].Kind != timeline.BlockReasoning {
		t.Errorf("reasoning kind: %+v", turn.Blocks[0])
	}
	if turn.Blocks[1].Kind != timeline.BlockNote || turn.Blocks[1].Content != "summary: what happened" {
		t.Errorf("summary kind: %+v", turn.Blocks[1])
	}
	if turn.Blocks[2].Kind != timeline.BlockText || turn.Blocks[2].Content != "odd" {
		t.Errorf("unknown kind must degrade to text: %+v", turn.Blocks[2])
	}
}

func TestRebuild_ToolCallAndResultCorrelateByID(t *testing.T) {
	call := rowenc.ToolCallRow(timeline.ToolCallEntry{
		Name:      "read_file",
		CallID:    "call_1",
		FinalArgs: map[string]interface{}{"path": "x"},
	})
	result := rowenc.ToolResultRow("call_1", "contents")

	turn := Rebuild([]Row{
		row("m1", 100, RoleAssistant, KindToolCall, call),
		row("m2", 200, RoleAssistant, KindToolResult, result),
	}).Items[0].Turn

	if len(turn.Calls) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(turn.Calls))
	}
	e := turn.Calls[0]
	if e.Name != "read_file" || e.ResultContent != "contents" || e.Status != timeline.StatusCompleted {
		t.Errorf("got %+v", e)
	}

	refs := 0
	for _, b := range turn.Blocks {
		if b.Kind == timeline.BlockToolCallRef {
			refs++
		}
	}
	if refs != 1 {
		t.Errorf("expected a single ref block, got %d", refs)
	}
}

func TestRebuild_IDlessResultFallsBackFIFO(t *testing.T) {
	callA := rowenc.ToolCallRow(timeline.ToolCallEntry{Name: "a", FinalArgs: map[string]interface{}{}})
	callB := rowenc.ToolCallRow(timeline.ToolCallEntry{Name: "b", FinalArgs: map[string]interface{}{}})

	turn := Rebuild([]Row{
		row("m1", 100, RoleAssistant, KindToolCall, callA),
		row("m2", 200, RoleAssistant, KindToolCall, callB),
		row("m3", 300, RoleAssistant, KindToolResult, "out-a"),
		row("m4", 400, RoleAssistant, KindToolResult, "out-b"),
	}).Items[0].Turn

	if len(turn.Calls) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(turn.Calls))
	}
	if turn.Calls[0].ResultContent != "out-a" || turn.Calls[1].ResultContent != "out-b" {
		t.Errorf("FIFO grouping broken: %q / %q",
			turn.Calls[0].ResultContent, turn.Calls[1].ResultContent)
	}
}

func TestRebuild_OrphanResultCreatesEntry(t *testing.T) {
	turn := Rebuild([]Row{
		row("m1", 100, RoleAssistant, KindToolResult, rowenc.ToolResultRow("call_z", "orphan")),
	}).Items[0].Turn

	if len(turn.Calls) != 1 {
		t.Fatalf("expected placeholder entry, got %d", len(turn.Calls))
	}
	e := turn.Calls[0]
	if e.Name != timeline.PlaceholderName || e.CallID != "call_z" || e.ResultContent != "orphan" {
		t.Errorf("got %+v", e)
	}
}

func TestRebuild_MetaRows(t *testing.T) {
	usage := rowenc.MetaRow(rowenc.MetaLabelUsage, map[string]interface{}{"reasoning_tokens": 6})
	meta := rowenc.MetaRow(rowenc.MetaLabelResponseMetadata, map[string]interface{}{"model": "m1"})

	turn := Rebuild([]Row{
		row("m1", 100, RoleAssistant, KindNormal, "answer"),
		row("m2", 200, RoleAssistant, KindMeta, usage),
		row("m3", 300, RoleAssistant, KindMeta, meta),
		row("m4", 400, RoleAssistant, KindMeta, "building: step 1"),
	}).Items[0].Turn

	if turn.ReasoningTokens != 6 {
		t.Errorf("usage meta row not applied: %d", turn.ReasoningTokens)
	}
	if turn.ResponseMetadata["model"] != "m1" {
		t.Errorf("response metadata: %#v", turn.ResponseMetadata)
	}
	// Recognized labels add no blocks; the unlabeled one survives as a note.
	if len(turn.Blocks) != 2 {
		t.Fatalf("expected text + note, got %d blocks", len(turn.Blocks))
	}
	if turn.Blocks[1].Kind != timeline.BlockNote || turn.Blocks[1].Content != "building: step 1" {
		t.Errorf("got %+v", turn.Blocks[1])
	}
}

func TestRebuild_MalformedMetaPayloadBecomesNote(t *testing.T) {
	turn := Rebuild([]Row{
		row("m1", 100, RoleAssistant, KindMeta, rowenc.MetaLabelUsage+"\nnot json"),
	}).Items[0].Turn

	if len(turn.Blocks) != 1 || turn.Blocks[0].Kind != timeline.BlockNote {
		t.Fatalf("unparseable payload must stay visible: %+v", turn.Blocks)
	}
	if turn.Blocks[0].Content != rowenc.MetaLabelUsage+"\nnot json" {
		t.Errorf("raw content lost: %q", turn.Blocks[0].Content)
	}
}

func TestRebuild_UsageColumnOnRow(t *testing.T) {
	r := row("m1", 100, RoleAssistant, KindNormal, "answer")
	r.UsageJSON = `{"reasoning_tokens":3}`
	turn := Rebuild([]Row{r}).Items[0].Turn

	if turn.ReasoningTokens != 3 {
		t.Errorf("usage column ignored: %d", turn.ReasoningTokens)
	}
}

func TestRebuild_UserAttachments(t *testing.T) {
	r := row("m1", 100, RoleUser, KindNormal, "see attached")
	r.Attachments = []timeline.Attachment{{ID: "f1", Name: "notes.txt"}}
	tl := Rebuild([]Row{r})

	u := tl.Items[0].User
	if len(u.Attachments) != 1 || u.Attachments[0].Name != "notes.txt" {
		t.Errorf("attachments lost: %+v", u)
	}
}
