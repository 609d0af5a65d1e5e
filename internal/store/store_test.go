package store

import (
	"path/filepath"
	"testing"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "relay.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestConversationStore_CreateGetList(t *testing.T) {
	db := openTestDB(t)
	cs := NewConversationStore(db)

	if err := cs.Create(Conversation{ID: "c1", Title: "first", CreatedAtMs: 100}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := cs.Create(Conversation{ID: "c2", Title: "second", CreatedAtMs: 200}); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := cs.Get("c1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || got.Title != "first" {
		t.Errorf("got %+v", got)
	}

	missing, err := cs.Get("nope")
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	if missing != nil {
		t.Errorf("missing conversation should be nil, got %+v", missing)
	}

	list, err := cs.List(10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].ID != "c2" {
		t.Errorf("newest first expected, got %+v", list)
	}
}

func TestConversationStore_Rename(t *testing.T) {
	db := openTestDB(t)
	cs := NewConversationStore(db)
	if err := cs.Create(Conversation{ID: "c1", CreatedAtMs: 1}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := cs.Rename("c1", "renamed"); err != nil {
		t.Fatalf("rename: %v", err)
	}
	got, _ := cs.Get("c1")
	if got.Title != "renamed" {
		t.Errorf("title: %q", got.Title)
	}
}

func TestMessageStore_InsertAndListOrder(t *testing.T) {
	db := openTestDB(t)
	cs := NewConversationStore(db)
	ms := NewMessageStore(db)
	if err := cs.Create(Conversation{ID: "c1", CreatedAtMs: 1}); err != nil {
		t.Fatalf("create conversation: %v", err)
	}

	batch := []Message{
		{ID: "m2", ConversationID: "c1", Role: "assistant", Content: "reply", Kind: "normal", CreatedAtMs: 200},
		{ID: "m1", ConversationID: "c1", Role: "user", Content: "hi", Kind: "normal", CreatedAtMs: 100},
	}
	if err := ms.InsertBatch(batch); err != nil {
		t.Fatalf("insert batch: %v", err)
	}
	if err := ms.Insert(Message{
		ID: "m3", ConversationID: "c1", Role: "assistant", Content: "more",
		Kind: "normal", UsageJSON: `{"total_tokens":7}`, CreatedAtMs: 300,
	}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	msgs, err := ms.ListByConversation("c1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(msgs))
	}
	for i, want := range []string{"m1", "m2", "m3"} {
		if msgs[i].ID != want {
			t.Errorf("row %d: got %s, want %s", i, msgs[i].ID, want)
		}
	}
	if msgs[2].UsageJSON != `{"total_tokens":7}` {
		t.Errorf("usage column: %q", msgs[2].UsageJSON)
	}
	if msgs[0].UsageJSON != "" {
		t.Errorf("null usage should scan as empty, got %q", msgs[0].UsageJSON)
	}

	n, err := ms.Count("c1")
	if err != nil || n != 3 {
		t.Errorf("count: %d, err=%v", n, err)
	}
}

func TestOpen_Reopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relay.db")

	db, err := Open(path)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	cs := NewConversationStore(db)
	if err := cs.Create(Conversation{ID: "c1", CreatedAtMs: 1}); err != nil {
		t.Fatalf("create: %v", err)
	}
	db.Close()

	// Schema init and migrations must be idempotent across reopens.
	db2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db2.Close()
	got, err := NewConversationStore(db2).Get("c1")
	if err != nil || got == nil {
		t.Errorf("data lost across reopen: %+v, err=%v", got, err)
	}
}
