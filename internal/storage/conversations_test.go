// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"testing"

	"github.com/jeranaias/nanochat/internal/model"
)

func newTestStore(t *testing.T) *ConversationStore {
	t.Helper()
	fs, err := NewFileBlobStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileBlobStore failed: %v", err)
	}
	return NewConversationStore(fs)
}

func TestCreateAndGet(t *testing.T) {
	store := newTestStore(t)

	conv, err := store.Create("How do goroutines work?")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if conv.ID == "" {
		t.Error("created conversation must have an id")
	}
	if conv.Title == model.DefaultTitle {
		t.Errorf("title should derive from first message, got %q", conv.Title)
	}

	got := store.Get(conv.ID)
	if got == nil {
		t.Fatal("Get returned nil for existing conversation")
	}
	if got.Title != conv.Title {
		t.Errorf("round-trip title = %q, want %q", got.Title, conv.Title)
	}

	if store.Get("missing") != nil {
		t.Error("Get(missing) should return nil")
	}
}

func TestCreateWithoutFirstMessage(t *testing.T) {
	store := newTestStore(t)
	conv, err := store.Create("")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if conv.Title != model.DefaultTitle {
		t.Errorf("title = %q, want sentinel", conv.Title)
	}
}

func TestCreatePrepends(t *testing.T) {
	store := newTestStore(t)
	first, _ := store.Create("first")
	second, _ := store.Create("second")

	list := store.All()
	if len(list) != 2 {
		t.Fatalf("got %d conversations, want 2", len(list))
	}
	if list[0].ID != second.ID || list[1].ID != first.ID {
		t.Error("most recent conversation should be first")
	}
}

func TestRoundTripMessages(t *testing.T) {
	store := newTestStore(t)
	conv, _ := store.Create("hello")

	msgs := []model.Message{
		model.NewMessage(model.RoleUser, "hello"),
	}
	asst := model.NewMessage(model.RoleAssistant, "hi there")
	asst.Reasoning = "greeting back"
	asst.ToolInvocations = []model.ToolInvocation{
		{ID: "t1", ToolName: "search", State: model.StateResult, Args: map[string]any{"query": "x"}, Result: map[string]any{"ok": true}},
	}
	msgs = append(msgs, asst)

	if found, err := store.SetMessages(conv.ID, msgs); !found || err != nil {
		t.Fatalf("SetMessages: found=%v err=%v", found, err)
	}

	got := store.Get(conv.ID)
	if got == nil || len(got.Messages) != 2 {
		t.Fatalf("round trip lost messages: %+v", got)
	}
	if got.Messages[1].Reasoning != "greeting back" {
		t.Errorf("reasoning lost: %q", got.Messages[1].Reasoning)
	}
	if len(got.Messages[1].ToolInvocations) != 1 {
		t.Fatalf("tool invocations lost")
	}
	inv := got.Messages[1].ToolInvocations[0]
	if inv.State != model.StateResult || inv.ToolName != "search" {
		t.Errorf("invocation round trip = %+v", inv)
	}
}

func TestUpdateMissing(t *testing.T) {
	store := newTestStore(t)
	found, err := store.Update("nope", func(c *model.Conversation) { c.Title = "x" })
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if found {
		t.Error("Update on missing id should report not found")
	}
}

func TestRenameAndDelete(t *testing.T) {
	store := newTestStore(t)
	conv, _ := store.Create("hello")

	if found, err := store.Rename(conv.ID, "Renamed"); !found || err != nil {
		t.Fatalf("Rename: found=%v err=%v", found, err)
	}
	if got := store.Get(conv.ID); got.Title != "Renamed" {
		t.Errorf("title after rename = %q", got.Title)
	}

	if found, err := store.Delete(conv.ID); !found || err != nil {
		t.Fatalf("Delete: found=%v err=%v", found, err)
	}
	if store.Get(conv.ID) != nil {
		t.Error("conversation still present after delete")
	}
	if found, _ := store.Delete(conv.ID); found {
		t.Error("second delete should report not found")
	}
}

func TestMalformedBlobDegradesToEmpty(t *testing.T) {
	mem := NewMemoryBlobStore()
	mem.Set(conversationsKey, []byte("{not json"))

	store := NewConversationStore(mem)
	if got := store.All(); len(got) != 0 {
		t.Errorf("malformed blob should read as empty, got %d", len(got))
	}

	// And the store stays writable
	if _, err := store.Create("recovery"); err != nil {
		t.Errorf("Create after corrupt read failed: %v", err)
	}
	if got := store.All(); len(got) != 1 {
		t.Errorf("got %d conversations after recovery, want 1", len(got))
	}
}

func TestSetMessagesAndTitleAtomic(t *testing.T) {
	store := newTestStore(t)
	conv, _ := store.Create("")

	msgs := []model.Message{
		model.NewMessage(model.RoleUser, "What is Go?"),
		model.NewMessage(model.RoleAssistant, "A programming language."),
	}
	if found, err := store.SetMessagesAndTitle(conv.ID, msgs, "What is Go?"); !found || err != nil {
		t.Fatalf("SetMessagesAndTitle: found=%v err=%v", found, err)
	}

	got := store.Get(conv.ID)
	if got.Title != "What is Go?" || len(got.Messages) != 2 {
		t.Errorf("atomic update incomplete: title=%q messages=%d", got.Title, len(got.Messages))
	}
}

func TestClear(t *testing.T) {
	store := newTestStore(t)
	store.Create("a")
	store.Create("b")
	if err := store.Clear(); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if got := store.All(); len(got) != 0 {
		t.Errorf("got %d conversations after clear", len(got))
	}
}
