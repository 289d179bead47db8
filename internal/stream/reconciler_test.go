// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"errors"
	"testing"

	"github.com/jeranaias/nanochat/internal/model"
)

func lastMessage(t *testing.T, r *Reconciler) model.Message {
	t.Helper()
	snap := r.Snapshot()
	if len(snap.Messages) == 0 {
		t.Fatal("transcript is empty")
	}
	return snap.Messages[len(snap.Messages)-1]
}

func TestTextDeltasConcatenateWithoutSeparator(t *testing.T) {
	r := NewReconciler(nil)
	r.Begin()
	r.Apply(TextDelta{MessageID: "a1", Text: "Hello"})
	r.Apply(TextDelta{MessageID: "a1", Text: ", "})
	r.Apply(TextDelta{MessageID: "a1", Text: "world"})
	r.Apply(Finish{MessageID: "a1"})

	msg := lastMessage(t, r)
	if msg.Content != "Hello, world" {
		t.Errorf("content = %q, want fragments joined with no separator", msg.Content)
	}
	if msg.Role != model.RoleAssistant {
		t.Errorf("role = %q", msg.Role)
	}
	if r.Status() != StatusIdle {
		t.Errorf("status after finish = %q", r.Status())
	}
}

func TestReasoningPartsJoinWithNewline(t *testing.T) {
	r := NewReconciler(nil)
	r.Begin()
	r.Apply(ReasoningDelta{MessageID: "a1", Text: "First "})
	r.Apply(ReasoningDelta{MessageID: "a1", Text: "thought"})
	r.Apply(TextDelta{MessageID: "a1", Text: "answer"})
	r.Apply(ReasoningDelta{MessageID: "a1", Text: "second thought"})
	r.Apply(Finish{MessageID: "a1"})

	msg := lastMessage(t, r)
	if msg.Reasoning != "First thought\nsecond thought" {
		t.Errorf("reasoning = %q", msg.Reasoning)
	}
	if msg.Content != "answer" {
		t.Errorf("content = %q", msg.Content)
	}
}

func TestAssistantMaterializedOnFirstEvent(t *testing.T) {
	seed := []model.Message{model.NewMessage(model.RoleUser, "hi")}
	r := NewReconciler(seed)
	r.Begin()

	if n := len(r.Snapshot().Messages); n != 1 {
		t.Fatalf("Begin should not materialize a message, transcript has %d", n)
	}

	r.Apply(TextDelta{MessageID: "a1", Text: "x"})
	snap := r.Snapshot()
	if len(snap.Messages) != 2 {
		t.Fatalf("transcript has %d messages, want 2", len(snap.Messages))
	}
	if snap.Status != StatusStreaming {
		t.Errorf("status = %q", snap.Status)
	}
}

func TestEmptyResponseKeepsPlaceholderMessage(t *testing.T) {
	r := NewReconciler(nil)
	r.Begin()
	r.Apply(Finish{MessageID: "a1"})

	msg := lastMessage(t, r)
	if msg.ID != "a1" || msg.Content != "" || msg.ToolInvocations != nil {
		t.Errorf("placeholder message = %+v", msg)
	}
}

func TestToolInvocationFoldingForwardOnly(t *testing.T) {
	r := NewReconciler(nil)
	r.Begin()
	r.Apply(ToolCallStart{MessageID: "a1", Invocation: model.ToolInvocation{
		ID: "t1", ToolName: "brave-web-search", State: model.StatePartialCall,
	}})
	r.Apply(ToolCallDelta{MessageID: "a1", Invocation: model.ToolInvocation{
		ID: "t1", ToolName: "brave-web-search", State: model.StateCall,
		Args: map[string]any{"query": "go"},
	}})
	r.Apply(ToolResult{MessageID: "a1", Invocation: model.ToolInvocation{
		ID: "t1", State: model.StateResult, Result: map[string]any{"ok": true},
	}})
	// Late replay of an earlier frame must not regress the state.
	r.Apply(ToolCallDelta{MessageID: "a1", Invocation: model.ToolInvocation{
		ID: "t1", State: model.StateCall,
	}})
	r.Apply(Finish{MessageID: "a1"})

	msg := lastMessage(t, r)
	if len(msg.ToolInvocations) != 1 {
		t.Fatalf("got %d invocations, want 1", len(msg.ToolInvocations))
	}
	inv := msg.ToolInvocations[0]
	if inv.State != model.StateResult {
		t.Errorf("state = %q, want result", inv.State)
	}
	if inv.Args == nil || inv.Args["query"] != "go" {
		t.Errorf("args = %v", inv.Args)
	}
	if inv.Result == nil {
		t.Error("result dropped")
	}
}

func TestMultipleInvocationsKeepOrder(t *testing.T) {
	r := NewReconciler(nil)
	r.Begin()
	r.Apply(ToolCallStart{MessageID: "a1", Invocation: model.ToolInvocation{ID: "t1", State: model.StateCall}})
	r.Apply(ToolCallStart{MessageID: "a1", Invocation: model.ToolInvocation{ID: "t2", State: model.StateCall}})
	r.Apply(ToolResult{MessageID: "a1", Invocation: model.ToolInvocation{ID: "t1", State: model.StateResult}})
	r.Apply(Finish{MessageID: "a1"})

	msg := lastMessage(t, r)
	if len(msg.ToolInvocations) != 2 {
		t.Fatalf("got %d invocations", len(msg.ToolInvocations))
	}
	if msg.ToolInvocations[0].ID != "t1" || msg.ToolInvocations[1].ID != "t2" {
		t.Errorf("order not preserved: %v, %v", msg.ToolInvocations[0].ID, msg.ToolInvocations[1].ID)
	}
}

func TestStreamErrorRetainsPartialContent(t *testing.T) {
	r := NewReconciler(nil)
	r.Begin()
	r.Apply(TextDelta{MessageID: "a1", Text: "partial answ"})
	r.Apply(StreamError{MessageID: "a1", Err: errors.New("connection reset")})

	msg := lastMessage(t, r)
	if msg.Content != "partial answ" {
		t.Errorf("partial content lost: %q", msg.Content)
	}
	if r.Status() != StatusIdle {
		t.Errorf("status = %q, want idle after error", r.Status())
	}
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	seed := []model.Message{
		{
			ID: "m1", Role: model.RoleAssistant, Content: "done",
			ToolInvocations: []model.ToolInvocation{
				{ID: "t1", ToolName: "web-search", State: model.StateResult, Args: map[string]any{"q": "x"}},
			},
		},
	}
	r := NewReconciler(seed)

	snap := r.Snapshot()
	snap.Messages[0].Content = "mutated"
	snap.Messages[0].ToolInvocations[0].Args["q"] = "mutated"

	fresh := r.Snapshot()
	if fresh.Messages[0].Content != "done" {
		t.Error("snapshot mutation leaked into transcript content")
	}
	if fresh.Messages[0].ToolInvocations[0].Args["q"] != "x" {
		t.Error("snapshot mutation leaked into invocation args")
	}
}

func TestSubscriberSeesEveryChange(t *testing.T) {
	r := NewReconciler(nil)
	var statuses []Status
	r.Subscribe(func(s Snapshot) { statuses = append(statuses, s.Status) })

	r.AppendUser("hello")
	r.Begin()
	r.Apply(TextDelta{MessageID: "a1", Text: "hi"})
	r.Apply(Finish{MessageID: "a1"})

	if len(statuses) != 4 {
		t.Fatalf("subscriber called %d times, want 4", len(statuses))
	}
	if statuses[1] != StatusStreaming || statuses[3] != StatusIdle {
		t.Errorf("status sequence = %v", statuses)
	}
}

func TestAppendUserIgnoredContentUntouched(t *testing.T) {
	r := NewReconciler(nil)
	msg := r.AppendUser("  keep my spacing  ")
	if msg.Content != "  keep my spacing  " {
		t.Errorf("content = %q, reconciler must not trim", msg.Content)
	}
	if msg.Role != model.RoleUser || msg.ID == "" {
		t.Errorf("message = %+v", msg)
	}
}
