// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jeranaias/nanochat/internal/model"
	"github.com/jeranaias/nanochat/internal/models"
	"github.com/jeranaias/nanochat/internal/nanogpt"
	"github.com/jeranaias/nanochat/internal/storage"
	"github.com/jeranaias/nanochat/internal/tools"
)

// scriptedUpstream replays one chunk script per StreamChat call.
type scriptedUpstream struct {
	scripts  [][]nanogpt.Chunk
	requests []nanogpt.ChatRequest
	err      error
}

func (s *scriptedUpstream) StreamChat(ctx context.Context, req nanogpt.ChatRequest) (<-chan nanogpt.Chunk, error) {
	s.requests = append(s.requests, req)
	if s.err != nil {
		return nil, s.err
	}

	call := len(s.requests) - 1
	var script []nanogpt.Chunk
	if call < len(s.scripts) {
		script = s.scripts[call]
	}

	ch := make(chan nanogpt.Chunk)
	go func() {
		defer close(ch)
		for _, chunk := range script {
			select {
			case ch <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

type recordedUsage struct {
	conversationID string
	modelID        string
	calls          int
}

func (r *recordedUsage) RecordExchange(conversationID, modelID string, _, _ int, _ time.Duration) {
	r.conversationID = conversationID
	r.modelID = modelID
	r.calls++
}

func newTestController(t *testing.T, upstream Upstream, toolbox *tools.Registry, usage UsageRecorder) (*Controller, *storage.ConversationStore) {
	t.Helper()

	blobs := storage.NewMemoryBlobStore()
	store := storage.NewConversationStore(blobs)
	conv, err := store.Create("")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	registry := models.NewRegistry(nil)
	ctrl, err := NewController(Options{
		Registry: registry,
		Prefs:    storage.NewPreferenceStore(blobs),
		Store:    store,
		Upstream: upstream,
		Toolbox:  toolbox,
		Usage:    usage,
	}, conv.ID)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	return ctrl, store
}

func TestSendIgnoresBlankInput(t *testing.T) {
	up := &scriptedUpstream{}
	ctrl, store := newTestController(t, up, nil, nil)

	if err := ctrl.Send(context.Background(), "   \n\t "); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(up.requests) != 0 {
		t.Error("blank input reached the upstream")
	}
	if got := store.Get(ctrl.ConversationID()); len(got.Messages) != 0 {
		t.Errorf("blank input was persisted: %d messages", len(got.Messages))
	}
}

func TestSendFullExchange(t *testing.T) {
	up := &scriptedUpstream{scripts: [][]nanogpt.Chunk{{
		{Reasoning: "let me think"},
		{Content: "Goroutines "},
		{Content: "are cheap."},
		{FinishReason: "stop"},
	}}}
	usage := &recordedUsage{}
	ctrl, store := newTestController(t, up, nil, usage)

	if err := ctrl.Send(context.Background(), "What are goroutines?"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	conv := store.Get(ctrl.ConversationID())
	if len(conv.Messages) != 2 {
		t.Fatalf("persisted %d messages, want 2", len(conv.Messages))
	}
	assistant := conv.Messages[1]
	if assistant.Content != "Goroutines are cheap." {
		t.Errorf("content = %q", assistant.Content)
	}
	if assistant.Reasoning != "let me think" {
		t.Errorf("reasoning = %q", assistant.Reasoning)
	}

	// First completed exchange adopts a derived title atomically.
	if conv.Title != "What are goroutines?" {
		t.Errorf("title = %q", conv.Title)
	}

	if usage.calls != 1 || usage.conversationID != ctrl.ConversationID() {
		t.Errorf("usage = %+v", usage)
	}
	if usage.modelID != models.DefaultModelID {
		t.Errorf("usage model = %q", usage.modelID)
	}
}

func TestSendUpstreamFailureKeepsUserMessage(t *testing.T) {
	up := &scriptedUpstream{err: nanogpt.ErrUnauthorized}
	ctrl, store := newTestController(t, up, nil, nil)

	err := ctrl.Send(context.Background(), "hello there")
	if !errors.Is(err, nanogpt.ErrUnauthorized) {
		t.Fatalf("err = %v", err)
	}

	conv := store.Get(ctrl.ConversationID())
	if len(conv.Messages) == 0 || conv.Messages[0].Content != "hello there" {
		t.Errorf("user message lost on failure: %+v", conv.Messages)
	}
}

// staticExecutor returns a fixed result.
type staticExecutor struct{ result any }

func (s staticExecutor) Execute(context.Context, map[string]any) (any, error) {
	return s.result, nil
}

func TestSendToolRound(t *testing.T) {
	toolbox := tools.NewRegistry()
	toolbox.Register(&tools.Tool{
		Name:        "web-search",
		Description: "search",
		Schema: tools.Schema{Parameters: []tools.Parameter{
			{Name: "query", Type: "string", Required: true},
		}},
		Executor: staticExecutor{result: map[string]any{"answer": 42}},
	})

	up := &scriptedUpstream{scripts: [][]nanogpt.Chunk{
		{
			{ToolCalls: []nanogpt.ToolCallDelta{{Index: 0, ID: "t1", Name: "web-search", Arguments: `{"query":`}}},
			{ToolCalls: []nanogpt.ToolCallDelta{{Index: 0, Arguments: `"go"}`}}},
			{FinishReason: "tool_calls"},
		},
		{
			{Content: "The answer is 42."},
			{FinishReason: "stop"},
		},
	}}
	ctrl, store := newTestController(t, up, toolbox, nil)

	if err := ctrl.Send(context.Background(), "search for go"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if len(up.requests) != 2 {
		t.Fatalf("upstream called %d times, want 2", len(up.requests))
	}

	// First request advertises the toolbox.
	if len(up.requests[0].Tools) != 1 || up.requests[0].Tools[0].Function.Name != "web-search" {
		t.Errorf("tools = %+v", up.requests[0].Tools)
	}

	// Second request carries the assistant tool call and the tool result.
	followup := up.requests[1].Messages
	var sawCall, sawResult bool
	for _, m := range followup {
		if m.Role == "assistant" && len(m.ToolCalls) == 1 && m.ToolCalls[0].ID == "t1" {
			sawCall = true
		}
		if m.Role == "tool" && m.ToolCallID == "t1" {
			sawResult = true
		}
	}
	if !sawCall || !sawResult {
		t.Errorf("followup messages missing tool round: %+v", followup)
	}

	conv := store.Get(ctrl.ConversationID())
	assistant := conv.Messages[len(conv.Messages)-1]
	if assistant.Content != "The answer is 42." {
		t.Errorf("content = %q", assistant.Content)
	}
	if len(assistant.ToolInvocations) != 1 {
		t.Fatalf("invocations = %d, want 1", len(assistant.ToolInvocations))
	}
	inv := assistant.ToolInvocations[0]
	if inv.State != model.StateResult || inv.IsError {
		t.Errorf("invocation = %+v", inv)
	}
	if inv.Args == nil || inv.Args["query"] != "go" {
		t.Errorf("args = %v", inv.Args)
	}
}

func TestStopRetainsPartialContent(t *testing.T) {
	started := make(chan struct{})
	up := &blockingUpstream{started: started}
	ctrl, store := newTestController(t, up, nil, nil)

	done := make(chan error, 1)
	go func() { done <- ctrl.Send(context.Background(), "long question") }()

	<-started
	ctrl.Stop()

	if err := <-done; err != nil {
		t.Fatalf("Send after Stop: %v", err)
	}

	conv := store.Get(ctrl.ConversationID())
	last := conv.Messages[len(conv.Messages)-1]
	if last.Role != model.RoleAssistant || last.Content != "partial" {
		t.Errorf("partial content not retained: %+v", last)
	}
}

// blockingUpstream emits one chunk, signals, then blocks until the
// context is cancelled.
type blockingUpstream struct {
	started chan struct{}
}

func (b *blockingUpstream) StreamChat(ctx context.Context, req nanogpt.ChatRequest) (<-chan nanogpt.Chunk, error) {
	ch := make(chan nanogpt.Chunk)
	go func() {
		defer close(ch)
		ch <- nanogpt.Chunk{Content: "partial"}
		close(b.started)
		<-ctx.Done()
	}()
	return ch, nil
}

func TestSendRejectsConcurrentExchange(t *testing.T) {
	started := make(chan struct{})
	up := &blockingUpstream{started: started}
	ctrl, _ := newTestController(t, up, nil, nil)

	done := make(chan error, 1)
	go func() { done <- ctrl.Send(context.Background(), "first") }()
	<-started

	if err := ctrl.Send(context.Background(), "second"); !errors.Is(err, ErrStreamInFlight) {
		t.Errorf("concurrent Send: %v", err)
	}

	ctrl.Stop()
	<-done
}

func TestSelectModelRejectsUnknownID(t *testing.T) {
	ctrl, _ := newTestController(t, &scriptedUpstream{}, nil, nil)

	if err := ctrl.SelectModel("made-up/model"); err == nil {
		t.Error("unknown model accepted")
	}
	if got := ctrl.SelectedModel(); got != models.DefaultModelID {
		t.Errorf("selected = %q", got)
	}
}
