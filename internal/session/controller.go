// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/nanochat/internal/model"
	"github.com/jeranaias/nanochat/internal/models"
	"github.com/jeranaias/nanochat/internal/nanogpt"
	"github.com/jeranaias/nanochat/internal/persist"
	"github.com/jeranaias/nanochat/internal/storage"
	"github.com/jeranaias/nanochat/internal/stream"
	"github.com/jeranaias/nanochat/internal/tools"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrStreamInFlight means Send was called while a response is still
	// streaming. One exchange at a time per conversation.
	ErrStreamInFlight = errors.New("a response is already streaming")

	// ErrConversationGone means the controller's conversation was deleted
	// from the store out from under it.
	ErrConversationGone = errors.New("conversation no longer exists")

	// ErrUnknownModel means a model id outside the current catalog was
	// selected.
	ErrUnknownModel = errors.New("unknown model id")
)

// =============================================================================
// DEPENDENCIES
// =============================================================================

// Upstream streams chat completions. Satisfied by *nanogpt.Client.
type Upstream interface {
	StreamChat(ctx context.Context, req nanogpt.ChatRequest) (<-chan nanogpt.Chunk, error)
}

// UsageRecorder receives per-exchange usage for telemetry. Recording
// failures are the recorder's problem; the exchange never waits on it.
type UsageRecorder interface {
	RecordExchange(conversationID, modelID string, promptChars, completionChars int, elapsed time.Duration)
}

// maxToolRounds caps follow-up completions after tool execution so a
// model that keeps calling tools cannot loop forever.
const maxToolRounds = 4

// =============================================================================
// CONTROLLER
// =============================================================================

// Controller drives one conversation: it resolves the selected model,
// runs streaming exchanges through the reconciler, executes tool calls,
// and flushes completed state through the persistence gate.
type Controller struct {
	registry  *models.Registry
	prefs     *storage.PreferenceStore
	store     *storage.ConversationStore
	upstream  Upstream
	toolbox   *tools.Registry
	usage     UsageRecorder
	convID    string
	rec       *stream.Reconciler
	gate      *persist.Gate

	mu        sync.Mutex
	cancel    context.CancelFunc
	streaming bool
}

// Options configures a controller. Toolbox and Usage are optional.
type Options struct {
	Registry *models.Registry
	Prefs    *storage.PreferenceStore
	Store    *storage.ConversationStore
	Upstream Upstream
	Toolbox  *tools.Registry
	Usage    UsageRecorder
}

// NewController attaches to an existing conversation, seeding the
// reconciler with its persisted transcript.
func NewController(opts Options, convID string) (*Controller, error) {
	conv := opts.Store.Get(convID)
	if conv == nil {
		return nil, ErrConversationGone
	}

	c := &Controller{
		registry: opts.Registry,
		prefs:    opts.Prefs,
		store:    opts.Store,
		upstream: opts.Upstream,
		toolbox:  opts.Toolbox,
		usage:    opts.Usage,
		convID:   convID,
		rec:      stream.NewReconciler(conv.Messages),
		gate:     persist.NewGate(opts.Store, convID),
	}

	// The gate subscribes once and sees every transcript change. It
	// no-ops while streaming and on unchanged fingerprints, so only
	// settle points reach the store.
	c.rec.Subscribe(func(snap stream.Snapshot) {
		if _, err := c.gate.Flush(snap); err != nil {
			log.Printf("SESSION_FLUSH_ERROR | conversation=%s err=%v", convID, err)
		}
	})
	return c, nil
}

// ConversationID returns the conversation this controller drives.
func (c *Controller) ConversationID() string { return c.convID }

// Snapshot returns the live transcript view.
func (c *Controller) Snapshot() stream.Snapshot { return c.rec.Snapshot() }

// Subscribe registers a callback for every transcript change.
func (c *Controller) Subscribe(fn stream.Subscriber) { c.rec.Subscribe(fn) }

// SelectedModel resolves the persisted preference against the registry,
// falling back to the default for unknown or missing ids.
func (c *Controller) SelectedModel() string {
	id, err := c.registry.Resolve(c.prefs.Load())
	if err != nil {
		return models.DefaultModelID
	}
	return id
}

// SelectModel persists a model choice. Unknown ids are rejected.
func (c *Controller) SelectModel(id string) error {
	if !c.registry.IsValid(id) {
		return ErrUnknownModel
	}
	return c.prefs.Save(id)
}

// Stop cancels the in-flight exchange, if any. Partial content already
// reconciled stays in the transcript and is flushed by the unwinding
// Send call.
func (c *Controller) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Send runs one full exchange: append the user message, stream the
// assistant response through the reconciler, execute any tool calls, and
// flush the completed transcript. Blank input is ignored. Send blocks
// until the exchange settles; Stop may be called concurrently.
func (c *Controller) Send(ctx context.Context, text string) error {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}

	c.mu.Lock()
	if c.streaming {
		c.mu.Unlock()
		return ErrStreamInFlight
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.streaming = true
	c.mu.Unlock()

	defer func() {
		cancel()
		c.mu.Lock()
		c.cancel = nil
		c.streaming = false
		c.mu.Unlock()
	}()

	c.rec.AppendUser(trimmed)

	started := time.Now()
	modelID := c.SelectedModel()
	assistantID := uuid.NewString()

	c.rec.Begin()
	completion, err := c.runExchange(ctx, modelID, assistantID)
	if err != nil && ctx.Err() == nil {
		c.rec.Apply(stream.StreamError{MessageID: assistantID, Err: err})
		return err
	}

	c.rec.Apply(stream.Finish{MessageID: assistantID})

	if c.usage != nil {
		c.usage.RecordExchange(c.convID, modelID, len(trimmed), completion, time.Since(started))
	}
	return nil
}

// runExchange streams completions, looping through tool rounds until the
// model produces a final answer. Returns the total completion length.
func (c *Controller) runExchange(ctx context.Context, modelID, assistantID string) (int, error) {
	// History is fixed at exchange start; tool rounds extend it through
	// extra, never by re-reading the transcript, so the in-flight
	// assistant message is not echoed back upstream.
	history := c.historyMessages()
	extra := []nanogpt.ChatMessage{}
	completion := 0

	for round := 0; round <= maxToolRounds; round++ {
		req := nanogpt.ChatRequest{
			Model:    modelID,
			Messages: append(history[:len(history):len(history)], extra...),
			Tools:    c.toolDefinitions(),
		}

		ch, err := c.upstream.StreamChat(ctx, req)
		if err != nil {
			return completion, err
		}

		var (
			finishReason string
			pending      = map[int]*pendingCall{}
			roundText    strings.Builder
		)

		for chunk := range ch {
			if chunk.Err != nil {
				return completion, chunk.Err
			}
			if chunk.Content != "" {
				completion += len(chunk.Content)
				roundText.WriteString(chunk.Content)
				c.rec.Apply(stream.TextDelta{MessageID: assistantID, Text: chunk.Content})
			}
			if chunk.Reasoning != "" {
				c.rec.Apply(stream.ReasoningDelta{MessageID: assistantID, Text: chunk.Reasoning})
			}
			for _, tc := range chunk.ToolCalls {
				c.applyToolCallDelta(assistantID, pending, tc)
			}
			if chunk.FinishReason != "" {
				finishReason = chunk.FinishReason
			}
		}
		if ctx.Err() != nil {
			return completion, nil
		}

		calls := orderedCalls(pending)
		c.sealCalls(assistantID, calls)

		if finishReason != "tool_calls" || len(calls) == 0 || c.toolbox == nil {
			return completion, nil
		}

		extra = append(extra, c.executeCalls(ctx, assistantID, roundText.String(), calls)...)
	}

	log.Printf("SESSION_TOOL_LIMIT | conversation=%s rounds=%d", c.convID, maxToolRounds)
	return completion, nil
}

// pendingCall accumulates one streamed tool call across frames.
type pendingCall struct {
	id   string
	name string
	args strings.Builder
}

// applyToolCallDelta folds one tool call fragment into the pending set
// and mirrors it into the reconciler as a partial call.
func (c *Controller) applyToolCallDelta(assistantID string, pending map[int]*pendingCall, tc nanogpt.ToolCallDelta) {
	call, ok := pending[tc.Index]
	if !ok {
		call = &pendingCall{}
		pending[tc.Index] = call
	}
	if tc.ID != "" {
		call.id = tc.ID
	}
	if tc.Name != "" {
		call.name = tc.Name
	}
	call.args.WriteString(tc.Arguments)

	if call.id == "" {
		call.id = uuid.NewString()
	}
	c.rec.Apply(stream.ToolCallStart{MessageID: assistantID, Invocation: model.ToolInvocation{
		ID:       call.id,
		ToolName: call.name,
		State:    model.StatePartialCall,
	}})
}

// sealCalls parses each pending call's accumulated argument text and
// advances it to the call state.
func (c *Controller) sealCalls(assistantID string, calls []*pendingCall) {
	for _, call := range calls {
		var args map[string]any
		if raw := call.args.String(); raw != "" {
			if err := json.Unmarshal([]byte(raw), &args); err != nil {
				log.Printf("SESSION_TOOL_ARGS | id=%s err=%v", call.id, err)
				args = nil
			}
		}
		c.rec.Apply(stream.ToolCallDelta{MessageID: assistantID, Invocation: model.ToolInvocation{
			ID:       call.id,
			ToolName: call.name,
			State:    model.StateCall,
			Args:     args,
		}})
	}
}

// executeCalls runs each sealed call through the toolbox, reconciles the
// results, and returns the follow-up messages for the next round.
func (c *Controller) executeCalls(ctx context.Context, assistantID, roundText string, calls []*pendingCall) []nanogpt.ChatMessage {
	assistantMsg := nanogpt.ChatMessage{Role: "assistant", Content: roundText}
	followups := []nanogpt.ChatMessage{}

	for _, call := range calls {
		assistantMsg.ToolCalls = append(assistantMsg.ToolCalls, nanogpt.ToolCall{
			ID:   call.id,
			Type: "function",
			Function: nanogpt.ToolCallFunction{
				Name:      call.name,
				Arguments: call.args.String(),
			},
		})

		result, isError := c.executeCall(ctx, call)
		c.rec.Apply(stream.ToolResult{MessageID: assistantID, Invocation: model.ToolInvocation{
			ID:       call.id,
			ToolName: call.name,
			State:    model.StateResult,
			Result:   result,
			IsError:  isError,
		}})

		payload, err := json.Marshal(result)
		if err != nil {
			payload = []byte(`{"error":"tool result was not serializable"}`)
		}
		followups = append(followups, nanogpt.ChatMessage{
			Role:       "tool",
			ToolCallID: call.id,
			Content:    string(payload),
		})
	}

	return append([]nanogpt.ChatMessage{assistantMsg}, followups...)
}

// executeCall runs one tool. Unknown tools and execution faults become
// error-shaped results; they never abort the exchange.
func (c *Controller) executeCall(ctx context.Context, call *pendingCall) (any, bool) {
	tool := c.toolbox.Get(call.name)
	if tool == nil {
		return map[string]any{"error": "unknown tool: " + call.name}, true
	}

	var args map[string]any
	if raw := call.args.String(); raw != "" {
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			return map[string]any{"error": "malformed tool arguments"}, true
		}
	}
	if err := tools.ValidateArgs(tool.Schema, args); err != nil {
		return map[string]any{"error": err.Error()}, true
	}

	result, err := tool.Executor.Execute(ctx, args)
	if err != nil {
		return map[string]any{"error": err.Error()}, true
	}

	isError := false
	if outcome, ok := result.(tools.SearchOutcome); ok {
		isError = outcome.Error != ""
	}
	return result, isError
}

// historyMessages maps the persistable transcript onto the upstream
// request shape. Tool invocations stay out of the history; completed
// rounds are carried through the per-exchange followup messages instead.
func (c *Controller) historyMessages() []nanogpt.ChatMessage {
	snap := c.rec.Snapshot()
	out := make([]nanogpt.ChatMessage, 0, len(snap.Messages))
	for _, m := range snap.Messages {
		if !model.ValidRole(m.Role) {
			continue
		}
		out = append(out, nanogpt.ChatMessage{Role: string(m.Role), Content: m.Content})
	}
	return out
}

// toolDefinitions advertises the toolbox to the model.
func (c *Controller) toolDefinitions() []nanogpt.ToolDefinition {
	if c.toolbox == nil {
		return nil
	}
	names := c.toolbox.Names()
	sort.Strings(names)

	out := make([]nanogpt.ToolDefinition, 0, len(names))
	for _, name := range names {
		tool := c.toolbox.Get(name)
		if tool == nil {
			continue
		}
		out = append(out, nanogpt.ToolDefinition{
			Type: "function",
			Function: nanogpt.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Schema.JSONSchema(),
			},
		})
	}
	return out
}

// orderedCalls returns pending calls sorted by stream index.
func orderedCalls(pending map[int]*pendingCall) []*pendingCall {
	indexes := make([]int, 0, len(pending))
	for i := range pending {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)

	out := make([]*pendingCall, 0, len(indexes))
	for _, i := range indexes {
		out = append(out, pending[i])
	}
	return out
}

