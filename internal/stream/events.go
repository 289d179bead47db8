// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import "github.com/jeranaias/nanochat/internal/model"

// =============================================================================
// STREAM EVENTS
// =============================================================================

// Event is one incremental frame from an in-flight model response. Each
// event targets an assistant message by id; the reconciler folds events
// into the transcript as they arrive.
type Event interface {
	// TargetMessageID returns the assistant message the event belongs to.
	TargetMessageID() string
}

// TextDelta carries a fragment of assistant text.
type TextDelta struct {
	MessageID string
	Text      string
}

// ReasoningDelta carries a fragment of the model's reasoning trace.
type ReasoningDelta struct {
	MessageID string
	Text      string
}

// ToolCallStart announces a new tool invocation on the message.
type ToolCallStart struct {
	MessageID  string
	Invocation model.ToolInvocation
}

// ToolCallDelta updates an in-flight invocation (streamed arguments,
// state advances).
type ToolCallDelta struct {
	MessageID  string
	Invocation model.ToolInvocation
}

// ToolResult attaches the final result to an invocation.
type ToolResult struct {
	MessageID  string
	Invocation model.ToolInvocation
}

// Finish marks the end of the response. The reconciler returns to idle.
type Finish struct {
	MessageID string
}

// StreamError reports a mid-stream failure. Partial content accumulated
// so far is retained; the reconciler returns to idle.
type StreamError struct {
	MessageID string
	Err       error
}

func (e TextDelta) TargetMessageID() string      { return e.MessageID }
func (e ReasoningDelta) TargetMessageID() string { return e.MessageID }
func (e ToolCallStart) TargetMessageID() string  { return e.MessageID }
func (e ToolCallDelta) TargetMessageID() string  { return e.MessageID }
func (e ToolResult) TargetMessageID() string     { return e.MessageID }
func (e Finish) TargetMessageID() string         { return e.MessageID }
func (e StreamError) TargetMessageID() string    { return e.MessageID }
