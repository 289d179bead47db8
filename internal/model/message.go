// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// ROLES
// ============================================================================

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ValidRole reports whether r is one of the persistable roles.
// Transport-level roles outside this set (tool frames, data frames) are
// folded into assistant messages during reconciliation, never stored as
// messages of their own.
func ValidRole(r Role) bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// ============================================================================
// TOOL INVOCATIONS
// ============================================================================

// InvocationState is the lifecycle state of a tool invocation.
type InvocationState string

const (
	// StatePartialCall: arguments still streaming in.
	StatePartialCall InvocationState = "partial-call"
	// StateCall: arguments complete, execution pending or running.
	StateCall InvocationState = "call"
	// StateResult: execution finished, result attached.
	StateResult InvocationState = "result"
	// StateUnknown: the upstream frame carried a state outside the known
	// set. Preserved rather than dropped so the record stays renderable.
	StateUnknown InvocationState = "unknown"
)

// Rank orders states by lifecycle progress. Used to keep transitions
// forward-only when late frames arrive out of order.
func (s InvocationState) Rank() int {
	switch s {
	case StatePartialCall:
		return 1
	case StateCall:
		return 2
	case StateResult:
		return 3
	}
	return 0
}

// ToolInvocation is one normalized tool call attached to an assistant
// message. Args is nil when the upstream record carried no object-shaped
// arguments. Result holds whatever the tool returned, untyped.
type ToolInvocation struct {
	ID       string          `json:"id"`
	ToolName string          `json:"toolName"`
	State    InvocationState `json:"state"`
	Args     map[string]any  `json:"args,omitempty"`
	Result   any             `json:"result,omitempty"`
	IsError  bool            `json:"isError"`
}

// Clone returns a copy with its own Args map. Result is shared; stored
// results are treated as immutable once attached.
func (t ToolInvocation) Clone() ToolInvocation {
	out := t
	if t.Args != nil {
		out.Args = make(map[string]any, len(t.Args))
		for k, v := range t.Args {
			out.Args[k] = v
		}
	}
	return out
}

// ============================================================================
// MESSAGES
// ============================================================================

// Message is the canonical persisted message shape. Content and Reasoning
// only ever grow during a streaming exchange; completed messages are
// immutable.
type Message struct {
	ID              string           `json:"id"`
	Role            Role             `json:"role"`
	Content         string           `json:"content"`
	Reasoning       string           `json:"reasoning,omitempty"`
	ToolInvocations []ToolInvocation `json:"toolInvocations,omitempty"`
	CreatedAt       time.Time        `json:"createdAt"`
}

// NewMessage creates a message with a generated ID and current timestamp.
func NewMessage(role Role, content string) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
}

// Clone returns a deep copy of the message.
func (m Message) Clone() Message {
	out := m
	if m.ToolInvocations != nil {
		out.ToolInvocations = make([]ToolInvocation, len(m.ToolInvocations))
		for i, inv := range m.ToolInvocations {
			out.ToolInvocations[i] = inv.Clone()
		}
	}
	return out
}

// CloneMessages deep-copies a message slice. A nil slice stays nil.
func CloneMessages(msgs []Message) []Message {
	if msgs == nil {
		return nil
	}
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out
}
