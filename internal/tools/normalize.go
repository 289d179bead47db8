// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tools

import (
	"github.com/google/uuid"

	"github.com/jeranaias/nanochat/internal/model"
)

// =============================================================================
// TOOL INVOCATION NORMALIZER
// =============================================================================

// NormalizeInvocations coerces a raw, untrusted invocation batch (decoded
// JSON from the transport) into canonical records.
//
// A non-slice or empty input normalizes to nil: an absent invocation
// list, not an empty one, so persisted messages omit the field entirely.
// Non-record items are dropped. Every surviving record gets a usable id,
// tool name, and state, however malformed the input was.
func NormalizeInvocations(raw any) []model.ToolInvocation {
	items, ok := raw.([]any)
	if !ok || len(items) == 0 {
		return nil
	}

	var out []model.ToolInvocation
	for _, item := range items {
		rec, ok := item.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, normalizeRecord(rec))
	}

	if len(out) == 0 {
		return nil
	}
	return out
}

// normalizeRecord maps one raw record onto the canonical shape.
func normalizeRecord(rec map[string]any) model.ToolInvocation {
	state := model.StateUnknown
	if s, ok := rec["state"].(string); ok {
		switch st := model.InvocationState(s); st {
		case model.StatePartialCall, model.StateCall, model.StateResult:
			state = st
		}
	}

	var args map[string]any
	if a, ok := rec["args"].(map[string]any); ok {
		args = a
	}

	result := rec["result"]

	// An invocation is an error when the record says so explicitly, or
	// when the result carries a string-valued "error" field.
	isError := truthy(rec["isError"])
	if res, ok := result.(map[string]any); ok {
		if _, ok := res["error"].(string); ok {
			isError = true
		}
	}

	id := stringField(rec, "toolCallId")
	if id == "" {
		id = stringField(rec, "id")
	}
	if id == "" {
		id = uuid.NewString()
	}

	name := stringField(rec, "toolName")
	if name == "" {
		name = stringField(rec, "name")
	}
	if name == "" {
		name = "tool"
	}

	return model.ToolInvocation{
		ID:       id,
		ToolName: name,
		State:    state,
		Args:     args,
		Result:   result,
		IsError:  isError,
	}
}

// stringField returns rec[key] when it is a non-empty string.
func stringField(rec map[string]any, key string) string {
	if s, ok := rec[key].(string); ok {
		return s
	}
	return ""
}

// truthy mirrors JSON-side boolean coercion for the isError flag.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	default:
		return true
	}
}

// =============================================================================
// FORWARD-ONLY STATE MERGE
// =============================================================================

// MergeState keeps invocation state transitions forward-only: a late or
// replayed frame can never move a completed invocation back to an
// in-flight state. Unknown incoming states keep the old state when the
// old one ranks higher.
func MergeState(old, incoming model.InvocationState) model.InvocationState {
	if incoming.Rank() < old.Rank() {
		return old
	}
	return incoming
}

// MergeInvocation folds an incoming record into an existing one with the
// same id. State moves forward only; args and result update when the
// incoming record carries them; the error flag is sticky.
func MergeInvocation(existing, incoming model.ToolInvocation) model.ToolInvocation {
	out := existing
	out.State = MergeState(existing.State, incoming.State)
	if incoming.ToolName != "" && incoming.ToolName != "tool" {
		out.ToolName = incoming.ToolName
	}
	if incoming.Args != nil {
		out.Args = incoming.Args
	}
	if incoming.Result != nil {
		out.Result = incoming.Result
	}
	out.IsError = existing.IsError || incoming.IsError
	return out
}
