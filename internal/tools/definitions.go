// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tools

import (
	"context"
	"fmt"
	"sync"
)

// =============================================================================
// TOOL DEFINITION
// =============================================================================

// Tool is one executable tool exposed to the model.
type Tool struct {
	// Name is the tool identifier sent upstream (e.g. "brave-web-search")
	Name string

	// Description explains what the tool does, for the model's tool schema
	Description string

	// Schema defines the tool's parameters
	Schema Schema

	// Executor handles the actual execution
	Executor Executor
}

// Schema defines a tool's parameters.
type Schema struct {
	Parameters []Parameter
}

// Parameter defines a single tool parameter.
type Parameter struct {
	Name        string
	Type        string // "string", "number", "boolean"
	Required    bool
	Description string

	// Enum contains allowed values for string parameters (optional)
	Enum []string
}

// Executor runs a tool. The returned value is attached verbatim to the
// tool invocation as its result. Search tools report their own failures
// inside the result record and return a nil error; a non-nil error is
// reserved for faults the caller must handle (context cancellation).
type Executor interface {
	Execute(ctx context.Context, params map[string]any) (any, error)
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError reports a parameter that failed schema validation.
type ValidationError struct {
	Param   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Param + ": " + e.Message
}

// ValidateArgs checks args against the schema: required parameters must
// be present, provided parameters must have the declared type, and enum
// parameters must use an allowed value. Extra args are ignored.
func ValidateArgs(schema Schema, args map[string]any) error {
	for _, p := range schema.Parameters {
		val, exists := args[p.Name]
		if !exists || val == nil {
			if p.Required {
				return &ValidationError{Param: p.Name, Message: "required parameter is missing"}
			}
			continue
		}

		switch p.Type {
		case "string":
			s, ok := val.(string)
			if !ok {
				return &ValidationError{Param: p.Name, Message: "expected string"}
			}
			if len(p.Enum) > 0 && !contains(p.Enum, s) {
				return &ValidationError{Param: p.Name, Message: fmt.Sprintf("must be one of %v", p.Enum)}
			}
		case "number":
			switch val.(type) {
			case int, int64, float64:
			default:
				return &ValidationError{Param: p.Name, Message: "expected number"}
			}
		case "boolean":
			if _, ok := val.(bool); !ok {
				return &ValidationError{Param: p.Name, Message: "expected boolean"}
			}
		}
	}
	return nil
}

// JSONSchema renders the parameter list as a JSON-schema object, the
// shape chat APIs expect for tool advertisements.
func (s Schema) JSONSchema() map[string]any {
	properties := make(map[string]any, len(s.Parameters))
	var required []string
	for _, p := range s.Parameters {
		prop := map[string]any{"type": p.Type}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// =============================================================================
// REGISTRY
// =============================================================================

// Registry holds the available tools by name.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Register adds a tool, replacing any existing tool with the same name.
func (r *Registry) Register(t *Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name] = t
}

// Get returns the named tool, or nil.
func (r *Registry) Get(name string) *Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Names returns the registered tool names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.tools))
	for name := range r.tools {
		out = append(out, name)
	}
	return out
}
