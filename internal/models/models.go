// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package models

import (
	"errors"
	"time"
)

// ============================================================================
// TYPES
// ============================================================================

// ModelConfig describes one selectable chat model.
type ModelConfig struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	Capabilities []string `json:"capabilities"`
	MaxTokens    int      `json:"maxTokens"`
	Default      bool     `json:"default"`
}

// Collection is the catalog document shape.
type Collection struct {
	Models []ModelConfig `json:"models"`
}

// Preference is the persisted model selection.
type Preference struct {
	SelectedModelID string    `json:"selectedModelId"`
	LastUpdated     time.Time `json:"lastUpdated"`
}

// ErrNoModels is returned when an operation needs at least one model and
// the catalog is empty.
var ErrNoModels = errors.New("no models available")

// DefaultModelID is the compiled-in default model.
const DefaultModelID = "openai/gpt-oss-120b"

// ============================================================================
// FALLBACK CATALOG
// ============================================================================

// fallbackModels is the compiled-in catalog used whenever the configured
// catalog cannot be loaded or validated. The registry must always be
// usable, so this list is never empty.
var fallbackModels = []ModelConfig{
	{
		ID:           DefaultModelID,
		Name:         "GPT-OSS 120B",
		Description:  "Open-weight flagship with reasoning support",
		Capabilities: []string{"chat", "reasoning", "tools"},
		MaxTokens:    131072,
		Default:      true,
	},
	{
		ID:           "openai/gpt-oss-20b",
		Name:         "GPT-OSS 20B",
		Description:  "Smaller open-weight model for fast responses",
		Capabilities: []string{"chat", "reasoning"},
		MaxTokens:    131072,
	},
	{
		ID:           "deepseek/deepseek-chat",
		Name:         "DeepSeek Chat",
		Description:  "General purpose chat model",
		Capabilities: []string{"chat", "tools"},
		MaxTokens:    65536,
	},
	{
		ID:           "meta-llama/llama-3.3-70b-instruct",
		Name:         "Llama 3.3 70B",
		Description:  "Instruction-tuned open model",
		Capabilities: []string{"chat"},
		MaxTokens:    131072,
	},
}

// FallbackModels returns a copy of the compiled-in catalog.
func FallbackModels() []ModelConfig {
	out := make([]ModelConfig, len(fallbackModels))
	copy(out, fallbackModels)
	return out
}

// ============================================================================
// CATALOG OPERATIONS
// ============================================================================

// FindByID returns the model with the given id, or nil when absent.
func FindByID(list []ModelConfig, id string) *ModelConfig {
	for i := range list {
		if list[i].ID == id {
			return &list[i]
		}
	}
	return nil
}

// DefaultModel returns the first model flagged as default, falling back
// to the first entry. Errors on an empty catalog.
func DefaultModel(list []ModelConfig) (ModelConfig, error) {
	if len(list) == 0 {
		return ModelConfig{}, ErrNoModels
	}
	for _, m := range list {
		if m.Default {
			return m, nil
		}
	}
	return list[0], nil
}

// IsValidID reports whether id names a model in the catalog.
func IsValidID(list []ModelConfig, id string) bool {
	return FindByID(list, id) != nil
}

// ResolveID maps a requested model id onto the catalog: empty or unknown
// ids resolve to the default model's id.
func ResolveID(list []ModelConfig, id string) (string, error) {
	if id != "" && IsValidID(list, id) {
		return id, nil
	}
	def, err := DefaultModel(list)
	if err != nil {
		return "", err
	}
	return def.ID, nil
}

// FilterByCapability returns the models advertising the capability.
func FilterByCapability(list []ModelConfig, capability string) []ModelConfig {
	var out []ModelConfig
	for _, m := range list {
		for _, c := range m.Capabilities {
			if c == capability {
				out = append(out, m)
				break
			}
		}
	}
	return out
}
