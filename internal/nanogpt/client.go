// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package nanogpt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrMissingAPIKey means no API key is configured at all.
	ErrMissingAPIKey = errors.New("NanoGPT API key is not configured")

	// ErrPlaceholderAPIKey means the config still carries the template
	// value and was never filled in.
	ErrPlaceholderAPIKey = errors.New("NanoGPT API key is still the placeholder value")

	// ErrUnauthorized maps upstream 401 responses.
	ErrUnauthorized = errors.New("invalid NanoGPT API key")

	// ErrRateLimited maps upstream 429 responses.
	ErrRateLimited = errors.New("rate limited by NanoGPT")
)

// APIError is a non-2xx upstream response that is not one of the
// sentinel cases above.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("nanogpt: HTTP %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("nanogpt: HTTP %d", e.Status)
}

// Is lets errors.Is match the sentinel for the embedded status class.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.Status == http.StatusUnauthorized
	case ErrRateLimited:
		return e.Status == http.StatusTooManyRequests
	}
	return false
}

// =============================================================================
// CONFIG
// =============================================================================

const (
	// DefaultBaseURL is the NanoGPT OpenAI-compatible API root.
	DefaultBaseURL = "https://nano-gpt.com/api/v1"

	// placeholderAPIKey is the template value shipped in example config.
	placeholderAPIKey = "your_nanogpt_api_key_here"
)

// Config holds client settings.
type Config struct {
	// BaseURL overrides the API root (tests). Empty means DefaultBaseURL.
	BaseURL string

	// APIKey is the NanoGPT API key.
	APIKey string

	// Timeout bounds non-streaming requests. Streaming requests are
	// bounded by their context instead.
	Timeout time.Duration
}

// ValidateCredentials checks the configured key before any request is
// made, so a misconfigured server fails with a precise error instead of
// an upstream 401.
func ValidateCredentials(apiKey string) error {
	switch apiKey {
	case "":
		return ErrMissingAPIKey
	case placeholderAPIKey:
		return ErrPlaceholderAPIKey
	}
	return nil
}

// =============================================================================
// CLIENT
// =============================================================================

// Client talks to the NanoGPT chat completion API.
type Client struct {
	cfg    Config
	client *http.Client
}

// NewClient creates a client. The configuration is not validated here;
// call ValidateCredentials before issuing requests.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Client{
		cfg: cfg,
		// No client-level timeout: streams legitimately run for minutes
		// and are cancelled through the request context.
		client: &http.Client{},
	}
}

// ChatMessage is one message in the upstream request payload. Tool
// round-trips use the OpenAI shape: the assistant message carries
// ToolCalls, and each result is a "tool" role message referencing the
// call by ToolCallID.
type ChatMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

// ToolCall is one completed tool call echoed back upstream.
type ToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function ToolCallFunction `json:"function"`
}

// ToolCallFunction holds the call target and its JSON-encoded arguments.
type ToolCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolDefinition advertises one callable tool to the model.
type ToolDefinition struct {
	Type     string             `json:"type"`
	Function FunctionDefinition `json:"function"`
}

// FunctionDefinition is the tool's name and JSON-schema parameters.
type FunctionDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ChatRequest is the chat completion request body.
type ChatRequest struct {
	Model    string           `json:"model"`
	Messages []ChatMessage    `json:"messages"`
	Tools    []ToolDefinition `json:"tools,omitempty"`
	Stream   bool             `json:"stream"`
}

// newRequest builds an authenticated POST to the given API path.
func (c *Client) newRequest(ctx context.Context, path string, body any) (*http.Request, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	return req, nil
}

// handleErrorResponse maps a non-2xx response to the typed error
// taxonomy. Callers branch on errors.Is, never on message substrings.
func handleErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	message := ""
	var payload struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &payload) == nil && payload.Error.Message != "" {
		message = payload.Error.Message
	} else if len(body) > 0 {
		message = string(body)
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		if message != "" {
			return fmt.Errorf("%w: %s", ErrUnauthorized, message)
		}
		return ErrUnauthorized
	case http.StatusTooManyRequests:
		if message != "" {
			return fmt.Errorf("%w: %s", ErrRateLimited, message)
		}
		return ErrRateLimited
	}
	return &APIError{Status: resp.StatusCode, Message: message}
}
