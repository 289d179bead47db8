// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package nanogpt

import (
	"bufio"
	"context"
	"encoding/json"
	"log"
	"strings"
)

// =============================================================================
// STREAMING
// =============================================================================

// ToolCallDelta is one streamed tool call fragment. Arguments arrive as
// raw JSON text that accumulates across fragments with the same index.
type ToolCallDelta struct {
	Index     int
	ID        string
	Name      string
	Arguments string
}

// Chunk is one decoded frame from the SSE stream. Exactly one of the
// payload fields is meaningful per chunk; Err terminates the stream.
type Chunk struct {
	Content      string
	Reasoning    string
	ToolCalls    []ToolCallDelta
	FinishReason string
	Err          error
}

// sseEvent is the wire shape of one stream frame.
type sseEvent struct {
	Choices []struct {
		Delta struct {
			Content   string `json:"content"`
			Reasoning string `json:"reasoning"`
			ToolCalls []struct {
				Index    int    `json:"index"`
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

// StreamChat sends a streaming chat completion request and returns a
// channel of decoded chunks. The channel closes when the stream ends,
// errors, or the context is cancelled. Malformed SSE lines are skipped;
// one bad frame must not kill a response that is otherwise flowing.
func (c *Client) StreamChat(ctx context.Context, req ChatRequest) (<-chan Chunk, error) {
	req.Stream = true

	httpReq, err := c.newRequest(ctx, "/chat/completions", req)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != 200 {
		defer resp.Body.Close()
		return nil, handleErrorResponse(resp)
	}

	out := make(chan Chunk)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)

		for scanner.Scan() {
			select {
			case <-ctx.Done():
				return
			default:
			}

			line := strings.TrimSpace(scanner.Text())
			if line == "" || !strings.HasPrefix(line, "data: ") {
				continue
			}
			data := strings.TrimPrefix(line, "data: ")
			if data == "[DONE]" {
				return
			}

			chunk, ok := decodeChunk(data)
			if !ok {
				continue
			}

			select {
			case out <- chunk:
			case <-ctx.Done():
				return
			}
		}

		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			out <- Chunk{Err: err}
		}
	}()

	return out, nil
}

// decodeChunk parses one SSE data payload. Returns false for frames that
// carry nothing usable.
func decodeChunk(data string) (Chunk, bool) {
	var ev sseEvent
	if err := json.Unmarshal([]byte(data), &ev); err != nil {
		log.Printf("NANOGPT_SSE_SKIP | err=%v", err)
		return Chunk{}, false
	}
	if len(ev.Choices) == 0 {
		return Chunk{}, false
	}

	choice := ev.Choices[0]
	chunk := Chunk{
		Content:   choice.Delta.Content,
		Reasoning: choice.Delta.Reasoning,
	}
	for _, tc := range choice.Delta.ToolCalls {
		chunk.ToolCalls = append(chunk.ToolCalls, ToolCallDelta{
			Index:     tc.Index,
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	if choice.FinishReason != nil {
		chunk.FinishReason = *choice.FinishReason
	}

	if chunk.Content == "" && chunk.Reasoning == "" && chunk.ToolCalls == nil && chunk.FinishReason == "" {
		return Chunk{}, false
	}
	return chunk, true
}
