// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/nanochat/internal/util"
)

// DefaultTitle is the sentinel title for conversations that have not yet
// derived a real title from their first exchange.
const DefaultTitle = "New Conversation"

// Conversation is a titled, ordered message history.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewConversation creates an empty conversation carrying the sentinel
// title. The real title is adopted later, when the first user/assistant
// exchange completes.
func NewConversation() Conversation {
	now := time.Now().UTC()
	return Conversation{
		ID:        uuid.NewString(),
		Title:     DefaultTitle,
		Messages:  []Message{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// HasDefaultTitle reports whether the conversation still carries the
// sentinel title.
func (c *Conversation) HasDefaultTitle() bool {
	return c.Title == "" || c.Title == DefaultTitle
}

// Touch refreshes the UpdatedAt timestamp.
func (c *Conversation) Touch() {
	c.UpdatedAt = time.Now().UTC()
}

// Clone returns a deep copy of the conversation.
func (c *Conversation) Clone() Conversation {
	out := *c
	out.Messages = CloneMessages(c.Messages)
	if out.Messages == nil {
		out.Messages = []Message{}
	}
	return out
}

// Preview returns the first message's content truncated to maxLen runes,
// for list views.
func (c *Conversation) Preview(maxLen int) string {
	if len(c.Messages) == 0 {
		return ""
	}
	return util.TruncateRunes(c.Messages[0].Content, maxLen)
}

// FirstUserContent returns the content of the earliest user message, or
// "" when there is none. Title derivation reads from here.
func (c *Conversation) FirstUserContent() string {
	for _, m := range c.Messages {
		if m.Role == RoleUser {
			return m.Content
		}
	}
	return ""
}

// HasCompletedExchange reports whether the history contains at least one
// user message and one assistant message with content. The title gate
// only fires once this is true.
func (c *Conversation) HasCompletedExchange() bool {
	var user, assistant bool
	for _, m := range c.Messages {
		switch m.Role {
		case RoleUser:
			user = true
		case RoleAssistant:
			if m.Content != "" || len(m.ToolInvocations) > 0 {
				assistant = true
			}
		}
	}
	return user && assistant
}
