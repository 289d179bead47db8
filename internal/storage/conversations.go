// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/jeranaias/nanochat/internal/markdown"
	"github.com/jeranaias/nanochat/internal/model"
)

// ============================================================================
// ERRORS
// ============================================================================

// ConversationError wraps storage failures with the operation that
// produced them.
type ConversationError struct {
	Op  string
	ID  string
	Err error
}

func (e *ConversationError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("conversation %s: %s: %v", e.Op, e.ID, e.Err)
	}
	return fmt.Sprintf("conversation %s: %v", e.Op, e.Err)
}

func (e *ConversationError) Unwrap() error { return e.Err }

// ErrConversationNotFound is returned when an id does not exist.
var ErrConversationNotFound = errors.New("conversation not found")

// ============================================================================
// CONVERSATION STORE
// ============================================================================

// conversationsKey is the blob key holding the entire conversation list.
const conversationsKey = "conversations"

// conversationsBlob is the persisted document shape.
type conversationsBlob struct {
	Conversations []model.Conversation `json:"conversations"`
}

// ConversationStore persists the full conversation list as one JSON blob:
// every mutation reads the whole document, applies the change in memory,
// and rewrites the whole document. Last write wins; there are no partial
// updates to corrupt.
type ConversationStore struct {
	blobs BlobStore
	mu    sync.Mutex
}

// NewConversationStore creates a store over the given blob backend.
func NewConversationStore(blobs BlobStore) *ConversationStore {
	return &ConversationStore{blobs: blobs}
}

// load reads the blob. A missing or malformed blob yields an empty list;
// the failure is logged, never surfaced. A corrupt history must not take
// the chat down with it.
func (s *ConversationStore) load() []model.Conversation {
	data, err := s.blobs.Get(conversationsKey)
	if err != nil {
		if !errors.Is(err, ErrBlobNotFound) {
			log.Printf("CONVERSATIONS_READ_ERROR | err=%v", err)
		}
		return []model.Conversation{}
	}

	var blob conversationsBlob
	if err := json.Unmarshal(data, &blob); err != nil {
		log.Printf("CONVERSATIONS_PARSE_ERROR | err=%v", err)
		return []model.Conversation{}
	}
	if blob.Conversations == nil {
		return []model.Conversation{}
	}
	return blob.Conversations
}

// save rewrites the full blob.
func (s *ConversationStore) save(list []model.Conversation) error {
	data, err := json.Marshal(conversationsBlob{Conversations: list})
	if err != nil {
		return &ConversationError{Op: "save", Err: err}
	}
	if err := s.blobs.Set(conversationsKey, data); err != nil {
		log.Printf("CONVERSATIONS_WRITE_ERROR | err=%v", err)
		return &ConversationError{Op: "save", Err: err}
	}
	return nil
}

// All returns every conversation, most recently created first.
func (s *ConversationStore) All() []model.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// Get returns the conversation with the given id, or nil when absent.
func (s *ConversationStore) Get(id string) *model.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.load() {
		if c.ID == id {
			out := c.Clone()
			return &out
		}
	}
	return nil
}

// Create adds a new conversation at the head of the list. When
// firstMessage is non-empty the title is derived from it immediately;
// otherwise the sentinel title is used until the first exchange
// completes.
func (s *ConversationStore) Create(firstMessage string) (model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv := model.NewConversation()
	if firstMessage != "" {
		conv.Title = markdown.GenerateTitle(firstMessage)
	}

	list := append([]model.Conversation{conv}, s.load()...)
	if err := s.save(list); err != nil {
		return model.Conversation{}, err
	}
	return conv, nil
}

// Update applies mutate to the stored conversation and rewrites the blob,
// refreshing UpdatedAt. Reports whether the id existed.
func (s *ConversationStore) Update(id string, mutate func(*model.Conversation)) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.load()
	for i := range list {
		if list[i].ID != id {
			continue
		}
		mutate(&list[i])
		list[i].Touch()
		if err := s.save(list); err != nil {
			return true, err
		}
		return true, nil
	}
	return false, nil
}

// SetMessages replaces the conversation's message history.
func (s *ConversationStore) SetMessages(id string, msgs []model.Message) (bool, error) {
	return s.Update(id, func(c *model.Conversation) {
		c.Messages = model.CloneMessages(msgs)
	})
}

// SetMessagesAndTitle replaces messages and title in one blob write, so
// title adoption and the message flush land atomically.
func (s *ConversationStore) SetMessagesAndTitle(id string, msgs []model.Message, title string) (bool, error) {
	return s.Update(id, func(c *model.Conversation) {
		c.Messages = model.CloneMessages(msgs)
		c.Title = title
	})
}

// Rename sets the conversation title.
func (s *ConversationStore) Rename(id, title string) (bool, error) {
	return s.Update(id, func(c *model.Conversation) {
		c.Title = title
	})
}

// Delete removes the conversation. Reports whether it existed.
func (s *ConversationStore) Delete(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.load()
	for i := range list {
		if list[i].ID == id {
			list = append(list[:i], list[i+1:]...)
			if err := s.save(list); err != nil {
				return true, err
			}
			return true, nil
		}
	}
	return false, nil
}

// Clear removes all conversations.
func (s *ConversationStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save([]model.Conversation{})
}
