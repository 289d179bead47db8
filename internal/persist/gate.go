// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package persist

import (
	"encoding/json"
	"sync"

	"github.com/jeranaias/nanochat/internal/markdown"
	"github.com/jeranaias/nanochat/internal/model"
	"github.com/jeranaias/nanochat/internal/storage"
	"github.com/jeranaias/nanochat/internal/stream"
)

// =============================================================================
// FINGERPRINT
// =============================================================================

// fingerprintMessage mirrors model.Message without CreatedAt. Timestamps
// are assigned at creation and never change afterward, so including them
// would only make equal transcripts fingerprint unequal across a reload.
type fingerprintMessage struct {
	ID              string                 `json:"id"`
	Role            model.Role             `json:"role"`
	Content         string                 `json:"content"`
	Reasoning       string                 `json:"reasoning,omitempty"`
	ToolInvocations []model.ToolInvocation `json:"toolInvocations,omitempty"`
}

// Fingerprint serializes the transcript into a comparable key.
func Fingerprint(msgs []model.Message) string {
	shadow := make([]fingerprintMessage, len(msgs))
	for i, m := range msgs {
		shadow[i] = fingerprintMessage{
			ID:              m.ID,
			Role:            m.Role,
			Content:         m.Content,
			Reasoning:       m.Reasoning,
			ToolInvocations: m.ToolInvocations,
		}
	}
	data, err := json.Marshal(shadow)
	if err != nil {
		// Message content is always JSON-marshalable; this branch exists
		// for the compiler, not for runtime.
		return ""
	}
	return string(data)
}

// =============================================================================
// CHANGE GATE
// =============================================================================

// Gate decides when a transcript snapshot is written back to the
// conversation store. It never writes while a response is streaming,
// never rewrites an unchanged transcript, and adopts a derived title in
// the same blob write as the message flush once the first exchange
// completes.
type Gate struct {
	store  *storage.ConversationStore
	convID string

	mu   sync.Mutex
	last string
}

// NewGate creates a gate for one conversation, primed with the stored
// transcript so a flush of the seed state is a no-op.
func NewGate(store *storage.ConversationStore, convID string) *Gate {
	g := &Gate{store: store, convID: convID}
	if conv := store.Get(convID); conv != nil {
		g.last = Fingerprint(conv.Messages)
	}
	return g
}

// Flush persists the snapshot when the gate allows it. Reports whether a
// write happened.
func (g *Gate) Flush(snap stream.Snapshot) (bool, error) {
	if snap.Status == stream.StatusStreaming {
		return false, nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	fp := Fingerprint(snap.Messages)
	if fp == g.last {
		return false, nil
	}

	transcript := model.Conversation{Messages: snap.Messages}
	if conv := g.store.Get(g.convID); conv != nil &&
		conv.HasDefaultTitle() && transcript.HasCompletedExchange() {
		title := markdown.GenerateTitle(transcript.FirstUserContent())
		if _, err := g.store.SetMessagesAndTitle(g.convID, snap.Messages, title); err != nil {
			return false, err
		}
		g.last = fp
		return true, nil
	}

	if _, err := g.store.SetMessages(g.convID, snap.Messages); err != nil {
		return false, err
	}
	g.last = fp
	return true, nil
}
