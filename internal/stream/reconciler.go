// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"log"
	"strings"
	"sync"
	"time"

	"github.com/jeranaias/nanochat/internal/model"
	"github.com/jeranaias/nanochat/internal/tools"
)

// =============================================================================
// STATUS
// =============================================================================

// Status is the reconciler's lifecycle state.
type Status string

const (
	// StatusIdle means no response is in flight.
	StatusIdle Status = "idle"

	// StatusStreaming means an assistant response is being assembled.
	StatusStreaming Status = "streaming"
)

// =============================================================================
// RECONCILER
// =============================================================================

// Snapshot is an immutable view of the transcript at one point in time.
type Snapshot struct {
	Messages []model.Message
	Status   Status
}

// Subscriber receives a snapshot after every applied change.
type Subscriber func(Snapshot)

// Reconciler folds incremental stream events into an ordered message
// transcript. It is seeded from persisted messages and hands out
// deep-copied snapshots, so callers can never mutate its internal state
// through a returned message.
type Reconciler struct {
	mu       sync.Mutex
	messages []model.Message
	builders map[string]*assistantBuilder
	order    map[string]int // message id -> index in messages
	status   Status
	subs     []Subscriber
}

// assistantBuilder accumulates the parts of one in-flight assistant
// message. Text fragments concatenate directly; reasoning fragments
// accumulate into parts that join with a newline, and a new part opens
// whenever reasoning resumes after other content.
type assistantBuilder struct {
	text        strings.Builder
	reasoning   []string
	invocations []model.ToolInvocation
	invIndex    map[string]int
	inReasoning bool
}

// NewReconciler creates a reconciler seeded with the persisted
// transcript. The seed is deep-copied.
func NewReconciler(seed []model.Message) *Reconciler {
	r := &Reconciler{
		messages: model.CloneMessages(seed),
		builders: make(map[string]*assistantBuilder),
		order:    make(map[string]int),
		status:   StatusIdle,
	}
	for i, m := range r.messages {
		r.order[m.ID] = i
	}
	return r
}

// Subscribe registers a callback invoked after every applied change.
// Callbacks run outside the reconciler lock, on the applying goroutine.
func (r *Reconciler) Subscribe(fn Subscriber) {
	r.mu.Lock()
	r.subs = append(r.subs, fn)
	r.mu.Unlock()
}

// Status returns the current lifecycle state.
func (r *Reconciler) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Snapshot returns a deep copy of the transcript and the current status.
func (r *Reconciler) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// AppendUser appends a user message and returns a copy of it.
func (r *Reconciler) AppendUser(content string) model.Message {
	msg := model.NewMessage(model.RoleUser, content)

	r.mu.Lock()
	r.order[msg.ID] = len(r.messages)
	r.messages = append(r.messages, msg)
	snap, subs := r.snapshotLocked(), r.subscribersLocked()
	r.mu.Unlock()

	notify(subs, snap)
	return msg.Clone()
}

// Begin marks the start of an assistant response. The assistant message
// itself is not materialized until its first event arrives.
func (r *Reconciler) Begin() {
	r.mu.Lock()
	r.status = StatusStreaming
	snap, subs := r.snapshotLocked(), r.subscribersLocked()
	r.mu.Unlock()

	notify(subs, snap)
}

// Apply folds one stream event into the transcript. Events referencing a
// new assistant message id materialize that message; events of an
// unrecognized type are ignored.
func (r *Reconciler) Apply(ev Event) {
	r.mu.Lock()

	switch e := ev.(type) {
	case TextDelta:
		b := r.builderLocked(e.MessageID)
		b.text.WriteString(e.Text)
		b.inReasoning = false
	case ReasoningDelta:
		b := r.builderLocked(e.MessageID)
		if !b.inReasoning {
			b.reasoning = append(b.reasoning, "")
			b.inReasoning = true
		}
		b.reasoning[len(b.reasoning)-1] += e.Text
	case ToolCallStart:
		r.builderLocked(e.MessageID).fold(e.Invocation)
	case ToolCallDelta:
		r.builderLocked(e.MessageID).fold(e.Invocation)
	case ToolResult:
		r.builderLocked(e.MessageID).fold(e.Invocation)
	case Finish:
		r.builderLocked(e.MessageID)
		r.status = StatusIdle
	case StreamError:
		// Partial content stays in the transcript.
		log.Printf("STREAM_ERROR | message=%s error=%v", e.MessageID, e.Err)
		r.builderLocked(e.MessageID)
		r.status = StatusIdle
	default:
		r.mu.Unlock()
		return
	}

	r.flushLocked(ev.TargetMessageID())
	snap, subs := r.snapshotLocked(), r.subscribersLocked()
	r.mu.Unlock()

	notify(subs, snap)
}

// builderLocked returns the builder for the assistant message,
// materializing the message on first reference.
func (r *Reconciler) builderLocked(messageID string) *assistantBuilder {
	if b, ok := r.builders[messageID]; ok {
		return b
	}

	msg := model.Message{
		ID:        messageID,
		Role:      model.RoleAssistant,
		CreatedAt: time.Now().UTC(),
	}
	r.order[messageID] = len(r.messages)
	r.messages = append(r.messages, msg)

	b := &assistantBuilder{invIndex: make(map[string]int)}
	r.builders[messageID] = b
	return b
}

// fold merges an incoming invocation into the builder, appending when
// the id is new and merging forward-only when it exists.
func (b *assistantBuilder) fold(inv model.ToolInvocation) {
	b.inReasoning = false
	if i, ok := b.invIndex[inv.ID]; ok {
		b.invocations[i] = tools.MergeInvocation(b.invocations[i], inv)
		return
	}
	b.invIndex[inv.ID] = len(b.invocations)
	b.invocations = append(b.invocations, inv.Clone())
}

// flushLocked writes the builder's accumulated parts back onto the
// message in the transcript.
func (r *Reconciler) flushLocked(messageID string) {
	b, ok := r.builders[messageID]
	if !ok {
		return
	}
	i, ok := r.order[messageID]
	if !ok {
		return
	}

	msg := &r.messages[i]
	msg.Content = b.text.String()
	msg.Reasoning = strings.Join(b.reasoning, "\n")
	if len(b.invocations) > 0 {
		msg.ToolInvocations = make([]model.ToolInvocation, len(b.invocations))
		for j, inv := range b.invocations {
			msg.ToolInvocations[j] = inv.Clone()
		}
	} else {
		msg.ToolInvocations = nil
	}
}

func (r *Reconciler) snapshotLocked() Snapshot {
	return Snapshot{
		Messages: model.CloneMessages(r.messages),
		Status:   r.status,
	}
}

func (r *Reconciler) subscribersLocked() []Subscriber {
	out := make([]Subscriber, len(r.subs))
	copy(out, r.subs)
	return out
}

func notify(subs []Subscriber, snap Snapshot) {
	for _, fn := range subs {
		fn(snap)
	}
}
