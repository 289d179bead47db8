// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "modernc.org/sqlite"
)

// =============================================================================
// SCHEMA
// =============================================================================

const schema = `
CREATE TABLE IF NOT EXISTS exchanges (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	conversation_id  TEXT NOT NULL,
	model_id         TEXT NOT NULL,
	prompt_chars     INTEGER NOT NULL,
	completion_chars INTEGER NOT NULL,
	elapsed_ms       INTEGER NOT NULL,
	created_at       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_exchanges_conversation
	ON exchanges (conversation_id);
`

// =============================================================================
// USAGE STORE
// =============================================================================

// Store records per-exchange usage in a local SQLite database. Recording
// is best-effort: a telemetry failure is logged and swallowed, never
// surfaced to the exchange that produced it.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the usage database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open usage db: %w", err)
	}
	// The driver is in-process; one connection avoids writer contention.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init usage schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// RecordExchange stores one completed exchange.
func (s *Store) RecordExchange(conversationID, modelID string, promptChars, completionChars int, elapsed time.Duration) {
	_, err := s.db.Exec(
		`INSERT INTO exchanges
			(conversation_id, model_id, prompt_chars, completion_chars, elapsed_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		conversationID, modelID, promptChars, completionChars,
		elapsed.Milliseconds(), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		log.Printf("TELEMETRY_WRITE_ERROR | err=%v", err)
	}
}

// Totals summarizes all recorded exchanges.
type Totals struct {
	Exchanges       int64
	PromptChars     int64
	CompletionChars int64
	Elapsed         time.Duration
}

// Totals aggregates the full exchange history.
func (s *Store) Totals() (Totals, error) {
	row := s.db.QueryRow(
		`SELECT COUNT(*),
			COALESCE(SUM(prompt_chars), 0),
			COALESCE(SUM(completion_chars), 0),
			COALESCE(SUM(elapsed_ms), 0)
		 FROM exchanges`)

	var t Totals
	var elapsedMS int64
	if err := row.Scan(&t.Exchanges, &t.PromptChars, &t.CompletionChars, &elapsedMS); err != nil {
		return Totals{}, fmt.Errorf("usage totals: %w", err)
	}
	t.Elapsed = time.Duration(elapsedMS) * time.Millisecond
	return t, nil
}

// Exchange is one recorded exchange.
type Exchange struct {
	ConversationID  string
	ModelID         string
	PromptChars     int
	CompletionChars int
	Elapsed         time.Duration
	At              time.Time
}

// RecentExchanges returns the newest exchanges, most recent first.
func (s *Store) RecentExchanges(limit int) ([]Exchange, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(
		`SELECT conversation_id, model_id, prompt_chars, completion_chars, elapsed_ms, created_at
		 FROM exchanges ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent exchanges: %w", err)
	}
	defer rows.Close()

	var out []Exchange
	for rows.Next() {
		var e Exchange
		var elapsedMS int64
		var createdAt string
		if err := rows.Scan(&e.ConversationID, &e.ModelID, &e.PromptChars, &e.CompletionChars, &elapsedMS, &createdAt); err != nil {
			return nil, fmt.Errorf("scan exchange: %w", err)
		}
		e.Elapsed = time.Duration(elapsedMS) * time.Millisecond
		if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			e.At = t
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// DeleteConversation removes all usage rows for a conversation. Called
// when the conversation itself is deleted.
func (s *Store) DeleteConversation(conversationID string) error {
	_, err := s.db.Exec(`DELETE FROM exchanges WHERE conversation_id = ?`, conversationID)
	if err != nil {
		return fmt.Errorf("delete usage rows: %w", err)
	}
	return nil
}
