// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "usage.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndTotals(t *testing.T) {
	s := openTestStore(t)

	s.RecordExchange("c1", "openai/gpt-oss-120b", 100, 500, 2*time.Second)
	s.RecordExchange("c1", "openai/gpt-oss-120b", 50, 250, time.Second)
	s.RecordExchange("c2", "zai-org/glm-4.5", 10, 20, 100*time.Millisecond)

	totals, err := s.Totals()
	require.NoError(t, err)
	require.Equal(t, int64(3), totals.Exchanges)
	require.Equal(t, int64(160), totals.PromptChars)
	require.Equal(t, int64(770), totals.CompletionChars)
	require.Equal(t, 3100*time.Millisecond, totals.Elapsed)
}

func TestTotalsOnEmptyDatabase(t *testing.T) {
	s := openTestStore(t)

	totals, err := s.Totals()
	require.NoError(t, err)
	require.Zero(t, totals.Exchanges)
	require.Zero(t, totals.Elapsed)
}

func TestRecentExchangesNewestFirst(t *testing.T) {
	s := openTestStore(t)
	s.RecordExchange("c1", "m", 1, 1, time.Millisecond)
	s.RecordExchange("c2", "m", 2, 2, time.Millisecond)

	recent, err := s.RecentExchanges(10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	require.Equal(t, "c2", recent[0].ConversationID)
	require.False(t, recent[0].At.IsZero(), "timestamp not recorded")
}

func TestDeleteConversation(t *testing.T) {
	s := openTestStore(t)
	s.RecordExchange("keep", "m", 1, 1, time.Millisecond)
	s.RecordExchange("drop", "m", 1, 1, time.Millisecond)

	require.NoError(t, s.DeleteConversation("drop"))

	recent, err := s.RecentExchanges(10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	require.Equal(t, "keep", recent[0].ConversationID)
}
