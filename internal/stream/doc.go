// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package stream reconciles incremental model-response events into an
// ordered message transcript. Text deltas concatenate directly,
// reasoning fragments join with newlines, and tool invocations merge
// forward-only by id, so replayed or late frames can never regress a
// completed invocation. Snapshots are deep copies.
package stream
