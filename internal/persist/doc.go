// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package persist gates writes from the stream reconciler to the
// conversation store. Snapshots taken mid-stream are never written, an
// unchanged transcript is never rewritten, and the placeholder title is
// replaced with a derived one atomically with the first completed
// exchange's flush.
package persist
