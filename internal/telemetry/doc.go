// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package telemetry keeps local, best-effort usage records (per-exchange
// character counts and latency) in SQLite. Nothing here ever blocks or
// fails a chat exchange.
package telemetry
