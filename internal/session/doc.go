// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session drives a conversation end to end: model selection,
// streaming exchanges through the reconciler, local tool execution with
// bounded follow-up rounds, and persistence through the change gate.
// One exchange runs at a time per controller; Stop cancels it and keeps
// the partial transcript.
package session
