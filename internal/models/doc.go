// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package models implements the chat model registry: the catalog document
// format, per-entry validation, degraded loading with a compiled-in
// fallback catalog, and id resolution for model selection.
//
// Loading never fails hard. A fetch error, a malformed document, or a
// catalog where every entry is invalid all degrade to the fallback
// catalog plus a human-readable error string, so the rest of the
// application can always resolve a model.
package models
