// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package tools provides the tool layer for nanochat: definitions and a
// registry for tools offered to the model, web-search executors (Brave
// API with a keyless DuckDuckGo fallback), and the normalizer that
// coerces raw transport invocation records into the canonical
// model.ToolInvocation shape.
//
// Search executors report their own failures inside the result record
// (an error-shaped SearchOutcome) rather than returning Go errors, so a
// missing API key or upstream fault degrades the answer instead of
// aborting the exchange.
package tools
