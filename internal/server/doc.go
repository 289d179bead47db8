// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server exposes the HTTP API: the streaming chat proxy, the
// model catalog, conversation CRUD, and the model preference, plus the
// middleware stack (CORS, rate limiting, security headers, logging,
// panic recovery) in front of it.
package server
