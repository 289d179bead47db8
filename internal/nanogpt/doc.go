// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package nanogpt is the client for the NanoGPT OpenAI-compatible chat
// API. Credential problems and upstream failures surface as typed
// errors (ErrMissingAPIKey, ErrUnauthorized, ErrRateLimited, APIError)
// so callers branch with errors.Is instead of sniffing message text.
package nanogpt
