// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model defines the canonical chat data shapes shared across
// nanochat: messages, roles, tool invocations, and conversations.
//
// The JSON field names mirror the persisted blob format exactly; changing
// a tag here is a storage format change.
package model
