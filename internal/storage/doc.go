// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage persists chat state as whole JSON blobs behind the
// BlobStore port: the full conversation list under one key and the model
// preference under another.
//
// The model is deliberately simple. Reads load the entire document,
// mutations rewrite the entire document, and concurrent writers resolve
// by last-write-wins. Read failures degrade to empty state so a corrupt
// blob never blocks the application; write failures are logged and
// surfaced to the caller.
//
// FileBlobStore is the production backend (atomic writes via temp file,
// fsync, rename). MemoryBlobStore backs tests.
package storage
