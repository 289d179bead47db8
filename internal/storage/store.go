// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/jeranaias/nanochat/internal/util"
)

// ErrBlobNotFound is returned by Get when no blob exists under a key.
var ErrBlobNotFound = errors.New("blob not found")

// BlobStore is the persistence port: opaque byte blobs under string keys,
// read fully and written fully. Conversation history and the model
// preference each live under a single key.
type BlobStore interface {
	Get(key string) ([]byte, error)
	Set(key string, data []byte) error
	Delete(key string) error
}

// ============================================================================
// FILE STORE
// ============================================================================

// FileBlobStore keeps each blob in <dir>/<key>.json. Writes are atomic
// (temp file, fsync, rename), so a crash mid-write never corrupts a blob.
type FileBlobStore struct {
	dir string
}

// NewFileBlobStore creates a store rooted at dir, creating it if needed.
func NewFileBlobStore(dir string) (*FileBlobStore, error) {
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		dir = filepath.Join(home, ".nanochat")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return &FileBlobStore{dir: dir}, nil
}

func (s *FileBlobStore) path(key string) string {
	return filepath.Join(s.dir, key+".json")
}

// Get reads the blob stored under key.
func (s *FileBlobStore) Get(key string) ([]byte, error) {
	data, err := os.ReadFile(s.path(key))
	if os.IsNotExist(err) {
		return nil, ErrBlobNotFound
	}
	return data, err
}

// Set writes the blob atomically.
func (s *FileBlobStore) Set(key string, data []byte) error {
	return util.AtomicWriteFile(s.path(key), data, 0644)
}

// Delete removes the blob. Deleting a missing blob is not an error.
func (s *FileBlobStore) Delete(key string) error {
	err := os.Remove(s.path(key))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// ============================================================================
// MEMORY STORE
// ============================================================================

// MemoryBlobStore is an in-memory BlobStore for tests and ephemeral
// sessions.
type MemoryBlobStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemoryBlobStore creates an empty in-memory store.
func NewMemoryBlobStore() *MemoryBlobStore {
	return &MemoryBlobStore{blobs: make(map[string][]byte)}
}

// Get returns a copy of the blob under key.
func (s *MemoryBlobStore) Get(key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.blobs[key]
	if !ok {
		return nil, ErrBlobNotFound
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// Set stores a copy of data under key.
func (s *MemoryBlobStore) Set(key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	s.blobs[key] = cp
	return nil
}

// Delete removes the blob under key.
func (s *MemoryBlobStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blobs, key)
	return nil
}
