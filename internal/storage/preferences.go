// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/jeranaias/nanochat/internal/models"
)

// preferenceKey is the blob key for the model preference document.
const preferenceKey = "model-preference"

// PreferenceStore persists the selected model id as a single blob.
// Loading always yields a usable id: missing, malformed, or stale
// preferences (ids no longer in the fallback catalog) resolve to the
// default model.
type PreferenceStore struct {
	blobs BlobStore
}

// NewPreferenceStore creates a preference store over the blob backend.
func NewPreferenceStore(blobs BlobStore) *PreferenceStore {
	return &PreferenceStore{blobs: blobs}
}

// Load returns the saved model id, or the default model id when nothing
// valid is saved.
func (s *PreferenceStore) Load() string {
	data, err := s.blobs.Get(preferenceKey)
	if err != nil {
		if !errors.Is(err, ErrBlobNotFound) {
			log.Printf("PREFERENCE_READ_ERROR | err=%v", err)
		}
		return models.DefaultModelID
	}

	var pref models.Preference
	if err := json.Unmarshal(data, &pref); err != nil {
		log.Printf("PREFERENCE_PARSE_ERROR | err=%v", err)
		return models.DefaultModelID
	}

	if pref.SelectedModelID == "" || !models.IsValidID(models.FallbackModels(), pref.SelectedModelID) {
		return models.DefaultModelID
	}
	return pref.SelectedModelID
}

// Save persists the model id with the current timestamp. Failures are
// logged and returned; a lost preference is an annoyance, not a fault.
func (s *PreferenceStore) Save(modelID string) error {
	pref := models.Preference{
		SelectedModelID: modelID,
		LastUpdated:     time.Now().UTC(),
	}
	data, err := json.Marshal(pref)
	if err != nil {
		return err
	}
	if err := s.blobs.Set(preferenceKey, data); err != nil {
		log.Printf("PREFERENCE_WRITE_ERROR | err=%v", err)
		return err
	}
	return nil
}

// Clear removes the saved preference, resetting to the default model.
func (s *PreferenceStore) Clear() error {
	return s.blobs.Delete(preferenceKey)
}
