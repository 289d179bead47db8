// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package models

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ============================================================================
// SOURCES
// ============================================================================

// Source supplies the raw catalog document.
type Source interface {
	Fetch(ctx context.Context) ([]byte, error)
}

// HTTPSource fetches the catalog over HTTP with cache-bypass headers, so
// catalog edits take effect without waiting out intermediary caches.
type HTTPSource struct {
	URL    string
	Client *http.Client
}

// Fetch retrieves the catalog document.
func (s *HTTPSource) Fetch(ctx context.Context) ([]byte, error) {
	client := s.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Cache-Control", "no-store")
	req.Header.Set("Pragma", "no-cache")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("Failed to load models: HTTP %d", resp.StatusCode)
	}

	return io.ReadAll(io.LimitReader(resp.Body, 1<<20))
}

// FileSource reads the catalog from a local JSON file.
type FileSource struct {
	Path string
}

// Fetch reads the catalog file.
func (s *FileSource) Fetch(ctx context.Context) ([]byte, error) {
	return os.ReadFile(s.Path)
}

// ============================================================================
// VALIDATION
// ============================================================================

// rawModel mirrors ModelConfig with pointer fields so missing and
// wrong-typed fields are distinguishable from zero values. Unknown extra
// fields are ignored.
type rawModel struct {
	ID           *string   `json:"id"`
	Name         *string   `json:"name"`
	Description  *string   `json:"description"`
	Capabilities *[]string `json:"capabilities"`
	MaxTokens    *float64  `json:"maxTokens"`
	Default      *bool     `json:"default"`
}

func (r *rawModel) valid() bool {
	return r.ID != nil && *r.ID != "" &&
		r.Name != nil && *r.Name != "" &&
		r.Description != nil &&
		r.Capabilities != nil &&
		r.MaxTokens != nil && *r.MaxTokens > 0 &&
		r.Default != nil
}

func (r *rawModel) toConfig() ModelConfig {
	return ModelConfig{
		ID:           *r.ID,
		Name:         *r.Name,
		Description:  *r.Description,
		Capabilities: *r.Capabilities,
		MaxTokens:    int(*r.MaxTokens),
		Default:      *r.Default,
	}
}

// ValidateModelConfig checks one decoded catalog entry. Entries that fail
// to decode at all are treated as invalid by the caller.
func ValidateModelConfig(data json.RawMessage) (ModelConfig, bool) {
	var raw rawModel
	if err := json.Unmarshal(data, &raw); err != nil {
		return ModelConfig{}, false
	}
	if !raw.valid() {
		return ModelConfig{}, false
	}
	return raw.toConfig(), true
}

// ============================================================================
// PARSING
// ============================================================================

// LoadResult carries the usable catalog plus a degradation reason.
// Models is never empty; Err is "" when the configured catalog loaded
// cleanly.
type LoadResult struct {
	Models []ModelConfig
	Err    string
}

// ParseCollection validates a raw catalog document. Invalid entries are
// filtered out; when nothing survives, the fallback catalog is returned
// with an error string. Parsing never fails hard.
func ParseCollection(data []byte) LoadResult {
	var doc struct {
		Models []json.RawMessage `json:"models"`
	}
	if err := json.Unmarshal(data, &doc); err != nil || doc.Models == nil {
		return LoadResult{Models: FallbackModels(), Err: "Models configuration is malformed"}
	}

	valid := make([]ModelConfig, 0, len(doc.Models))
	for _, entry := range doc.Models {
		if cfg, ok := ValidateModelConfig(entry); ok {
			valid = append(valid, cfg)
		}
	}

	switch {
	case len(valid) == len(doc.Models) && len(valid) > 0:
		return LoadResult{Models: valid}
	case len(valid) > 0:
		log.Printf("MODELS_VALIDATION | some models were filtered out | kept=%d dropped=%d",
			len(valid), len(doc.Models)-len(valid))
		return LoadResult{Models: valid}
	default:
		return LoadResult{Models: FallbackModels(), Err: "Models configuration is malformed"}
	}
}

// ============================================================================
// REGISTRY
// ============================================================================

// Registry holds the current catalog. Load degrades to the fallback
// catalog on any failure; callers always get a usable model list.
type Registry struct {
	source Source

	mu      sync.RWMutex
	models  []ModelConfig
	loadErr string
}

// NewRegistry creates a registry seeded with the fallback catalog.
func NewRegistry(source Source) *Registry {
	return &Registry{
		source: source,
		models: FallbackModels(),
	}
}

// Load fetches and validates the catalog, replacing the current one.
// Fetch failures keep the fallback catalog and record the error string.
func (r *Registry) Load(ctx context.Context) LoadResult {
	var result LoadResult

	if r.source == nil {
		result = LoadResult{Models: FallbackModels()}
	} else if data, err := r.source.Fetch(ctx); err != nil {
		result = LoadResult{Models: FallbackModels(), Err: err.Error()}
	} else {
		result = ParseCollection(data)
	}

	r.mu.Lock()
	r.models = result.Models
	r.loadErr = result.Err
	r.mu.Unlock()

	if result.Err != "" {
		log.Printf("MODELS_LOAD_DEGRADED | err=%s", result.Err)
	}
	return result
}

// Models returns a copy of the current catalog.
func (r *Registry) Models() []ModelConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ModelConfig, len(r.models))
	copy(out, r.models)
	return out
}

// LoadError returns the degradation reason from the last Load, or "".
func (r *Registry) LoadError() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loadErr
}

// Resolve maps a requested model id onto the current catalog.
func (r *Registry) Resolve(id string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return ResolveID(r.models, id)
}

// Default returns the catalog's default model.
func (r *Registry) Default() (ModelConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return DefaultModel(r.models)
}

// IsValid reports whether id names a model in the current catalog.
func (r *Registry) IsValid(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return IsValidID(r.models, id)
}

// ============================================================================
// FILE WATCH
// ============================================================================

// Watch reloads the registry whenever the backing catalog file changes.
// Only meaningful for a FileSource; other sources return immediately.
// Blocks until ctx is cancelled.
func (r *Registry) Watch(ctx context.Context) error {
	fs, ok := r.source.(*FileSource)
	if !ok {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory, not the file: editors replace files by rename
	// and the watch would silently die with it.
	dir := filepath.Dir(fs.Path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	target := filepath.Clean(fs.Path)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				log.Printf("MODELS_RELOAD | path=%s op=%s", ev.Name, ev.Op)
				r.Load(ctx)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("MODELS_WATCH_ERROR | err=%v", err)
		}
	}
}
