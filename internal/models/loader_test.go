// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package models

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseCollectionValid(t *testing.T) {
	doc := `{"models":[
		{"id":"m1","name":"One","description":"d","capabilities":["chat"],"maxTokens":100,"default":true},
		{"id":"m2","name":"Two","description":"","capabilities":[],"maxTokens":50,"default":false}
	]}`

	res := ParseCollection([]byte(doc))
	if res.Err != "" {
		t.Fatalf("unexpected error: %s", res.Err)
	}
	if len(res.Models) != 2 {
		t.Fatalf("got %d models, want 2", len(res.Models))
	}
	if res.Models[0].ID != "m1" || !res.Models[0].Default {
		t.Errorf("first model = %+v", res.Models[0])
	}
}

func TestParseCollectionFiltersInvalidEntries(t *testing.T) {
	doc := `{"models":[
		{"id":"good","name":"Good","description":"d","capabilities":["chat"],"maxTokens":100,"default":false},
		{"id":"","name":"NoID","description":"d","capabilities":[],"maxTokens":100,"default":false},
		{"id":"notokens","name":"X","description":"d","capabilities":[],"maxTokens":0,"default":false},
		{"id":"badcaps","name":"X","description":"d","capabilities":"nope","maxTokens":100,"default":false},
		{"id":"missing-desc","name":"X","capabilities":[],"maxTokens":100,"default":false}
	]}`

	res := ParseCollection([]byte(doc))
	if res.Err != "" {
		t.Fatalf("partial validation should not set Err, got %s", res.Err)
	}
	if len(res.Models) != 1 || res.Models[0].ID != "good" {
		t.Errorf("got %+v, want only the good entry", res.Models)
	}
}

func TestParseCollectionIgnoresUnknownFields(t *testing.T) {
	doc := `{"models":[
		{"id":"m1","name":"One","description":"d","capabilities":[],"maxTokens":10,"default":false,"pricing":{"in":1},"beta":true}
	]}`
	res := ParseCollection([]byte(doc))
	if res.Err != "" || len(res.Models) != 1 {
		t.Errorf("unknown fields must be ignored, got %+v err=%q", res.Models, res.Err)
	}
}

func TestParseCollectionMalformed(t *testing.T) {
	for _, doc := range []string{
		`not json at all`,
		`{"something":"else"}`,
		`{"models":"nope"}`,
		`{"models":[{"id":"","name":""}]}`,
	} {
		res := ParseCollection([]byte(doc))
		if res.Err != "Models configuration is malformed" {
			t.Errorf("doc %q: err = %q, want malformed message", doc, res.Err)
		}
		if len(res.Models) != len(FallbackModels()) {
			t.Errorf("doc %q: expected fallback catalog", doc)
		}
	}
}

func TestRegistryHTTPFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	reg := NewRegistry(&HTTPSource{URL: srv.URL})
	res := reg.Load(context.Background())

	if !strings.Contains(res.Err, "Failed to load models: HTTP 500") {
		t.Errorf("err = %q, want HTTP 500 message", res.Err)
	}
	if len(res.Models) == 0 {
		t.Error("degraded load must still return the fallback catalog")
	}
	if reg.LoadError() == "" {
		t.Error("registry should remember the load error")
	}
	if _, err := reg.Resolve("anything"); err != nil {
		t.Errorf("registry must stay resolvable after a failed load: %v", err)
	}
}

func TestRegistryHTTPSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Cache-Control") != "no-store" {
			t.Errorf("missing cache-bypass header")
		}
		w.Write([]byte(`{"models":[{"id":"remote","name":"Remote","description":"d","capabilities":["chat"],"maxTokens":10,"default":true}]}`))
	}))
	defer srv.Close()

	reg := NewRegistry(&HTTPSource{URL: srv.URL})
	res := reg.Load(context.Background())
	if res.Err != "" {
		t.Fatalf("unexpected error: %s", res.Err)
	}
	if !reg.IsValid("remote") {
		t.Error("loaded model should be valid in the registry")
	}
	if id, _ := reg.Resolve(""); id != "remote" {
		t.Errorf("Resolve('') = %q, want remote", id)
	}
}

func TestRegistryFileSource(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "models.json")
	doc := `{"models":[{"id":"local","name":"Local","description":"d","capabilities":[],"maxTokens":10,"default":true}]}`
	if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
		t.Fatal(err)
	}

	reg := NewRegistry(&FileSource{Path: path})
	res := reg.Load(context.Background())
	if res.Err != "" {
		t.Fatalf("unexpected error: %s", res.Err)
	}
	if len(res.Models) != 1 || res.Models[0].ID != "local" {
		t.Errorf("got %+v", res.Models)
	}

	// Missing file degrades, does not fail
	reg2 := NewRegistry(&FileSource{Path: filepath.Join(dir, "absent.json")})
	res2 := reg2.Load(context.Background())
	if res2.Err == "" || len(res2.Models) == 0 {
		t.Error("missing file should degrade to fallback with an error string")
	}
}
