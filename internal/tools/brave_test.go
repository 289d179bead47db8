// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tools

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func executeBrave(t *testing.T, b *BraveSearch, params map[string]any) SearchOutcome {
	t.Helper()
	res, err := b.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("Execute returned a Go error: %v", err)
	}
	outcome, ok := res.(SearchOutcome)
	if !ok {
		t.Fatalf("Execute returned %T, want SearchOutcome", res)
	}
	return outcome
}

func TestBraveMissingAPIKey(t *testing.T) {
	b := &BraveSearch{}
	outcome := executeBrave(t, b, map[string]any{"query": "golang"})

	want := "Brave Search API key is not configured. Please set BRAVE_SEARCH_API_KEY on the server."
	if outcome.Error != want {
		t.Errorf("error = %q, want %q", outcome.Error, want)
	}
	if outcome.Source != "Brave Search" {
		t.Errorf("source = %q", outcome.Source)
	}
	if outcome.Results == nil || len(outcome.Results) != 0 {
		t.Errorf("error outcome should carry an empty result list, got %v", outcome.Results)
	}
}

func TestBraveShortQuery(t *testing.T) {
	b := &BraveSearch{APIKey: "key"}
	outcome := executeBrave(t, b, map[string]any{"query": "go"})
	if outcome.Error != "Query should be at least 3 characters long" {
		t.Errorf("error = %q", outcome.Error)
	}
}

func TestBraveUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte("rate limited"))
	}))
	defer srv.Close()

	b := &BraveSearch{APIKey: "key", Endpoint: srv.URL}
	outcome := executeBrave(t, b, map[string]any{"query": "golang"})

	want := "Brave Search request failed with status 429: rate limited"
	if outcome.Error != want {
		t.Errorf("error = %q, want %q", outcome.Error, want)
	}
}

func TestBraveSuccess(t *testing.T) {
	var gotQuery, gotCount, gotToken string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
		gotCount = r.URL.Query().Get("count")
		gotToken = r.Header.Get("X-Subscription-Token")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"query": {"original": "golang generics"},
			"web": {"results": [
				{"title": "Go Blog", "url": "https://go.dev/blog", "description": "Official blog"},
				{"title": "skipped, no url", "description": "dropped"},
				{"url": "https://example.com", "snippet": "snippet only"},
				{"title": "extra", "url": "https://extra.example", "description": "beyond count"}
			]}
		}`))
	}))
	defer srv.Close()

	b := &BraveSearch{APIKey: "secret", Endpoint: srv.URL}
	outcome := executeBrave(t, b, map[string]any{"query": "golang generics", "count": float64(2)})

	if gotQuery != "golang generics" || gotCount != "2" || gotToken != "secret" {
		t.Errorf("request params: q=%q count=%q token=%q", gotQuery, gotCount, gotToken)
	}
	if outcome.Error != "" {
		t.Fatalf("unexpected error: %q", outcome.Error)
	}
	if outcome.Query != "golang generics" {
		t.Errorf("query = %q", outcome.Query)
	}
	if len(outcome.Results) != 2 {
		t.Fatalf("got %d results, want 2 (count clamp, url-less skipped)", len(outcome.Results))
	}
	if outcome.Results[0].Title != "Go Blog" {
		t.Errorf("first result = %+v", outcome.Results[0])
	}
	// URL-only entry falls back to URL for its title and snippet for its
	// description.
	if outcome.Results[1].Title != "https://example.com" || outcome.Results[1].Description != "snippet only" {
		t.Errorf("second result = %+v", outcome.Results[1])
	}
	if outcome.TotalResults != 2 {
		t.Errorf("totalResults = %d", outcome.TotalResults)
	}
}

func TestBraveNoResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"web": {"results": []}}`))
	}))
	defer srv.Close()

	b := &BraveSearch{APIKey: "key", Endpoint: srv.URL}
	outcome := executeBrave(t, b, map[string]any{"query": "zxqvbn zzz"})

	if outcome.Error != "" {
		t.Fatalf("unexpected error: %q", outcome.Error)
	}
	if outcome.Message != "No results found." {
		t.Errorf("message = %q", outcome.Message)
	}
}

func TestNormalizeCount(t *testing.T) {
	tests := []struct {
		in   any
		want int
	}{
		{nil, DefaultResultCount},
		{"three", DefaultResultCount},
		{float64(2), 2},
		{float64(2.9), 2},
		{float64(0), 1},
		{float64(-4), 1},
		{float64(99), MaxResultCount},
		{7, MaxResultCount},
	}
	for _, tt := range tests {
		if got := normalizeCount(tt.in); got != tt.want {
			t.Errorf("normalizeCount(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestValidateArgs(t *testing.T) {
	schema := BraveSearchTool("key").Schema

	if err := ValidateArgs(schema, map[string]any{"query": "golang news"}); err != nil {
		t.Errorf("valid args rejected: %v", err)
	}
	if err := ValidateArgs(schema, map[string]any{}); err == nil {
		t.Error("missing required query should fail validation")
	}
	if err := ValidateArgs(schema, map[string]any{"query": "golang", "freshness": "decade"}); err == nil {
		t.Error("enum violation should fail validation")
	}
}
