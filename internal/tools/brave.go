// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// =============================================================================
// BRAVE WEB SEARCH
// =============================================================================

const (
	braveEndpoint = "https://api.search.brave.com/res/v1/web/search"

	// DefaultResultCount is used when the model omits count.
	DefaultResultCount = 3
	// MaxResultCount caps how many results one call may request.
	MaxResultCount = 5
)

// WebResult is one search hit.
type WebResult struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description"`
}

// SearchOutcome is the record handed back to the model as the tool
// result. Failures are reported in-band via Error: the tool contract is
// that a misconfigured key or an upstream fault produces an error-shaped
// result, never a crash or a dropped invocation.
type SearchOutcome struct {
	Query        string      `json:"query"`
	Results      []WebResult `json:"results"`
	TotalResults int         `json:"totalResults"`
	Source       string      `json:"source"`
	FetchedAt    time.Time   `json:"fetchedAt"`
	Message      string      `json:"message,omitempty"`
	Error        string      `json:"error,omitempty"`
}

// BraveSearch executes web searches against the Brave Search API.
type BraveSearch struct {
	// APIKey is the Brave subscription token. Empty means unconfigured.
	APIKey string

	// Endpoint overrides the API URL (tests).
	Endpoint string

	// Client overrides the HTTP client.
	Client *http.Client
}

// BraveSearchTool returns the tool definition wired to this executor.
func BraveSearchTool(apiKey string) *Tool {
	return &Tool{
		Name:        "brave-web-search",
		Description: "Search the web with Brave Search. Use this tool when you need up-to-date information, news, or details about recent events.",
		Schema: Schema{Parameters: []Parameter{
			{Name: "query", Type: "string", Required: true, Description: "Search query to send to Brave Search."},
			{Name: "count", Type: "number", Description: "Number of results to return (1-5). Defaults to 3."},
			{Name: "country", Type: "string", Description: "Two-letter country code to localize results (e.g., US, GB)."},
			{Name: "freshness", Type: "string", Enum: []string{"hour", "day", "week", "month"}, Description: "Restrict results to a specific freshness window."},
		}},
		Executor: &BraveSearch{APIKey: apiKey},
	}
}

// braveResponse is the subset of the upstream payload we read.
type braveResponse struct {
	Web *struct {
		Results []struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			Description string `json:"description"`
			Snippet     string `json:"snippet"`
		} `json:"results"`
	} `json:"web"`
	Query *struct {
		Original string `json:"original"`
	} `json:"query"`
}

// Execute runs the search. All failure modes produce an error-shaped
// SearchOutcome with a nil Go error.
func (b *BraveSearch) Execute(ctx context.Context, params map[string]any) (any, error) {
	query, _ := params["query"].(string)

	if len([]rune(query)) < 3 {
		return errorOutcome(query, "Brave Search", "Query should be at least 3 characters long"), nil
	}
	if b.APIKey == "" {
		return errorOutcome(query, "Brave Search",
			"Brave Search API key is not configured. Please set BRAVE_SEARCH_API_KEY on the server."), nil
	}

	count := normalizeCount(params["count"])

	values := url.Values{}
	values.Set("q", query)
	values.Set("count", strconv.Itoa(count))
	if country, _ := params["country"].(string); len(country) == 2 {
		values.Set("country", country)
	}
	if freshness, _ := params["freshness"].(string); contains([]string{"hour", "day", "week", "month"}, freshness) {
		values.Set("freshness", freshness)
	}

	endpoint := b.Endpoint
	if endpoint == "" {
		endpoint = braveEndpoint
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+values.Encode(), nil)
	if err != nil {
		return errorOutcome(query, "Brave Search", err.Error()), nil
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", b.APIKey)
	req.Header.Set("Cache-Control", "no-store")

	client := b.Client
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}

	resp, err := client.Do(req)
	if err != nil {
		return errorOutcome(query, "Brave Search", err.Error()), nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errorOutcome(query, "Brave Search",
			fmt.Sprintf("Brave Search request failed with status %d: %s", resp.StatusCode, readErrorMessage(resp))), nil
	}

	var payload braveResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&payload); err != nil {
		return errorOutcome(query, "Brave Search", "Unexpected Brave Search response"), nil
	}

	resolvedQuery := query
	if payload.Query != nil && payload.Query.Original != "" {
		resolvedQuery = payload.Query.Original
	}

	return successOutcome(resolvedQuery, "Brave Search", toWebResults(payload, count)), nil
}

// normalizeCount clamps the requested result count into [1, MaxResultCount],
// defaulting when absent or non-numeric.
func normalizeCount(v any) int {
	var n float64
	switch t := v.(type) {
	case float64:
		n = t
	case int:
		n = float64(t)
	case int64:
		n = float64(t)
	default:
		return DefaultResultCount
	}
	if math.IsNaN(n) {
		return DefaultResultCount
	}
	count := int(math.Trunc(n))
	if count < 1 {
		return 1
	}
	if count > MaxResultCount {
		return MaxResultCount
	}
	return count
}

// toWebResults maps the upstream payload, skipping entries without a URL
// and truncating to the requested count.
func toWebResults(payload braveResponse, count int) []WebResult {
	if payload.Web == nil || payload.Web.Results == nil {
		return []WebResult{}
	}

	out := make([]WebResult, 0, count)
	for _, r := range payload.Web.Results {
		if len(out) >= count {
			break
		}
		if r.URL == "" {
			continue
		}
		title := r.Title
		if title == "" {
			title = r.URL
		}
		description := r.Description
		if description == "" {
			description = r.Snippet
		}
		out = append(out, WebResult{Title: title, URL: r.URL, Description: description})
	}
	return out
}

func successOutcome(query, source string, results []WebResult) SearchOutcome {
	out := SearchOutcome{
		Query:        query,
		Results:      results,
		TotalResults: len(results),
		Source:       source,
		FetchedAt:    time.Now().UTC(),
	}
	if len(results) == 0 {
		out.Message = "No results found."
	}
	return out
}

func errorOutcome(query, source, errMsg string) SearchOutcome {
	return SearchOutcome{
		Query:        query,
		Results:      []WebResult{},
		TotalResults: 0,
		Source:       source,
		FetchedAt:    time.Now().UTC(),
		Error:        errMsg,
	}
}

// readErrorMessage extracts a bounded error body, falling back to the
// status text.
func readErrorMessage(resp *http.Response) string {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 500))
	if err != nil || len(body) == 0 {
		if text := http.StatusText(resp.StatusCode); text != "" {
			return text
		}
		return "Unexpected Brave Search response"
	}
	return string(body)
}
