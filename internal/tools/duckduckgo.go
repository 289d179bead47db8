// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// =============================================================================
// DUCKDUCKGO FALLBACK SEARCH
// =============================================================================

// DuckDuckGoSearch implements web search over the DuckDuckGo HTML
// endpoint. It needs no API key, which makes it the fallback tool when
// no Brave credential is configured.
type DuckDuckGoSearch struct {
	// BaseURL is the DuckDuckGo HTML search endpoint
	BaseURL string

	// Timeout is the maximum time for the request (default: 15s)
	Timeout time.Duration

	// UserAgent is the User-Agent header to send
	UserAgent string

	// Client overrides the HTTP client (tests).
	Client *http.Client
}

// DuckDuckGoSearchTool returns the tool definition wired to this
// executor. The input shape matches the Brave tool so the two are
// interchangeable from the model's point of view.
func DuckDuckGoSearchTool() *Tool {
	return &Tool{
		Name:        "web-search",
		Description: "Search the web with DuckDuckGo. No API key required.",
		Schema: Schema{Parameters: []Parameter{
			{Name: "query", Type: "string", Required: true, Description: "Search query."},
			{Name: "count", Type: "number", Description: "Number of results to return (1-5). Defaults to 3."},
		}},
		Executor: &DuckDuckGoSearch{},
	}
}

var ddgWhitespaceRegex = regexp.MustCompile(`\s+`)

// Execute performs the search. Failures produce an error-shaped
// SearchOutcome, matching the Brave tool contract.
func (d *DuckDuckGoSearch) Execute(ctx context.Context, params map[string]any) (any, error) {
	query, _ := params["query"].(string)
	if len([]rune(query)) < 3 {
		return errorOutcome(query, "DuckDuckGo", "Query should be at least 3 characters long"), nil
	}

	count := normalizeCount(params["count"])

	baseURL := d.BaseURL
	if baseURL == "" {
		baseURL = "https://html.duckduckgo.com/html/"
	}
	timeout := d.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	userAgent := d.UserAgent
	if userAgent == "" {
		userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"?"+url.Values{"q": {query}}.Encode(), nil)
	if err != nil {
		return errorOutcome(query, "DuckDuckGo", err.Error()), nil
	}
	req.Header.Set("User-Agent", userAgent)

	client := d.Client
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}

	resp, err := client.Do(req)
	if err != nil {
		return errorOutcome(query, "DuckDuckGo", "search failed: "+err.Error()), nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errorOutcome(query, "DuckDuckGo",
			fmt.Sprintf("DuckDuckGo request failed with status %d", resp.StatusCode)), nil
	}

	results, err := parseDDGResults(io.LimitReader(resp.Body, 5<<20), count)
	if err != nil {
		return errorOutcome(query, "DuckDuckGo", "failed to parse results: "+err.Error()), nil
	}

	return successOutcome(query, "DuckDuckGo", results), nil
}

// parseDDGResults extracts result links and snippets from the HTML
// response.
func parseDDGResults(body io.Reader, count int) ([]WebResult, error) {
	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return nil, err
	}

	results := make([]WebResult, 0, count)
	doc.Find(".result").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		link := s.Find("a.result__a").First()
		href, ok := link.Attr("href")
		if !ok || href == "" {
			return true
		}

		title := cleanDDGText(link.Text())
		snippet := cleanDDGText(s.Find(".result__snippet").First().Text())

		results = append(results, WebResult{
			Title:       title,
			URL:         resolveDDGRedirect(href),
			Description: snippet,
		})
		return len(results) < count
	})

	return results, nil
}

// resolveDDGRedirect unwraps DuckDuckGo's /l/?uddg= redirect links to the
// destination URL.
func resolveDDGRedirect(href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := u.Query().Get("uddg"); target != "" {
		if decoded, err := url.QueryUnescape(target); err == nil {
			return decoded
		}
	}
	return href
}

func cleanDDGText(s string) string {
	return strings.TrimSpace(ddgWhitespaceRegex.ReplaceAllString(s, " "))
}
