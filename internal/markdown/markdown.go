// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package markdown provides lightweight markdown helpers for nanochat:
// detection, code block extraction, sanitization, and conversation title
// derivation from the first user message.
package markdown

import (
	"regexp"
	"strings"
)

// DefaultTitleLength is the rune budget for derived conversation titles.
const DefaultTitleLength = 50

// NewConversationTitle is the sentinel returned when no title can be
// derived. Matches model.DefaultTitle; kept as a literal here so this
// package stays dependency-free.
const NewConversationTitle = "New Conversation"

// PERFORMANCE: Pre-compiled regex (compiled once at startup)
var (
	fencedCodeRe    = regexp.MustCompile("(?s)```.*?```")
	inlineCodeRe    = regexp.MustCompile("`([^`]+)`")
	boldRe          = regexp.MustCompile(`\*\*([^*]+)\*\*`)
	italicRe        = regexp.MustCompile(`\*([^*]+)\*`)
	linkRe          = regexp.MustCompile(`\[([^\]]+)\]\([^)]+\)`)
	headingRe       = regexp.MustCompile(`#{1,6}\s`)
	firstSentenceRe = regexp.MustCompile(`^[^.!?]+[.!?]`)

	codeBlockRe = regexp.MustCompile("(?s)```(\\w+)?\n(.*?)```")

	dangerousTagRe = regexp.MustCompile(`(?i)<script|<iframe|<object|<embed|<link|<style`)

	detectPatterns = []*regexp.Regexp{
		regexp.MustCompile(`#{1,6}\s`),            // headers
		regexp.MustCompile(`\*\*.*\*\*`),          // bold
		regexp.MustCompile(`\*.*\*`),              // italic
		regexp.MustCompile(`\[.*\]\(.*\)`),        // links
		regexp.MustCompile("(?s)```.*```"),        // code blocks
		regexp.MustCompile("`.*`"),                // inline code
		regexp.MustCompile(`^\s*[-*+]\s`),         // lists
		regexp.MustCompile(`^\s*\d+\.\s`),         // numbered lists
		regexp.MustCompile(`^\s*>\s`),             // blockquotes
	}
)

// HasMarkdown reports whether text contains markdown formatting.
func HasMarkdown(text string) bool {
	for _, p := range detectPatterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

// CodeBlock is a fenced code block extracted from markdown.
type CodeBlock struct {
	Language string
	Code     string
}

// ExtractCodeBlocks returns all fenced code blocks in order. Blocks
// without a language tag report "plaintext".
func ExtractCodeBlocks(md string) []CodeBlock {
	var blocks []CodeBlock
	for _, m := range codeBlockRe.FindAllStringSubmatch(md, -1) {
		lang := m[1]
		if lang == "" {
			lang = "plaintext"
		}
		blocks = append(blocks, CodeBlock{
			Language: lang,
			Code:     strings.TrimSpace(m[2]),
		})
	}
	return blocks
}

// Sanitize strips openers of dangerous HTML tags from markdown before it
// reaches a renderer.
func Sanitize(md string) string {
	return dangerousTagRe.ReplaceAllString(md, "")
}

// GenerateTitle derives a conversation title from the first user message
// using the default length budget.
func GenerateTitle(message string) string {
	return GenerateTitleN(message, DefaultTitleLength)
}

// GenerateTitleN derives a title with an explicit rune budget.
//
// Markdown formatting is stripped first (fenced code collapses to
// "[code]", inline code/bold/italic/links keep their inner text, heading
// markers are dropped). The title is then the first sentence when one
// fits, otherwise a truncation at maxLen runes that backs off to the last
// space when the cut would land deep inside a word, with "..." appended.
// Empty input yields the sentinel title.
func GenerateTitleN(message string, maxLen int) string {
	title := fencedCodeRe.ReplaceAllString(message, "[code]")
	title = inlineCodeRe.ReplaceAllString(title, "$1")
	title = boldRe.ReplaceAllString(title, "$1")
	title = italicRe.ReplaceAllString(title, "$1")
	title = linkRe.ReplaceAllString(title, "$1")
	title = headingRe.ReplaceAllString(title, "")
	title = strings.TrimSpace(title)

	if first := firstSentenceRe.FindString(title); first != "" {
		title = first
	}

	if runes := []rune(title); len(runes) > maxLen {
		cut := []rune(strings.TrimSpace(string(runes[:maxLen])))

		// Avoid cutting in the middle of a word
		lastSpace := -1
		for i, r := range cut {
			if r == ' ' {
				lastSpace = i
			}
		}
		if float64(lastSpace) > float64(maxLen)*0.8 {
			cut = cut[:lastSpace]
		}
		title = string(cut) + "..."
	}

	if title == "" {
		return NewConversationTitle
	}
	return title
}
