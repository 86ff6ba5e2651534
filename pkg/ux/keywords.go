// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// MaxKeywordTags caps the tags extracted from one message.
const MaxKeywordTags = 5

// TagCategory groups keyword tags for follow-up prompts.
type TagCategory string

const (
	TagDocument TagCategory = "document"
	TagCar      TagCategory = "car"
	TagGaming   TagCategory = "gaming"
	TagGeneral  TagCategory = "general"
)

// KeywordTag is one topic extracted from a completed assistant message.
type KeywordTag struct {
	Word     string
	Category TagCategory
}

var categoryWords = []struct {
	category TagCategory
	words    []string
}{
	{TagDocument, []string{"pdf", "document", "summary", "analysis", "report", "text", "file"}},
	{TagCar, []string{"price", "model", "vehicle", "market", "dealer", "brand", "automotive"}},
	{TagGaming, []string{"game", "player", "console", "level", "score", "achievement", "gaming"}},
}

var (
	pdfURLPattern   = regexp.MustCompile(`https?://[^\s"]+(?:\.pdf|/storage/)`)
	urlOrNumPattern = regexp.MustCompile(`^(?:https?|www\.|\d)`)
)

// ExtractKeywords returns up to MaxKeywordTags unique tags from a completed
// transcript, in first-seen order. Tool blocks are ignored. Category words
// are checked first; any other word longer than four letters is a general
// tag unless it looks like a url or starts with a digit.
func ExtractKeywords(content string) []KeywordTag {
	words := strings.FieldsFunc(strings.ToLower(StripToolBlocks(content)), func(r rune) bool {
		return unicode.IsSpace(r) || (unicode.IsPunct(r) && r != '.' && r != '/' && r != ':')
	})

	seen := make(map[string]bool)
	var tags []KeywordTag
	add := func(word string, c TagCategory) bool {
		if seen[word] {
			return false
		}
		seen[word] = true
		tags = append(tags, KeywordTag{Word: word, Category: c})
		return len(tags) >= MaxKeywordTags
	}

	for _, raw := range words {
		word := strings.Trim(raw, ".:/")
		if word == "" {
			continue
		}
		if c, ok := categoryOf(word); ok {
			if add(word, c) {
				break
			}
			continue
		}
		if len([]rune(word)) > 4 && !urlOrNumPattern.MatchString(raw) {
			if add(word, TagGeneral) {
				break
			}
		}
	}
	return tags
}

// ExtractPDFURL returns the first report download link in content.
func ExtractPDFURL(content string) (string, bool) {
	url := pdfURLPattern.FindString(content)
	return url, url != ""
}

// FollowUpPrompt turns a clicked tag into the next user question.
func FollowUpPrompt(tag KeywordTag) string {
	switch tag.Category {
	case TagDocument:
		return fmt.Sprintf("Tell me more about the document's %s section.", tag.Word)
	case TagCar:
		return fmt.Sprintf("What are the latest trends for %s in the automotive market?", tag.Word)
	case TagGaming:
		return fmt.Sprintf("Can you provide more details about %s in gaming?", tag.Word)
	default:
		return fmt.Sprintf("Tell me more about %s.", tag.Word)
	}
}

func categoryOf(word string) (TagCategory, bool) {
	for _, c := range categoryWords {
		for _, w := range c.words {
			if w == word {
				return c.category, true
			}
		}
	}
	return "", false
}
