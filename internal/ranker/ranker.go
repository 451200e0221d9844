// Copyright 2025 ByteDance Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package ranker selects the reference documents most relevant to a ticket
// by keyword overlap.
package ranker

import (
	"sort"
	"strings"
	"unicode/utf8"
)

const (
	// MinTokenLen is the exclusive lower bound on query token length; shorter
	// tokens ("the", "my", "can") carry no signal.
	MinTokenLen = 3
	// FallbackDocs is how many leading documents are returned when nothing
	// matches.
	FallbackDocs = 2
	// Separator joins ranked documents into a single context block.
	Separator = "\n\n"
)

type scored struct {
	doc   string
	score int
}

// Rank returns up to topK documents with a positive score, best first. The
// score of a document is the number of distinct query tokens (longer than
// MinTokenLen) that occur in it as a substring, case-insensitively. Ties keep
// the input order. When no document scores, the first FallbackDocs documents
// are returned unranked so callers always get some context; a non-positive
// topK behaves the same way.
func Rank(documents []string, searchText string, topK int) []string {
	if len(documents) == 0 {
		return nil
	}
	tokens := queryTokens(searchText)

	ranked := make([]scored, 0, len(documents))
	for _, doc := range documents {
		lower := strings.ToLower(doc)
		score := 0
		for _, tok := range tokens {
			if strings.Contains(lower, tok) {
				score++
			}
		}
		if score > 0 {
			ranked = append(ranked, scored{doc: doc, score: score})
		}
	}

	if topK <= 0 {
		ranked = nil
	}
	if len(ranked) == 0 {
		n := min(FallbackDocs, len(documents))
		out := make([]string, n)
		copy(out, documents[:n])
		return out
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score > ranked[j].score
	})
	if len(ranked) > topK {
		ranked = ranked[:topK]
	}
	out := make([]string, 0, len(ranked))
	for _, s := range ranked {
		out = append(out, s.doc)
	}
	return out
}

// Join renders ranked documents as one context string.
func Join(docs []string) string {
	return strings.Join(docs, Separator)
}

// queryTokens lower-cases and splits text on whitespace, keeping each token
// longer than MinTokenLen once, in first-seen order.
func queryTokens(text string) []string {
	fields := strings.Fields(strings.ToLower(text))
	seen := make(map[string]struct{}, len(fields))
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if utf8.RuneCountInString(f) <= MinTokenLen {
			continue
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		tokens = append(tokens, f)
	}
	return tokens
}
