// Copyright 2025 Cortexa Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package chunker

import (
	"strings"

	"github.com/cortexa-labs/ragsync/pkg/tokens"
)

// splitter cuts text into token-bounded pieces, descending through
// separators from coarse to fine and carrying overlap between consecutive
// pieces.
type splitter struct {
	est        *tokens.Estimator
	budget     int
	overlap    int
	separators []string
}

func newSplitter(est *tokens.Estimator, params Params, separators []string) *splitter {
	if len(separators) == 0 {
		separators = []string{"\n\n", "\n", ". ", " "}
	}
	return &splitter{
		est:        est,
		budget:     params.MaxChunkSize,
		overlap:    params.TokenOverlap,
		separators: separators,
	}
}

// Split returns pieces each within the token budget. A fragment that cannot
// be split further is truncated.
func (s *splitter) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	fragments := s.split(text, 0)
	return s.assemble(fragments)
}

// split recursively breaks text at the coarsest separator that produces
// in-budget fragments.
func (s *splitter) split(text string, sepIndex int) []string {
	if s.est.Count(text) <= s.budget {
		return []string{text}
	}
	if sepIndex >= len(s.separators) {
		return []string{truncateToBudget(s.est, text, s.budget)}
	}

	sep := s.separators[sepIndex]
	parts := strings.SplitAfter(text, sep)
	if len(parts) == 1 {
		return s.split(text, sepIndex+1)
	}

	var out []string
	for _, part := range parts {
		if part == "" {
			continue
		}
		out = append(out, s.split(part, sepIndex+1)...)
	}
	return out
}

// assemble greedily packs fragments up to the budget, prepending an overlap
// tail from the previous chunk.
func (s *splitter) assemble(fragments []string) []string {
	var chunks []string
	var current strings.Builder
	currentTokens := 0

	flush := func() {
		if current.Len() == 0 {
			return
		}
		chunks = append(chunks, current.String())
		current.Reset()
		currentTokens = 0
	}

	for _, frag := range fragments {
		fragTokens := s.est.Count(frag)
		if currentTokens > 0 && currentTokens+fragTokens > s.budget {
			prev := current.String()
			flush()
			if s.overlap > 0 {
				tail := overlapTail(s.est, prev, s.overlap)
				if tail != "" && s.est.Count(tail)+fragTokens <= s.budget {
					current.WriteString(tail)
					currentTokens = s.est.Count(tail)
				}
			}
		}
		current.WriteString(frag)
		currentTokens += fragTokens
	}
	flush()
	return chunks
}

// overlapTail returns a suffix of text of roughly maxTokens tokens, cut at a
// word boundary.
func overlapTail(est *tokens.Estimator, text string, maxTokens int) string {
	if text == "" {
		return ""
	}
	words := strings.Fields(text)
	if len(words) == 0 {
		return ""
	}

	// Walk backwards over words until the token budget is reached.
	start := len(words)
	for start > 0 {
		candidate := strings.Join(words[start-1:], " ")
		if est.Count(candidate) > maxTokens {
			break
		}
		start--
	}
	if start == len(words) {
		return ""
	}
	return strings.Join(words[start:], " ") + " "
}

// splitMarkdownByHeaders cuts markdown at top-level and second-level
// headings so sections stay together, then bounds each section with the
// recursive splitter.
func splitMarkdownByHeaders(s *splitter, text string) []string {
	lines := strings.Split(text, "\n")

	var sections []string
	var current strings.Builder
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		isHeader := strings.HasPrefix(trimmed, "# ") || strings.HasPrefix(trimmed, "## ")
		if isHeader && current.Len() > 0 {
			sections = append(sections, current.String())
			current.Reset()
		}
		current.WriteString(line)
		current.WriteString("\n")
	}
	if current.Len() > 0 {
		sections = append(sections, current.String())
	}

	var out []string
	for _, section := range sections {
		out = append(out, s.Split(section)...)
	}
	return out
}
