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
	"context"
)

// TextChunker handles plain text, markdown, and code. The subtype selects
// separator preferences.
type TextChunker struct {
	deps    *Deps
	subtype string
}

func (c *TextChunker) separators() []string {
	switch c.subtype {
	case "markdown":
		return []string{"\n\n", "\n", ". ", " "}
	case "python":
		return []string{"\nclass ", "\ndef ", "\n\n", "\n", " "}
	default:
		return []string{"\n\n", "\n", ". ", " "}
	}
}

func (c *TextChunker) Chunk(_ context.Context, src Source) ([]Chunk, error) {
	text := string(src.Data)
	if len(text) == 0 {
		return []Chunk{}, nil
	}

	s := newSplitter(c.deps.Estimator, c.deps.Params, c.separators())

	var pieces []string
	if c.subtype == "markdown" {
		pieces = splitMarkdownByHeaders(s, text)
	} else {
		pieces = s.Split(text)
	}

	chunks := make([]Chunk, 0, len(pieces))
	offset := 0
	for _, piece := range pieces {
		if c.deps.Estimator.Count(piece) > c.deps.Params.MaxChunkSize {
			piece = truncateToBudget(c.deps.Estimator, piece, c.deps.Params.MaxChunkSize)
		}
		chunks = append(chunks, Chunk{
			ChunkID: len(chunks),
			Content: piece,
			Title:   src.Name,
			Offset:  offset,
			Length:  len(piece),
		})
		offset += len(piece)
	}
	return chunks, nil
}
