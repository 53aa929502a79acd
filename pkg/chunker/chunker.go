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

// Package chunker decomposes downloaded documents into token-bounded chunks
// ready for embedding and upload. Dispatch is by file extension.
package chunker

import (
	"context"
	"fmt"
	"strings"

	"github.com/cortexa-labs/ragsync/pkg/blob"
	"github.com/cortexa-labs/ragsync/pkg/embedder"
	"github.com/cortexa-labs/ragsync/pkg/tokens"
)

// Source is the downloaded document handed to a chunker.
type Source struct {
	// Name is the display name, e.g. "report.pdf".
	Name string

	// Extension is lowercase without the dot.
	Extension string

	Data        []byte
	ContentType string

	// URL is the upstream display URL when the source provides one.
	URL string
}

// Chunk is one token-bounded piece of a document. EmbeddingText, when set,
// is embedded instead of Content (spreadsheet schemas, transcript and sheet
// summaries, NL2SQL questions).
type Chunk struct {
	ChunkID       int
	Content       string
	EmbeddingText string
	Title         string
	Page          int
	Offset        int
	Length        int
	Summary       string
	Category      string
	RelatedImages []string
	ImageCaptions string
	CaptionVector []float32
}

// EmbedInput returns the text the embedding client should see.
func (c *Chunk) EmbedInput() string {
	if c.EmbeddingText != "" {
		return c.EmbeddingText
	}
	return c.Content
}

// Chunker splits one document into chunks. Implementations return an empty
// slice for empty input.
type Chunker interface {
	Chunk(ctx context.Context, src Source) ([]Chunk, error)
}

// Params are the chunking tunables, read once per process.
type Params struct {
	// MaxChunkSize is the per-chunk token budget.
	MaxChunkSize int

	// TokenOverlap is carried between consecutive chunks.
	TokenOverlap int

	// MinChunkSize drops fragments below this many tokens.
	MinChunkSize int
}

// SetDefaults applies default values.
func (p *Params) SetDefaults() {
	if p.MaxChunkSize <= 0 {
		p.MaxChunkSize = 2048
	}
	if p.TokenOverlap < 0 {
		p.TokenOverlap = 100
	}
	if p.MinChunkSize <= 0 {
		p.MinChunkSize = 100
	}
}

// Validate checks the parameters for errors.
func (p *Params) Validate() error {
	if p.MaxChunkSize <= 0 {
		return fmt.Errorf("max chunk size must be positive, got %d", p.MaxChunkSize)
	}
	if p.TokenOverlap < 0 {
		return fmt.Errorf("token overlap must be non-negative, got %d", p.TokenOverlap)
	}
	if p.TokenOverlap >= p.MaxChunkSize {
		return fmt.Errorf("token overlap (%d) must be less than max chunk size (%d)", p.TokenOverlap, p.MaxChunkSize)
	}
	return nil
}

// Deps bundles the collaborators chunkers draw on. Only some chunkers use
// each field; the factory wires what the selected chunker needs.
type Deps struct {
	Params    Params
	Estimator *tokens.Estimator

	// Embedder computes caption vectors in the multimodal chunker.
	Embedder embedder.Embedder

	// Chat generates figure captions, sheet summaries, and transcript
	// summaries.
	Chat embedder.Chat

	// Layout is the external document layout service, when configured.
	Layout LayoutAnalyzer

	// Figures is the images container for multimodal figure uploads.
	Figures blob.Store

	Multimodal               bool
	MinFigureAreaPct         float64
	SpreadsheetByRow         bool
	SpreadsheetIncludeHeader bool
}

// ForExtension selects the chunker for a file extension.
func ForExtension(ext string, deps *Deps) Chunker {
	deps.Params.SetDefaults()

	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "vtt":
		return &TranscriptChunker{deps: deps}
	case "xlsx", "xls":
		return &SpreadsheetChunker{deps: deps}
	case "pdf", "png", "jpeg", "jpg", "bmp", "tiff", "docx", "pptx":
		if deps.Multimodal {
			return &MultimodalChunker{DocAnalysisChunker: DocAnalysisChunker{deps: deps}}
		}
		return &DocAnalysisChunker{deps: deps}
	case "nl2sql":
		return &NL2SQLChunker{deps: deps}
	case "json":
		return &JSONChunker{deps: deps}
	default:
		return &TextChunker{deps: deps, subtype: subtypeForExtension(ext)}
	}
}

func subtypeForExtension(ext string) string {
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "md", "markdown":
		return "markdown"
	case "py":
		return "python"
	default:
		return "prose"
	}
}

// truncateToBudget trims text character-wise with an exponentially growing
// step until it fits the token budget.
func truncateToBudget(est *tokens.Estimator, text string, budget int) string {
	step := 16
	iterations := 0
	for len(text) > 0 && est.Count(text) > budget {
		cut := step
		if cut > len(text) {
			cut = len(text)
		}
		text = text[:len(text)-cut]
		iterations++
		if iterations%5 == 0 {
			step *= 2
		}
	}
	return text
}
