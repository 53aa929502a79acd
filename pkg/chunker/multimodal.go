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
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/cortexa-labs/ragsync/pkg/keys"
)

const captionPrompt = "Describe this figure concisely for a search index. " +
	"State what it depicts, any axis labels or legends, and the key takeaway."

var (
	figureBlockRe  = regexp.MustCompile(`(?s)<figure>.*?</figure>`)
	figureMarkerRe = regexp.MustCompile(`<figure([A-Za-z0-9._-]+)>`)
)

// MultimodalChunker extends doc analysis with figure extraction: figures
// are cropped, uploaded to the images container, captioned, and the
// captions embedded alongside the chunk.
type MultimodalChunker struct {
	DocAnalysisChunker
}

func (c *MultimodalChunker) Chunk(ctx context.Context, src Source) ([]Chunk, error) {
	if len(src.Data) == 0 {
		return []Chunk{}, nil
	}
	if c.deps.Layout == nil {
		return nil, fmt.Errorf("multimodal chunking requires a layout analyzer")
	}

	result, err := c.deps.Layout.Analyze(ctx, src.Data, src.ContentType)
	if err != nil {
		return nil, fmt.Errorf("layout analysis failed for %s: %w", src.Name, err)
	}

	result.Content = tagFigures(result.Content, result.Figures)

	chunks, err := c.chunkLayout(result, src)
	if err != nil {
		return nil, err
	}

	figuresByID := make(map[string]Figure, len(result.Figures))
	for _, fig := range result.Figures {
		figuresByID[fig.ID] = fig
	}

	for i := range chunks {
		if err := c.resolveFigures(ctx, &chunks[i], result, figuresByID, src); err != nil {
			return nil, err
		}
	}
	return chunks, nil
}

// tagFigures replaces each <figure> block with a compact marker carrying
// the analyzer's figure ID, in document order.
func tagFigures(content string, figures []Figure) string {
	next := 0
	return figureBlockRe.ReplaceAllStringFunc(content, func(string) string {
		if next >= len(figures) {
			return ""
		}
		id := figures[next].ID
		next++
		return "<figure" + id + ">"
	})
}

// resolveFigures processes a chunk's figure markers: crop, gate on area,
// upload, caption, and embed the combined captions.
func (c *MultimodalChunker) resolveFigures(ctx context.Context, chunk *Chunk, result *LayoutResult, figures map[string]Figure, src Source) error {
	matches := figureMarkerRe.FindAllStringSubmatch(chunk.Content, -1)
	if len(matches) == 0 {
		return nil
	}

	var captions []string
	for _, match := range matches {
		marker, figureID := match[0], match[1]
		fig, ok := figures[figureID]
		if !ok {
			chunk.Content = strings.Replace(chunk.Content, marker, "", 1)
			continue
		}

		if pct := figureAreaPct(fig, result.Pages); pct < c.deps.MinFigureAreaPct {
			slog.Debug("skipping small figure",
				"document", src.Name, "figure", figureID, "area_pct", pct)
			chunk.Content = strings.Replace(chunk.Content, marker, "", 1)
			continue
		}

		image, err := c.deps.Layout.FigureImage(ctx, result.ResultID, figureID)
		if err != nil {
			return fmt.Errorf("failed to retrieve figure %s: %w", figureID, err)
		}

		name := fmt.Sprintf("%s-figure-%s.png", keys.Sanitize(src.Name), keys.Sanitize(figureID))
		if err := c.deps.Figures.Upload(ctx, name, image, "image/png"); err != nil {
			return fmt.Errorf("failed to upload figure %s: %w", figureID, err)
		}

		caption, err := c.deps.Chat.CompleteWithImage(ctx, captionPrompt, image, "image/png")
		if err != nil {
			return fmt.Errorf("failed to caption figure %s: %w", figureID, err)
		}

		chunk.Content = strings.Replace(chunk.Content, marker, "<figure>"+name+"</figure>", 1)
		chunk.RelatedImages = append(chunk.RelatedImages, name)
		captions = append(captions, caption)
	}

	if len(captions) == 0 {
		return nil
	}
	chunk.ImageCaptions = strings.Join(captions, "\n")

	vector, err := c.deps.Embedder.Embed(ctx, chunk.ImageCaptions)
	if err != nil {
		return fmt.Errorf("failed to embed captions: %w", err)
	}
	chunk.CaptionVector = vector
	return nil
}
