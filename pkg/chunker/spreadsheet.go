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
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/xuri/excelize/v2"
)

const sheetSummaryPrompt = "Summarize the following spreadsheet table in a few sentences. " +
	"Name the columns and describe what the rows represent."

var whitespaceRe = regexp.MustCompile(`[ \t]+`)

// SpreadsheetChunker handles xlsx/xls workbooks. Per-sheet mode renders each
// sheet as one markdown table with a generated summary; per-row mode emits
// one chunk per data row with a compact positional schema as embedding text.
type SpreadsheetChunker struct {
	deps *Deps
}

func (c *SpreadsheetChunker) Chunk(ctx context.Context, src Source) ([]Chunk, error) {
	if len(src.Data) == 0 {
		return []Chunk{}, nil
	}

	f, err := excelize.OpenReader(bytes.NewReader(src.Data))
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook %s: %w", src.Name, err)
	}
	defer f.Close()

	var chunks []Chunk
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("failed to read sheet %s: %w", sheet, err)
		}
		rows = dropEmptyRows(rows)
		if len(rows) == 0 {
			continue
		}

		if c.deps.SpreadsheetByRow {
			chunks = c.chunkByRow(chunks, src, sheet, rows)
		} else {
			sheetChunk, err := c.chunkSheet(ctx, src, sheet, rows)
			if err != nil {
				return nil, err
			}
			sheetChunk.ChunkID = len(chunks)
			chunks = append(chunks, sheetChunk)
		}
	}
	if chunks == nil {
		chunks = []Chunk{}
	}
	return chunks, nil
}

// chunkSheet renders one sheet as a markdown table with a chat summary.
// When the table blows the token budget, the summary stands in as content.
func (c *SpreadsheetChunker) chunkSheet(ctx context.Context, src Source, sheet string, rows [][]string) (Chunk, error) {
	table := renderMarkdownTable(rows, true)
	table = whitespaceRe.ReplaceAllString(table, " ")

	summary := ""
	if c.deps.Chat != nil {
		input := truncateToBudget(c.deps.Estimator, table, c.deps.Params.MaxChunkSize)
		var err error
		summary, err = c.deps.Chat.Complete(ctx, sheetSummaryPrompt, input)
		if err != nil {
			// Summaries are an enrichment; the sheet still indexes without
			// one.
			slog.Warn("sheet summary generation failed",
				"document", src.Name, "sheet", sheet, "error", err)
			summary = ""
		}
	}

	content := table
	if c.deps.Estimator.Count(content) > c.deps.Params.MaxChunkSize {
		if summary != "" {
			content = summary
		} else {
			content = truncateToBudget(c.deps.Estimator, content, c.deps.Params.MaxChunkSize)
		}
	}

	embeddingText := summary
	if embeddingText == "" {
		embeddingText = content
	}

	return Chunk{
		Content:       content,
		EmbeddingText: embeddingText,
		Title:         fmt.Sprintf("%s: %s", src.Name, sheet),
		Summary:       summary,
		Length:        len(content),
	}, nil
}

// chunkByRow emits one chunk per non-empty data row.
func (c *SpreadsheetChunker) chunkByRow(chunks []Chunk, src Source, sheet string, rows [][]string) []Chunk {
	header := rows[0]
	data := rows[1:]
	if len(data) == 0 {
		// A header-only sheet still carries the schema.
		data = [][]string{header}
		header = nil
	}

	for i, row := range data {
		var tableRows [][]string
		if c.deps.SpreadsheetIncludeHeader && header != nil {
			tableRows = [][]string{header, row}
		} else {
			tableRows = [][]string{row}
		}
		content := renderMarkdownTable(tableRows, c.deps.SpreadsheetIncludeHeader && header != nil)
		if c.deps.Estimator.Count(content) > c.deps.Params.MaxChunkSize {
			content = truncateToBudget(c.deps.Estimator, content, c.deps.Params.MaxChunkSize)
		}

		embeddingText := rowSchema(src.Name, sheet, i+1, header, row)
		if c.deps.Estimator.Count(embeddingText) > c.deps.Params.MaxChunkSize {
			embeddingText = truncateToBudget(c.deps.Estimator, embeddingText, c.deps.Params.MaxChunkSize)
		}

		chunks = append(chunks, Chunk{
			ChunkID:       len(chunks),
			Content:       content,
			EmbeddingText: embeddingText,
			Title:         fmt.Sprintf("%s: %s", src.Name, sheet),
			Length:        len(content),
		})
	}
	return chunks
}

// rowSchema is the compact positional embedding text for per-row mode. It
// keeps column alignment while spending far fewer tokens than the rendered
// table.
func rowSchema(file, sheet string, row int, header, values []string) string {
	return fmt.Sprintf("file=%s\nsheet=%s\nrow=%d\ncols=%s\nvals=%s",
		file, sheet, row,
		strings.Join(header, "|"),
		strings.Join(values, "|"))
}

func renderMarkdownTable(rows [][]string, withHeaderRule bool) string {
	if len(rows) == 0 {
		return ""
	}
	width := 0
	for _, row := range rows {
		if len(row) > width {
			width = len(row)
		}
	}

	var b strings.Builder
	for i, row := range rows {
		b.WriteString("|")
		for col := 0; col < width; col++ {
			cell := ""
			if col < len(row) {
				cell = strings.TrimSpace(row[col])
			}
			b.WriteString(" ")
			b.WriteString(cell)
			b.WriteString(" |")
		}
		b.WriteString("\n")
		if i == 0 && withHeaderRule {
			b.WriteString("|")
			for col := 0; col < width; col++ {
				b.WriteString(" --- |")
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}

func dropEmptyRows(rows [][]string) [][]string {
	var out [][]string
	for _, row := range rows {
		empty := true
		for _, cell := range row {
			if strings.TrimSpace(cell) != "" {
				empty = false
				break
			}
		}
		if !empty {
			out = append(out, row)
		}
	}
	return out
}
