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
	"regexp"
	"strconv"
	"strings"
)

const (
	pageBreakMarker = "<!-- PageBreak -->"

	// Consecutive tables merge when their regions are within this many
	// inches and at most one page apart.
	tableMergeMaxGapInches = 3.0
	tableMergeMaxPageGap   = 1
)

var (
	pageBreakRe   = regexp.MustCompile(`PageBreak(\d{5})`)
	tableHTMLRe   = regexp.MustCompile(`(?s)<table>.*?</table>`)
	placeholderRe = regexp.MustCompile(`<!-- Table(\d+) -->`)
)

// DocAnalysisChunker splits layout-analyzed documents. Page attribution
// survives splitting through numbered page-break markers; tables are held
// out of the splitter and restored whole.
type DocAnalysisChunker struct {
	deps *Deps
}

func (c *DocAnalysisChunker) Chunk(ctx context.Context, src Source) ([]Chunk, error) {
	if len(src.Data) == 0 {
		return []Chunk{}, nil
	}

	if c.deps.Layout == nil {
		return c.chunkNative(src)
	}

	result, err := c.deps.Layout.Analyze(ctx, src.Data, src.ContentType)
	if err != nil {
		return nil, fmt.Errorf("layout analysis failed for %s: %w", src.Name, err)
	}
	return c.chunkLayout(result, src)
}

// chunkLayout turns an analysis result into chunks. Shared with the
// multimodal chunker, which post-processes figures.
func (c *DocAnalysisChunker) chunkLayout(result *LayoutResult, src Source) ([]Chunk, error) {
	content := result.Content
	if result.ContentFormat == "markdown" {
		content = numberPageBreaks(content)
	}

	content, tables := extractTables(content)
	merged := mergeTables(result.Tables)

	s := newSplitter(c.deps.Estimator, c.deps.Params, nil)
	var pieces []string
	if result.ContentFormat == "markdown" {
		pieces = splitMarkdownByHeaders(s, content)
	} else {
		pieces = s.Split(content)
	}

	chunks := make([]Chunk, 0, len(pieces))
	page := 1
	offset := 0
	for _, piece := range pieces {
		piece = restoreTables(piece, tables, merged)
		piece = c.truncatePreservingMarkers(piece)

		page = attributePage(piece, page)
		chunks = append(chunks, Chunk{
			ChunkID: len(chunks),
			Content: piece,
			Title:   src.Name,
			Page:    page,
			Offset:  offset,
			Length:  len(piece),
		})
		offset += len(piece)
	}
	return chunks, nil
}

// numberPageBreaks rewrites bare page-break markers into sequence-numbered
// ones so chunk-to-page attribution survives splitting.
func numberPageBreaks(content string) string {
	var b strings.Builder
	seq := 0
	for {
		i := strings.Index(content, pageBreakMarker)
		if i < 0 {
			b.WriteString(content)
			break
		}
		seq++
		b.WriteString(content[:i])
		b.WriteString(fmt.Sprintf("<!-- PageBreak%05d -->", seq))
		content = content[i+len(pageBreakMarker):]
	}
	return b.String()
}

// extractTables replaces each <table>…</table> with a placeholder and
// returns the extracted HTML segments in document order.
func extractTables(content string) (string, []string) {
	var tables []string
	out := tableHTMLRe.ReplaceAllStringFunc(content, func(match string) string {
		placeholder := fmt.Sprintf("<!-- Table%d -->", len(tables))
		tables = append(tables, match)
		return placeholder
	})
	return out, tables
}

// mergeTables folds consecutive tables with matching column counts and
// nearby regions into logical tables. The returned map points each original
// table index at its logical rendering; indices absorbed into a predecessor
// map to the empty string.
func mergeTables(tables []Table) map[int]string {
	rendered := make(map[int]string, len(tables))
	if len(tables) == 0 {
		return rendered
	}

	groupStart := 0
	current := tables[0]
	flush := func(endExclusive int) {
		rendered[groupStart] = renderTableHTML(current)
		for i := groupStart + 1; i < endExclusive; i++ {
			rendered[i] = ""
		}
	}

	for i := 1; i < len(tables); i++ {
		next := tables[i]
		if next.ColumnCount == current.ColumnCount && tablesAdjacent(current, next) {
			rowOffset := current.RowCount
			for _, cell := range next.Cells {
				cell.Row += rowOffset
				current.Cells = append(current.Cells, cell)
			}
			current.RowCount += next.RowCount
			current.Regions = append(current.Regions, next.Regions...)
			continue
		}
		flush(i)
		groupStart = i
		current = next
	}
	flush(len(tables))
	return rendered
}

// tablesAdjacent reports whether b starts close enough below a to be the
// same logical table.
func tablesAdjacent(a, b Table) bool {
	if len(a.Regions) == 0 || len(b.Regions) == 0 {
		return false
	}
	last := a.Regions[len(a.Regions)-1]
	first := b.Regions[0]

	pageGap := first.Page - last.Page
	if pageGap < 0 || pageGap > tableMergeMaxPageGap {
		return false
	}
	if pageGap > 0 {
		// Page turn between the halves.
		return true
	}

	aBottom := polygonMaxY(last.Polygon)
	bTop := polygonMinY(first.Polygon)
	return bTop-aBottom <= tableMergeMaxGapInches
}

func polygonMaxY(polygon []float64) float64 {
	maxY := 0.0
	for i := 1; i < len(polygon); i += 2 {
		if polygon[i] > maxY {
			maxY = polygon[i]
		}
	}
	return maxY
}

func polygonMinY(polygon []float64) float64 {
	if len(polygon) < 2 {
		return 0
	}
	minY := polygon[1]
	for i := 3; i < len(polygon); i += 2 {
		if polygon[i] < minY {
			minY = polygon[i]
		}
	}
	return minY
}

// renderTableHTML renders cells as table HTML, emitting spans only when
// they exceed 1.
func renderTableHTML(t Table) string {
	rows := make([][]string, t.RowCount)
	for _, cell := range t.Cells {
		if cell.Row < 0 || cell.Row >= t.RowCount {
			continue
		}
		var attrs string
		if cell.RowSpan > 1 {
			attrs += fmt.Sprintf(` rowspan="%d"`, cell.RowSpan)
		}
		if cell.ColSpan > 1 {
			attrs += fmt.Sprintf(` colspan="%d"`, cell.ColSpan)
		}
		rows[cell.Row] = append(rows[cell.Row], fmt.Sprintf("<td%s>%s</td>", attrs, cell.Content))
	}

	var b strings.Builder
	b.WriteString("<table>")
	for _, row := range rows {
		if len(row) == 0 {
			continue
		}
		b.WriteString("<tr>")
		for _, cell := range row {
			b.WriteString(cell)
		}
		b.WriteString("</tr>")
	}
	b.WriteString("</table>")
	return b.String()
}

// restoreTables swaps placeholders back for table HTML. When the analyzer
// supplied cell structure the merged logical rendering wins; otherwise the
// original HTML segment is restored.
func restoreTables(piece string, original []string, merged map[int]string) string {
	return placeholderRe.ReplaceAllStringFunc(piece, func(match string) string {
		sub := placeholderRe.FindStringSubmatch(match)
		idx, err := strconv.Atoi(sub[1])
		if err != nil || idx >= len(original) {
			return match
		}
		if html, ok := merged[idx]; ok {
			return html
		}
		return original[idx]
	})
}

// truncatePreservingMarkers bounds a chunk to the token budget. If the cut
// removed page-break markers, the highest dropped marker is re-appended so
// page attribution is not lost, budget permitting.
func (c *DocAnalysisChunker) truncatePreservingMarkers(piece string) string {
	budget := c.deps.Params.MaxChunkSize
	if c.deps.Estimator.Count(piece) <= budget {
		return piece
	}

	before := pageBreakRe.FindAllString(piece, -1)
	truncated := truncateToBudget(c.deps.Estimator, piece, budget)
	after := pageBreakRe.FindAllString(truncated, -1)

	if len(before) > len(after) {
		marker := "<!-- " + before[len(before)-1] + " -->"
		if c.deps.Estimator.Count(truncated+marker) <= budget {
			truncated += marker
		}
	}
	return truncated
}

// attributePage derives a chunk's page from its highest page-break marker.
// A marker in the first half of the chunk means most of the chunk sits
// after the break.
func attributePage(piece string, previous int) int {
	locs := pageBreakRe.FindAllStringSubmatchIndex(piece, -1)
	if len(locs) == 0 {
		return previous
	}

	highest := 0
	highestPos := 0
	for _, loc := range locs {
		n, err := strconv.Atoi(piece[loc[2]:loc[3]])
		if err != nil {
			continue
		}
		if n > highest {
			highest = n
			highestPos = loc[0]
		}
	}
	if highest == 0 {
		return previous
	}
	if highestPos < len(piece)/2 {
		return highest + 1
	}
	return highest
}
