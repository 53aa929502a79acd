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
	"fmt"
	"regexp"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
)

// chunkNative extracts text without a layout service. Only pdf and docx
// have native extractors; image formats need the layout service.
func (c *DocAnalysisChunker) chunkNative(src Source) ([]Chunk, error) {
	var content string
	var err error
	switch src.Extension {
	case "pdf":
		content, err = extractPDFText(src.Data)
	case "docx":
		content, err = extractDocxText(src.Data)
	default:
		return nil, fmt.Errorf("extension %q requires a layout analyzer", src.Extension)
	}
	if err != nil {
		return nil, fmt.Errorf("native extraction failed for %s: %w", src.Name, err)
	}

	result := &LayoutResult{Content: content, ContentFormat: "markdown"}
	return c.chunkLayout(result, src)
}

// extractPDFText pulls plain text per page, inserting page-break markers
// between pages so attribution works like the layout path.
func extractPDFText(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("failed to open pdf: %w", err)
	}

	var b strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// A single unreadable page should not sink the document.
			continue
		}
		if i > 1 {
			b.WriteString("\n")
			b.WriteString(pageBreakMarker)
			b.WriteString("\n")
		}
		b.WriteString(text)
	}
	return b.String(), nil
}

var xmlTagRe = regexp.MustCompile(`<[^>]+>`)

// extractDocxText reads the document body and strips WordprocessingML
// markup, keeping paragraph breaks.
func extractDocxText(data []byte) (string, error) {
	reader, err := docx.ReadDocxFromMemory(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("failed to open docx: %w", err)
	}
	defer reader.Close()

	content := reader.Editable().GetContent()
	content = strings.ReplaceAll(content, "</w:p>", "\n")
	content = xmlTagRe.ReplaceAllString(content, "")
	return strings.TrimSpace(content), nil
}
