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

import "context"

// LayoutAnalyzer is the external document layout service contract. Analyze
// returns ordered content plus structural elements; FigureImage retrieves a
// cropped figure from a prior analysis.
type LayoutAnalyzer interface {
	Analyze(ctx context.Context, data []byte, contentType string) (*LayoutResult, error)
	FigureImage(ctx context.Context, resultID, figureID string) ([]byte, error)
}

// LayoutResult is the analyzer's output for one document.
type LayoutResult struct {
	// ResultID identifies the analysis for follow-up figure retrieval.
	ResultID string

	// Content is the full ordered content. When ContentFormat is
	// "markdown" it carries <!-- PageBreak --> markers and <table> HTML.
	Content       string
	ContentFormat string

	Tables  []Table
	Pages   []PageInfo
	Figures []Figure
}

// Table is one detected table with cell-level structure.
type Table struct {
	RowCount    int
	ColumnCount int
	Cells       []TableCell
	Regions     []Region
}

// TableCell is one cell; spans default to 1.
type TableCell struct {
	Row     int
	Col     int
	RowSpan int
	ColSpan int
	Content string
}

// Region is a bounding polygon on one page. Polygon is a flat list of
// x,y pairs in inches.
type Region struct {
	Page    int
	Polygon []float64
}

// PageInfo carries page dimensions in inches.
type PageInfo struct {
	Number int
	Width  float64
	Height float64
}

// Figure is one detected figure.
type Figure struct {
	ID      string
	Regions []Region
}

// polygonArea computes the area of a flat x,y polygon via the shoelace
// formula.
func polygonArea(polygon []float64) float64 {
	n := len(polygon) / 2
	if n < 3 {
		return 0
	}
	area := 0.0
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		area += polygon[2*i]*polygon[2*j+1] - polygon[2*j]*polygon[2*i+1]
	}
	if area < 0 {
		area = -area
	}
	return area / 2
}

// figureAreaPct returns the figure's summed region area as a percentage of
// its page's area. Unknown pages yield 100 so the figure is kept.
func figureAreaPct(fig Figure, pages []PageInfo) float64 {
	if len(fig.Regions) == 0 {
		return 0
	}

	pageArea := 0.0
	for _, p := range pages {
		if p.Number == fig.Regions[0].Page {
			pageArea = p.Width * p.Height
			break
		}
	}
	if pageArea == 0 {
		return 100
	}

	total := 0.0
	for _, r := range fig.Regions {
		total += polygonArea(r.Polygon)
	}
	return total / pageArea * 100
}
