// Package structurer turns raw layout-provider output into the canonical,
// render-agnostic document shape consumed by the extraction model.
package structurer

import (
	"encoding/json"
	"strconv"

	"github.com/chiahui-lin/specmatrix/internal/ocr"
)

// PageUnknown is the sentinel page number used when a table carries no
// bounding region. It serializes as "N/A".
const PageUnknown = 0

// PageRef is a page number that may be unknown.
type PageRef int

// MarshalJSON emits the numeric page, or "N/A" for an unknown page.
func (p PageRef) MarshalJSON() ([]byte, error) {
	if p == PageUnknown {
		return json.Marshal("N/A")
	}
	return json.Marshal(int(p))
}

// String returns the page label shown to humans and the extraction model.
func (p PageRef) String() string {
	if p == PageUnknown {
		return "N/A"
	}
	return strconv.Itoa(int(p))
}

// StructuredTable is a dense rectangular grid reconstructed from a sparse
// provider table. Rows are row-major and 0-indexed; gaps are empty strings.
type StructuredTable struct {
	TableNumber int        `json:"table_number"`
	PageNumber  PageRef    `json:"page_number"`
	Rows        [][]string `json:"rows"`
}

// PageContent is the free text of one page with table regions removed.
type PageContent struct {
	PageNumber int    `json:"page_number"`
	Content    string `json:"content"`
}

// StructuredDocument is the canonical form of one analyzed document.
type StructuredDocument struct {
	ID     string            `json:"id"`
	Title  string            `json:"title"`
	Pages  []PageContent     `json:"pages"`
	Tables []StructuredTable `json:"tables"`
}

// Structure combines table reconstruction and page-text extraction for one
// raw result. Pure: no I/O, deterministic for identical input.
func Structure(id, title string, raw *ocr.Result) *StructuredDocument {
	return &StructuredDocument{
		ID:     id,
		Title:  title,
		Pages:  ExtractPageText(raw.Pages, raw.Tables),
		Tables: ReconstructTables(raw.Tables),
	}
}

// ReconstructTables densifies each sparse provider table into a rectangle.
// The page number comes from the table's first bounding region; a table
// with no regions gets PageUnknown. Every emitted row spans columns
// 0..maxCol inclusive, with empty strings where the provider omitted cells.
func ReconstructTables(tables []ocr.Table) []StructuredTable {
	if len(tables) == 0 {
		return nil
	}
	out := make([]StructuredTable, 0, len(tables))
	for i, table := range tables {
		page := PageRef(PageUnknown)
		if len(table.BoundingRegions) > 0 {
			page = PageRef(table.BoundingRegions[0].PageNumber)
		}

		cells := make(map[int]map[int]string)
		maxCol := 0
		maxRow := -1
		for _, cell := range table.Cells {
			row, ok := cells[cell.RowIndex]
			if !ok {
				row = make(map[int]string)
				cells[cell.RowIndex] = row
			}
			row[cell.ColumnIndex] = cell.Content
			if cell.ColumnIndex > maxCol {
				maxCol = cell.ColumnIndex
			}
			if cell.RowIndex > maxRow {
				maxRow = cell.RowIndex
			}
		}

		st := StructuredTable{TableNumber: i + 1, PageNumber: page}
		for r := 0; r <= maxRow; r++ {
			row, present := cells[r]
			if !present {
				continue
			}
			dense := make([]string, maxCol+1)
			for c := 0; c <= maxCol; c++ {
				dense[c] = row[c]
			}
			st.Rows = append(st.Rows, dense)
		}
		out = append(out, st)
	}
	return out
}

// ExtractPageText returns each page's line content with table lines removed.
// A line belongs to a table when its anchor point (first polygon vertex)
// falls inside the axis-aligned bounding box of any table region on that
// page. Bounding-box containment is an approximation; near-axis-aligned
// table regions make it accurate enough in practice.
func ExtractPageText(pages []ocr.Page, tables []ocr.Table) []PageContent {
	regionsByPage := make(map[int][][]ocr.Point)
	for _, table := range tables {
		for _, region := range table.BoundingRegions {
			if len(region.Polygon) == 0 {
				continue
			}
			regionsByPage[region.PageNumber] = append(regionsByPage[region.PageNumber], region.Polygon)
		}
	}

	out := make([]PageContent, 0, len(pages))
	for _, page := range pages {
		regions := regionsByPage[page.PageNumber]

		var buf []byte
		first := true
		for _, line := range page.Lines {
			if len(line.Polygon) == 0 {
				continue
			}
			anchor := line.Polygon[0]
			if anchorInsideAny(anchor, regions) {
				continue
			}
			if !first {
				buf = append(buf, '\n')
			}
			buf = append(buf, line.Content...)
			first = false
		}
		out = append(out, PageContent{PageNumber: page.PageNumber, Content: string(buf)})
	}
	return out
}

func anchorInsideAny(p ocr.Point, regions [][]ocr.Point) bool {
	for _, region := range regions {
		if insideBoundingBox(p, region) {
			return true
		}
	}
	return false
}

func insideBoundingBox(p ocr.Point, polygon []ocr.Point) bool {
	if len(polygon) == 0 {
		return false
	}
	minX, maxX := polygon[0].X, polygon[0].X
	minY, maxY := polygon[0].Y, polygon[0].Y
	for _, v := range polygon[1:] {
		if v.X < minX {
			minX = v.X
		}
		if v.X > maxX {
			maxX = v.X
		}
		if v.Y < minY {
			minY = v.Y
		}
		if v.Y > maxY {
			maxY = v.Y
		}
	}
	return p.X >= minX && p.X <= maxX && p.Y >= minY && p.Y <= maxY
}
