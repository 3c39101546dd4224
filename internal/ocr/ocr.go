// Package ocr defines the contract with the external document layout
// provider and the closed data model the rest of the pipeline consumes.
package ocr

import "context"

// Document is one uploaded file handed to the layout provider.
type Document struct {
	ID      string
	Name    string
	Content []byte
}

// Point is a single polygon vertex in page coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Line is one recognized text line with its bounding polygon.
type Line struct {
	Content string  `json:"content"`
	Polygon []Point `json:"polygon"`
}

// Page holds the recognized lines of a single page.
type Page struct {
	PageNumber int    `json:"page_number"`
	Lines      []Line `json:"lines"`
}

// Cell is one table cell addressed by its row/column indices. Providers
// may omit empty cells entirely.
type Cell struct {
	RowIndex    int    `json:"row_index"`
	ColumnIndex int    `json:"column_index"`
	Content     string `json:"content"`
}

// BoundingRegion anchors a table onto a page. A table spanning pages
// carries one region per page.
type BoundingRegion struct {
	PageNumber int     `json:"page_number"`
	Polygon    []Point `json:"polygon"`
}

// Table is one detected table with its sparse cell set.
type Table struct {
	BoundingRegions []BoundingRegion `json:"bounding_regions"`
	Cells           []Cell           `json:"cells"`
}

// Result is the provider output for one document. Zero tables is valid.
type Result struct {
	Pages  []Page  `json:"pages"`
	Tables []Table `json:"tables"`
}

// Provider runs layout analysis over a single document.
type Provider interface {
	Analyze(ctx context.Context, doc Document) (*Result, error)
}
