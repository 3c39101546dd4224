package structurer

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/chiahui-lin/specmatrix/internal/ocr"
)

func TestReconstructTablesDensifiesSparseCells(t *testing.T) {
	tables := []ocr.Table{
		{
			BoundingRegions: []ocr.BoundingRegion{{PageNumber: 3}},
			Cells: []ocr.Cell{
				{RowIndex: 0, ColumnIndex: 0, Content: "Part"},
				{RowIndex: 0, ColumnIndex: 2, Content: "Value"},
				{RowIndex: 2, ColumnIndex: 1, Content: "3.3V"},
			},
		},
	}

	got := ReconstructTables(tables)
	if len(got) != 1 {
		t.Fatalf("expected 1 table, got %d", len(got))
	}
	table := got[0]
	if table.TableNumber != 1 {
		t.Fatalf("expected table number 1, got %d", table.TableNumber)
	}
	if table.PageNumber != 3 {
		t.Fatalf("expected page 3, got %v", table.PageNumber)
	}
	want := [][]string{
		{"Part", "", "Value"},
		{"", "3.3V", ""},
	}
	if !reflect.DeepEqual(table.Rows, want) {
		t.Fatalf("unexpected rows: %v", table.Rows)
	}
	for _, row := range table.Rows {
		if len(row) != 3 {
			t.Fatalf("expected uniform row length 3, got %d", len(row))
		}
	}
}

func TestReconstructTablesMissingRegionUsesUnknownPage(t *testing.T) {
	tables := []ocr.Table{{Cells: []ocr.Cell{{RowIndex: 0, ColumnIndex: 0, Content: "x"}}}}
	got := ReconstructTables(tables)
	if got[0].PageNumber != PageUnknown {
		t.Fatalf("expected unknown page, got %v", got[0].PageNumber)
	}
	data, err := json.Marshal(got[0])
	if err != nil {
		t.Fatal(err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded["page_number"] != "N/A" {
		t.Fatalf("expected page_number to serialize as N/A, got %v", decoded["page_number"])
	}
}

func TestReconstructTablesEmptyInput(t *testing.T) {
	if got := ReconstructTables(nil); got != nil {
		t.Fatalf("expected nil for empty input, got %v", got)
	}
}

func TestExtractPageTextDropsTableLines(t *testing.T) {
	tablePoly := []ocr.Point{{X: 1, Y: 1}, {X: 5, Y: 1}, {X: 5, Y: 5}, {X: 1, Y: 5}}
	pages := []ocr.Page{
		{
			PageNumber: 1,
			Lines: []ocr.Line{
				{Content: "Title above the table", Polygon: []ocr.Point{{X: 0.5, Y: 0.5}}},
				{Content: "cell text", Polygon: []ocr.Point{{X: 2, Y: 2}}},
				{Content: "Footnote below", Polygon: []ocr.Point{{X: 0.5, Y: 6}}},
			},
		},
		{
			PageNumber: 2,
			Lines: []ocr.Line{
				{Content: "All free text", Polygon: []ocr.Point{{X: 2, Y: 2}}},
			},
		},
	}
	tables := []ocr.Table{{BoundingRegions: []ocr.BoundingRegion{{PageNumber: 1, Polygon: tablePoly}}}}

	got := ExtractPageText(pages, tables)
	if len(got) != 2 {
		t.Fatalf("expected 2 pages, got %d", len(got))
	}
	if got[0].Content != "Title above the table\nFootnote below" {
		t.Fatalf("unexpected page 1 content: %q", got[0].Content)
	}
	// Table on page 1 must not bleed into page 2.
	if got[1].Content != "All free text" {
		t.Fatalf("unexpected page 2 content: %q", got[1].Content)
	}
}

func TestExtractPageTextSkipsLinesWithoutPolygon(t *testing.T) {
	pages := []ocr.Page{{PageNumber: 1, Lines: []ocr.Line{
		{Content: "no polygon"},
		{Content: "kept", Polygon: []ocr.Point{{X: 0, Y: 0}}},
	}}}
	got := ExtractPageText(pages, nil)
	if got[0].Content != "kept" {
		t.Fatalf("unexpected content: %q", got[0].Content)
	}
}

func TestStructureIsDeterministic(t *testing.T) {
	raw := &ocr.Result{
		Pages: []ocr.Page{{PageNumber: 1, Lines: []ocr.Line{
			{Content: "alpha", Polygon: []ocr.Point{{X: 0, Y: 0}}},
			{Content: "beta", Polygon: []ocr.Point{{X: 0, Y: 1}}},
		}}},
		Tables: []ocr.Table{{
			BoundingRegions: []ocr.BoundingRegion{{PageNumber: 1, Polygon: []ocr.Point{{X: 10, Y: 10}, {X: 20, Y: 20}}}},
			Cells:           []ocr.Cell{{RowIndex: 1, ColumnIndex: 1, Content: "c"}},
		}},
	}

	first, err := json.Marshal(Structure("doc-1", "doc-1.pdf", raw))
	if err != nil {
		t.Fatal(err)
	}
	second, err := json.Marshal(Structure("doc-1", "doc-1.pdf", raw))
	if err != nil {
		t.Fatal(err)
	}
	if string(first) != string(second) {
		t.Fatalf("structuring is not deterministic:\n%s\n%s", first, second)
	}
}
