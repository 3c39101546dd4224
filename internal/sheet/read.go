// Package sheet reads the query schema workbook and writes the answer
// workbook using excelize.
package sheet

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

// QuerySchema is the query matrix read from the schema workbook: the
// first column lists fields (matrix rows), the header row from the second
// cell onward lists targets (matrix columns). Duplicates are kept; the
// first occurrence wins on lookup.
type QuerySchema struct {
	Fields  []string `json:"query_fields"`
	Targets []string `json:"query_targets"`
}

// Workbook is the parsed schema spreadsheet: the schema plus the raw
// first-sheet grid, which the summary writer uses as its starting canvas.
type Workbook struct {
	Schema QuerySchema
	Grid   [][]string
}

// Read parses the first sheet of an xlsx stream. Blank cells are skipped
// when collecting fields and targets; the grid keeps them verbatim.
func Read(r io.Reader) (*Workbook, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("sheet: open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("sheet: workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("sheet: read rows: %w", err)
	}

	wb := &Workbook{Grid: rows}
	for _, row := range rows {
		if len(row) > 0 && row[0] != "" {
			wb.Schema.Fields = append(wb.Schema.Fields, row[0])
		}
	}
	if len(rows) > 0 && len(rows[0]) > 1 {
		for _, cell := range rows[0][1:] {
			if cell != "" {
				wb.Schema.Targets = append(wb.Schema.Targets, cell)
			}
		}
	}
	return wb, nil
}
