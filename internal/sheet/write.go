package sheet

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/chiahui-lin/specmatrix/internal/extraction"
)

const summarySheet = "Summary"

// sheetNameLimit is the xlsx sheet-name length cap.
const sheetNameLimit = 31

// WriteSummary renders the extraction result onto a copy of the original
// grid and appends one detail sheet per answered target. It returns the
// workbook bytes and the number of result entries whose field or target
// was absent from the schema (those cells are left untouched).
func WriteSummary(wb *Workbook, result extraction.Result) ([]byte, int, error) {
	fieldRow := make(map[string]int, len(wb.Schema.Fields))
	for i, field := range wb.Schema.Fields {
		if _, seen := fieldRow[field]; !seen {
			fieldRow[field] = i
		}
	}
	// column 0 holds the field labels, targets start at column 1
	targetCol := make(map[string]int, len(wb.Schema.Targets))
	for i, target := range wb.Schema.Targets {
		if _, seen := targetCol[target]; !seen {
			targetCol[target] = i + 1
		}
	}

	grid := copyGrid(wb.Grid)
	grid = growGrid(grid, maxValue(fieldRow), maxValue(targetCol))

	misses := 0
	for _, doc := range result.Documents {
		col, ok := targetCol[doc.TargetPN]
		if !ok {
			misses += len(doc.Items)
			continue
		}
		for _, item := range doc.Items {
			row, ok := fieldRow[item.Field]
			if !ok {
				misses++
				continue
			}
			grid[row][col] = cellString(item.Value)
		}
	}

	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName(f.GetSheetName(0), summarySheet); err != nil {
		return nil, 0, fmt.Errorf("sheet: rename summary sheet: %w", err)
	}
	for r, row := range grid {
		for c, value := range row {
			if value == "" {
				continue
			}
			cell, err := excelize.CoordinatesToCellName(c+1, r+1)
			if err != nil {
				return nil, 0, err
			}
			if err := f.SetCellValue(summarySheet, cell, value); err != nil {
				return nil, 0, err
			}
		}
	}

	// detail sheet names must not collide with the summary or each other
	usedNames := map[string]bool{summarySheet: true}
	for _, doc := range result.Documents {
		if doc.TargetPN == "" {
			continue
		}
		if err := writeDetailSheet(f, doc, usedNames); err != nil {
			return nil, 0, err
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("sheet: serialize workbook: %w", err)
	}
	return buf.Bytes(), misses, nil
}

var detailHeaders = []string{"Field", "Value", "Unit", "Confidence", "Provenance", "Notes"}

func writeDetailSheet(f *excelize.File, doc extraction.TargetResult, usedNames map[string]bool) error {
	name := detailSheetName(doc.TargetPN, usedNames)
	if _, err := f.NewSheet(name); err != nil {
		return fmt.Errorf("sheet: create detail sheet %q: %w", name, err)
	}

	for c, h := range detailHeaders {
		cell, _ := excelize.CoordinatesToCellName(c+1, 1)
		if err := f.SetCellValue(name, cell, h); err != nil {
			return err
		}
	}
	for r, item := range doc.Items {
		confidence := 0.0
		if item.Confidence != nil {
			confidence = *item.Confidence
		}
		values := []any{item.Field, cellString(item.Value), item.Unit, confidence, item.Provenance, item.Notes}
		for c, v := range values {
			cell, _ := excelize.CoordinatesToCellName(c+1, r+2)
			if err := f.SetCellValue(name, cell, v); err != nil {
				return err
			}
		}
	}
	return nil
}

// SanitizeSheetName makes a target usable as an xlsx sheet name: spaces
// and slashes become underscores, then the result is truncated to the
// host format's limit. Truncation counts characters, not bytes, so CJK
// names are never cut mid-rune.
func SanitizeSheetName(name string) string {
	name = strings.ReplaceAll(name, " ", "_")
	name = strings.ReplaceAll(name, "/", "_")
	return truncateRunes(name, sheetNameLimit)
}

// detailSheetName sanitizes the target and disambiguates collisions with
// already-written sheets by a numeric suffix that still fits the limit.
func detailSheetName(target string, usedNames map[string]bool) string {
	base := SanitizeSheetName(target)
	name := base
	for n := 2; usedNames[name]; n++ {
		suffix := fmt.Sprintf("_%d", n)
		name = truncateRunes(base, sheetNameLimit-len(suffix)) + suffix
	}
	usedNames[name] = true
	return name
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) > limit {
		runes = runes[:limit]
	}
	return string(runes)
}

// cellString renders a result value for a cell: structured values are
// JSON-stringified, scalars pass through as text.
func cellString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case map[string]any, []any:
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(data)
	default:
		return fmt.Sprintf("%v", t)
	}
}

func copyGrid(grid [][]string) [][]string {
	out := make([][]string, len(grid))
	for i, row := range grid {
		out[i] = append([]string(nil), row...)
	}
	return out
}

// growGrid extends the grid to cover maxRow/maxCol inclusive and squares
// off ragged rows. It never truncates.
func growGrid(grid [][]string, maxRow, maxCol int) [][]string {
	for len(grid) <= maxRow {
		grid = append(grid, nil)
	}
	width := maxCol + 1
	for _, row := range grid {
		if len(row) > width {
			width = len(row)
		}
	}
	for i, row := range grid {
		for len(row) < width {
			row = append(row, "")
		}
		grid[i] = row
	}
	return grid
}

func maxValue(m map[string]int) int {
	max := 0
	for _, v := range m {
		if v > max {
			max = v
		}
	}
	return max
}
