package sheet

import (
	"bytes"
	"context"
	"reflect"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"

	"github.com/chiahui-lin/specmatrix/internal/extraction"
)

func buildWorkbook(t *testing.T, cells map[string]any) *bytes.Reader {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	for cell, value := range cells {
		if err := f.SetCellValue("Sheet1", cell, value); err != nil {
			t.Fatal(err)
		}
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatal(err)
	}
	return bytes.NewReader(buf.Bytes())
}

func TestReadQuerySchema(t *testing.T) {
	r := buildWorkbook(t, map[string]any{
		"A1": "Item",
		"B1": "PN-100",
		"C1": "PN-200",
		"A2": "Voltage",
		"A3": "Package",
		// A4 left blank on purpose
		"A5": "Temperature Range",
	})

	wb, err := Read(r)
	if err != nil {
		t.Fatal(err)
	}
	wantFields := []string{"Item", "Voltage", "Package", "Temperature Range"}
	if !reflect.DeepEqual(wb.Schema.Fields, wantFields) {
		t.Fatalf("fields = %v, want %v", wb.Schema.Fields, wantFields)
	}
	wantTargets := []string{"PN-100", "PN-200"}
	if !reflect.DeepEqual(wb.Schema.Targets, wantTargets) {
		t.Fatalf("targets = %v, want %v", wb.Schema.Targets, wantTargets)
	}
}

func TestReadRejectsNonWorkbook(t *testing.T) {
	if _, err := Read(bytes.NewReader([]byte("not an xlsx"))); err == nil {
		t.Fatal("expected error for non-xlsx input")
	}
}

func readBack(t *testing.T, data []byte) map[string][][]string {
	t.Helper()
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	out := make(map[string][][]string)
	for _, name := range f.GetSheetList() {
		rows, err := f.GetRows(name)
		if err != nil {
			t.Fatal(err)
		}
		out[name] = rows
	}
	return out
}

func TestWriteSummaryMapsCoordinates(t *testing.T) {
	wb := &Workbook{
		Schema: QuerySchema{Fields: []string{"A", "B"}, Targets: []string{"X", "Y"}},
		Grid:   [][]string{{"A", "", ""}, {"B", "", ""}},
	}
	result := extraction.Result{Documents: []extraction.TargetResult{
		{TargetPN: "Y", Items: []extraction.Item{{Field: "A", Value: float64(5)}}},
	}}

	data, misses, err := WriteSummary(wb, result)
	if err != nil {
		t.Fatal(err)
	}
	if misses != 0 {
		t.Fatalf("expected no mapping misses, got %d", misses)
	}

	sheets := readBack(t, data)
	summary := sheets["Summary"]
	// row 0 ("A"), column 2 (1 + index of "Y")
	if got := summary[0][2]; got != "5" {
		t.Fatalf("summary[0][2] = %q, want 5", got)
	}
	if _, ok := sheets["Y"]; !ok {
		t.Fatal("expected a detail sheet for target Y")
	}
}

func TestWriteSummarySkipsUnknownFieldOrTarget(t *testing.T) {
	wb := &Workbook{
		Schema: QuerySchema{Fields: []string{"A"}, Targets: []string{"X"}},
		Grid:   [][]string{{"A", ""}},
	}
	result := extraction.Result{Documents: []extraction.TargetResult{
		{TargetPN: "X", Items: []extraction.Item{{Field: "Nope", Value: "v"}}},
		{TargetPN: "Ghost", Items: []extraction.Item{{Field: "A", Value: "v"}}},
	}}

	data, misses, err := WriteSummary(wb, result)
	if err != nil {
		t.Fatal(err)
	}
	if misses != 2 {
		t.Fatalf("expected 2 mapping misses, got %d", misses)
	}
	summary := readBack(t, data)["Summary"]
	if len(summary) > 0 && len(summary[0]) > 1 && summary[0][1] != "" {
		t.Fatalf("grid must stay unchanged for unmapped entries, got %q", summary[0][1])
	}
}

func TestWriteSummaryGrowsGrid(t *testing.T) {
	// schema larger than the original grid forces growth, never truncation
	wb := &Workbook{
		Schema: QuerySchema{
			Fields:  []string{"A", "B", "C", "D"},
			Targets: []string{"T1", "T2", "T3"},
		},
		Grid: [][]string{{"A"}},
	}
	result := extraction.Result{Documents: []extraction.TargetResult{
		{TargetPN: "T3", Items: []extraction.Item{{Field: "D", Value: "deep"}}},
	}}

	data, _, err := WriteSummary(wb, result)
	if err != nil {
		t.Fatal(err)
	}
	summary := readBack(t, data)["Summary"]
	if len(summary) < 4 {
		t.Fatalf("expected at least 4 rows, got %d", len(summary))
	}
	if got := summary[3][3]; got != "deep" {
		t.Fatalf("summary[3][3] = %q, want deep", got)
	}
}

func TestWriteSummaryStringifiesStructuredValues(t *testing.T) {
	wb := &Workbook{
		Schema: QuerySchema{Fields: []string{"A"}, Targets: []string{"X"}},
		Grid:   [][]string{{"A", ""}},
	}
	result := extraction.Result{Documents: []extraction.TargetResult{
		{TargetPN: "X", Items: []extraction.Item{{Field: "A", Value: map[string]any{"min": "1", "max": "2"}}}},
	}}

	data, _, err := WriteSummary(wb, result)
	if err != nil {
		t.Fatal(err)
	}
	got := readBack(t, data)["Summary"][0][1]
	if got != `{"max":"2","min":"1"}` {
		t.Fatalf("expected JSON-stringified value, got %q", got)
	}
}

func TestSanitizeSheetName(t *testing.T) {
	got := SanitizeSheetName("AB 12/CD 34/this name is far too long for excel sheets")
	if len(got) > 31 {
		t.Fatalf("name not truncated: %d chars", len(got))
	}
	for _, bad := range []string{" ", "/"} {
		if bytes.Contains([]byte(got), []byte(bad)) {
			t.Fatalf("name still contains %q: %q", bad, got)
		}
	}
}

func TestDetailSheetColumns(t *testing.T) {
	conf := 0.91
	wb := &Workbook{
		Schema: QuerySchema{Fields: []string{"Voltage"}, Targets: []string{"PN-1"}},
		Grid:   [][]string{{"Voltage", ""}},
	}
	result := extraction.Result{Documents: []extraction.TargetResult{{
		TargetPN: "PN-1",
		Items: []extraction.Item{{
			Field: "Voltage", Value: "3.3", Unit: "V",
			Confidence: &conf, Provenance: "page 2", Notes: "typ.",
		}},
	}}}

	data, _, err := WriteSummary(wb, result)
	if err != nil {
		t.Fatal(err)
	}
	detail := readBack(t, data)["PN-1"]
	wantHeader := []string{"Field", "Value", "Unit", "Confidence", "Provenance", "Notes"}
	if !reflect.DeepEqual(detail[0], wantHeader) {
		t.Fatalf("header = %v", detail[0])
	}
	if detail[1][0] != "Voltage" || detail[1][1] != "3.3" || detail[1][2] != "V" {
		t.Fatalf("unexpected detail row: %v", detail[1])
	}
}

type staticCompleter struct{ text string }

func (s staticCompleter) Complete(ctx context.Context, systemPrompt, userPayload string) (string, error) {
	return s.text, nil
}

// A response in exactly the shape the default prompt demands must land
// values in the summary grid, not vanish as empty documents.
func TestWriteSummaryFromPromptConformantResponse(t *testing.T) {
	response := `{"documents":[{"target_pn":"PN-100","items":[{"field":"Voltage","value":"16","unit":"V","confidence":0.9}]}]}`
	c := extraction.NewCoordinator(staticCompleter{text: response}, nil)
	res, err := c.Extract(context.Background(), extraction.DefaultSystemPrompt, extraction.Payload{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Error != "" {
		t.Fatalf("unexpected result error: %s", res.Error)
	}

	wb := &Workbook{
		Schema: QuerySchema{Fields: []string{"Voltage"}, Targets: []string{"PN-100"}},
		Grid:   [][]string{{"Voltage"}},
	}
	data, misses, err := WriteSummary(wb, res)
	if err != nil {
		t.Fatal(err)
	}
	if misses != 0 {
		t.Fatalf("expected no misses, got %d", misses)
	}
	sheets := readBack(t, data)
	summary := sheets["Summary"]
	if len(summary) == 0 || len(summary[0]) < 2 || summary[0][1] != "16" {
		t.Fatalf("value did not reach the summary grid: %v", summary)
	}
	if _, ok := sheets["PN-100"]; !ok {
		t.Fatalf("missing detail sheet, have %v", sheetNames(sheets))
	}
}

func sheetNames(sheets map[string][][]string) []string {
	names := make([]string, 0, len(sheets))
	for name := range sheets {
		names = append(names, name)
	}
	return names
}

func TestDetailSheetNameAvoidsSummaryCollision(t *testing.T) {
	wb := &Workbook{
		Schema: QuerySchema{Fields: []string{"F"}, Targets: []string{"Summary"}},
		Grid:   [][]string{{"F"}},
	}
	result := extraction.Result{Documents: []extraction.TargetResult{
		{TargetPN: "Summary", Items: []extraction.Item{{Field: "F", Value: "v"}}},
	}}
	data, _, err := WriteSummary(wb, result)
	if err != nil {
		t.Fatal(err)
	}
	sheets := readBack(t, data)
	detail, ok := sheets["Summary_2"]
	if !ok {
		t.Fatalf("expected a disambiguated detail sheet, have %v", sheetNames(sheets))
	}
	if len(detail) < 2 || detail[1][0] != "F" {
		t.Fatalf("detail rows landed elsewhere: %v", detail)
	}
	// the summary grid itself must stay headerless query data
	if len(sheets["Summary"]) > 1 {
		t.Fatalf("detail rows merged into the summary sheet: %v", sheets["Summary"])
	}
}

func TestDetailSheetNamesDedupAfterTruncation(t *testing.T) {
	long := strings.Repeat("A", 31)
	first := long + "-X"
	second := long + "-Y"
	wb := &Workbook{
		Schema: QuerySchema{Fields: []string{"F"}, Targets: []string{first, second}},
		Grid:   [][]string{{"F"}},
	}
	result := extraction.Result{Documents: []extraction.TargetResult{
		{TargetPN: first, Items: []extraction.Item{{Field: "F", Value: "1"}}},
		{TargetPN: second, Items: []extraction.Item{{Field: "F", Value: "2"}}},
	}}
	data, _, err := WriteSummary(wb, result)
	if err != nil {
		t.Fatal(err)
	}
	sheets := readBack(t, data)
	if len(sheets) != 3 {
		t.Fatalf("expected summary plus two detail sheets, have %v", sheetNames(sheets))
	}
	if _, ok := sheets[long]; !ok {
		t.Fatalf("missing truncated detail sheet, have %v", sheetNames(sheets))
	}
	if _, ok := sheets[long[:29]+"_2"]; !ok {
		t.Fatalf("missing disambiguated detail sheet, have %v", sheetNames(sheets))
	}
}

func TestSanitizeSheetNameTruncatesRunes(t *testing.T) {
	name := SanitizeSheetName(strings.Repeat("電", 40))
	if got := utf8.RuneCountInString(name); got != 31 {
		t.Fatalf("expected 31 runes, got %d", got)
	}
	if !utf8.ValidString(name) {
		t.Fatalf("truncation split a rune: %q", name)
	}
}
