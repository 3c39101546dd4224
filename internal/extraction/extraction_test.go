package extraction

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

type fakeCompleter struct {
	text string
	err  error
}

func (f fakeCompleter) Complete(ctx context.Context, systemPrompt, userPayload string) (string, error) {
	return f.text, f.err
}

func TestFirstJSONBlock(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
		ok   bool
	}{
		{"bare object", `{"a":1}`, `{"a":1}`, true},
		{"prose wrapped", "Here you go:\n```json\n{\"a\":{\"b\":2}}\n``` done", `{"a":{"b":2}}`, true},
		{"no object", "nothing here", "", false},
		{"unclosed", `prefix {"a":1`, "", false},
		{"first of two", `{"a":1} {"b":2}`, `{"a":1}`, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := FirstJSONBlock(tc.in)
			if ok != tc.ok || got != tc.want {
				t.Fatalf("FirstJSONBlock(%q) = %q, %v; want %q, %v", tc.in, got, ok, tc.want, tc.ok)
			}
		})
	}
}

func TestExtractParsesDirectJSON(t *testing.T) {
	c := NewCoordinator(fakeCompleter{text: `{"documents":[{"target_pn":"PN-1","items":[{"field":"Voltage","value":"3.3V"}]}]}`}, nil)
	res, err := c.Extract(context.Background(), "prompt", BuildPayload(nil, []string{"PN-1"}, []string{"Voltage"}, ""))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Error != "" {
		t.Fatalf("unexpected result error: %s", res.Error)
	}
	if len(res.Documents) != 1 || res.Documents[0].TargetPN != "PN-1" {
		t.Fatalf("unexpected documents: %+v", res.Documents)
	}
	if res.Documents[0].Items[0].Field != "Voltage" {
		t.Fatalf("unexpected item: %+v", res.Documents[0].Items[0])
	}
}

func TestExtractRecoversProseWrappedJSON(t *testing.T) {
	text := "Sure, here is the extraction:\n{\"documents\":[{\"target_pn\":\"X\",\"items\":[]}]}\nLet me know if you need more."
	c := NewCoordinator(fakeCompleter{text: text}, nil)
	res, err := c.Extract(context.Background(), "prompt", Payload{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Error != "" {
		t.Fatalf("unexpected result error: %s", res.Error)
	}
	if len(res.Documents) != 1 || res.Documents[0].TargetPN != "X" {
		t.Fatalf("unexpected documents: %+v", res.Documents)
	}
}

func TestExtractReportsUnparseableResponse(t *testing.T) {
	c := NewCoordinator(fakeCompleter{text: "no json at all"}, nil)
	res, err := c.Extract(context.Background(), "prompt", Payload{})
	if err != nil {
		t.Fatalf("format failures must not surface as errors, got: %v", err)
	}
	if res.Error == "" {
		t.Fatal("expected result error for unparseable response")
	}
}

func TestExtractFoldsProviderErrorIntoResult(t *testing.T) {
	c := NewCoordinator(fakeCompleter{err: errors.New("upstream 503")}, nil)
	res, err := c.Extract(context.Background(), "prompt", Payload{})
	if err != nil {
		t.Fatalf("provider failures must not surface as errors, got: %v", err)
	}
	if !strings.Contains(res.Error, "upstream 503") {
		t.Fatalf("expected provider error in result, got %q", res.Error)
	}
}

func TestExtractEmptyResponse(t *testing.T) {
	c := NewCoordinator(fakeCompleter{text: ""}, nil)
	res, err := c.Extract(context.Background(), "prompt", Payload{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Error == "" {
		t.Fatal("expected result error for empty response")
	}
}

func TestBuildPayloadDefaults(t *testing.T) {
	p := BuildPayload(nil, []string{"PN"}, []string{"F"}, "")
	if p.Options.Language != DefaultLanguage {
		t.Fatalf("expected default language, got %q", p.Options.Language)
	}
	if !p.Options.ReturnSourceExcerpt {
		t.Fatal("expected return_source_excerpt to default on")
	}
	if p.ExcelContext == nil || p.Options.SuffixMap == nil {
		t.Fatal("expected empty maps, not nil")
	}
	if len(p.Targets.PNs) != 1 || len(p.Targets.Items) != 1 {
		t.Fatalf("targets not passed through: %+v", p.Targets)
	}
}

// The example object embedded in the default prompt must parse into the
// exact shape the coordinator consumes, so a model that follows it to
// the letter produces usable documents.
func TestDefaultSystemPromptExampleMatchesResultShape(t *testing.T) {
	example, ok := FirstJSONBlock(DefaultSystemPrompt)
	if !ok {
		t.Fatal("default prompt carries no JSON example")
	}
	var res Result
	if err := json.Unmarshal([]byte(example), &res); err != nil {
		t.Fatalf("prompt example is not valid JSON: %v", err)
	}
	if len(res.Documents) == 0 {
		t.Fatal("prompt example parses to zero documents")
	}
	doc := res.Documents[0]
	if doc.TargetPN == "" {
		t.Fatalf("prompt example loses the target part number: %+v", doc)
	}
	if len(doc.Items) == 0 || doc.Items[0].Field == "" || doc.Items[0].Value == nil {
		t.Fatalf("prompt example loses the extracted items: %+v", doc)
	}
}
