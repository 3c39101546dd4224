// Package extraction packages structured documents for the extraction
// model and makes its responses machine-usable despite prompt-compliance
// drift.
package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/chiahui-lin/specmatrix/internal/structurer"
)

// Completer is the extraction-model provider contract. Implementations
// send a system prompt plus a JSON user payload and return the raw
// response text.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userPayload string) (string, error)
}

// Payload is the request body handed to the extraction model.
type Payload struct {
	Docs         []*structurer.StructuredDocument `json:"docs"`
	Targets      PayloadTargets                   `json:"targets"`
	Options      PayloadOptions                   `json:"options"`
	ExcelContext map[string]any                   `json:"excel_context"`
}

// PayloadTargets names the query matrix: PNs are the column identities,
// Items the row identities.
type PayloadTargets struct {
	PNs   []string `json:"pns"`
	Items []string `json:"items"`
}

// PayloadOptions carries extraction hints.
type PayloadOptions struct {
	SuffixMap           map[string]string `json:"suffix_map"`
	Language            string            `json:"language"`
	ReturnSourceExcerpt bool              `json:"return_source_excerpt"`
}

// Item is one extracted field/value pair for a target.
type Item struct {
	Field      string   `json:"field"`
	Value      any      `json:"value"`
	Unit       string   `json:"unit,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
	Provenance string   `json:"provenance,omitempty"`
	Notes      string   `json:"notes,omitempty"`
}

// TargetResult groups the extracted items of one target part number.
type TargetResult struct {
	TargetPN string `json:"target_pn"`
	Items    []Item `json:"items"`
}

// Result is the parsed extractor answer. Error is set instead of Documents
// when the model call or response parsing failed; callers must check it.
type Result struct {
	Documents []TargetResult `json:"documents,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// FormatError reports a model response that could not be parsed as JSON.
// Raw retains the full response text for diagnostics.
type FormatError struct {
	Raw string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("extraction: could not parse model response (%d bytes)", len(e.Raw))
}

// DefaultLanguage is the answer language requested from the model unless
// configured otherwise.
const DefaultLanguage = "zh-TW"

// BuildPayload assembles the model request. Pure assembly: empty docs or
// targets pass through, the orchestrator rejects empty-input jobs earlier.
func BuildPayload(docs []*structurer.StructuredDocument, targets, fields []string, language string) Payload {
	if language == "" {
		language = DefaultLanguage
	}
	return Payload{
		Docs:    docs,
		Targets: PayloadTargets{PNs: targets, Items: fields},
		Options: PayloadOptions{
			SuffixMap:           map[string]string{},
			Language:            language,
			ReturnSourceExcerpt: true,
		},
		ExcelContext: map[string]any{},
	}
}

// Coordinator invokes the extraction model and recovers malformed
// responses.
type Coordinator struct {
	completer Completer
	logger    *log.Logger
}

// NewCoordinator wires a Coordinator around a Completer.
func NewCoordinator(completer Completer, logger *log.Logger) *Coordinator {
	if logger == nil {
		logger = log.New(log.Writer(), "[EXTRACT] ", log.LstdFlags)
	}
	return &Coordinator{completer: completer, logger: logger}
}

// Extract sends the payload and parses the answer. Provider and format
// failures are folded into Result.Error rather than returned as a Go
// error; an error return signals an internal fault only (payload encoding).
func (c *Coordinator) Extract(ctx context.Context, systemPrompt string, payload Payload) (Result, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Result{}, fmt.Errorf("extraction: encode payload: %w", err)
	}

	text, err := c.completer.Complete(ctx, systemPrompt, string(body))
	if err != nil {
		c.logger.Printf("model call failed: %v", err)
		return Result{Error: err.Error()}, nil
	}
	if text == "" {
		return Result{Error: "received an empty response from the extraction model"}, nil
	}

	result, err := parseResult(text)
	if err != nil {
		c.logger.Printf("response parse failed: %v", err)
		return Result{Error: err.Error()}, nil
	}
	return result, nil
}

func parseResult(text string) (Result, error) {
	var result Result
	if err := json.Unmarshal([]byte(text), &result); err == nil {
		return result, nil
	}

	block, ok := FirstJSONBlock(text)
	if !ok {
		return Result{}, &FormatError{Raw: text}
	}
	if err := json.Unmarshal([]byte(block), &result); err != nil {
		return Result{}, &FormatError{Raw: text}
	}
	return result, nil
}

// FirstJSONBlock scans text for the first balanced {...} block using brace
// depth counting. Deliberately not a JSON tokenizer: a string value
// containing an unbalanced brace defeats the scan. Kept this way on
// purpose; the fallback exists for prose-wrapped model answers, not for
// adversarial input.
func FirstJSONBlock(text string) (string, bool) {
	start := -1
	for i := 0; i < len(text); i++ {
		if text[i] == '{' {
			start = i
			break
		}
	}
	if start == -1 {
		return "", false
	}
	depth := 0
	for i := start; i < len(text); i++ {
		switch text[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}
