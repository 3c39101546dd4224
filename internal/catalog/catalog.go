// Package catalog persists the part/spec/alias knowledge base that
// extraction results can be curated into.
package catalog

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Spec statuses as curated by reviewers.
const (
	SpecStatusConfirmed = "confirmed"
	SpecStatusEdited    = "edited"
	SpecStatusIncorrect = "incorrect"
	SpecStatusPending   = "pending"
)

// ErrNotFound reports an unknown part number.
var ErrNotFound = errors.New("catalog: part not found")

// SourceFile records where a spec value came from.
type SourceFile struct {
	Filename   string    `json:"filename"`
	UploadedAt time.Time `json:"uploadedAt"`
}

// SpecItem is one curated attribute of a part.
type SpecItem struct {
	Key           string       `json:"key"`
	Value         string       `json:"value"`
	Unit          string       `json:"unit,omitempty"`
	Aliases       []string     `json:"aliases,omitempty"`
	Status        string       `json:"status"`
	SourceFiles   []SourceFile `json:"sourceFiles,omitempty"`
	Notes         string       `json:"notes,omitempty"`
	LastUpdatedAt time.Time    `json:"lastUpdatedAt"`
	LastUpdatedBy string       `json:"lastUpdatedBy"`
}

// Part is one catalog entry with its spec set.
type Part struct {
	PartNo       string     `json:"partNo"`
	Manufacturer string     `json:"manufacturer,omitempty"`
	Specs        []SpecItem `json:"specs"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// FieldAlias maps spelling variants onto one canonical field name.
type FieldAlias struct {
	Canonical string   `json:"canonical"`
	Aliases   []string `json:"aliases"`
}

// PartsRepo stores parts and their specs.
type PartsRepo interface {
	GetPart(ctx context.Context, partNo string) (*Part, error)
	// UpsertSpecs replaces or appends the given specs per key. The part
	// row is created on first write.
	UpsertSpecs(ctx context.Context, partNo string, items []SpecItem, actor, sourceFilename string) error
	// MarkIncorrect flags the named spec keys without deleting them.
	MarkIncorrect(ctx context.Context, partNo string, keys []string, note, actor string) error
}

// AliasRepo resolves field spelling variants to canonical names.
type AliasRepo interface {
	// Resolve maps each candidate to its canonical form; candidates with
	// no known alias are absent from the result. First match wins.
	Resolve(ctx context.Context, candidates []string) (map[string]string, error)
	// BatchUpsert stores alias sets, ensuring each canonical name also
	// resolves to itself.
	BatchUpsert(ctx context.Context, items []FieldAlias) error
}

// Normalize canonicalizes a key or part number for storage and lookup:
// trim, lowercase, collapse runs of whitespace, and drop the spaces
// around parentheses.
func Normalize(text string) string {
	text = strings.TrimSpace(text)
	text = strings.ToLower(text)
	text = strings.Join(strings.Fields(text), " ")
	text = strings.ReplaceAll(text, " (", "(")
	text = strings.ReplaceAll(text, ") ", ")")
	return text
}
