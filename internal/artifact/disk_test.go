package artifact

import (
	"context"
	"errors"
	"testing"
)

func TestDiskRoundTrip(t *testing.T) {
	ctx := context.Background()
	d, err := NewDisk(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	handle, err := d.Put(ctx, "summary_20240101.xlsx", []byte("workbook-bytes"))
	if err != nil {
		t.Fatal(err)
	}
	if handle == "" {
		t.Fatal("expected non-empty handle")
	}

	data, name, err := d.Open(ctx, handle)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "workbook-bytes" {
		t.Fatalf("unexpected bytes: %q", data)
	}
	if name != "summary_20240101.xlsx" {
		t.Fatalf("unexpected name: %q", name)
	}
}

func TestDiskUnknownHandle(t *testing.T) {
	d, err := NewDisk(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := d.Open(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDiskSanitizesFilename(t *testing.T) {
	ctx := context.Background()
	d, err := NewDisk(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	handle, err := d.Put(ctx, "../../etc/passwd", []byte("x"))
	if err != nil {
		t.Fatal(err)
	}
	_, name, err := d.Open(ctx, handle)
	if err != nil {
		t.Fatal(err)
	}
	if name != "passwd" {
		t.Fatalf("expected base name only, got %q", name)
	}
}

func TestDiskReindexesExistingArtifacts(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	first, err := NewDisk(dir)
	if err != nil {
		t.Fatal(err)
	}
	handle, err := first.Put(ctx, "report.xlsx", []byte("persisted"))
	if err != nil {
		t.Fatal(err)
	}

	second, err := NewDisk(dir)
	if err != nil {
		t.Fatal(err)
	}
	data, name, err := second.Open(ctx, handle)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "persisted" || name != "report.xlsx" {
		t.Fatalf("reindex failed: %q %q", data, name)
	}
}
