package artifact

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Disk stores artifacts as files under a base directory, one subdirectory
// per handle so original filenames survive round trips.
type Disk struct {
	baseDir string

	mu    sync.RWMutex
	names map[string]string // handle -> original filename
}

var _ Registry = (*Disk)(nil)

// NewDisk creates the base directory if needed and indexes any artifacts
// already present from a previous run.
func NewDisk(baseDir string) (*Disk, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("artifact: create dir: %w", err)
	}
	d := &Disk{baseDir: baseDir, names: make(map[string]string)}

	entries, err := os.ReadDir(baseDir)
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		files, err := os.ReadDir(filepath.Join(baseDir, entry.Name()))
		if err != nil || len(files) == 0 {
			continue
		}
		d.names[entry.Name()] = files[0].Name()
	}
	return d, nil
}

func (d *Disk) Put(ctx context.Context, name string, data []byte) (string, error) {
	handle := uuid.New().String()
	name = sanitizeFilename(name)

	dir := filepath.Join(d.baseDir, handle)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("artifact: create handle dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		return "", fmt.Errorf("artifact: write: %w", err)
	}

	d.mu.Lock()
	d.names[handle] = name
	d.mu.Unlock()
	return handle, nil
}

func (d *Disk) Open(ctx context.Context, handle string) ([]byte, string, error) {
	d.mu.RLock()
	name, ok := d.names[handle]
	d.mu.RUnlock()
	if !ok {
		return nil, "", ErrNotFound
	}
	data, err := os.ReadFile(filepath.Join(d.baseDir, handle, name))
	if os.IsNotExist(err) {
		return nil, "", ErrNotFound
	}
	if err != nil {
		return nil, "", err
	}
	return data, name, nil
}

// sanitizeFilename keeps the artifact name safe as a single path element.
func sanitizeFilename(name string) string {
	name = filepath.Base(name)
	name = strings.ReplaceAll(name, string(os.PathSeparator), "_")
	if name == "" || name == "." || name == ".." {
		name = "artifact.bin"
	}
	return name
}
