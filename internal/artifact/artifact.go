// Package artifact registers job output files under opaque handles for
// later retrieval. Handles have no expiry; retention is left to the
// backing (disk cleanup or bucket lifecycle rules).
package artifact

import (
	"context"
	"errors"
)

// ErrNotFound reports an unknown artifact handle.
var ErrNotFound = errors.New("artifact: not found")

// Registry stores output artifacts and serves them back by handle.
type Registry interface {
	// Put stores data under a fresh opaque handle. name is the original
	// filename, preserved for the download response.
	Put(ctx context.Context, name string, data []byte) (handle string, err error)
	// Open returns the artifact bytes and original filename for handle.
	Open(ctx context.Context, handle string) (data []byte, name string, err error)
}
