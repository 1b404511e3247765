// Package uploads stores and removes user-submitted files.
package uploads

import (
	"context"
	"io"
	"path/filepath"

	"github.com/google/uuid"
)

// Store persists uploaded files and returns serveable paths.
type Store interface {
	// Save writes the file under the given name and returns the public path,
	// e.g. "/uploads/<name>".
	Save(ctx context.Context, name string, r io.Reader, size int64, contentType string) (string, error)
	// Remove deletes a previously stored file by its public path. Removing a
	// path that does not exist is not an error.
	Remove(ctx context.Context, storedPath string) error
}

// NewName returns a unique stored filename preserving the original extension.
func NewName(original string) string {
	return uuid.NewString() + filepath.Ext(original)
}
