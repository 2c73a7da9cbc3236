// Package objects turns reassembled file bytes into downloadable references
// and releases them again when the owning message is discarded.
package objects

import (
	"context"
	"errors"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ErrUnknownObject is returned by Revoke for URLs the store did not issue.
var ErrUnknownObject = errors.New("unknown object")

// Store issues URLs for stored bytes.
type Store interface {
	Put(ctx context.Context, name, mimeType string, data []byte) (string, error)
	// Revoke releases the object behind url. Revoking twice returns
	// ErrUnknownObject the second time.
	Revoke(ctx context.Context, url string) error
}

// objectName builds a collision-free name that keeps the original
// extension, so viewers can still guess the type.
func objectName(name string) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(name)))
	if len(ext) > 10 || strings.ContainsAny(ext, `/\`) {
		ext = ""
	}
	return uuid.NewString() + ext
}
