// Package objectstore holds the raw bytes of uploaded files and their image
// derivatives. Records in the metadata repository point at objects by path.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"filesmanager/internal/config"
)

// ErrNotFound is returned when no object exists at the requested path.
var ErrNotFound = errors.New("object not found")

// Store is a flat namespace of opaque objects. Put overwrites.
type Store interface {
	// NewPath returns a fresh, collision-free path for a new object.
	NewPath() string
	Put(ctx context.Context, path string, data []byte) error
	Get(ctx context.Context, path string) ([]byte, error)
	Exists(ctx context.Context, path string) (bool, error)
	Delete(ctx context.Context, path string) error
}

// VariantPath derives the path of the width-pixel derivative of path.
func VariantPath(path string, width int) string {
	return fmt.Sprintf("%s_%d", path, width)
}

// New builds the store selected by cfg.ObjectStore.Backend.
func New(ctx context.Context, cfg *config.Config) (Store, error) {
	switch strings.ToLower(cfg.ObjectStore.Backend) {
	case "", "local":
		return NewLocalStore(cfg.BasicConfig.FolderPath)
	case "s3":
		return NewS3Store(ctx, cfg.ObjectStore.S3)
	default:
		return nil, fmt.Errorf("unsupported object store backend: %s", cfg.ObjectStore.Backend)
	}
}
