// Package storage stores uploaded media, deployment bundles and backups.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/zaqqye/clubhub_backend/internal/config"
)

// ErrNotFound is returned when an object does not exist.
var ErrNotFound = errors.New("object not found")

// Storage is a flat key/value object store.
type Storage interface {
	Put(ctx context.Context, key string, r io.Reader, contentType string) (int64, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	// URL returns the address clients use to fetch the object.
	URL(key string) string
}

// New builds the backend selected by STORAGE_BACKEND.
func New(cfg *config.Config) (Storage, error) {
	switch cfg.StorageBackend {
	case "azblob":
		return NewAzureStorage(cfg.AzureConnectionString, cfg.AzureContainer, cfg.AzurePublicURL)
	case "local", "":
		return NewLocalStorage(cfg.StorageRoot, cfg.PublicBaseURL+"/media"), nil
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", cfg.StorageBackend)
	}
}
