// Package storage maps opaque storage keys to blob bytes. It knows nothing
// about tokens, encryption or entry metadata.
package storage

import (
	"errors"
	"fmt"

	"github.com/zots0127/filevault/pkg/config"
)

// ErrNotFound indicates no blob exists for the given key.
var ErrNotFound = errors.New("storage: blob not found")

// Store is the blob backend: create/read/overwrite/delete by key.
// Put on an existing key overwrites. Delete on a missing key is a no-op.
type Store interface {
	Put(key string, data []byte) error
	Get(key string) ([]byte, error)
	Delete(key string) error
	Exists(key string) bool
}

// New builds the backend selected by the configuration.
func New(cfg *config.Config) (Store, error) {
	switch cfg.Storage.Backend {
	case config.BackendLocal:
		return NewLocal(cfg.Storage.Path)
	case config.BackendS3:
		return NewS3(
			cfg.Storage.S3.Endpoint,
			cfg.Storage.S3.Region,
			cfg.Storage.S3.Bucket,
			cfg.Storage.S3.AccessKey,
			cfg.Storage.S3.SecretKey,
		)
	default:
		return nil, fmt.Errorf("storage: unknown backend %q", cfg.Storage.Backend)
	}
}
