package storage

import (
	"fmt"
	"os"
	"path/filepath"
)

// Local stores blobs on the filesystem, sharded two levels deep by key
// prefix to keep directory sizes bounded.
type Local struct {
	basePath string
}

func NewLocal(basePath string) (*Local, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("storage: creating base dir: %w", err)
	}
	return &Local{basePath: basePath}, nil
}

func (l *Local) Put(key string, data []byte) error {
	targetPath := l.blobPath(key)
	if err := os.MkdirAll(filepath.Dir(targetPath), 0755); err != nil {
		return err
	}

	// Write to a temp file first so a crash never leaves a partial blob
	// under the final key.
	tempFile, err := os.CreateTemp(l.basePath, "upload-*")
	if err != nil {
		return err
	}
	defer os.Remove(tempFile.Name())

	if _, err := tempFile.Write(data); err != nil {
		tempFile.Close()
		return err
	}
	if err := tempFile.Close(); err != nil {
		return err
	}

	return os.Rename(tempFile.Name(), targetPath)
}

func (l *Local) Get(key string) ([]byte, error) {
	data, err := os.ReadFile(l.blobPath(key))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	return data, err
}

func (l *Local) Delete(key string) error {
	if err := os.Remove(l.blobPath(key)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (l *Local) Exists(key string) bool {
	_, err := os.Stat(l.blobPath(key))
	return err == nil
}

func (l *Local) blobPath(key string) string {
	if len(key) < 4 {
		return filepath.Join(l.basePath, key)
	}
	return filepath.Join(l.basePath, key[:2], key[2:4], key)
}
