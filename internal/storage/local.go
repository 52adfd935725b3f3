package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"rotor/internal/domain"
)

// Compile-time interface check.
var _ domain.ObjectStore = (*LocalStore)(nil)

// LocalStore keeps objects as files under a base directory. Backtests use it
// in place of S3.
type LocalStore struct {
	dir string
}

// NewLocalStore creates the base directory if needed.
func NewLocalStore(dir string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	return &LocalStore{dir: dir}, nil
}

// Upload writes the object file, creating parent directories for nested keys.
func (s *LocalStore) Upload(_ context.Context, key string, data []byte) error {
	path := filepath.Join(s.dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create object directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// Download reads the object file, mapping absence to domain.ErrNotFound.
func (s *LocalStore) Download(_ context.Context, key string) ([]byte, error) {
	path := filepath.Join(s.dir, filepath.FromSlash(key))
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%s: %w", key, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}
