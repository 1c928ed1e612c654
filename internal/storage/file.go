package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// FileBundleStore keeps the bundle in a single file, replaced atomically.
type FileBundleStore struct {
	path string
}

func NewFileBundleStore(path string) *FileBundleStore {
	return &FileBundleStore{path: path}
}

func (f *FileBundleStore) Path() string { return f.path }

func (f *FileBundleStore) WriteBundle(_ context.Context, data []byte) error {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return err
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(name)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return err
	}
	if err := os.Rename(name, f.path); err != nil {
		os.Remove(name)
		return fmt.Errorf("replace bundle %s: %w", f.path, err)
	}
	return nil
}

func (f *FileBundleStore) ReadBundle(_ context.Context) ([]byte, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoBundle
	}
	return data, err
}
