package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// LocalStorage is a storage implementation that stores objects on the local
// filesystem.
type LocalStorage struct {
	root    string
	baseURL string
}

var _ Storage = (*LocalStorage)(nil)

func NewLocalStorage(root, baseURL string) *LocalStorage {
	return &LocalStorage{root: root, baseURL: strings.TrimSuffix(baseURL, "/")}
}

// Root returns the directory objects are written under.
func (l *LocalStorage) Root() string {
	return l.root
}

// Put implements Storage.
func (l *LocalStorage) Put(_ context.Context, key string, r io.Reader, _ string) (int64, error) {
	name, err := l.fixPath(key)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(name), 0o755); err != nil {
		return 0, fmt.Errorf("failed to create directory for %s: %w", key, err)
	}

	f, err := os.Create(name)
	if err != nil {
		return 0, fmt.Errorf("failed to create file %s: %w", key, err)
	}
	defer f.Close()
	n, err := io.Copy(f, r)
	if err != nil {
		return n, fmt.Errorf("failed to copy data to file %s: %w", key, err)
	}
	return n, nil
}

// Open implements Storage.
func (l *LocalStorage) Open(_ context.Context, key string) (io.ReadCloser, error) {
	name, err := l.fixPath(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to open file %s: %w", key, err)
	}
	return f, nil
}

// Delete implements Storage.
func (l *LocalStorage) Delete(_ context.Context, key string) error {
	name, err := l.fixPath(key)
	if err != nil {
		return err
	}
	if err := os.Remove(name); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to remove file %s: %w", key, err)
	}
	return nil
}

// URL implements Storage.
func (l *LocalStorage) URL(key string) string {
	return l.baseURL + "/" + strings.TrimPrefix(path.Clean("/"+key), "/")
}

// fixPath maps a slash separated key below root, rejecting keys that escape it.
func (l *LocalStorage) fixPath(key string) (string, error) {
	clean := path.Clean("/" + key)
	if clean == "/" {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	return filepath.Join(l.root, filepath.FromSlash(strings.TrimPrefix(clean, "/"))), nil
}
