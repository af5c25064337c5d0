package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const maxNameAttempts = 10

var _ Backend = (*FilesystemStorage)(nil)

// FilesystemStorage stores files on local disk
type FilesystemStorage struct {
	basePath string // e.g., "./data/files"
	baseURL  string // e.g., "/files/"
}

func NewFilesystemStorage(basePath, baseURL string) (*FilesystemStorage, error) {
	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}
	// Create directory if it doesn't exist
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &FilesystemStorage{basePath: abs, baseURL: baseURL}, nil
}

func (fs *FilesystemStorage) Name() string { return "filesystem" }

// resolve maps a storage name to a path under basePath.
func (fs *FilesystemStorage) resolve(name string) (string, error) {
	clean, err := cleanName(name)
	if err != nil {
		return "", err
	}
	full := filepath.Join(fs.basePath, filepath.FromSlash(clean))
	if !strings.HasPrefix(full, fs.basePath+string(filepath.Separator)) {
		return "", ErrInvalidName
	}
	return full, nil
}

func (fs *FilesystemStorage) Save(ctx context.Context, name string, r io.Reader, _ int64, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	candidate := name
	for attempt := 0; attempt < maxNameAttempts; attempt++ {
		full, err := fs.resolve(candidate)
		if err != nil {
			return "", err
		}
		if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
			return "", fmt.Errorf("create directory: %w", err)
		}
		// O_EXCL keeps two uploads from claiming the same name.
		f, err := os.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if errors.Is(err, os.ErrExist) {
			candidate = alternativeName(name)
			continue
		}
		if err != nil {
			return "", fmt.Errorf("create file: %w", err)
		}
		if _, err := io.Copy(f, r); err != nil {
			f.Close()
			os.Remove(full)
			return "", fmt.Errorf("write file: %w", err)
		}
		if err := f.Close(); err != nil {
			os.Remove(full)
			return "", fmt.Errorf("close file: %w", err)
		}
		return candidate, nil
	}
	return "", fmt.Errorf("no free name for %s", name)
}

func (fs *FilesystemStorage) Open(_ context.Context, name string) (io.ReadCloser, int64, error) {
	full, err := fs.resolve(name)
	if err != nil {
		return nil, 0, err
	}
	f, err := os.Open(full)
	if err != nil {
		return nil, 0, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	return f, info.Size(), nil
}

func (fs *FilesystemStorage) Delete(_ context.Context, name string) error {
	full, err := fs.resolve(name)
	if err != nil {
		return err
	}
	err = os.Remove(full)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func (fs *FilesystemStorage) Exists(_ context.Context, name string) (bool, error) {
	full, err := fs.resolve(name)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(full)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func (fs *FilesystemStorage) URL(_ context.Context, name string) (string, error) {
	clean, err := cleanName(name)
	if err != nil {
		return "", err
	}
	return fs.baseURL + escapeKey(clean), nil
}
