// Package storage provides a path-addressed store for uploaded chest images.
package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/pneumonia-screening-server/internal/domain"
)

// FileStore keeps image blobs as flat files under a media directory,
// addressed by a generated opaque identifier.
type FileStore struct {
	dir string
}

// NewFileStore creates the media directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating media directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Save streams the upload to disk and returns its identifier. The original
// filename contributes only its extension; the identifier is generated.
func (s *FileStore) Save(ctx context.Context, filename string, r io.Reader) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	id := uuid.New().String() + ext

	f, err := os.Create(filepath.Join(s.dir, id))
	if err != nil {
		return "", fmt.Errorf("creating image file: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("writing image file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("closing image file: %w", err)
	}
	return id, nil
}

// Open resolves an identifier to its stored bytes.
func (s *FileStore) Open(ctx context.Context, id string) (io.ReadCloser, error) {
	// Identifiers are flat; anything path-like is rejected outright.
	if id == "" || id != filepath.Base(id) || strings.HasPrefix(id, ".") {
		return nil, fmt.Errorf("image %q: %w", id, domain.ErrNotFound)
	}

	f, err := os.Open(filepath.Join(s.dir, id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("image %q: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("opening image file: %w", err)
	}
	return f, nil
}
