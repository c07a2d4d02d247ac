package assets

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// LocalStore keeps assets on the local filesystem. The API server exposes
// Root under publicBaseURL.
type LocalStore struct {
	root          string
	publicBaseURL string
}

// NewLocalStore creates a store rooted at dir, creating it if needed.
func NewLocalStore(dir, publicBaseURL string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating asset directory: %w", err)
	}
	return &LocalStore{root: dir, publicBaseURL: publicBaseURL}, nil
}

// Root is the directory assets are written under.
func (s *LocalStore) Root() string {
	return s.root
}

// Put writes data to a temp file beside the target and renames it into
// place, so readers never see a half-written image.
func (s *LocalStore) Put(ctx context.Context, p string, data []byte, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	clean, err := cleanPath(p)
	if err != nil {
		return "", err
	}

	dst := filepath.Join(s.root, filepath.FromSlash(clean))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", fmt.Errorf("creating directory for %s: %w", clean, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("creating temp file for %s: %w", clean, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("writing %s: %w", clean, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("closing %s: %w", clean, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return "", fmt.Errorf("setting permissions on %s: %w", clean, err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		return "", fmt.Errorf("renaming %s into place: %w", clean, err)
	}

	return joinURL(s.publicBaseURL, clean), nil
}
