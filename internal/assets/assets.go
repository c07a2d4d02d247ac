// Package assets writes generated images to durable blob storage and hands
// back their public URLs.
package assets

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
)

// ErrInvalidPath is returned for object paths that are empty, absolute, or
// escape the store root.
var ErrInvalidPath = errors.New("invalid asset path")

// Store persists objects by path. Writing the same path twice overwrites it;
// the returned URL is stable for a given path.
type Store interface {
	Put(ctx context.Context, path string, data []byte, contentType string) (string, error)
}

// PanoramaPath is where the source image of a story's vignette lives.
func PanoramaPath(storyID string) string {
	return fmt.Sprintf("vignettes/%s/panorama.png", storyID)
}

// PanelPath is where panel i of a story's vignette lives.
func PanelPath(storyID string, i int) string {
	return fmt.Sprintf("vignettes/%s/panel-%d.png", storyID, i)
}

// cleanPath validates p and returns it in canonical slash form.
func cleanPath(p string) (string, error) {
	if p == "" || strings.HasPrefix(p, "/") || strings.Contains(p, "\\") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, p)
	}
	c := path.Clean(p)
	if c == "." || c == ".." || strings.HasPrefix(c, "../") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, p)
	}
	return c, nil
}

// joinURL appends an object path to a base URL.
func joinURL(base, p string) string {
	return strings.TrimRight(base, "/") + "/" + p
}
