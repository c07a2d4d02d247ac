package assets

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const uploadTimeout = 60 * time.Second

// HTTPStore uploads to an object-storage REST API:
// POST {endpoint}/object/{bucket}/{path} with upsert enabled. Objects are
// served from {endpoint}/object/public/{bucket}/{path}.
type HTTPStore struct {
	endpoint   string
	bucket     string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPStore creates a store for bucket at endpoint.
func NewHTTPStore(endpoint, bucket, apiKey string) *HTTPStore {
	return &HTTPStore{
		endpoint:   strings.TrimRight(endpoint, "/"),
		bucket:     bucket,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: uploadTimeout},
	}
}

// Put uploads data, overwriting any existing object at p.
func (s *HTTPStore) Put(ctx context.Context, p string, data []byte, contentType string) (string, error) {
	clean, err := cleanPath(p)
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/object/%s/%s", s.endpoint, s.bucket, clean)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("creating upload request: %w", err)
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("x-upsert", "true")
	req.Header.Set("Cache-Control", "max-age=3600")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
		req.Header.Set("apikey", s.apiKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("uploading %s: %w", clean, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("uploading %s: unexpected status %d: %s", clean, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	return fmt.Sprintf("%s/object/public/%s/%s", s.endpoint, s.bucket, clean), nil
}
