package imagegen

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultPollInterval = 2 * time.Second
	maxImageSize        = 64 << 20 // 64MB
)

// Job states reported by the generation API.
const (
	statusQueued    = "queued"
	statusRunning   = "running"
	statusSucceeded = "succeeded"
	statusFailed    = "failed"
	statusRejected  = "rejected"
)

// HTTPClient drives an asynchronous generation API: a job is submitted with
// POST {base}/generations and polled with GET {base}/generations/{id}.
type HTTPClient struct {
	baseURL      string
	apiKey       string
	pollInterval time.Duration
	httpClient   *http.Client
}

// NewHTTPClient creates a client for the generation API at baseURL.
// If pollInterval is <= 0, it defaults to 2s.
func NewHTTPClient(baseURL, apiKey string, pollInterval time.Duration) *HTTPClient {
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	return &HTTPClient{
		baseURL:      strings.TrimRight(baseURL, "/"),
		apiKey:       apiKey,
		pollInterval: pollInterval,
		httpClient:   &http.Client{Timeout: 60 * time.Second},
	}
}

type generationRequest struct {
	Prompt string `json:"prompt"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// generation mirrors the job resource returned by both submit and poll.
type generation struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	ImageURL string `json:"image_url,omitempty"`
	Image    string `json:"image,omitempty"` // base64
	MIMEType string `json:"mime_type,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Generate submits the prompt and polls until the job settles or ctx ends.
func (c *HTTPClient) Generate(ctx context.Context, req Request) (Result, error) {
	job, err := c.submit(ctx, req)
	if err != nil {
		return Result{}, err
	}

	for {
		switch job.Status {
		case statusSucceeded:
			return c.collect(ctx, job)
		case statusFailed:
			return Result{}, fmt.Errorf("generation %s failed: %s", job.ID, job.Error)
		case statusRejected:
			return Result{}, fmt.Errorf("generation %s: %w: %s", job.ID, ErrRejected, job.Error)
		case statusQueued, statusRunning, "":
		default:
			return Result{}, fmt.Errorf("generation %s: unknown status %q", job.ID, job.Status)
		}

		select {
		case <-ctx.Done():
			return Result{}, ctxError(ctx, job.ID)
		case <-time.After(c.pollInterval):
		}

		job, err = c.poll(ctx, job.ID)
		if err != nil {
			return Result{}, err
		}
	}
}

func (c *HTTPClient) submit(ctx context.Context, req Request) (generation, error) {
	body, err := json.Marshal(generationRequest{Prompt: req.Prompt, Width: req.Size, Height: req.Size})
	if err != nil {
		return generation{}, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/generations", bytes.NewReader(body))
	if err != nil {
		return generation{}, fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(httpReq)

	job, err := c.do(ctx, httpReq, "")
	if err != nil {
		return generation{}, err
	}
	if job.ID == "" {
		return generation{}, fmt.Errorf("submit: response missing generation id")
	}
	return job, nil
}

func (c *HTTPClient) poll(ctx context.Context, id string) (generation, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/generations/"+id, nil)
	if err != nil {
		return generation{}, fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(httpReq)

	job, err := c.do(ctx, httpReq, id)
	if err != nil {
		return generation{}, err
	}
	if job.ID == "" {
		job.ID = id
	}
	return job, nil
}

func (c *HTTPClient) do(ctx context.Context, req *http.Request, id string) (generation, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return generation{}, ctxError(ctx, id)
		}
		return generation{}, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return generation{}, fmt.Errorf("%w (HTTP %d)", ErrRateLimited, resp.StatusCode)
	case resp.StatusCode == http.StatusUnprocessableEntity:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return generation{}, fmt.Errorf("%w: %s", ErrRejected, strings.TrimSpace(string(msg)))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return generation{}, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var job generation
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		if ctx.Err() != nil {
			return generation{}, ctxError(ctx, id)
		}
		return generation{}, fmt.Errorf("decoding generation: %w", err)
	}
	return job, nil
}

func (c *HTTPClient) collect(ctx context.Context, job generation) (Result, error) {
	res := Result{GenerationID: job.ID, ImageURL: job.ImageURL, MIMEType: job.MIMEType}

	if job.Image != "" {
		data, err := base64.StdEncoding.DecodeString(job.Image)
		if err != nil {
			return Result{}, fmt.Errorf("generation %s: decoding inline image: %w", job.ID, err)
		}
		res.ImageBytes = data
		if res.MIMEType == "" {
			res.MIMEType = http.DetectContentType(data)
		}
		return res, nil
	}

	if job.ImageURL == "" {
		return Result{}, fmt.Errorf("generation %s succeeded without an image", job.ID)
	}

	data, mimeType, err := Fetch(ctx, c.httpClient, job.ImageURL)
	if err != nil {
		return Result{}, fmt.Errorf("generation %s: %w", job.ID, err)
	}
	res.ImageBytes = data
	if res.MIMEType == "" {
		res.MIMEType = mimeType
	}
	return res, nil
}

func (c *HTTPClient) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

// Fetch downloads an image URL, returning its bytes and content type.
func Fetch(ctx context.Context, client *http.Client, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("creating image request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("downloading image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("downloading image: unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageSize+1))
	if err != nil {
		return nil, "", fmt.Errorf("reading image: %w", err)
	}
	if len(data) > maxImageSize {
		return nil, "", fmt.Errorf("image exceeds %d bytes", maxImageSize)
	}

	mimeType := resp.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	return data, mimeType, nil
}

func ctxError(ctx context.Context, id string) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("generation %s: %w", id, ErrTimeout)
	}
	return ctx.Err()
}
