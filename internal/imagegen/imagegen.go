// Package imagegen talks to text-to-image providers.
package imagegen

import (
	"context"
	"errors"
)

var (
	// ErrRejected is returned when the provider refuses a prompt on content grounds.
	ErrRejected = errors.New("prompt rejected by provider")
	// ErrRateLimited is returned when the provider signals quota or rate exhaustion.
	ErrRateLimited = errors.New("provider rate limited")
	// ErrTimeout is returned when a generation does not finish before the deadline.
	ErrTimeout = errors.New("generation timed out")
)

// Request describes one square image to generate.
type Request struct {
	Prompt string
	Size   int // side length in pixels
}

// Result is a finished generation. ImageBytes is always populated; ImageURL
// is set when the provider hosts the image itself.
type Result struct {
	ImageBytes   []byte
	ImageURL     string
	MIMEType     string
	GenerationID string
}

// Generator produces an image for a prompt, blocking until the provider
// reports completion or failure.
type Generator interface {
	Generate(ctx context.Context, req Request) (Result, error)
}

// IsRetryable reports whether err is worth another attempt. Content
// rejections are final; everything else may be transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRejected) || errors.Is(err, context.Canceled) {
		return false
	}
	return true
}
