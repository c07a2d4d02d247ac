package imagegen

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"google.golang.org/genai"
)

// DefaultGeminiModel is the image model used when none is configured.
const DefaultGeminiModel = "gemini-3-pro-image-preview"

// contentGenerator is the subset of genai.Models used here.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiClient generates images through the Gemini API. The call is
// synchronous: the panorama comes back inline in the response.
type GeminiClient struct {
	models contentGenerator
	model  string
}

// NewGeminiClient creates a Gemini-backed generator.
func NewGeminiClient(ctx context.Context, apiKey, model string) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}
	return newGeminiClient(client.Models, model), nil
}

func newGeminiClient(models contentGenerator, model string) *GeminiClient {
	if model == "" {
		model = DefaultGeminiModel
	}
	return &GeminiClient{models: models, model: model}
}

// Generate asks the model for a single image. The requested size is passed
// as a hint in the prompt; Gemini picks its own output resolution.
func (c *GeminiClient) Generate(ctx context.Context, req Request) (Result, error) {
	prompt := req.Prompt
	if req.Size > 0 {
		prompt = fmt.Sprintf("%s\n\nOutput a single square image, %dx%d pixels.", prompt, req.Size, req.Size)
	}

	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}
	config := &genai.GenerateContentConfig{
		ResponseModalities: []string{"IMAGE"},
	}

	resp, err := c.models.GenerateContent(ctx, c.model, contents, config)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Result{}, fmt.Errorf("gemini: %w", ErrTimeout)
		}
		if isQuotaError(err) {
			return Result{}, fmt.Errorf("gemini: %w: %v", ErrRateLimited, err)
		}
		return Result{}, fmt.Errorf("gemini: generate content: %w", err)
	}
	return parseGeminiResponse(resp)
}

func parseGeminiResponse(resp *genai.GenerateContentResponse) (Result, error) {
	if resp == nil {
		return Result{}, errors.New("gemini: empty response")
	}
	if fb := resp.PromptFeedback; fb != nil && fb.BlockReason != "" {
		return Result{}, fmt.Errorf("gemini: %w: prompt blocked (%s)", ErrRejected, fb.BlockReason)
	}
	if len(resp.Candidates) == 0 {
		return Result{}, errors.New("gemini: response has no candidates")
	}

	id := resp.ResponseID
	if id == "" {
		id = uuid.New().String()
	}

	var finish string
	for _, cand := range resp.Candidates {
		if cand == nil {
			continue
		}
		finish = string(cand.FinishReason)
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part == nil || part.InlineData == nil || len(part.InlineData.Data) == 0 {
				continue
			}
			return Result{
				ImageBytes:   part.InlineData.Data,
				MIMEType:     part.InlineData.MIMEType,
				GenerationID: id,
			}, nil
		}
	}

	if isBlockedFinish(finish) {
		return Result{}, fmt.Errorf("gemini: %w: finish reason %s", ErrRejected, finish)
	}
	return Result{}, fmt.Errorf("gemini: response contained no image (finish reason %q)", finish)
}

func isBlockedFinish(reason string) bool {
	switch {
	case strings.Contains(reason, "SAFETY"),
		strings.Contains(reason, "PROHIBITED"),
		strings.Contains(reason, "BLOCKLIST"),
		strings.Contains(reason, "IMAGE_RECITATION"):
		return true
	}
	return false
}

func isQuotaError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "RESOURCE_EXHAUSTED") || strings.Contains(msg, "Error 429")
}
