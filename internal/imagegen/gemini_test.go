package imagegen

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"google.golang.org/genai"
)

type fakeModels struct {
	resp *genai.GenerateContentResponse
	err  error

	gotModel    string
	gotPrompt   string
	gotModality []string
}

func (f *fakeModels) GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.gotModel = model
	if len(contents) > 0 && len(contents[0].Parts) > 0 {
		f.gotPrompt = contents[0].Parts[0].Text
	}
	if config != nil {
		f.gotModality = config.ResponseModalities
	}
	if f.err == nil && f.resp == nil {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.resp, f.err
}

func imageResponse(id string, data []byte) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		ResponseID: id,
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{
				{Text: "here you go"},
				{InlineData: &genai.Blob{MIMEType: "image/png", Data: data}},
			}},
			FinishReason: genai.FinishReasonStop,
		}},
	}
}

func TestGeminiClient_ReturnsInlineImage(t *testing.T) {
	fake := &fakeModels{resp: imageResponse("resp-1", pngMagic)}
	c := newGeminiClient(fake, "")

	res, err := c.Generate(context.Background(), Request{Prompt: "nine scenes", Size: 3072})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if fake.gotModel != DefaultGeminiModel {
		t.Errorf("model = %q, want %q", fake.gotModel, DefaultGeminiModel)
	}
	if !strings.HasPrefix(fake.gotPrompt, "nine scenes") || !strings.Contains(fake.gotPrompt, "3072x3072") {
		t.Errorf("prompt = %q", fake.gotPrompt)
	}
	if len(fake.gotModality) != 1 || fake.gotModality[0] != "IMAGE" {
		t.Errorf("modalities = %v, want [IMAGE]", fake.gotModality)
	}
	if res.GenerationID != "resp-1" {
		t.Errorf("GenerationID = %q, want resp-1", res.GenerationID)
	}
	if string(res.ImageBytes) != string(pngMagic) || res.MIMEType != "image/png" {
		t.Errorf("result = %+v", res)
	}
}

func TestGeminiClient_GeneratesIDWhenMissing(t *testing.T) {
	c := newGeminiClient(&fakeModels{resp: imageResponse("", pngMagic)}, "m")

	res, err := c.Generate(context.Background(), Request{Prompt: "p"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.GenerationID == "" {
		t.Error("expected a generated id")
	}
}

func TestGeminiClient_Rejections(t *testing.T) {
	tests := []struct {
		name string
		resp *genai.GenerateContentResponse
	}{
		{"blocked prompt", &genai.GenerateContentResponse{
			PromptFeedback: &genai.GenerateContentResponsePromptFeedback{BlockReason: genai.BlockedReasonSafety},
		}},
		{"safety finish", &genai.GenerateContentResponse{
			Candidates: []*genai.Candidate{{FinishReason: genai.FinishReasonSafety}},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newGeminiClient(&fakeModels{resp: tt.resp}, "m").Generate(context.Background(), Request{Prompt: "p"})
			if !errors.Is(err, ErrRejected) {
				t.Fatalf("err = %v, want ErrRejected", err)
			}
		})
	}
}

func TestGeminiClient_NoImage(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content:      &genai.Content{Parts: []*genai.Part{{Text: "I cannot draw"}}},
			FinishReason: genai.FinishReasonStop,
		}},
	}
	_, err := newGeminiClient(&fakeModels{resp: resp}, "m").Generate(context.Background(), Request{Prompt: "p"})
	if err == nil || errors.Is(err, ErrRejected) {
		t.Fatalf("err = %v, want plain failure", err)
	}
}

func TestGeminiClient_QuotaIsRateLimited(t *testing.T) {
	fake := &fakeModels{err: errors.New("Error 429, Message: quota, Status: RESOURCE_EXHAUSTED")}
	_, err := newGeminiClient(fake, "m").Generate(context.Background(), Request{Prompt: "p"})
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}
}

func TestGeminiClient_DeadlineIsTimeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := newGeminiClient(&fakeModels{}, "m").Generate(ctx, Request{Prompt: "p"})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
}

func TestNewGeminiClient_RequiresKey(t *testing.T) {
	if _, err := NewGeminiClient(context.Background(), "", "m"); err == nil {
		t.Fatal("expected error without api key")
	}
}
