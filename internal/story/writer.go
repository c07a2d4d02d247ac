package story

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/storynest/vignette/internal/llm"
)

// SceneCount is the number of scenes a written story must have.
const SceneCount = 9

const writeTimeout = 90 * time.Second

// ErrBadDraft is returned when the model's answer cannot be used as a story.
var ErrBadDraft = errors.New("unusable story draft")

// Completer is the interface for chat completion.
type Completer interface {
	Complete(ctx context.Context, req llm.ChatRequest) (string, error)
}

// Writer asks an LLM to write a nine-scene picture-book story.
type Writer struct {
	client Completer
	model  string
}

// NewWriter creates a Writer using the given completion client and model.
func NewWriter(client Completer, model string) *Writer {
	return &Writer{client: client, model: model}
}

type draft struct {
	Title      string      `json:"title"`
	Summary    string      `json:"summary"`
	Scenes     []string    `json:"scenes"`
	Characters []Character `json:"characters"`
}

// Write generates a new story from free-form parameters such as childName,
// age, theme and setting. The returned story has a fresh ID and exactly
// SceneCount scenes; it is not persisted.
func (w *Writer) Write(ctx context.Context, params map[string]any) (Story, error) {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	temp := 0.8
	raw, err := w.client.Complete(ctx, llm.ChatRequest{
		Model:          w.model,
		Messages:       BuildWriterPrompt(params),
		Temperature:    &temp,
		ResponseFormat: &llm.ResponseFormat{Type: "json_object"},
	})
	if err != nil {
		return Story{}, fmt.Errorf("writing story: %w", err)
	}

	var d draft
	if err := json.Unmarshal([]byte(stripFences(raw)), &d); err != nil {
		slog.Warn("failed to unmarshal story draft", "error", err, "response", raw)
		return Story{}, fmt.Errorf("%w: %v", ErrBadDraft, err)
	}

	scenes := make([]string, 0, len(d.Scenes))
	for _, s := range d.Scenes {
		if s = strings.TrimSpace(s); s != "" {
			scenes = append(scenes, s)
		}
	}
	if len(scenes) < SceneCount {
		return Story{}, fmt.Errorf("%w: got %d scenes, want %d", ErrBadDraft, len(scenes), SceneCount)
	}
	if strings.TrimSpace(d.Title) == "" {
		return Story{}, fmt.Errorf("%w: missing title", ErrBadDraft)
	}
	scenes = scenes[:SceneCount]

	return Story{
		ID:         uuid.New().String(),
		Title:      strings.TrimSpace(d.Title),
		Summary:    strings.TrimSpace(d.Summary),
		Content:    strings.Join(scenes, "\n\n"),
		Scenes:     scenes,
		Characters: d.Characters,
		Source:     "generated",
	}, nil
}

const writerSystemPrompt = `You are a children's picture-book author. Write a short, warm, age-appropriate story told in exactly nine scenes. Your output must be ONLY a single valid JSON object. Do not include any other text, prose, or markdown.

Schema:
{"title": string, "summary": string, "scenes": [9 strings], "characters": [{"name": string, "appearance": string}]}

Rules:
- Each scene is one or two sentences describing a single visual moment an illustrator can draw.
- Scenes follow each other in time; scene 9 resolves the story.
- List every recurring character with a concrete visual description (species or age, hair or fur, clothing, colors).
- Never include violence, fear, or anything unsuitable for young children.`

// BuildWriterPrompt constructs the chat messages for story writing.
func BuildWriterPrompt(params map[string]any) []llm.Message {
	var sb strings.Builder
	sb.WriteString("Write a story with these details:\n")

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := params[k]
		switch val := v.(type) {
		case string:
			if strings.TrimSpace(val) == "" {
				continue
			}
			fmt.Fprintf(&sb, "- %s: %s\n", k, val)
		default:
			b, err := json.Marshal(val)
			if err != nil {
				continue
			}
			fmt.Fprintf(&sb, "- %s: %s\n", k, b)
		}
	}
	if len(keys) == 0 {
		sb.WriteString("- (none given: invent a gentle bedtime adventure)\n")
	}

	return []llm.Message{
		{Role: "system", Content: writerSystemPrompt},
		{Role: "user", Content: sb.String()},
	}
}

// stripFences removes a surrounding markdown code fence some models add
// despite instructions.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
