// Package story holds the storybook domain model and the ways a story
// enters the system: manuscript import and LLM-written stories.
package story

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/storynest/vignette/internal/storage"
)

// Character describes how a recurring character looks so every panel can
// draw them the same way.
type Character struct {
	Name       string `json:"name"`
	Appearance string `json:"appearance"`
}

// Story is a manuscript plus the structured data the panel pipeline needs.
type Story struct {
	ID         string      `json:"id"`
	Title      string      `json:"title"`
	Summary    string      `json:"summary"`
	Content    string      `json:"content,omitempty"`
	Scenes     []string    `json:"scenes"`
	Characters []Character `json:"characters"`
	Source     string      `json:"source,omitempty"`
	CreatedAt  time.Time   `json:"createdAt"`
	UpdatedAt  time.Time   `json:"updatedAt"`
}

// FromRecord decodes a stored row.
func FromRecord(rec storage.Story) (Story, error) {
	st := Story{
		ID:        rec.ID,
		Title:     rec.Title,
		Summary:   rec.Summary,
		Content:   rec.Content,
		Source:    rec.Source,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}
	if rec.Scenes != "" {
		if err := json.Unmarshal([]byte(rec.Scenes), &st.Scenes); err != nil {
			return Story{}, fmt.Errorf("decoding scenes for story %s: %w", rec.ID, err)
		}
	}
	if rec.Characters != "" {
		if err := json.Unmarshal([]byte(rec.Characters), &st.Characters); err != nil {
			return Story{}, fmt.Errorf("decoding characters for story %s: %w", rec.ID, err)
		}
	}
	return st, nil
}

// Record encodes the story for storage.
func (s Story) Record() (storage.Story, error) {
	scenes := s.Scenes
	if scenes == nil {
		scenes = []string{}
	}
	chars := s.Characters
	if chars == nil {
		chars = []Character{}
	}
	scenesJSON, err := json.Marshal(scenes)
	if err != nil {
		return storage.Story{}, fmt.Errorf("encoding scenes: %w", err)
	}
	charsJSON, err := json.Marshal(chars)
	if err != nil {
		return storage.Story{}, fmt.Errorf("encoding characters: %w", err)
	}
	return storage.Story{
		ID:         s.ID,
		Title:      s.Title,
		Summary:    s.Summary,
		Content:    s.Content,
		Scenes:     string(scenesJSON),
		Characters: string(charsJSON),
		Source:     s.Source,
		CreatedAt:  s.CreatedAt,
		UpdatedAt:  s.UpdatedAt,
	}, nil
}

// Paragraphs splits text on blank lines, dropping empty paragraphs and
// collapsing inner whitespace.
func Paragraphs(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var out []string
	for _, block := range strings.Split(text, "\n\n") {
		p := strings.Join(strings.Fields(block), " ")
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
