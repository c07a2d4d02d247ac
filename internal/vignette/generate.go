package vignette

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/storynest/vignette/internal/story"
)

// StoryWriter writes a new story from free-form parameters.
type StoryWriter interface {
	Write(ctx context.Context, params map[string]any) (story.Story, error)
}

// GenerateResult is a freshly written story together with its panels.
type GenerateResult struct {
	StoryID string   `json:"storyId"`
	Title   string   `json:"title"`
	Summary string   `json:"summary"`
	Scenes  []string `json:"scenes"`
	Panels  []Panel  `json:"panels"`
}

// Generator writes a story, stores it, then splices it.
type Generator struct {
	writer  StoryWriter
	store   Store
	splicer *Splicer
}

// NewGenerator creates a Generator.
func NewGenerator(writer StoryWriter, store Store, splicer *Splicer) *Generator {
	return &Generator{writer: writer, store: store, splicer: splicer}
}

// Generate runs the whole flow for params. The story is saved before
// splicing starts, so a failed splice can be retried by storyId.
func (g *Generator) Generate(ctx context.Context, params map[string]any) (GenerateResult, error) {
	st, err := g.writer.Write(ctx, params)
	if err != nil {
		return GenerateResult{}, newError(KindGenerationFailed, "write story", err)
	}

	rec, err := st.Record()
	if err != nil {
		return GenerateResult{}, newError(KindInternal, "write story", err)
	}
	if err := g.store.SaveStory(rec); err != nil {
		return GenerateResult{}, newError(KindPersistenceFailed, "save story", fmt.Errorf("saving story: %w", err))
	}
	slog.Info("story written", "story_id", st.ID, "title", st.Title)

	res, err := g.splicer.Splice(ctx, st.ID)
	if err != nil {
		return GenerateResult{}, err
	}

	return GenerateResult{
		StoryID: st.ID,
		Title:   st.Title,
		Summary: st.Summary,
		Scenes:  st.Scenes,
		Panels:  res.Panels,
	}, nil
}
