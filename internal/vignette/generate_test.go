package vignette

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/storynest/vignette/internal/imagegen"
	"github.com/storynest/vignette/internal/story"
)

type fakeWriter struct {
	st  story.Story
	err error
}

func (f *fakeWriter) Write(ctx context.Context, params map[string]any) (story.Story, error) {
	return f.st, f.err
}

func writtenStory(id string) story.Story {
	scenes := make([]string, 9)
	for i := range scenes {
		scenes[i] = fmt.Sprintf("Moment %d.", i+1)
	}
	return story.Story{
		ID:      id,
		Title:   "Mia and the Cloud Whale",
		Summary: "A gentle sky adventure.",
		Scenes:  scenes,
	}
}

func TestGenerate_WritesSavesAndSplices(t *testing.T) {
	store := openTestStore(t)
	gen := &fakeGenerator{genFn: succeed(panoramaPNG(t, 9), "gen-1")}
	sp := newTestSplicer(store, gen, newFakeAssets(), Options{})
	g := NewGenerator(&fakeWriter{st: writtenStory("new-1")}, store, sp)

	res, err := g.Generate(context.Background(), map[string]any{"childName": "Mia"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.StoryID != "new-1" || res.Title != "Mia and the Cloud Whale" || res.Summary == "" {
		t.Errorf("result = %+v", res)
	}
	if len(res.Scenes) != 9 || len(res.Panels) != 9 {
		t.Errorf("scenes=%d panels=%d, want 9/9", len(res.Scenes), len(res.Panels))
	}

	rec, err := store.GetStory("new-1")
	if err != nil {
		t.Fatalf("story not saved: %v", err)
	}
	if rec.Title != "Mia and the Cloud Whale" {
		t.Errorf("saved title = %q", rec.Title)
	}
}

func TestGenerate_WriterFailure(t *testing.T) {
	store := openTestStore(t)
	gen := &fakeGenerator{genFn: succeed(panoramaPNG(t, 9), "g")}
	g := NewGenerator(&fakeWriter{err: story.ErrBadDraft}, store, newTestSplicer(store, gen, newFakeAssets(), Options{}))

	_, err := g.Generate(context.Background(), nil)
	if KindOf(err) != KindGenerationFailed || !errors.Is(err, story.ErrBadDraft) {
		t.Fatalf("err = %v, want GenerationFailed wrapping ErrBadDraft", err)
	}
	if gen.callCount() != 0 {
		t.Error("image generator should not run")
	}
}

func TestGenerate_SpliceFailureKeepsStory(t *testing.T) {
	store := openTestStore(t)
	gen := &fakeGenerator{genFn: func(context.Context, int) (imagegen.Result, error) {
		return imagegen.Result{}, errors.New("provider down")
	}}
	g := NewGenerator(&fakeWriter{st: writtenStory("new-2")}, store, newTestSplicer(store, gen, newFakeAssets(), Options{MaxAttempts: 1}))

	_, err := g.Generate(context.Background(), nil)
	if KindOf(err) != KindGenerationFailed {
		t.Fatalf("kind = %v, want GenerationFailed", KindOf(err))
	}
	if _, err := store.GetStory("new-2"); err != nil {
		t.Errorf("story should stay saved for a retry: %v", err)
	}
}
