package story

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/storynest/vignette/internal/llm"
)

// mockCompleter implements Completer for testing.
type mockCompleter struct {
	response string
	err      error
	delay    time.Duration

	got llm.ChatRequest
}

func (m *mockCompleter) Complete(ctx context.Context, req llm.ChatRequest) (string, error) {
	m.got = req
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return m.response, m.err
}

func draftJSON(t *testing.T, scenes int) string {
	t.Helper()
	d := draft{
		Title:      "Mia and the Cloud Whale",
		Summary:    "Mia befriends a whale made of clouds.",
		Characters: []Character{{Name: "Mia", Appearance: "six-year-old girl, curly black hair, yellow raincoat"}},
	}
	for i := 1; i <= scenes; i++ {
		d.Scenes = append(d.Scenes, fmt.Sprintf("Scene %d.", i))
	}
	b, err := json.Marshal(d)
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

func TestWrite_NineScenes(t *testing.T) {
	mock := &mockCompleter{response: draftJSON(t, 9)}
	w := NewWriter(mock, "anthropic/claude-sonnet-4")

	st, err := w.Write(context.Background(), map[string]any{"childName": "Mia", "age": 6})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if st.ID == "" {
		t.Error("expected an id")
	}
	if st.Title != "Mia and the Cloud Whale" {
		t.Errorf("Title = %q", st.Title)
	}
	if len(st.Scenes) != 9 {
		t.Fatalf("scenes = %d, want 9", len(st.Scenes))
	}
	if st.Source != "generated" {
		t.Errorf("Source = %q", st.Source)
	}
	if len(st.Characters) != 1 || st.Characters[0].Name != "Mia" {
		t.Errorf("Characters = %+v", st.Characters)
	}
	if mock.got.Model != "anthropic/claude-sonnet-4" {
		t.Errorf("model = %q", mock.got.Model)
	}
	if mock.got.ResponseFormat == nil || mock.got.ResponseFormat.Type != "json_object" {
		t.Error("expected json_object response format")
	}
}

func TestWrite_TrimsExtraScenes(t *testing.T) {
	st, err := NewWriter(&mockCompleter{response: draftJSON(t, 12)}, "m").Write(context.Background(), nil)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if len(st.Scenes) != 9 || st.Scenes[8] != "Scene 9." {
		t.Errorf("scenes = %v", st.Scenes)
	}
}

func TestWrite_CodeFence(t *testing.T) {
	resp := "```json\n" + draftJSON(t, 9) + "\n```"
	if _, err := NewWriter(&mockCompleter{response: resp}, "m").Write(context.Background(), nil); err != nil {
		t.Fatalf("Write: %v", err)
	}
}

func TestWrite_BadDrafts(t *testing.T) {
	tests := []struct {
		name     string
		response string
	}{
		{"too few scenes", draftJSON(t, 7)},
		{"not json", "Once upon a time..."},
		{"missing title", `{"scenes":["1","2","3","4","5","6","7","8","9"]}`},
		{"blank scenes", `{"title":"x","scenes":["1","2","3","4","5","6","7","8"," "]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewWriter(&mockCompleter{response: tt.response}, "m").Write(context.Background(), nil)
			if !errors.Is(err, ErrBadDraft) {
				t.Errorf("err = %v, want ErrBadDraft", err)
			}
		})
	}
}

func TestWrite_ClientError(t *testing.T) {
	_, err := NewWriter(&mockCompleter{err: errors.New("boom")}, "m").Write(context.Background(), nil)
	if err == nil || errors.Is(err, ErrBadDraft) {
		t.Fatalf("err = %v, want client error", err)
	}
}

func TestBuildWriterPrompt(t *testing.T) {
	msgs := BuildWriterPrompt(map[string]any{
		"theme":     "friendship",
		"childName": "Mia",
		"age":       6,
		"empty":     " ",
	})
	if len(msgs) != 2 || msgs[0].Role != "system" || msgs[1].Role != "user" {
		t.Fatalf("messages = %+v", msgs)
	}
	user := msgs[1].Content
	for _, want := range []string{"- age: 6\n", "- childName: Mia\n", "- theme: friendship\n"} {
		if !strings.Contains(user, want) {
			t.Errorf("user prompt missing %q:\n%s", want, user)
		}
	}
	if strings.Contains(user, "empty") {
		t.Error("blank parameters should be skipped")
	}
	if strings.Index(user, "age") > strings.Index(user, "theme") {
		t.Error("parameters should be sorted")
	}
}

func TestBuildWriterPrompt_NoParams(t *testing.T) {
	msgs := BuildWriterPrompt(nil)
	if !strings.Contains(msgs[1].Content, "invent") {
		t.Errorf("user prompt = %q", msgs[1].Content)
	}
}
