package prompt

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/storynest/vignette/internal/story"
)

func nineScenes() []string {
	s := make([]string, 9)
	for i := range s {
		s[i] = fmt.Sprintf("scene %d", i+1)
	}
	return s
}

func TestBuild_ContainsGridScenesAndCharacters(t *testing.T) {
	b := New("", PolicyStrict)
	st := story.Story{
		Title:   "Pip and the Moon",
		Summary: "A rabbit visits the moon.",
		Scenes:  nineScenes(),
		Characters: []story.Character{
			{Name: "Pip", Appearance: "small white rabbit with a red scarf"},
			{Name: "Luna"},
		},
	}

	got, err := b.Build(st)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	for _, want := range []string{
		"3x3 grid",
		"nine equally sized square panels",
		`Story: "Pip and the Moon"`,
		"- Pip: small white rabbit with a red scarf",
		"- Luna\n",
		"1. (row 1, column 1) scene 1",
		"5. (row 2, column 2) scene 5",
		"9. (row 3, column 3) scene 9",
		defaultStyle,
	} {
		if !strings.Contains(got, want) {
			t.Errorf("prompt missing %q\n%s", want, got)
		}
	}

	// Panels appear in reading order.
	prev := -1
	for i := 1; i <= 9; i++ {
		idx := strings.Index(got, fmt.Sprintf("scene %d\n", i))
		if idx <= prev {
			t.Fatalf("scene %d out of order", i)
		}
		prev = idx
	}
}

func TestBuild_NoCharactersSection(t *testing.T) {
	got, err := New("ink", PolicyStrict).Build(story.Story{Scenes: nineScenes()})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if strings.Contains(got, "[Characters]") {
		t.Error("unexpected characters section")
	}
	if !strings.Contains(got, "[Style]\nink.") {
		t.Errorf("custom style missing:\n%s", got)
	}
}

func TestBeats_FromParagraphs(t *testing.T) {
	var paras []string
	for i := 1; i <= 9; i++ {
		paras = append(paras, fmt.Sprintf("Paragraph %d\n  continues here.", i))
	}
	st := story.Story{Content: strings.Join(paras, "\n\n")}

	beats, err := New("", PolicyStrict).Beats(st)
	if err != nil {
		t.Fatalf("Beats: %v", err)
	}
	if beats[0] != "Paragraph 1 continues here." {
		t.Errorf("beats[0] = %q", beats[0])
	}
	if len(beats) != 9 {
		t.Errorf("len = %d, want 9", len(beats))
	}
}

func TestBeats_MergesExtra(t *testing.T) {
	scenes := make([]string, 11)
	for i := range scenes {
		scenes[i] = fmt.Sprintf("b%d", i)
	}

	beats, err := New("", PolicyStrict).Beats(story.Story{Scenes: scenes})
	if err != nil {
		t.Fatalf("Beats: %v", err)
	}
	want := []string{"b0 b1", "b2 b3", "b4", "b5", "b6", "b7", "b8", "b9", "b10"}
	if !reflect.DeepEqual(beats, want) {
		t.Errorf("beats = %v, want %v", beats, want)
	}
}

func TestBeats_StrictRejectsFewScenes(t *testing.T) {
	st := story.Story{Scenes: []string{"One. Two. Three.", "Four. Five. Six.", "Seven. Eight. Nine."}}

	_, err := New("", PolicyStrict).Beats(st)
	if !errors.Is(err, ErrTooFewScenes) {
		t.Fatalf("err = %v, want ErrTooFewScenes", err)
	}
}

func TestBeats_SplitUsesSentences(t *testing.T) {
	st := story.Story{Scenes: []string{"One. Two! Three?", "Four. \"Five.\" Six.", "Seven. Eight. Nine."}}

	beats, err := New("", PolicySplit).Beats(st)
	if err != nil {
		t.Fatalf("Beats: %v", err)
	}
	want := []string{"One.", "Two!", "Three?", "Four.", "\"Five.\"", "Six.", "Seven.", "Eight.", "Nine."}
	if !reflect.DeepEqual(beats, want) {
		t.Errorf("beats = %v, want %v", beats, want)
	}
}

func TestBeats_SplitStillRejects(t *testing.T) {
	st := story.Story{Content: "Only one sentence here."}

	_, err := New("", PolicySplit).Beats(st)
	if !errors.Is(err, ErrTooFewScenes) {
		t.Fatalf("err = %v, want ErrTooFewScenes", err)
	}
}

func TestBeats_IgnoresBlankScenes(t *testing.T) {
	scenes := append(nineScenes()[:8], "   ", "")
	if _, err := New("", PolicyStrict).Beats(story.Story{Scenes: scenes}); !errors.Is(err, ErrTooFewScenes) {
		t.Fatalf("err = %v, want ErrTooFewScenes", err)
	}
}

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    Policy
		wantErr bool
	}{
		{"", PolicyStrict, false},
		{"strict", PolicyStrict, false},
		{" Split ", PolicySplit, false},
		{"pad", "", true},
	}
	for _, tt := range tests {
		got, err := ParsePolicy(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParsePolicy(%q) err = %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParsePolicy(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
