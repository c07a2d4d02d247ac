// Package prompt builds the text-to-image prompt for a storybook panorama:
// nine sequential scenes laid out as a 3x3 grid in one square image.
package prompt

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/storynest/vignette/internal/story"
)

// SceneCount is the number of scenes one panorama holds.
const SceneCount = 9

const defaultStyle = "soft watercolor picture-book illustration"

// ErrTooFewScenes is returned when a story cannot be broken into SceneCount
// distinct beats.
var ErrTooFewScenes = errors.New("too few story scenes")

// Policy decides what happens when a story has fewer than SceneCount beats.
type Policy string

const (
	// PolicyStrict rejects stories with fewer than SceneCount beats.
	PolicyStrict Policy = "strict"
	// PolicySplit breaks long beats on sentence boundaries before giving up.
	PolicySplit Policy = "split"
)

// ParsePolicy validates a configured policy name. Empty means strict.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyStrict:
		return PolicyStrict, nil
	case PolicySplit:
		return PolicySplit, nil
	}
	return "", fmt.Errorf("unknown scene policy %q (want strict or split)", s)
}

// Builder assembles panorama prompts.
type Builder struct {
	Style  string
	Policy Policy
}

// New creates a Builder. An empty style falls back to the picture-book default.
func New(style string, policy Policy) *Builder {
	if strings.TrimSpace(style) == "" {
		style = defaultStyle
	}
	if policy == "" {
		policy = PolicyStrict
	}
	return &Builder{Style: style, Policy: policy}
}

// Build returns the prompt for st. Scenes come from st.Scenes when present,
// otherwise from the paragraphs of st.Content.
func (b *Builder) Build(st story.Story) (string, error) {
	beats, err := b.Beats(st)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString("Create ONE square illustration divided into a 3x3 grid of nine equally sized square panels. ")
	sb.WriteString("Panels touch edge to edge: no borders, no gutters, no margins, no captions, no text or lettering anywhere. ")
	sb.WriteString("Read the grid left to right, top to bottom; each panel shows one moment of the story in order.\n")

	if st.Title != "" {
		fmt.Fprintf(&sb, "\nStory: %q", st.Title)
		if st.Summary != "" {
			fmt.Fprintf(&sb, " - %s", st.Summary)
		}
		sb.WriteString("\n")
	}

	if chars := describeCharacters(st.Characters); chars != "" {
		sb.WriteString("\n[Characters]\n")
		sb.WriteString("Draw every character identically in every panel they appear in: same face, hair, clothing, colors and proportions.\n")
		sb.WriteString(chars)
	}

	sb.WriteString("\n[Panels]\n")
	for i, beat := range beats {
		fmt.Fprintf(&sb, "%d. (row %d, column %d) %s\n", i+1, i/3+1, i%3+1, beat)
	}

	fmt.Fprintf(&sb, "\n[Style]\n%s. Consistent palette and lighting across all nine panels, gentle and child-friendly.\n", b.Style)

	return sb.String(), nil
}

// Beats returns exactly SceneCount scene descriptions for st. More beats than
// that are merged into contiguous groups; fewer are handled per b.Policy.
func (b *Builder) Beats(st story.Story) ([]string, error) {
	beats := clean(st.Scenes)
	if len(beats) == 0 {
		beats = story.Paragraphs(st.Content)
	}

	if len(beats) < SceneCount && b.Policy == PolicySplit {
		var sentences []string
		for _, beat := range beats {
			sentences = append(sentences, splitSentences(beat)...)
		}
		beats = sentences
	}

	if len(beats) < SceneCount {
		return nil, fmt.Errorf("%w: found %d, need %d", ErrTooFewScenes, len(beats), SceneCount)
	}
	return group(beats, SceneCount), nil
}

func clean(in []string) []string {
	var out []string
	for _, s := range in {
		s = strings.Join(strings.Fields(s), " ")
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

var sentenceEnd = regexp.MustCompile(`[.!?]+["')\]]*\s+`)

func splitSentences(text string) []string {
	var out []string
	last := 0
	for _, loc := range sentenceEnd.FindAllStringIndex(text, -1) {
		if s := strings.TrimSpace(text[last:loc[1]]); s != "" {
			out = append(out, s)
		}
		last = loc[1]
	}
	if s := strings.TrimSpace(text[last:]); s != "" {
		out = append(out, s)
	}
	return out
}

// group merges beats into n contiguous, nearly equal groups, keeping order.
// The first len(beats)%n groups get one extra beat.
func group(beats []string, n int) []string {
	if len(beats) == n {
		return beats
	}
	out := make([]string, 0, n)
	size, extra := len(beats)/n, len(beats)%n
	i := 0
	for g := 0; g < n; g++ {
		k := size
		if g < extra {
			k++
		}
		out = append(out, strings.Join(beats[i:i+k], " "))
		i += k
	}
	return out
}

func describeCharacters(chars []story.Character) string {
	var sb strings.Builder
	for _, c := range chars {
		name := strings.TrimSpace(c.Name)
		look := strings.TrimSpace(c.Appearance)
		switch {
		case name == "" && look == "":
			continue
		case look == "":
			fmt.Fprintf(&sb, "- %s\n", name)
		case name == "":
			fmt.Fprintf(&sb, "- %s\n", look)
		default:
			fmt.Fprintf(&sb, "- %s: %s\n", name, look)
		}
	}
	return sb.String()
}
