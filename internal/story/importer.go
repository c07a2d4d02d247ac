package story

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"
)

const (
	maxFetchSize = 10 << 20 // 10MB
	fetchTimeout = 30 * time.Second
)

// Source types accepted by Import.
const (
	SourceText = "text"
	SourceURL  = "url"
	SourcePDF  = "pdf"
)

// ErrInvalidSource is returned for malformed import requests.
var ErrInvalidSource = errors.New("invalid story source")

// Source describes a manuscript to import. For SourcePDF, Content holds the
// base64-encoded document.
type Source struct {
	Type       string      `json:"type"`
	Title      string      `json:"title"`
	Summary    string      `json:"summary"`
	Content    string      `json:"content"`
	URL        string      `json:"url"`
	Scenes     []string    `json:"scenes"`
	Characters []Character `json:"characters"`
}

// Importer turns manuscripts into stories.
type Importer struct {
	httpClient *http.Client
}

// NewImporter creates an Importer. A nil client uses a default with a 30s timeout.
func NewImporter(client *http.Client) *Importer {
	if client == nil {
		client = &http.Client{Timeout: fetchTimeout}
	}
	return &Importer{httpClient: client}
}

// Import extracts text from src and returns a new, unsaved Story. When src
// has no explicit scenes, the manuscript's paragraphs become the scenes.
func (im *Importer) Import(ctx context.Context, src Source) (Story, error) {
	var text string
	var err error

	switch src.Type {
	case SourceText, "":
		text = src.Content
	case SourceURL:
		if src.URL == "" {
			return Story{}, fmt.Errorf("%w: url is required for type url", ErrInvalidSource)
		}
		text, err = im.fetch(ctx, src.URL)
	case SourcePDF:
		var data []byte
		data, err = base64.StdEncoding.DecodeString(src.Content)
		if err != nil {
			return Story{}, fmt.Errorf("%w: pdf content is not valid base64", ErrInvalidSource)
		}
		text, err = PDFText(data)
	default:
		return Story{}, fmt.Errorf("%w: unknown type %q", ErrInvalidSource, src.Type)
	}
	if err != nil {
		return Story{}, err
	}

	text = strings.TrimSpace(text)
	scenes := src.Scenes
	if len(scenes) == 0 {
		scenes = Paragraphs(text)
	}
	if text == "" && len(scenes) == 0 {
		return Story{}, fmt.Errorf("%w: no story text", ErrInvalidSource)
	}

	title := strings.TrimSpace(src.Title)
	if title == "" {
		title = firstLine(text, 80)
	}

	source := src.Type
	if source == "" {
		source = SourceText
	}
	if src.URL != "" {
		source = src.URL
	}

	return Story{
		ID:         uuid.New().String(),
		Title:      title,
		Summary:    strings.TrimSpace(src.Summary),
		Content:    text,
		Scenes:     scenes,
		Characters: src.Characters,
		Source:     source,
	}, nil
}

func (im *Importer) fetch(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSource, err)
	}
	resp, err := im.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: fetching %s: status %d", ErrInvalidSource, url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchSize))
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", url, err)
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	switch {
	case mediaType == "application/pdf" || bytes.HasPrefix(body, []byte("%PDF-")):
		return PDFText(body)
	case mediaType == "text/html" || mediaType == "application/xhtml+xml":
		return HTMLText(string(body))
	default:
		return string(body), nil
	}
}

// PDFText extracts the plain text of a PDF document.
func PDFText(data []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: reading pdf: %v", ErrInvalidSource, err)
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("%w: extracting pdf text: %v", ErrInvalidSource, err)
	}
	text, err := io.ReadAll(plain)
	if err != nil {
		return "", fmt.Errorf("reading pdf text: %w", err)
	}
	return string(text), nil
}

var multiNewline = regexp.MustCompile(`\n{3,}`)

// HTMLText returns the readable text of an HTML page, one paragraph per
// block element.
func HTMLText(src string) (string, error) {
	doc, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return "", fmt.Errorf("%w: parsing html: %v", ErrInvalidSource, err)
	}
	var sb strings.Builder
	extractText(doc, &sb, 0)

	var lines []string
	for _, line := range strings.Split(sb.String(), "\n") {
		lines = append(lines, strings.Join(strings.Fields(line), " "))
	}
	out := multiNewline.ReplaceAllString(strings.Join(lines, "\n"), "\n\n")
	return strings.TrimSpace(out), nil
}

func extractText(n *html.Node, sb *strings.Builder, depth int) {
	if depth > 64 {
		return
	}
	switch n.Type {
	case html.TextNode:
		sb.WriteString(n.Data)
	case html.ElementNode:
		switch n.Data {
		case "script", "style", "noscript", "iframe", "svg", "nav", "footer", "header", "title":
			return
		case "p", "div", "h1", "h2", "h3", "h4", "h5", "h6", "li", "blockquote", "section", "article":
			sb.WriteString("\n\n")
			defer sb.WriteString("\n\n")
		case "br":
			sb.WriteString("\n")
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		extractText(c, sb, depth+1)
	}
}

func firstLine(text string, max int) string {
	line, _, _ := strings.Cut(text, "\n")
	line = strings.TrimSpace(line)
	if r := []rune(line); len(r) > max {
		line = strings.TrimSpace(string(r[:max])) + "…"
	}
	if line == "" {
		return "Untitled story"
	}
	return line
}
