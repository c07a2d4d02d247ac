package story

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
)

func TestImport_Text(t *testing.T) {
	im := NewImporter(nil)
	st, err := im.Import(context.Background(), Source{
		Type:       SourceText,
		Title:      "Pip",
		Content:    "Pip wakes up.\n\nPip eats a carrot.",
		Characters: []Character{{Name: "Pip"}},
	})
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if st.ID == "" || st.Title != "Pip" || st.Source != SourceText {
		t.Errorf("story = %+v", st)
	}
	want := []string{"Pip wakes up.", "Pip eats a carrot."}
	if !reflect.DeepEqual(st.Scenes, want) {
		t.Errorf("Scenes = %q, want %q", st.Scenes, want)
	}
}

func TestImport_ExplicitScenesWin(t *testing.T) {
	st, err := NewImporter(nil).Import(context.Background(), Source{
		Content: "one long paragraph",
		Scenes:  []string{"a", "b"},
	})
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if !reflect.DeepEqual(st.Scenes, []string{"a", "b"}) {
		t.Errorf("Scenes = %q", st.Scenes)
	}
	if st.Title != "one long paragraph" {
		t.Errorf("Title = %q, want first line", st.Title)
	}
}

func TestImport_URL_HTML(t *testing.T) {
	page := `<html><head><title>ignored</title><style>p{}</style></head>
<body><nav>menu</nav><h1>The Snail Race</h1>
<p>Sam the snail
   lines up.</p><script>alert(1)</script>
<p>The race <b>begins</b>.</p></body></html>`

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, page)
	}))
	defer srv.Close()

	st, err := NewImporter(srv.Client()).Import(context.Background(), Source{Type: SourceURL, URL: srv.URL})
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	want := []string{"The Snail Race", "Sam the snail lines up.", "The race begins."}
	if !reflect.DeepEqual(st.Scenes, want) {
		t.Errorf("Scenes = %q, want %q", st.Scenes, want)
	}
	if st.Title != "The Snail Race" {
		t.Errorf("Title = %q", st.Title)
	}
	if st.Source != srv.URL {
		t.Errorf("Source = %q", st.Source)
	}
}

func TestImport_URL_PlainText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprint(w, "First.\n\nSecond.")
	}))
	defer srv.Close()

	st, err := NewImporter(srv.Client()).Import(context.Background(), Source{Type: SourceURL, URL: srv.URL})
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if len(st.Scenes) != 2 {
		t.Errorf("Scenes = %q", st.Scenes)
	}
}

func TestImport_URL_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := NewImporter(srv.Client()).Import(context.Background(), Source{Type: SourceURL, URL: srv.URL})
	if !errors.Is(err, ErrInvalidSource) {
		t.Fatalf("err = %v, want ErrInvalidSource", err)
	}
}

func TestImport_Invalid(t *testing.T) {
	tests := []struct {
		name string
		src  Source
	}{
		{"unknown type", Source{Type: "docx", Content: "x"}},
		{"url missing", Source{Type: SourceURL}},
		{"empty text", Source{Type: SourceText, Content: "   "}},
		{"pdf bad base64", Source{Type: SourcePDF, Content: "%%%"}},
		{"pdf not a pdf", Source{Type: SourcePDF, Content: base64.StdEncoding.EncodeToString([]byte("hello world, not a pdf"))}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewImporter(nil).Import(context.Background(), tt.src)
			if !errors.Is(err, ErrInvalidSource) {
				t.Errorf("err = %v, want ErrInvalidSource", err)
			}
		})
	}
}

func TestHTMLText_BreaksAndLists(t *testing.T) {
	got, err := HTMLText(`<ul><li>one</li><li>two</li></ul>line<br>next`)
	if err != nil {
		t.Fatalf("HTMLText: %v", err)
	}
	want := "one\n\ntwo\n\nline\nnext"
	if got != want {
		t.Errorf("HTMLText = %q, want %q", got, want)
	}
}
