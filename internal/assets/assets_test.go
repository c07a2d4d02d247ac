package assets

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestPaths(t *testing.T) {
	if got := PanoramaPath("s1"); got != "vignettes/s1/panorama.png" {
		t.Errorf("PanoramaPath = %q", got)
	}
	if got := PanelPath("s1", 8); got != "vignettes/s1/panel-8.png" {
		t.Errorf("PanelPath = %q", got)
	}
}

func TestLocalStore_PutAndOverwrite(t *testing.T) {
	dir := t.TempDir()
	s, err := NewLocalStore(dir, "http://localhost:4100/assets/")
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}

	url, err := s.Put(context.Background(), PanelPath("s1", 0), []byte("first"), "image/png")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if url != "http://localhost:4100/assets/vignettes/s1/panel-0.png" {
		t.Errorf("url = %q", url)
	}

	url2, err := s.Put(context.Background(), PanelPath("s1", 0), []byte("second"), "image/png")
	if err != nil {
		t.Fatalf("second Put: %v", err)
	}
	if url2 != url {
		t.Errorf("url changed on overwrite: %q vs %q", url2, url)
	}

	got, err := os.ReadFile(filepath.Join(dir, "vignettes", "s1", "panel-0.png"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "second" {
		t.Errorf("content = %q, want second", got)
	}

	entries, err := os.ReadDir(filepath.Join(dir, "vignettes", "s1"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("dir has %d entries, want 1 (no leftover temp files)", len(entries))
	}
}

func TestLocalStore_RejectsBadPaths(t *testing.T) {
	s, err := NewLocalStore(t.TempDir(), "http://x")
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range []string{"", "/etc/passwd", "../escape.png", "a/../../b", ".", `a\b`} {
		if _, err := s.Put(context.Background(), p, []byte("x"), ""); !errors.Is(err, ErrInvalidPath) {
			t.Errorf("Put(%q) err = %v, want ErrInvalidPath", p, err)
		}
	}
}

func TestLocalStore_CancelledContext(t *testing.T) {
	s, err := NewLocalStore(t.TempDir(), "http://x")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Put(ctx, "a.png", []byte("x"), ""); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestHTTPStore_Put(t *testing.T) {
	var gotPath, gotUpsert, gotAuth, gotType, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		gotPath = r.URL.Path
		gotUpsert = r.Header.Get("x-upsert")
		gotAuth = r.Header.Get("Authorization")
		gotType = r.Header.Get("Content-Type")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.Write([]byte(`{"Key":"storybooks/vignettes/s1/panel-3.png"}`))
	}))
	defer srv.Close()

	s := NewHTTPStore(srv.URL+"/storage/v1/", "storybooks", "svc-key")
	url, err := s.Put(context.Background(), PanelPath("s1", 3), []byte("png-bytes"), "image/png")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	if gotPath != "/storage/v1/object/storybooks/vignettes/s1/panel-3.png" {
		t.Errorf("path = %q", gotPath)
	}
	if gotUpsert != "true" {
		t.Errorf("x-upsert = %q", gotUpsert)
	}
	if gotAuth != "Bearer svc-key" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotType != "image/png" || gotBody != "png-bytes" {
		t.Errorf("type=%q body=%q", gotType, gotBody)
	}
	want := srv.URL + "/storage/v1/object/public/storybooks/vignettes/s1/panel-3.png"
	if url != want {
		t.Errorf("url = %q, want %q", url, want)
	}
}

func TestHTTPStore_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error":"row-level security"}`))
	}))
	defer srv.Close()

	if _, err := NewHTTPStore(srv.URL, "b", "k").Put(context.Background(), "a.png", []byte("x"), ""); err == nil {
		t.Fatal("expected error for 403")
	}
}
