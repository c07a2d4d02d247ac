package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/storynest/vignette/internal/storage"
	"github.com/storynest/vignette/internal/story"
	"github.com/storynest/vignette/internal/vignette"
	"github.com/storynest/vignette/internal/worker"
)

const (
	maxRequestBodySize = 1 << 20  // 1MB
	maxImportBodySize  = 20 << 20 // 20MB, base64 PDFs
)

// Splicer runs and reads back vignettes.
type Splicer interface {
	Splice(ctx context.Context, storyID string) (vignette.Result, error)
	Get(storyID string) (vignette.Result, error)
}

// StoryGenerator writes and splices a brand new story.
type StoryGenerator interface {
	Generate(ctx context.Context, params map[string]any) (vignette.GenerateResult, error)
}

// StoryImporter turns a manuscript into an unsaved story.
type StoryImporter interface {
	Import(ctx context.Context, src story.Source) (story.Story, error)
}

type AppDeps struct {
	Store     *storage.Store
	Splicer   Splicer
	Generator StoryGenerator // optional; nil disables /vignette/generate
	Importer  StoryImporter
	Auth      Verifier
	AssetsDir string // optional; served at /assets/ when set
}

// NewAppHandler returns the HTTP surface: public health and asset routes
// plus the authenticated vignette, story and job routes.
func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)
	if deps.AssetsDir != "" {
		r.Handle("/assets/*", http.StripPrefix("/assets/", noDirListing(http.FileServer(http.Dir(deps.AssetsDir)))))
	}

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Auth))

		r.Post("/vignette/generate", handleGenerate(deps))
		r.Post("/vignette/splice", handleSplice(deps))
		r.Get("/vignette/{storyId}", handleGetVignette(deps))

		r.Post("/stories", handleImportStory(deps))
		r.Get("/stories", handleListStories(deps))
		r.Get("/stories/{id}", handleGetStory(deps))
		r.Delete("/stories/{id}", handleDeleteStory(deps))

		r.Get("/jobs/{id}", handleGetJob(deps))
	})

	return r
}

func noDirListing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "" || strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// SpliceRequest is the body of POST /vignette/splice.
type SpliceRequest struct {
	StoryID string `json:"storyId"`
	Async   bool   `json:"async"`
}

func handleSplice(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req SpliceRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "%s: invalid request body: %v", vignette.KindInvalidInput, err)
			return
		}
		req.StoryID = strings.TrimSpace(req.StoryID)
		if req.StoryID == "" {
			httpError(w, http.StatusBadRequest, "%s: storyId is required", vignette.KindInvalidInput)
			return
		}

		if req.Async {
			if _, err := deps.Store.GetStory(req.StoryID); errors.Is(err, storage.ErrNotFound) {
				httpError(w, http.StatusBadRequest, "%s: unknown story %q", vignette.KindInvalidInput, req.StoryID)
				return
			} else if err != nil {
				httpError(w, http.StatusInternalServerError, "%s: loading story: %v", vignette.KindPersistenceFailed, err)
				return
			}
			jobID, err := worker.EnqueueSplice(deps.Store, req.StoryID)
			if err != nil {
				httpError(w, http.StatusInternalServerError, "%s: %v", vignette.KindPersistenceFailed, err)
				return
			}
			writeData(w, http.StatusAccepted, map[string]string{"jobId": jobID, "status": "queued"})
			return
		}

		res, err := deps.Splicer.Splice(r.Context(), req.StoryID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeData(w, http.StatusOK, res)
	}
}

func handleGenerate(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Generator == nil {
			httpError(w, http.StatusServiceUnavailable, "story generation is not configured")
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var params map[string]any
		if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
			httpError(w, http.StatusBadRequest, "%s: invalid request body: %v", vignette.KindInvalidInput, err)
			return
		}
		// Accept both a flat object and {"parameters": {...}}.
		if nested, ok := params["parameters"].(map[string]any); ok && len(params) == 1 {
			params = nested
		}

		res, err := deps.Generator.Generate(r.Context(), params)
		if err != nil {
			writeError(w, err)
			return
		}
		writeData(w, http.StatusOK, res)
	}
}

func handleGetVignette(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := deps.Splicer.Get(chi.URLParam(r, "storyId"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeData(w, http.StatusOK, res)
	}
}

func handleImportStory(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxImportBodySize)
		defer r.Body.Close()

		var src story.Source
		if err := json.NewDecoder(r.Body).Decode(&src); err != nil {
			httpError(w, http.StatusBadRequest, "%s: invalid request body: %v", vignette.KindInvalidInput, err)
			return
		}

		st, err := deps.Importer.Import(r.Context(), src)
		if errors.Is(err, story.ErrInvalidSource) {
			httpError(w, http.StatusBadRequest, "%s: %v", vignette.KindInvalidInput, err)
			return
		}
		if err != nil {
			httpError(w, http.StatusBadGateway, "failed to import story: %v", err)
			return
		}

		rec, err := st.Record()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "failed to encode story: %v", err)
			return
		}
		if err := deps.Store.SaveStory(rec); err != nil {
			httpError(w, http.StatusInternalServerError, "%s: failed to save story: %v", vignette.KindPersistenceFailed, err)
			return
		}

		writeData(w, http.StatusCreated, map[string]any{
			"storyId":    st.ID,
			"title":      st.Title,
			"sceneCount": len(st.Scenes),
		})
	}
}

func handleListStories(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)
		offset := parseIntParam(r, "offset", 0, 0)

		recs, err := deps.Store.ListStories(limit, offset)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "failed to list stories: %v", err)
			return
		}

		stories := make([]story.Story, 0, len(recs))
		for _, rec := range recs {
			st, err := story.FromRecord(rec)
			if err != nil {
				httpError(w, http.StatusInternalServerError, "%v", err)
				return
			}
			st.Content = ""
			stories = append(stories, st)
		}
		writeData(w, http.StatusOK, stories)
	}
}

func handleGetStory(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, err := deps.Store.GetStory(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "story not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "failed to get story: %v", err)
			return
		}
		st, err := story.FromRecord(rec)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "%v", err)
			return
		}
		writeData(w, http.StatusOK, st)
	}
}

func handleDeleteStory(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := deps.Store.DeleteStory(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "story not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "failed to delete story: %v", err)
			return
		}
		writeData(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

// JobStatus is the public view of a queued job.
type JobStatus struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	StoryID   string `json:"storyId,omitempty"`
	Status    string `json:"status"`
	Attempts  int    `json:"attempts"`
	LastError string `json:"lastError,omitempty"`
}

func handleGetJob(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := deps.Store.GetJob(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "job not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "failed to get job: %v", err)
			return
		}

		out := JobStatus{
			ID:        job.ID,
			Type:      job.Type,
			Status:    job.Status,
			Attempts:  job.Attempts,
			LastError: job.LastError,
		}
		if job.Type == worker.JobTypeSplice {
			var p worker.SplicePayload
			if json.Unmarshal([]byte(job.PayloadJSON), &p) == nil {
				out.StoryID = p.StoryID
			}
		}
		writeData(w, http.StatusOK, out)
	}
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
