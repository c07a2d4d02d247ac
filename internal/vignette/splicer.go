// Package vignette turns a stored story into a nine-panel storybook
// vignette: prompt, panorama generation, slicing, upload and metadata.
package vignette

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"math"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/storynest/vignette/internal/assets"
	"github.com/storynest/vignette/internal/imagegen"
	"github.com/storynest/vignette/internal/prompt"
	"github.com/storynest/vignette/internal/slicer"
	"github.com/storynest/vignette/internal/storage"
	"github.com/storynest/vignette/internal/story"
)

// Pipeline stages, in order. They appear in logs and as Error.Op.
const (
	StageStart            = "start"
	StagePromptBuilt      = "prompt_built"
	StageImageGenerated   = "image_generated"
	StagePanelsSliced     = "panels_sliced"
	StageAssetsUploaded   = "assets_uploaded"
	StageMetadataRecorded = "metadata_recorded"
)

const (
	defaultImageSize         = 3072
	defaultGenerateTimeout   = 120 * time.Second
	defaultMaxAttempts       = 3
	defaultInitialBackoff    = time.Second
	defaultUploadConcurrency = 4
)

// Store is the persistence the pipeline needs.
type Store interface {
	GetStory(id string) (storage.Story, error)
	SaveStory(st storage.Story) error
	RecordPanels(ctx context.Context, panorama storage.PanoramaRow, panels []storage.PanelRow) error
	GetVignette(storyID string) (storage.Vignette, error)
}

// Panel is one sliced scene as reported to callers.
type Panel struct {
	Index    int    `json:"index"`
	ImageURL string `json:"imageUrl"`
	StoryID  string `json:"storyId"`
}

// Result is a completed vignette.
type Result struct {
	StoryID           string  `json:"storyId"`
	Panels            []Panel `json:"panels"`
	PanoramicImageURL string  `json:"panoramicImageUrl"`
	GenerationID      string  `json:"generationId"`
}

// Options tunes the pipeline. Zero values take defaults.
type Options struct {
	ImageSize         int
	GenerateTimeout   time.Duration // per attempt
	MaxAttempts       int
	InitialBackoff    time.Duration
	UploadConcurrency int
	Logger            *slog.Logger
}

func (o *Options) setDefaults() {
	if o.ImageSize <= 0 {
		o.ImageSize = defaultImageSize
	}
	if o.GenerateTimeout <= 0 {
		o.GenerateTimeout = defaultGenerateTimeout
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = defaultMaxAttempts
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = defaultInitialBackoff
	}
	if o.UploadConcurrency <= 0 {
		o.UploadConcurrency = defaultUploadConcurrency
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Splicer runs the vignette pipeline. Concurrent Splice calls for the same
// story share one run and its result.
type Splicer struct {
	store   Store
	prompts *prompt.Builder
	gen     imagegen.Generator
	assets  assets.Store
	opts    Options
	log     *slog.Logger

	inflight singleflight.Group
}

// NewSplicer wires the pipeline components together.
func NewSplicer(store Store, prompts *prompt.Builder, gen imagegen.Generator, assetStore assets.Store, opts Options) *Splicer {
	opts.setDefaults()
	return &Splicer{
		store:   store,
		prompts: prompts,
		gen:     gen,
		assets:  assetStore,
		opts:    opts,
		log:     opts.Logger,
	}
}

// Splice builds, generates, slices, uploads and records the vignette for
// storyID. It either returns all nine panels or an *Error; a failed run
// leaves any previously completed vignette for the story in place.
//
// The shared run ignores the caller's cancellation; a caller whose ctx ends
// stops waiting and gets ctx.Err().
func (s *Splicer) Splice(ctx context.Context, storyID string) (Result, error) {
	if storyID == "" {
		return Result{}, newError(KindInvalidInput, StageStart, errors.New("storyId is required"))
	}

	ch := s.inflight.DoChan(storyID, func() (any, error) {
		return s.run(context.WithoutCancel(ctx), storyID)
	})

	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case r := <-ch:
		if r.Shared {
			s.log.Debug("splice joined in-flight run", "story_id", storyID)
		}
		if r.Err != nil {
			return Result{}, r.Err
		}
		return r.Val.(Result), nil
	}
}

func (s *Splicer) run(ctx context.Context, storyID string) (Result, error) {
	start := time.Now()
	log := s.log.With("story_id", storyID)
	log.Debug("splice stage", "stage", StageStart)

	res, err := s.pipeline(ctx, log, storyID)
	if err != nil {
		log.Warn("splice failed", "kind", KindOf(err), "error", err, "duration_ms", time.Since(start).Milliseconds())
		return Result{}, err
	}
	log.Info("splice complete", "generation_id", res.GenerationID, "duration_ms", time.Since(start).Milliseconds())
	return res, nil
}

func (s *Splicer) pipeline(ctx context.Context, log *slog.Logger, storyID string) (Result, error) {
	// Start -> PromptBuilt
	rec, err := s.store.GetStory(storyID)
	if errors.Is(err, storage.ErrNotFound) {
		return Result{}, newError(KindInvalidInput, StageStart, fmt.Errorf("unknown story %q", storyID))
	}
	if err != nil {
		return Result{}, newError(KindPersistenceFailed, StageStart, fmt.Errorf("loading story: %w", err))
	}
	st, err := story.FromRecord(rec)
	if err != nil {
		return Result{}, newError(KindPersistenceFailed, StageStart, err)
	}

	promptText, err := s.prompts.Build(st)
	if err != nil {
		return Result{}, newError(KindInvalidInput, StagePromptBuilt, err)
	}
	log.Debug("splice stage", "stage", StagePromptBuilt, "prompt_chars", len(promptText))

	// PromptBuilt -> ImageGenerated
	gen, err := s.generate(ctx, log, promptText)
	if err != nil {
		return Result{}, newError(KindGenerationFailed, StageImageGenerated, err)
	}
	log.Debug("splice stage", "stage", StageImageGenerated, "generation_id", gen.GenerationID, "bytes", len(gen.ImageBytes))

	// ImageGenerated -> PanelsSliced
	img, format, err := slicer.Decode(gen.ImageBytes)
	if errors.Is(err, slicer.ErrInvalidGeometry) {
		return Result{}, newError(KindInvalidImageGeometry, StagePanelsSliced, err)
	}
	if err != nil {
		return Result{}, newError(KindGenerationFailed, StagePanelsSliced, err)
	}
	panels, err := slicer.Slice(img, slicer.DefaultGrid)
	if err != nil {
		return Result{}, newError(KindInvalidImageGeometry, StagePanelsSliced, err)
	}
	log.Debug("splice stage", "stage", StagePanelsSliced, "side", img.Bounds().Dx())

	// PanelsSliced -> AssetsUploaded
	panoramaBytes := gen.ImageBytes
	if format != "png" {
		if panoramaBytes, err = slicer.EncodePNG(img); err != nil {
			return Result{}, newError(KindStorageWriteFailed, StageAssetsUploaded, err)
		}
	}

	panoramaURL, panelURLs, err := s.upload(ctx, storyID, panoramaBytes, panels)
	if err != nil {
		return Result{}, newError(KindStorageWriteFailed, StageAssetsUploaded, err)
	}
	log.Debug("splice stage", "stage", StageAssetsUploaded)

	// AssetsUploaded -> MetadataRecorded
	now := time.Now().UTC()
	panoramaRow := storage.PanoramaRow{
		StoryID:      storyID,
		ImageURL:     panoramaURL,
		GenerationID: gen.GenerationID,
		CreatedAt:    now,
	}
	rows := make([]storage.PanelRow, len(panelURLs))
	out := make([]Panel, len(panelURLs))
	for i, u := range panelURLs {
		rows[i] = storage.PanelRow{StoryID: storyID, Index: i, ImageURL: u, GenerationID: gen.GenerationID, CreatedAt: now}
		out[i] = Panel{Index: i, ImageURL: u, StoryID: storyID}
	}
	if err := s.store.RecordPanels(ctx, panoramaRow, rows); err != nil {
		return Result{}, newError(KindPersistenceFailed, StageMetadataRecorded, err)
	}
	log.Debug("splice stage", "stage", StageMetadataRecorded)

	return Result{
		StoryID:           storyID,
		Panels:            out,
		PanoramicImageURL: panoramaURL,
		GenerationID:      gen.GenerationID,
	}, nil
}

// generate calls the image provider with a per-attempt timeout, retrying
// transient failures with exponential backoff.
func (s *Splicer) generate(ctx context.Context, log *slog.Logger, promptText string) (imagegen.Result, error) {
	req := imagegen.Request{Prompt: promptText, Size: s.opts.ImageSize}

	var lastErr error
	for attempt := range s.opts.MaxAttempts {
		attemptCtx, cancel := context.WithTimeout(ctx, s.opts.GenerateTimeout)
		res, err := s.gen.Generate(attemptCtx, req)
		cancel()
		if err == nil {
			if len(res.ImageBytes) == 0 {
				return imagegen.Result{}, errors.New("provider returned no image data")
			}
			return res, nil
		}

		lastErr = err
		log.Warn("image generation attempt failed", "attempt", attempt+1, "max_attempts", s.opts.MaxAttempts, "error", err)
		if !imagegen.IsRetryable(err) || ctx.Err() != nil {
			break
		}

		if attempt < s.opts.MaxAttempts-1 {
			backoff := time.Duration(float64(s.opts.InitialBackoff) * math.Pow(2, float64(attempt)))
			select {
			case <-ctx.Done():
				return imagegen.Result{}, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}
	return imagegen.Result{}, lastErr
}

// upload writes the panorama and every panel in parallel, bounded by
// UploadConcurrency. Paths are stable per story, so re-runs overwrite.
func (s *Splicer) upload(ctx context.Context, storyID string, panorama []byte, panels []image.Image) (string, []string, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.UploadConcurrency)

	var panoramaURL string
	panelURLs := make([]string, len(panels))

	g.Go(func() error {
		u, err := s.assets.Put(gctx, assets.PanoramaPath(storyID), panorama, "image/png")
		if err != nil {
			return fmt.Errorf("uploading panorama: %w", err)
		}
		panoramaURL = u
		return nil
	})

	for i, p := range panels {
		g.Go(func() error {
			data, err := slicer.EncodePNG(p)
			if err != nil {
				return fmt.Errorf("encoding panel %d: %w", i, err)
			}
			u, err := s.assets.Put(gctx, assets.PanelPath(storyID, i), data, "image/png")
			if err != nil {
				return fmt.Errorf("uploading panel %d: %w", i, err)
			}
			panelURLs[i] = u
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return "", nil, err
	}
	return panoramaURL, panelURLs, nil
}

// Get reads back the recorded vignette for storyID. Incomplete panel sets
// are reported as not found.
func (s *Splicer) Get(storyID string) (Result, error) {
	v, err := s.store.GetVignette(storyID)
	if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrIncomplete) {
		return Result{}, newError(KindNotFound, "get vignette", fmt.Errorf("vignette for story %q: %w", storyID, err))
	}
	if err != nil {
		return Result{}, newError(KindPersistenceFailed, "get vignette", err)
	}

	out := Result{
		StoryID:           storyID,
		PanoramicImageURL: v.Panorama.ImageURL,
		GenerationID:      v.Panorama.GenerationID,
		Panels:            make([]Panel, len(v.Panels)),
	}
	for i, p := range v.Panels {
		out.Panels[i] = Panel{Index: p.Index, ImageURL: p.ImageURL, StoryID: p.StoryID}
	}
	return out, nil
}
