// Package worker runs queued vignette jobs from the SQLite job queue.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/storynest/vignette/internal/storage"
	"github.com/storynest/vignette/internal/vignette"
)

// JobTypeSplice is the queue type for asynchronous splices.
const JobTypeSplice = "vignette_splice"

// JobStore abstracts the job queue operations.
type JobStore interface {
	EnqueueJob(job storage.Job) error
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
	AbandonJob(id string, errMsg string) error
}

// Splicer runs the vignette pipeline for one story.
type Splicer interface {
	Splice(ctx context.Context, storyID string) (vignette.Result, error)
}

// SplicePayload is the JSON payload of a vignette_splice job.
type SplicePayload struct {
	StoryID string `json:"story_id"`
}

// EnqueueSplice queues an asynchronous splice and returns the job id.
func EnqueueSplice(store JobStore, storyID string) (string, error) {
	payload, err := json.Marshal(SplicePayload{StoryID: storyID})
	if err != nil {
		return "", fmt.Errorf("marshaling payload: %w", err)
	}
	id := uuid.New().String()
	if err := store.EnqueueJob(storage.Job{ID: id, Type: JobTypeSplice, PayloadJSON: string(payload)}); err != nil {
		return "", fmt.Errorf("enqueueing splice: %w", err)
	}
	return id, nil
}

// Worker processes vignette_splice jobs.
type Worker struct {
	store   JobStore
	splicer Splicer
	poll    time.Duration
	logger  *slog.Logger
}

// NewWorker creates a Worker with the given dependencies.
// If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store JobStore, splicer Splicer, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:   store,
		splicer: splicer,
		poll:    pollInterval,
		logger:  slog.Default(),
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single vignette_splice job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob([]string{JobTypeSplice})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		w.logger.Warn("job failed", "job_id", job.ID, "error", err)
		// A splice cut short by shutdown is re-queued, not abandoned.
		fail := w.store.FailJob
		if ctx.Err() == nil && !errors.Is(err, context.Canceled) && !vignette.KindOf(err).Retryable() {
			fail = w.store.AbandonJob
		}
		if failErr := fail(job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	var payload SplicePayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return &vignette.Error{Kind: vignette.KindInvalidInput, Op: "parse payload", Err: err}
	}

	res, err := w.splicer.Splice(ctx, payload.StoryID)
	if err != nil {
		return err
	}
	w.logger.Info("splice job complete", "job_id", job.ID, "story_id", res.StoryID, "generation_id", res.GenerationID)
	return nil
}
