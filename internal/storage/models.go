package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrIncomplete is returned when a story has fewer panel rows than a
// finished vignette requires.
var ErrIncomplete = errors.New("vignette incomplete")

// PanelCount is the number of panel rows a completed vignette has.
const PanelCount = 9

type Story struct {
	ID         string
	Title      string
	Summary    string
	Content    string
	Scenes     string // JSON array stored as text
	Characters string // JSON array stored as text
	Source     string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// PanoramaRow is the reference row for the source image of a vignette.
type PanoramaRow struct {
	StoryID      string
	ImageURL     string
	GenerationID string
	CreatedAt    time.Time
}

// PanelRow is one sliced cell of a panorama.
type PanelRow struct {
	StoryID      string
	Index        int
	ImageURL     string
	GenerationID string
	CreatedAt    time.Time
}

// Vignette is a complete panel set as read back from the database.
type Vignette struct {
	Panorama PanoramaRow
	Panels   []PanelRow
}

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
