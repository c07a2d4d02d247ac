package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database with methods for stories, vignettes, and jobs.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "vignette.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	// Ensure schema_version table exists (bootstrap).
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort by filename to guarantee ascending order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		// Check if already applied.
		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Stories ---

func (s *Store) SaveStory(st Story) error {
	now := time.Now().UTC()
	if st.CreatedAt.IsZero() {
		st.CreatedAt = now
	}
	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = now
	}
	if st.Scenes == "" {
		st.Scenes = "[]"
	}
	if st.Characters == "" {
		st.Characters = "[]"
	}
	_, err := s.db.Exec(`
		INSERT INTO stories (id, title, summary, content, scenes, characters, source, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			summary = excluded.summary,
			content = excluded.content,
			scenes = excluded.scenes,
			characters = excluded.characters,
			source = excluded.source,
			updated_at = excluded.updated_at`,
		st.ID, st.Title, st.Summary, st.Content, st.Scenes, st.Characters, st.Source,
		st.CreatedAt.UTC().Format(time.RFC3339), st.UpdatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

const storyColumns = `id, title, summary, content, scenes, characters, source, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStory(row rowScanner) (Story, error) {
	var st Story
	var createdAt, updatedAt string
	if err := row.Scan(&st.ID, &st.Title, &st.Summary, &st.Content, &st.Scenes, &st.Characters, &st.Source, &createdAt, &updatedAt); err != nil {
		return Story{}, err
	}
	var err error
	if st.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return Story{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if st.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return Story{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return st, nil
}

func (s *Store) GetStory(id string) (Story, error) {
	st, err := scanStory(s.db.QueryRow(`SELECT `+storyColumns+` FROM stories WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return Story{}, ErrNotFound
	}
	if err != nil {
		return Story{}, err
	}
	return st, nil
}

func (s *Store) ListStories(limit, offset int) ([]Story, error) {
	rows, err := s.db.Query(`SELECT `+storyColumns+` FROM stories ORDER BY created_at DESC, id ASC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Story
	for rows.Next() {
		st, err := scanStory(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, st)
	}
	return results, rows.Err()
}

// DeleteStory removes a story together with its panorama and panel rows.
func (s *Store) DeleteStory(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning delete transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`DELETE FROM stories WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	if _, err := tx.Exec(`DELETE FROM vignette_panels WHERE story_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM vignette_panoramas WHERE story_id = ?`, id); err != nil {
		return err
	}
	return tx.Commit()
}

// --- Vignettes ---

// RecordPanels replaces the vignette of panorama.StoryID with the given
// panorama reference and panel rows inside a single transaction. Either all
// PanelCount rows become visible or none do; rows from an earlier run are
// removed in the same transaction.
func (s *Store) RecordPanels(ctx context.Context, panorama PanoramaRow, panels []PanelRow) error {
	if panorama.StoryID == "" {
		return fmt.Errorf("recording panels: story id is required")
	}
	if len(panels) != PanelCount {
		return fmt.Errorf("recording panels: got %d panels, want %d", len(panels), PanelCount)
	}
	var seen [PanelCount]bool
	for _, p := range panels {
		if p.StoryID != panorama.StoryID {
			return fmt.Errorf("recording panels: panel %d belongs to story %q, want %q", p.Index, p.StoryID, panorama.StoryID)
		}
		if p.Index < 0 || p.Index >= PanelCount || seen[p.Index] {
			return fmt.Errorf("recording panels: invalid or duplicate panel index %d", p.Index)
		}
		seen[p.Index] = true
	}

	now := time.Now().UTC()
	if panorama.CreatedAt.IsZero() {
		panorama.CreatedAt = now
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning record transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM vignette_panels WHERE story_id = ?`, panorama.StoryID); err != nil {
		return fmt.Errorf("clearing previous panels: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO vignette_panoramas (story_id, image_url, generation_id, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(story_id) DO UPDATE SET
			image_url = excluded.image_url,
			generation_id = excluded.generation_id,
			created_at = excluded.created_at`,
		panorama.StoryID, panorama.ImageURL, panorama.GenerationID, panorama.CreatedAt.UTC().Format(time.RFC3339),
	); err != nil {
		return fmt.Errorf("writing panorama row: %w", err)
	}

	for _, p := range panels {
		createdAt := p.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO vignette_panels (story_id, panel_index, image_url, generation_id, created_at)
			VALUES (?, ?, ?, ?, ?)`,
			p.StoryID, p.Index, p.ImageURL, p.GenerationID, createdAt.UTC().Format(time.RFC3339),
		); err != nil {
			return fmt.Errorf("writing panel %d: %w", p.Index, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing panels: %w", err)
	}
	return nil
}

// GetVignette returns the recorded vignette for storyID with panels in index
// order. ErrNotFound means nothing was recorded; ErrIncomplete means the row
// set does not hold all PanelCount panels and must not be served.
func (s *Store) GetVignette(storyID string) (Vignette, error) {
	var v Vignette
	var createdAt string
	err := s.db.QueryRow(`
		SELECT story_id, image_url, generation_id, created_at
		FROM vignette_panoramas WHERE story_id = ?`, storyID,
	).Scan(&v.Panorama.StoryID, &v.Panorama.ImageURL, &v.Panorama.GenerationID, &createdAt)
	if err == sql.ErrNoRows {
		return Vignette{}, ErrNotFound
	}
	if err != nil {
		return Vignette{}, err
	}
	if v.Panorama.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return Vignette{}, fmt.Errorf("parsing created_at: %w", err)
	}

	rows, err := s.db.Query(`
		SELECT story_id, panel_index, image_url, generation_id, created_at
		FROM vignette_panels WHERE story_id = ? ORDER BY panel_index ASC`, storyID)
	if err != nil {
		return Vignette{}, err
	}
	defer rows.Close()

	for rows.Next() {
		var p PanelRow
		var ts string
		if err := rows.Scan(&p.StoryID, &p.Index, &p.ImageURL, &p.GenerationID, &ts); err != nil {
			return Vignette{}, err
		}
		if p.CreatedAt, err = time.Parse(time.RFC3339, ts); err != nil {
			return Vignette{}, fmt.Errorf("parsing created_at: %w", err)
		}
		v.Panels = append(v.Panels, p)
	}
	if err := rows.Err(); err != nil {
		return Vignette{}, err
	}

	if len(v.Panels) != PanelCount {
		return Vignette{}, ErrIncomplete
	}
	for _, p := range v.Panels {
		if p.GenerationID != v.Panorama.GenerationID {
			return Vignette{}, ErrIncomplete
		}
	}
	return v, nil
}

// CountPanels returns the number of panel rows stored for storyID.
func (s *Store) CountPanels(storyID string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM vignette_panels WHERE story_id = ?`, storyID).Scan(&n)
	return n, err
}

// --- Jobs ---

func (s *Store) EnqueueJob(job Job) error {
	now := time.Now().UTC().Format(time.RFC3339)
	runAfter := now
	if !job.RunAfter.IsZero() {
		runAfter = job.RunAfter.UTC().Format(time.RFC3339)
	}
	maxAttempts := job.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = 3
	}
	_, err := s.db.Exec(`
		INSERT INTO jobs (id, type, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at)
		VALUES (?, ?, ?, 'pending', 0, ?, ?, ?, ?)`,
		job.ID, job.Type, job.PayloadJSON, maxAttempts, runAfter, now, now,
	)
	return err
}

func (s *Store) ClaimNextJob(types []string) (*Job, error) {
	if len(types) == 0 {
		return nil, nil
	}

	now := time.Now().UTC().Format(time.RFC3339)
	placeholders := strings.Repeat(",?", len(types)-1)
	query := `SELECT id, type, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at, last_error
		FROM jobs
		WHERE status = 'pending' AND run_after <= ? AND type IN (?` + placeholders + `)
		ORDER BY run_after ASC, created_at ASC
		LIMIT 1`

	args := make([]interface{}, 0, len(types)+1)
	args = append(args, now)
	for _, t := range types {
		args = append(args, t)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning claim transaction: %w", err)
	}

	var j Job
	var runAfter, createdAt, updatedAt string
	var lastError sql.NullString
	err = tx.QueryRow(query, args...).Scan(
		&j.ID, &j.Type, &j.PayloadJSON, &j.Status, &j.Attempts, &j.MaxAttempts,
		&runAfter, &createdAt, &updatedAt, &lastError,
	)
	if err == sql.ErrNoRows {
		tx.Rollback()
		return nil, nil
	}
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("selecting next job: %w", err)
	}

	res, err := tx.Exec(`UPDATE jobs SET status = 'running', updated_at = ? WHERE id = ? AND status = 'pending'`, now, j.ID)
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("updating job status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("checking updated job rows: %w", err)
	}
	if n != 1 {
		tx.Rollback()
		return nil, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}

	j.Status = "running"
	j.LastError = lastError.String
	if j.RunAfter, err = time.Parse(time.RFC3339, runAfter); err != nil {
		return nil, fmt.Errorf("parsing run_after for job %s: %w", j.ID, err)
	}
	if j.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at for job %s: %w", j.ID, err)
	}
	if j.UpdatedAt, err = time.Parse(time.RFC3339, now); err != nil {
		return nil, fmt.Errorf("parsing updated_at for job %s: %w", j.ID, err)
	}
	return &j, nil
}

func (s *Store) CompleteJob(id string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.Exec(`UPDATE jobs SET status = 'completed', updated_at = ? WHERE id = ?`, now, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) FailJob(id string, errMsg string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning fail transaction: %w", err)
	}
	defer tx.Rollback()

	var attempts, maxAttempts int
	err = tx.QueryRow(`SELECT attempts, max_attempts FROM jobs WHERE id = ?`, id).Scan(&attempts, &maxAttempts)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	attempts++

	if attempts >= maxAttempts {
		_, err = tx.Exec(`UPDATE jobs SET status = 'failed', attempts = ?, last_error = ?, updated_at = ? WHERE id = ?`,
			attempts, errMsg, now.Format(time.RFC3339), id)
	} else {
		backoff := time.Duration(math.Pow(2, float64(attempts))) * time.Second
		runAfter := now.Add(backoff)
		_, err = tx.Exec(`UPDATE jobs SET status = 'pending', attempts = ?, last_error = ?, run_after = ?, updated_at = ? WHERE id = ?`,
			attempts, errMsg, runAfter.Format(time.RFC3339), now.Format(time.RFC3339), id)
	}

	if err != nil {
		return err
	}

	return tx.Commit()
}

// AbandonJob marks a job failed immediately, skipping any remaining attempts.
func (s *Store) AbandonJob(id string, errMsg string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.Exec(`UPDATE jobs SET status = 'failed', attempts = attempts + 1, last_error = ?, updated_at = ? WHERE id = ?`,
		errMsg, now, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) GetJob(id string) (Job, error) {
	var j Job
	var runAfter, createdAt, updatedAt string
	var lastError sql.NullString
	err := s.db.QueryRow(`
		SELECT id, type, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at, last_error
		FROM jobs WHERE id = ?`, id,
	).Scan(&j.ID, &j.Type, &j.PayloadJSON, &j.Status, &j.Attempts, &j.MaxAttempts, &runAfter, &createdAt, &updatedAt, &lastError)
	if err == sql.ErrNoRows {
		return Job{}, ErrNotFound
	}
	if err != nil {
		return Job{}, err
	}
	j.LastError = lastError.String
	if j.RunAfter, err = time.Parse(time.RFC3339, runAfter); err != nil {
		return Job{}, fmt.Errorf("parsing run_after for job %s: %w", j.ID, err)
	}
	if j.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return Job{}, fmt.Errorf("parsing created_at for job %s: %w", j.ID, err)
	}
	if j.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return Job{}, fmt.Errorf("parsing updated_at for job %s: %w", j.ID, err)
	}
	return j, nil
}
