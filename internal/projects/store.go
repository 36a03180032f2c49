// Package projects is the durable local library of completed styling results.
// The on-disk index file is the single source of truth: it is reloaded before
// every mutating operation and rewritten whole after each one, so a concurrent
// or prior process instance can never be silently overwritten.
package projects

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"stylist/internal/infra"
)

const (
	indexFileName     = "projects.json"
	committedFileName = "committed-jobs.json"

	// debounceWindow guards against near-simultaneous duplicate commits that
	// carry different job ids (or none at all).
	debounceWindow = 5 * time.Second
)

// Options configures a Store.
type Options struct {
	// Dir is the library directory holding the index and sidecar files.
	Dir string
	// LegacyDir, when set, names an old library location to migrate from on
	// first construction.
	LegacyDir string
	Logger    *infra.Logger
}

// Store owns the project index and its sidecar files. All mutating calls are
// serialized through a single mutex so the reload-check-write sequence inside
// Commit is race-free.
type Store struct {
	mu        sync.Mutex
	dir       string
	indexPath string
	committed *committedSet
	projects  []Project
	logger    *infra.Logger
}

// NewStore initializes the library at opts.Dir, running the one-time legacy
// migration first when applicable.
func NewStore(opts Options) (*Store, error) {
	dir := opts.Dir
	if dir == "" {
		return nil, errors.New("projects: library directory is required")
	}
	logger := opts.Logger
	if logger == nil {
		discard := zerolog.Nop()
		logger = &discard
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("projects: ensure library directory: %w", err)
	}

	s := &Store{
		dir:       dir,
		indexPath: filepath.Join(dir, indexFileName),
		logger:    logger,
	}

	if opts.LegacyDir != "" {
		// Migration failures must not take the store down; the library simply
		// starts against the (possibly empty) new location.
		if err := s.migrateLegacy(opts.LegacyDir); err != nil {
			logger.Warn().Err(err).Str("legacy_dir", opts.LegacyDir).Msg("projects: legacy migration failed, continuing with current library")
		}
	}

	s.committed = newCommittedSet(filepath.Join(dir, committedFileName))
	if err := s.loadIndexLocked(); err != nil {
		return nil, err
	}
	return s, nil
}

// Commit persists a decoded result exactly once per job id. The second return
// value reports a deliberate skip: the job id was already committed, or a
// project for the same template exists within the debounce window. Skips are
// not errors.
func (s *Store) Commit(jobID string, imageData []byte, p Project) (Project, bool, error) {
	if len(imageData) == 0 {
		return Project{}, false, errors.New("projects: image data is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Never trust the in-memory cache across commits; recovery logic or a
	// prior run of this process may have mutated the index on disk.
	if err := s.loadIndexLocked(); err != nil {
		return Project{}, false, err
	}

	if projectID, ok := s.committed.lookup(jobID); ok {
		s.logger.Info().Str("job_id", jobID).Str("project_id", projectID).Msg("projects: job already committed, skipping")
		if existing, ok := s.findLocked(projectID); ok {
			return existing, true, nil
		}
		return p, true, nil
	}

	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	if p.Status == "" {
		p.Status = StatusCompleted
	}

	for _, existing := range s.projects {
		if existing.TemplateID != p.TemplateID {
			continue
		}
		delta := p.CreatedAt.Sub(existing.CreatedAt)
		if delta < 0 {
			delta = -delta
		}
		if delta <= debounceWindow {
			s.logger.Info().
				Str("job_id", jobID).
				Str("template_id", p.TemplateID).
				Str("project_id", existing.ID).
				Msg("projects: duplicate within debounce window, skipping")
			return existing, true, nil
		}
	}

	// Write ordering matters: image first, then metadata, then the index. A
	// crash mid-sequence can leak an orphan sidecar but never a visible
	// project without its image.
	imagePath := s.imagePath(p.ID)
	if err := os.WriteFile(imagePath, imageData, 0o600); err != nil {
		return Project{}, false, fmt.Errorf("projects: write image sidecar: %w", err)
	}
	if err := s.writeMetadata(p.ID, imagePath); err != nil {
		return Project{}, false, err
	}

	s.projects = append(s.projects, p)
	if err := s.persistIndexLocked(); err != nil {
		return Project{}, false, err
	}

	if err := s.committed.record(jobID, p.ID); err != nil {
		// The project is durably committed; a failed set write only weakens
		// the replay guard, so log and move on.
		s.logger.Warn().Err(err).Str("job_id", jobID).Msg("projects: failed to persist committed set")
	}

	s.logger.Info().
		Str("job_id", jobID).
		Str("project_id", p.ID).
		Str("template_id", p.TemplateID).
		Msg("projects: committed")
	return p, false, nil
}

// GetAll reloads the index from disk and returns all projects newest-first.
func (s *Store) GetAll() ([]Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadIndexLocked(); err != nil {
		return nil, err
	}
	out := make([]Project, len(s.projects))
	copy(out, s.projects)
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// Delete removes p from the index and best-effort removes its sidecar files.
// Sidecar removal failure never blocks index removal.
func (s *Store) Delete(p Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadIndexLocked(); err != nil {
		return err
	}
	kept := s.projects[:0]
	for _, existing := range s.projects {
		if existing.ID != p.ID {
			kept = append(kept, existing)
		}
	}
	s.projects = kept

	if err := os.Remove(s.imagePath(p.ID)); err != nil && !os.IsNotExist(err) {
		s.logger.Warn().Err(err).Str("project_id", p.ID).Msg("projects: failed to remove image sidecar")
	}
	if err := os.Remove(s.metadataPath(p.ID)); err != nil && !os.IsNotExist(err) {
		s.logger.Warn().Err(err).Str("project_id", p.ID).Msg("projects: failed to remove metadata sidecar")
	}

	return s.persistIndexLocked()
}

// GetImage returns the stored image bytes for a project id. An absent file is
// not an error; the second return value reports presence.
func (s *Store) GetImage(projectID string) ([]byte, bool) {
	data, err := os.ReadFile(s.imagePath(projectID))
	if err != nil {
		return nil, false
	}
	return data, true
}

func (s *Store) findLocked(projectID string) (Project, bool) {
	for _, p := range s.projects {
		if p.ID == projectID {
			return p, true
		}
	}
	return Project{}, false
}

func (s *Store) imagePath(projectID string) string {
	return filepath.Join(s.dir, projectID+".jpg")
}

func (s *Store) metadataPath(projectID string) string {
	return filepath.Join(s.dir, projectID+"-metadata.json")
}

func (s *Store) writeMetadata(projectID, imagePath string) error {
	data, err := json.Marshal(map[string]string{"image_path": imagePath})
	if err != nil {
		return fmt.Errorf("projects: encode metadata sidecar: %w", err)
	}
	if err := os.WriteFile(s.metadataPath(projectID), data, 0o600); err != nil {
		return fmt.Errorf("projects: write metadata sidecar: %w", err)
	}
	return nil
}

func (s *Store) loadIndexLocked() error {
	data, err := os.ReadFile(s.indexPath)
	if err != nil {
		if os.IsNotExist(err) {
			s.projects = nil
			return nil
		}
		return fmt.Errorf("projects: read index: %w", err)
	}
	var loaded []Project
	if err := json.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("projects: decode index: %w", err)
	}
	s.projects = loaded
	return nil
}

func (s *Store) persistIndexLocked() error {
	data, err := json.MarshalIndent(s.projects, "", "  ")
	if err != nil {
		return fmt.Errorf("projects: encode index: %w", err)
	}
	tmp := s.indexPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("projects: write index: %w", err)
	}
	if err := os.Rename(tmp, s.indexPath); err != nil {
		return fmt.Errorf("projects: replace index: %w", err)
	}
	return nil
}

// migrateLegacy performs the one-time move from an old library location. The
// legacy directory is deleted only after the copied index verifiably exists;
// any failure leaves it untouched.
func (s *Store) migrateLegacy(legacyDir string) error {
	legacyIndex := filepath.Join(legacyDir, indexFileName)
	if _, err := os.Stat(legacyIndex); err != nil {
		return nil // nothing to migrate
	}
	if _, err := os.Stat(s.indexPath); err == nil {
		return nil // current library already populated
	}

	entries, err := os.ReadDir(legacyDir)
	if err != nil {
		return fmt.Errorf("projects: read legacy directory: %w", err)
	}

	var g errgroup.Group
	for _, entry := range entries {
		if entry.IsDir() || entry.Name() == indexFileName {
			continue
		}
		name := entry.Name()
		g.Go(func() error {
			return copyFile(filepath.Join(legacyDir, name), filepath.Join(s.dir, name))
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("projects: copy legacy sidecars: %w", err)
	}

	// The index goes last so a partial migration never looks complete.
	if err := copyFile(legacyIndex, s.indexPath); err != nil {
		return fmt.Errorf("projects: copy legacy index: %w", err)
	}
	if _, err := os.Stat(s.indexPath); err != nil {
		return fmt.Errorf("projects: verify migrated index: %w", err)
	}

	if err := os.RemoveAll(legacyDir); err != nil {
		s.logger.Warn().Err(err).Str("legacy_dir", legacyDir).Msg("projects: failed to remove legacy directory after migration")
	} else {
		s.logger.Info().Str("legacy_dir", legacyDir).Msg("projects: migrated legacy library")
	}
	return nil
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o600)
}
