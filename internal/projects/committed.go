package projects

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

const (
	// committedCap bounds the persisted set; once exceeded it is truncated to
	// committedKeep newest entries so the file never grows without bound.
	committedCap  = 1000
	committedKeep = 500
)

type committedEntry struct {
	JobID       string    `json:"job_id"`
	ProjectID   string    `json:"project_id"`
	CommittedAt time.Time `json:"committed_at"`
}

// committedSet is the persisted record of job ids that already produced a
// project. It is not safe for concurrent use on its own; the owning Store
// serializes access.
type committedSet struct {
	path    string
	entries []committedEntry
}

func newCommittedSet(path string) *committedSet {
	set := &committedSet{path: path}
	data, err := os.ReadFile(path)
	if err != nil {
		return set
	}
	// A corrupt set degrades to empty; the debounce check still guards.
	_ = json.Unmarshal(data, &set.entries)
	return set
}

// lookup returns the project id recorded for jobID, if any.
func (s *committedSet) lookup(jobID string) (string, bool) {
	if jobID == "" {
		return "", false
	}
	for _, e := range s.entries {
		if e.JobID == jobID {
			return e.ProjectID, true
		}
	}
	return "", false
}

// record appends jobID to the set, truncating oldest entries past the cap,
// and persists the result.
func (s *committedSet) record(jobID, projectID string) error {
	if jobID == "" {
		return nil
	}
	s.entries = append(s.entries, committedEntry{
		JobID:       jobID,
		ProjectID:   projectID,
		CommittedAt: time.Now().UTC(),
	})
	if len(s.entries) > committedCap {
		trimmed := make([]committedEntry, committedKeep)
		copy(trimmed, s.entries[len(s.entries)-committedKeep:])
		s.entries = trimmed
	}
	return s.persist()
}

func (s *committedSet) persist() error {
	data, err := json.Marshal(s.entries)
	if err != nil {
		return fmt.Errorf("projects: encode committed set: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("projects: write committed set: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("projects: replace committed set: %w", err)
	}
	return nil
}
