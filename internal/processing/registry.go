package processing

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"stylist/internal/infra"
)

const jobLogFileName = "pending-jobs.json"

// Registry correlates asynchronous completion callbacks with job context. The
// in-memory map is the hot path; every mutation is also written through to a
// small job log on disk so a restarted process can rediscover outstanding
// jobs instead of losing them.
type Registry struct {
	mu      sync.Mutex
	jobs    map[string]Job
	logPath string
	logger  *infra.Logger
}

// NewRegistry loads any persisted job log from scratchDir and returns a
// ready registry.
func NewRegistry(scratchDir string, logger *infra.Logger) (*Registry, error) {
	if logger == nil {
		discard := zerolog.Nop()
		logger = &discard
	}
	if err := os.MkdirAll(scratchDir, 0o700); err != nil {
		return nil, fmt.Errorf("processing: ensure scratch directory: %w", err)
	}

	r := &Registry{
		jobs:    make(map[string]Job),
		logPath: filepath.Join(scratchDir, jobLogFileName),
		logger:  logger,
	}

	data, err := os.ReadFile(r.logPath)
	if err == nil {
		var persisted []Job
		if err := json.Unmarshal(data, &persisted); err != nil {
			logger.Warn().Err(err).Msg("processing: corrupt job log, starting empty")
		} else {
			for _, job := range persisted {
				r.jobs[job.ID] = job
			}
		}
	}
	return r, nil
}

// Put registers a job. Safe for concurrent use.
func (r *Registry) Put(job Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[job.ID] = job
	r.persistLocked()
}

// Get returns the job for id, if registered.
func (r *Registry) Get(id string) (Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	return job, ok
}

// Remove deletes the job for id, returning it and whether it was present.
// The boolean lets callers run the completion path exactly once even when a
// callback is delivered twice.
func (r *Registry) Remove(id string) (Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if ok {
		delete(r.jobs, id)
		r.persistLocked()
	}
	return job, ok
}

// Outstanding returns the jobs still awaiting a terminal outcome, including
// any rediscovered from the job log of a previous run.
func (r *Registry) Outstanding() []Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		out = append(out, job)
	}
	return out
}

func (r *Registry) persistLocked() {
	jobs := make([]Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		jobs = append(jobs, job)
	}
	data, err := json.Marshal(jobs)
	if err != nil {
		r.logger.Warn().Err(err).Msg("processing: encode job log")
		return
	}
	tmp := r.logPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		r.logger.Warn().Err(err).Msg("processing: write job log")
		return
	}
	if err := os.Rename(tmp, r.logPath); err != nil {
		r.logger.Warn().Err(err).Msg("processing: replace job log")
	}
}
