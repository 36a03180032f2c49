package processing

import (
	"sync"
	"time"

	"stylist/internal/projects"
)

// State is the presentation-facing phase of one styling job.
type State int

const (
	StateIdle State = iota
	StatePreparing
	StateUploading
	StateProcessing
	// StateProcessingInBackground is StateProcessing under a different label,
	// used when a cold start rediscovers a job left over from a previous
	// session.
	StateProcessingInBackground
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePreparing:
		return "preparing"
	case StateUploading:
		return "uploading"
	case StateProcessing:
		return "processing"
	case StateProcessingInBackground:
		return "processing-in-background"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

const (
	progressInterval = 500 * time.Millisecond
	// progressCeiling bounds the synthetic indicator below 1.0 until a
	// terminal event arrives. It carries no semantic meaning.
	progressCeiling = 0.9
)

// StateMachine drives UI feedback for at most one active job. Transitions
// come from the submission path and from the Hub's terminal outcomes; it
// never talks to the network itself.
type StateMachine struct {
	mu       sync.Mutex
	state    State
	jobID    string
	progress float64
	project  *projects.Project
	err      error
	epoch    int // invalidates the progress ticker on any transition
}

// NewStateMachine returns a machine in the idle state.
func NewStateMachine() *StateMachine {
	return &StateMachine{state: StateIdle}
}

// Begin accepts a new submission. Starting while another job is active is a
// caller error, not a silent queue.
func (m *StateMachine) Begin() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.activeLocked() {
		return ErrJobActive
	}
	m.state = StatePreparing
	m.jobID = ""
	m.progress = 0
	m.project = nil
	m.err = nil
	m.epoch++
	return nil
}

// Uploading marks the compressed payload as handed to the transfer runner.
func (m *StateMachine) Uploading() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StatePreparing {
		return
	}
	m.state = StateUploading
	m.progress = 0.1
}

// Processing records the assigned job id and starts the synthetic progress
// indicator.
func (m *StateMachine) Processing(jobID string) {
	m.mu.Lock()
	m.state = StateProcessing
	m.jobID = jobID
	m.progress = 0.3
	m.epoch++
	epoch := m.epoch
	m.mu.Unlock()

	go m.animateProgress(epoch)
}

// AdoptBackground enters the processing-in-background state for a job
// rediscovered from the durable job log on cold start.
func (m *StateMachine) AdoptBackground(jobID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.activeLocked() {
		return
	}
	m.state = StateProcessingInBackground
	m.jobID = jobID
	m.progress = 0.3
	m.epoch++
}

// Complete records the terminal success for the active job.
func (m *StateMachine) Complete(p projects.Project) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = StateCompleted
	m.progress = 1.0
	m.project = &p
	m.epoch++
}

// Fail records the terminal failure for the active job.
func (m *StateMachine) Fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = StateFailed
	m.err = err
	m.epoch++
}

// Reset returns the machine to idle after a terminal state has been consumed.
func (m *StateMachine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = StateIdle
	m.jobID = ""
	m.progress = 0
	m.project = nil
	m.err = nil
	m.epoch++
}

// State returns the current phase.
func (m *StateMachine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// JobID returns the id of the active or last-completed job.
func (m *StateMachine) JobID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.jobID
}

// Progress returns the synthetic progress value in [0, 1].
func (m *StateMachine) Progress() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.progress
}

// Project returns the committed project after a completed terminal state.
func (m *StateMachine) Project() *projects.Project {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.project
}

// Err returns the failure after a failed terminal state.
func (m *StateMachine) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

func (m *StateMachine) activeLocked() bool {
	switch m.state {
	case StatePreparing, StateUploading, StateProcessing, StateProcessingInBackground:
		return true
	default:
		return false
	}
}

func (m *StateMachine) animateProgress(epoch int) {
	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()
	for range ticker.C {
		if !m.tick(epoch) {
			return
		}
	}
}

// tick advances the indicator asymptotically toward the ceiling. It reports
// false once the machine left the processing state or transitioned again.
func (m *StateMachine) tick(epoch int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.epoch != epoch || m.state != StateProcessing {
		return false
	}
	m.progress += (progressCeiling - m.progress) * 0.1
	if m.progress > progressCeiling {
		m.progress = progressCeiling
	}
	return true
}
