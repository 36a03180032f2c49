package processing

import (
	"errors"
	"testing"

	"stylist/internal/projects"
)

func TestStateMachineHappyPath(t *testing.T) {
	m := NewStateMachine()
	if m.State() != StateIdle {
		t.Fatalf("initial state = %v, want idle", m.State())
	}

	if err := m.Begin(); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if m.State() != StatePreparing {
		t.Fatalf("state = %v, want preparing", m.State())
	}

	m.Uploading()
	if m.State() != StateUploading {
		t.Fatalf("state = %v, want uploading", m.State())
	}

	m.Processing("job-1")
	if m.State() != StateProcessing || m.JobID() != "job-1" {
		t.Fatalf("state = %v job = %q", m.State(), m.JobID())
	}

	m.Complete(projects.Project{ID: "p-1", Status: projects.StatusCompleted})
	if m.State() != StateCompleted {
		t.Fatalf("state = %v, want completed", m.State())
	}
	if m.Progress() != 1.0 {
		t.Fatalf("progress = %v, want 1.0", m.Progress())
	}
	if m.Project() == nil || m.Project().ID != "p-1" {
		t.Fatalf("project = %+v", m.Project())
	}
}

func TestStateMachineRejectsConcurrentJob(t *testing.T) {
	m := NewStateMachine()
	if err := m.Begin(); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := m.Begin(); !errors.Is(err, ErrJobActive) {
		t.Fatalf("second Begin err = %v, want ErrJobActive", err)
	}

	m.Fail(ErrNetwork)
	// Terminal states release the guard.
	if err := m.Begin(); err != nil {
		t.Fatalf("Begin after terminal state: %v", err)
	}
}

func TestStateMachineProgressIsBoundedAndStops(t *testing.T) {
	m := NewStateMachine()
	if err := m.Begin(); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	m.Uploading()
	m.Processing("job-1")

	epoch := m.epoch
	for i := 0; i < 100; i++ {
		if !m.tick(epoch) {
			t.Fatalf("tick stopped while still processing")
		}
	}
	if p := m.Progress(); p >= 1.0 {
		t.Fatalf("synthetic progress reached %v before a terminal event", p)
	}

	m.Complete(projects.Project{ID: "p-1"})
	if m.tick(epoch) {
		t.Fatalf("tick should stop after a terminal transition")
	}
	if m.Progress() != 1.0 {
		t.Fatalf("progress = %v after completion, want 1.0", m.Progress())
	}
}

func TestStateMachineAdoptBackground(t *testing.T) {
	m := NewStateMachine()
	m.AdoptBackground("job-9")
	if m.State() != StateProcessingInBackground || m.JobID() != "job-9" {
		t.Fatalf("state = %v job = %q", m.State(), m.JobID())
	}

	// Same semantics as processing: a new submission is rejected.
	if err := m.Begin(); !errors.Is(err, ErrJobActive) {
		t.Fatalf("Begin err = %v, want ErrJobActive", err)
	}
}

func TestStateMachineReset(t *testing.T) {
	m := NewStateMachine()
	if err := m.Begin(); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	m.Fail(ErrInvalidResponse)
	m.Reset()

	if m.State() != StateIdle || m.Err() != nil || m.Project() != nil || m.Progress() != 0 {
		t.Fatalf("reset left residual state: %v %v %v %v", m.State(), m.Err(), m.Project(), m.Progress())
	}
}
