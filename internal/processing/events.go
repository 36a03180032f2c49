package processing

import (
	"sync"

	"stylist/internal/projects"
)

// Outcome is the terminal result of one job, delivered through the Hub.
// Exactly one of Project or Err is set.
type Outcome struct {
	JobID   string
	Project *projects.Project
	Err     error
}

// Hub fans terminal outcomes out to the one party interested in each job.
// It replaces broadcast-style notification matching with a typed channel per
// job id, so unrelated listeners never see each other's events and
// unsubscription is explicit.
//
// An outcome published before anyone subscribes is parked and delivered to
// the first subscriber for that job id; the transfer callback runs on its own
// goroutine and must never block on, or race with, the consumer.
type Hub struct {
	mu        sync.Mutex
	subs      map[string]chan Outcome
	pending   map[string]Outcome
	dismissed map[string]struct{}
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{
		subs:      make(map[string]chan Outcome),
		pending:   make(map[string]Outcome),
		dismissed: make(map[string]struct{}),
	}
}

// Subscribe registers interest in jobID's terminal outcome. The returned
// cancel function releases the subscription; after a dismissal the outcome is
// simply dropped on publish.
func (h *Hub) Subscribe(jobID string) (<-chan Outcome, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan Outcome, 1)
	delete(h.dismissed, jobID)
	if outcome, ok := h.pending[jobID]; ok {
		delete(h.pending, jobID)
		ch <- outcome
		return ch, func() {}
	}
	h.subs[jobID] = ch

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if existing, ok := h.subs[jobID]; ok && existing == ch {
			delete(h.subs, jobID)
			h.dismissed[jobID] = struct{}{}
		}
	}
	return ch, cancel
}

// Publish delivers the outcome for its job id. With no subscriber the outcome
// is parked for the first future subscriber, unless the subscription was
// dismissed, in which case it is dropped. Never blocks.
func (h *Hub) Publish(outcome Outcome) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ch, ok := h.subs[outcome.JobID]; ok {
		delete(h.subs, outcome.JobID)
		select {
		case ch <- outcome:
		default:
		}
		return
	}
	if _, ok := h.dismissed[outcome.JobID]; ok {
		delete(h.dismissed, outcome.JobID)
		return
	}
	h.pending[outcome.JobID] = outcome
}
