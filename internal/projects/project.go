package projects

import "time"

// Status tracks the lifecycle of a persisted project.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Project is one completed styling result in the local library. Records are
// append-only: a project is never edited in place, only created and deleted.
type Project struct {
	ID           string    `json:"id"`
	TemplateID   string    `json:"template_id"`
	TemplateName string    `json:"template_name"`
	CreatedAt    time.Time `json:"created_at"`
	Status       Status    `json:"status"`
}
