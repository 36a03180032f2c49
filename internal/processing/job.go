package processing

import "time"

// Job is the ephemeral bookkeeping needed to finish an asynchronous
// completion: which template was requested, where the source photo was
// parked, and when the job started. Jobs are created at submission and
// removed the moment a terminal outcome is recorded; they are never updated
// in place.
type Job struct {
	ID                string    `json:"id"`
	TemplateID        string    `json:"template_id"`
	TemplateName      string    `json:"template_name"`
	OriginalAssetPath string    `json:"original_asset_path"`
	CreatedAt         time.Time `json:"created_at"`
}
