// Package templates defines the style-template catalog contract. The catalog
// itself is an external service; this package carries only the value types and
// the client interface consumers depend on.
package templates

import "context"

// TemplateRef identifies a style template at submission time. The id and name
// are copied into the job so a completion can be finished even if the catalog
// has changed since.
type TemplateRef struct {
	ID   string
	Name string
}

// TemplateDTO mirrors one catalog entry on the wire.
type TemplateDTO struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Category     string `json:"category"`
	ThumbnailURL string `json:"thumbnail_url"`
	IsPremium    bool   `json:"is_premium"`
}

// ListPage is one page of the paginated catalog listing.
type ListPage struct {
	Templates []TemplateDTO `json:"templates"`
	Page      int           `json:"page"`
	PerPage   int           `json:"per_page"`
	Total     int           `json:"total"`
}

// Catalog is the paginated-list contract the remote catalog must satisfy.
type Catalog interface {
	List(ctx context.Context, page, perPage int) (ListPage, error)
}
