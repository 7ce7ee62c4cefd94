// Package types holds the shared data model for the content audit and
// improvement pipeline: the content items being evaluated and the audit
// records the pipeline produces.
package types

import (
	"strings"
	"time"
)

// ContentType selects which collection of content a run operates on.
type ContentType string

const (
	ContentTypePrompt  ContentType = "prompt"
	ContentTypePattern ContentType = "pattern"
)

// ContentItem is a prompt or pattern owned by the content-management layer.
// The audit pipeline reads it; the improvement driver writes enrichment and
// SEO fields and bumps ContentRevision. ContentRevision changes only when
// field content changes, never on audit-only activity.
type ContentItem struct {
	ID          string      `gorm:"primaryKey;size:64" json:"id"`
	Type        ContentType `gorm:"size:16;index" json:"type"`
	Title       string      `gorm:"size:255" json:"title"`
	Description string      `gorm:"type:text" json:"description"`
	Body        string      `gorm:"type:text" json:"body"`
	Category    string      `gorm:"size:64;index" json:"category"`
	Role        string      `gorm:"size:64;index" json:"role,omitempty"`
	Tags        []string    `gorm:"serializer:json" json:"tags,omitempty"`

	// Enrichment fields, optional on first-pass content.
	Exemplars         []string `gorm:"serializer:json" json:"exemplars,omitempty"`
	UseCases          []string `gorm:"serializer:json" json:"use_cases,omitempty"`
	BestPractices     []string `gorm:"serializer:json" json:"best_practices,omitempty"`
	RecommendedModels []string `gorm:"serializer:json" json:"recommended_models,omitempty"`

	// SEO fields.
	Slug            string   `gorm:"size:255;index" json:"slug,omitempty"`
	MetaDescription string   `gorm:"size:512" json:"meta_description,omitempty"`
	Keywords        []string `gorm:"serializer:json" json:"keywords,omitempty"`

	ContentRevision int       `json:"content_revision"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// MandatoryFields are the fields every item must carry before it counts as
// publishable. Enrichment fields are deliberately excluded: missing
// enrichment lowers the score but never forces remediation on its own.
var MandatoryFields = []string{"title", "description", "body", "category"}

// MissingMandatory returns the mandatory fields that are absent or, for the
// body, shorter than minBodyLen.
func (c *ContentItem) MissingMandatory(minBodyLen int) []string {
	var missing []string
	if strings.TrimSpace(c.Title) == "" {
		missing = append(missing, "title")
	}
	if strings.TrimSpace(c.Description) == "" {
		missing = append(missing, "description")
	}
	if len(strings.TrimSpace(c.Body)) < minBodyLen {
		missing = append(missing, "body")
	}
	if strings.TrimSpace(c.Category) == "" {
		missing = append(missing, "category")
	}
	return missing
}

// HasEnrichment reports whether all enrichment field groups carry content.
func (c *ContentItem) HasEnrichment() bool {
	return len(c.Exemplars) > 0 && len(c.UseCases) > 0 && len(c.BestPractices) > 0
}

// HasSEO reports whether the SEO triple is fully populated.
func (c *ContentItem) HasSEO() bool {
	return c.Slug != "" && c.MetaDescription != "" && len(c.Keywords) > 0
}

// ItemFilter narrows a batch run to a subset of items.
type ItemFilter struct {
	Type     ContentType
	Category string
	Role     string
	Limit    int
}

// FieldPatch is a partial update applied to a ContentItem in one atomic
// write. Keys are gorm column names.
type FieldPatch map[string]any
