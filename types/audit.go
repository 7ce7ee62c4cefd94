package types

import "time"

// AuditRecord is one evaluation result for one ContentItem at one point in
// time. Records are append-only: AuditSequence is strictly increasing per
// item and independent of ContentRevision, so several audits may share one
// revision. Once written a record is never mutated.
type AuditRecord struct {
	ID              uint   `gorm:"primaryKey" json:"-"`
	ItemID          string `gorm:"size:64;index:idx_item_seq,unique" json:"item_id"`
	AuditSequence   int    `gorm:"index:idx_item_seq,unique" json:"audit_sequence"`
	ContentRevision int    `json:"content_revision"`

	CategoryScores map[string]float64 `gorm:"serializer:json" json:"category_scores"`
	OverallScore   float64            `json:"overall_score"`

	Issues          []string `gorm:"serializer:json" json:"issues,omitempty"`
	Recommendations []string `gorm:"serializer:json" json:"recommendations,omitempty"`
	MissingElements []string `gorm:"serializer:json" json:"missing_elements,omitempty"`

	NeedsRemediation bool `gorm:"index" json:"needs_remediation"`

	// RawAgentOutputs keeps each reviewer's raw text for traceability.
	// Failed agents are recorded with an error placeholder, not dropped.
	RawAgentOutputs map[string]string `gorm:"serializer:json" json:"raw_agent_outputs,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}
