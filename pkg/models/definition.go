package models

import "time"

// DefinitionStatus represents the lifecycle state of a workflow definition.
type DefinitionStatus string

const (
	DefinitionStatusDraft     DefinitionStatus = "draft"     // Editable, not executable
	DefinitionStatusPublished DefinitionStatus = "published" // Immutable, executable
	DefinitionStatusArchived  DefinitionStatus = "archived"  // Historical, not executable
)

// WorkflowDefinition is a tenant-scoped, versioned workflow graph. A
// published version is immutable: edits always create a new version, and
// any version referenced by an instance keeps its exact shape forever.
type WorkflowDefinition struct {
	ID          string           `json:"id"`
	TenantID    string           `json:"tenant_id"   validate:"required"`
	Name        string           `json:"name"        validate:"required,min=3"`
	Description string           `json:"description"`
	Version     int              `json:"version"     validate:"min=1"`
	Status      DefinitionStatus `json:"status"      validate:"required"`
	Graph       Graph            `json:"graph"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
	PublishedAt *time.Time       `json:"published_at,omitempty"`
	PublishedBy string           `json:"published_by,omitempty"`
}

// IsPublished reports whether the definition may be used to start instances.
func (d *WorkflowDefinition) IsPublished() bool {
	return d.Status == DefinitionStatusPublished
}
