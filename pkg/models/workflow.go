package models

import (
	"time"
)

// WorkflowStatus tracks a definition through review.
type WorkflowStatus string

const (
	WorkflowDraft     WorkflowStatus = "DRAFT"
	WorkflowSubmitted WorkflowStatus = "SUBMITTED"
	WorkflowApproved  WorkflowStatus = "APPROVED"
	WorkflowRejected  WorkflowStatus = "REJECTED"
)

// WorkflowStep is one entry in a definition's ordered step list. Either Type
// names a built-in ("rag_query") or SkillID names an installed skill.
type WorkflowStep struct {
	Type    string         `json:"type,omitempty"`
	SkillID string         `json:"skill_id,omitempty"`
	Input   map[string]any `json:"input,omitempty"`
}

// WorkflowDefinition is a reviewed, version-locked sequence of steps.
type WorkflowDefinition struct {
	WorkflowID  string         `json:"workflow_id" db:"workflow_id"`
	Name        string         `json:"name" db:"name"`
	Version     string         `json:"version" db:"version"`
	DeveloperID string         `json:"developer_id" db:"developer_id"`
	Status      WorkflowStatus `json:"status" db:"status"`
	Steps       []WorkflowStep `json:"steps" db:"steps"`
	CreatedAt   time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at" db:"updated_at"`
}

// WorkflowApproval records that one (workflow, version) cleared review.
// Approval also sets the workflow's version lock.
type WorkflowApproval struct {
	WorkflowID string    `json:"workflow_id" db:"workflow_id"`
	Version    string    `json:"version" db:"version"`
	ApprovedAt time.Time `json:"approved_at" db:"approved_at"`
}
