// Package models defines the domain models for the marketplace runtime
package models

import (
	"time"
)

// Visibility controls which tenants may install a skill
type Visibility string

const (
	VisibilityPublic     Visibility = "public"
	VisibilityPrivate    Visibility = "private"
	VisibilityEnterprise Visibility = "enterprise"
)

// SubmissionStatus represents the review state of a registry submission
type SubmissionStatus string

const (
	SubmissionPending  SubmissionStatus = "PENDING"
	SubmissionApproved SubmissionStatus = "APPROVED"
	SubmissionRejected SubmissionStatus = "REJECTED"
)

// InstallAction distinguishes history entries in the install log
type InstallAction string

const (
	ActionInstall  InstallAction = "INSTALL"
	ActionRollback InstallAction = "ROLLBACK"
)

// SkillMeta is the catalog entry for a published skill.
type SkillMeta struct {
	SkillID        string     `json:"skill_id" db:"skill_id"`
	Name           string     `json:"name" db:"name"`
	Version        string     `json:"version" db:"version"`
	DeveloperID    string     `json:"developer_id" db:"developer_id"`
	Category       string     `json:"category,omitempty" db:"category"`
	RiskLevel      string     `json:"risk_level,omitempty" db:"risk_level"`
	Visibility     Visibility `json:"visibility" db:"visibility"`
	AllowedTenants []string   `json:"allowed_tenants,omitempty" db:"allowed_tenants"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
}

// SkillApproval marks a single (skill, version) pair as cleared by review.
type SkillApproval struct {
	SkillID      string    `json:"skill_id" db:"skill_id"`
	Version      string    `json:"version" db:"version"`
	SubmissionID string    `json:"submission_id,omitempty" db:"submission_id"`
	ApprovedAt   time.Time `json:"approved_at" db:"approved_at"`
}

// VersionLock pins every tenant to one version of a skill.
type VersionLock struct {
	SkillID       string    `json:"skill_id" db:"skill_id"`
	LockedVersion string    `json:"locked_version" db:"locked_version"`
	LockedAt      time.Time `json:"locked_at" db:"locked_at"`
}

// Submission is a developer's request to have a skill version reviewed.
type Submission struct {
	SubmissionID string           `json:"submission_id" db:"submission_id"`
	SkillID      string           `json:"skill_id" db:"skill_id"`
	Version      string           `json:"version" db:"version"`
	DeveloperID  string           `json:"developer_id" db:"developer_id"`
	Status       SubmissionStatus `json:"status" db:"status"`
	Reason       string           `json:"reason,omitempty" db:"reason"`
	Notes        string           `json:"notes,omitempty" db:"notes"`
	CreatedAt    time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at" db:"updated_at"`
}

// InstallRecord is one append-only entry in a tenant's install history.
type InstallRecord struct {
	TenantID    string        `json:"tenant_id" db:"tenant_id"`
	SkillID     string        `json:"skill_id" db:"skill_id"`
	Action      InstallAction `json:"action" db:"action"`
	FromVersion string        `json:"from_version,omitempty" db:"from_version"`
	ToVersion   string        `json:"to_version" db:"to_version"`
	Actor       string        `json:"actor" db:"actor"`
	Timestamp   time.Time     `json:"ts" db:"ts"`
}

// RateCounter is an ephemeral fixed-window counter. It resets whenever
// window_start advances; there is no carry-over between windows.
type RateCounter struct {
	Key         string `db:"key"`
	WindowStart int64  `db:"window_start"`
	WindowSec   int64  `db:"window_sec"`
	Count       int64  `db:"count"`
}

// Suspension is a temporary deny-all for a tenant+device pair. It expires by
// timestamp comparison; rows are never closed explicitly.
type Suspension struct {
	SuspendID string `json:"suspend_id" db:"suspend_id"`
	TenantID  string `json:"tenant_id" db:"tenant_id"`
	DeviceID  string `json:"device_id" db:"device_id"`
	UntilTS   int64  `json:"until_ts" db:"until_ts"`
	Reason    string `json:"reason" db:"reason"`
}

// Wallet holds a tenant's credit balance. Balance never goes negative.
type Wallet struct {
	TenantID string `json:"tenant_id" db:"tenant_id"`
	Balance  int64  `json:"balance" db:"balance"`
}

// BillingEvent is one immutable row in the usage ledger.
type BillingEvent struct {
	EventID         string    `json:"event_id" db:"event_id"`
	TenantID        string    `json:"tenant_id" db:"tenant_id"`
	SkillID         string    `json:"skill_id" db:"skill_id"`
	Version         string    `json:"version" db:"version"`
	Credits         int64     `json:"credits" db:"credits"`
	GrossUSD        float64   `json:"gross_usd" db:"gross_usd"`
	PlatformFeeUSD  float64   `json:"platform_fee_usd" db:"platform_fee_usd"`
	DeveloperNetUSD float64   `json:"developer_net_usd" db:"developer_net_usd"`
	DeveloperID     string    `json:"developer_id" db:"developer_id"`
	LatencyMS       int64     `json:"latency_ms" db:"latency_ms"`
	Timestamp       time.Time `json:"ts" db:"ts"`
}

// SkillSpend aggregates ledger rows for one skill on a dashboard.
type SkillSpend struct {
	Credits  int64   `json:"credits"`
	GrossUSD float64 `json:"gross_usd"`
	NetUSD   float64 `json:"net_usd,omitempty"`
}

// TenantDashboard is a read-side aggregation over the ledger. It is never the
// wallet's source of truth.
type TenantDashboard struct {
	TenantID         string                `json:"tenant_id"`
	RemainingCredits int64                 `json:"remaining_credits"`
	TotalEvents      int                   `json:"total_events"`
	TotalCreditsUsed int64                 `json:"total_credits_used"`
	TotalSpendUSD    float64               `json:"total_spend_usd"`
	BySkill          map[string]SkillSpend `json:"by_skill"`
}

// DeveloperDashboard aggregates ledger rows for one developer.
type DeveloperDashboard struct {
	DeveloperID    string                `json:"developer_id"`
	TotalEvents    int                   `json:"total_events"`
	GrossUSD       float64               `json:"gross_usd"`
	PlatformFeeUSD float64               `json:"platform_fee_usd"`
	NetUSD         float64               `json:"net_usd"`
	BySkill        map[string]SkillSpend `json:"by_skill"`
}

// PlatformDashboard aggregates the whole ledger.
type PlatformDashboard struct {
	TotalEvents     int     `json:"total_events"`
	GrossUSD        float64 `json:"gross_usd"`
	PlatformFeeUSD  float64 `json:"platform_fee_usd"`
	DeveloperNetUSD float64 `json:"developer_net_usd"`
}
