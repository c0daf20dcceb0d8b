// Package repository defines the storage interfaces for the marketplace
// runtime plus an in-memory and a PostgreSQL implementation. Every mutation a
// store exposes is atomic with respect to the resource it keys on; callers
// never do read-modify-write across store calls.
package repository

import (
	"context"

	"skillmarket/backend/pkg/models"
)

// RegistryStore holds skill metadata, approvals, version locks, and review
// submissions. Read-mostly.
type RegistryStore interface {
	PutSkill(ctx context.Context, meta *models.SkillMeta) error
	// GetSkill returns nil when the skill is unknown.
	GetSkill(ctx context.Context, skillID string) (*models.SkillMeta, error)
	ListSkills(ctx context.Context) ([]*models.SkillMeta, error)

	AddApproval(ctx context.Context, approval *models.SkillApproval) error
	IsApproved(ctx context.Context, skillID, version string) (bool, error)

	SetLock(ctx context.Context, lock *models.VersionLock) error
	// LockedVersion returns "" when no lock exists for the skill.
	LockedVersion(ctx context.Context, skillID string) (string, error)

	CreateSubmission(ctx context.Context, sub *models.Submission) error
	GetSubmission(ctx context.Context, submissionID string) (*models.Submission, error)
	UpdateSubmission(ctx context.Context, sub *models.Submission) error
	ListSubmissions(ctx context.Context) ([]*models.Submission, error)
}

// InstallStore maps tenant+skill to an installed version with an append-only
// history. Install and Rollback are single atomic operations keyed on
// tenant+skill.
type InstallStore interface {
	// InstalledVersion returns "" when the tenant never installed the skill.
	InstalledVersion(ctx context.Context, tenantID, skillID string) (string, error)
	Install(ctx context.Context, tenantID, skillID, version, actor string) (*models.InstallRecord, error)
	// Rollback restores the previous version. It fails with invalid_state
	// when fewer than two history entries exist for the skill.
	Rollback(ctx context.Context, tenantID, skillID, actor string) (*models.InstallRecord, error)
	History(ctx context.Context, tenantID, skillID string) ([]models.InstallRecord, error)
}

// RateStore holds fixed-window counters and suspensions.
type RateStore interface {
	// TouchCounter resets the counter when windowStart advanced, adds cost,
	// and returns the new count, all in one atomic operation on key.
	TouchCounter(ctx context.Context, key string, windowStart, windowSec, cost int64) (int64, error)

	// ActiveSuspension returns nil when no suspension covers (tenant, device)
	// at the given time.
	ActiveSuspension(ctx context.Context, tenantID, deviceID string, now int64) (*models.Suspension, error)
	CreateSuspension(ctx context.Context, s *models.Suspension) error
	ListSuspensions(ctx context.Context, now int64, limit int) ([]*models.Suspension, error)
	ClearSuspension(ctx context.Context, suspendID string) (bool, error)
}

// WalletStore holds credit balances. Charge is a compare-and-decrement on the
// tenant's row; the balance can never go negative.
type WalletStore interface {
	Ensure(ctx context.Context, tenantID string, starter int64) error
	Balance(ctx context.Context, tenantID string) (int64, error)
	// Charge fails with insufficient_credits when balance < credits.
	Charge(ctx context.Context, tenantID string, credits int64) error
	Credit(ctx context.Context, tenantID string, credits int64) error
}

// LedgerStore is the append-only billing event log.
type LedgerStore interface {
	Append(ctx context.Context, ev *models.BillingEvent) error
	ListByTenant(ctx context.Context, tenantID string) ([]*models.BillingEvent, error)
	ListByDeveloper(ctx context.Context, developerID string) ([]*models.BillingEvent, error)
	ListAll(ctx context.Context) ([]*models.BillingEvent, error)
}

// WorkflowStore holds workflow definitions, their approvals, and their
// version locks.
type WorkflowStore interface {
	CreateWorkflow(ctx context.Context, wf *models.WorkflowDefinition) error
	// GetWorkflow returns nil when the workflow is unknown.
	GetWorkflow(ctx context.Context, workflowID string) (*models.WorkflowDefinition, error)
	UpdateWorkflow(ctx context.Context, wf *models.WorkflowDefinition) error
	ListWorkflows(ctx context.Context) ([]*models.WorkflowDefinition, error)

	AddWorkflowApproval(ctx context.Context, approval *models.WorkflowApproval) error
	IsWorkflowApproved(ctx context.Context, workflowID, version string) (bool, error)
	SetWorkflowLock(ctx context.Context, workflowID, version string) error
	WorkflowLockedVersion(ctx context.Context, workflowID string) (string, error)
}

// TenantStore resolves and provisions tenants.
type TenantStore interface {
	// GetTenantByDomain returns nil when no tenant owns the domain.
	GetTenantByDomain(ctx context.Context, domain string) (*models.Tenant, error)
	CreateTenant(ctx context.Context, tenant *models.Tenant) error
}

// Repository bundles every store behind one handle.
type Repository interface {
	Registry() RegistryStore
	Installs() InstallStore
	Rates() RateStore
	Wallets() WalletStore
	Ledger() LedgerStore
	Workflows() WorkflowStore
	Tenants() TenantStore
}
