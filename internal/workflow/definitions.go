package workflow

import (
	"context"
	"time"

	"github.com/google/uuid"

	"skillmarket/backend/internal/fault"
	"skillmarket/backend/internal/logging"
	"skillmarket/backend/internal/repository"
	"skillmarket/backend/pkg/models"
)

// Definitions manages the workflow review lifecycle:
// DRAFT -> SUBMITTED -> APPROVED or REJECTED. Approval records the
// (workflow, version) approval and sets the version lock in one step.
type Definitions struct {
	store  repository.WorkflowStore
	logger *logging.Logger
}

// NewDefinitions creates the definition service.
func NewDefinitions(store repository.WorkflowStore, logger *logging.Logger) *Definitions {
	return &Definitions{store: store, logger: logger}
}

// Create stores a new definition in DRAFT.
func (d *Definitions) Create(ctx context.Context, name, version, developerID string, steps []models.WorkflowStep) (*models.WorkflowDefinition, error) {
	if name == "" || version == "" || len(steps) == 0 {
		return nil, fault.New(fault.KindStepInputInvalid, "name, version, and steps are required")
	}
	if developerID == "" {
		developerID = "unknown_dev"
	}
	now := time.Now().UTC()
	wf := &models.WorkflowDefinition{
		WorkflowID:  uuid.New().String(),
		Name:        name,
		Version:     version,
		DeveloperID: developerID,
		Status:      models.WorkflowDraft,
		Steps:       steps,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := d.store.CreateWorkflow(ctx, wf); err != nil {
		return nil, err
	}
	return wf, nil
}

// Get returns a definition or a not_found fault.
func (d *Definitions) Get(ctx context.Context, workflowID string) (*models.WorkflowDefinition, error) {
	wf, err := d.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if wf == nil {
		return nil, fault.New(fault.KindNotFound, "workflow not found: %s", workflowID)
	}
	return wf, nil
}

// List returns every definition.
func (d *Definitions) List(ctx context.Context) ([]*models.WorkflowDefinition, error) {
	return d.store.ListWorkflows(ctx)
}

// Submit moves a DRAFT or REJECTED definition into review.
func (d *Definitions) Submit(ctx context.Context, workflowID string) (*models.WorkflowDefinition, error) {
	wf, err := d.Get(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if wf.Status != models.WorkflowDraft && wf.Status != models.WorkflowRejected {
		return nil, fault.New(fault.KindInvalidState, "cannot submit workflow in status %s", wf.Status)
	}
	wf.Status = models.WorkflowSubmitted
	wf.UpdatedAt = time.Now().UTC()
	if err := d.store.UpdateWorkflow(ctx, wf); err != nil {
		return nil, err
	}
	return wf, nil
}

// Approve clears a submitted definition: status APPROVED, approval recorded,
// version lock set to the approved version.
func (d *Definitions) Approve(ctx context.Context, workflowID string) (*models.WorkflowDefinition, error) {
	wf, err := d.Get(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if wf.Status != models.WorkflowSubmitted {
		return nil, fault.New(fault.KindInvalidState, "cannot approve workflow in status %s", wf.Status)
	}

	wf.Status = models.WorkflowApproved
	wf.UpdatedAt = time.Now().UTC()
	if err := d.store.UpdateWorkflow(ctx, wf); err != nil {
		return nil, err
	}
	if err := d.store.AddWorkflowApproval(ctx, &models.WorkflowApproval{
		WorkflowID: wf.WorkflowID,
		Version:    wf.Version,
		ApprovedAt: wf.UpdatedAt,
	}); err != nil {
		return nil, err
	}
	if err := d.store.SetWorkflowLock(ctx, wf.WorkflowID, wf.Version); err != nil {
		return nil, err
	}
	d.logger.Info("workflow approved", "workflow_id", wf.WorkflowID, "version", wf.Version)
	return wf, nil
}

// Reject marks a submitted definition REJECTED. The developer can edit and
// resubmit.
func (d *Definitions) Reject(ctx context.Context, workflowID, reason string) (*models.WorkflowDefinition, error) {
	wf, err := d.Get(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if wf.Status != models.WorkflowSubmitted {
		return nil, fault.New(fault.KindInvalidState, "cannot reject workflow in status %s", wf.Status)
	}
	wf.Status = models.WorkflowRejected
	wf.UpdatedAt = time.Now().UTC()
	if err := d.store.UpdateWorkflow(ctx, wf); err != nil {
		return nil, err
	}
	d.logger.Info("workflow rejected", "workflow_id", wf.WorkflowID, "reason", reason)
	return wf, nil
}

// Runnable resolves the definition to execute in named mode. The workflow
// must be APPROVED, the requested version (when given) must match the lock,
// and the locked version must be the approved one.
func (d *Definitions) Runnable(ctx context.Context, workflowID, version string) (*models.WorkflowDefinition, error) {
	wf, err := d.Get(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if wf.Status != models.WorkflowApproved {
		return nil, fault.New(fault.KindNotApproved, "workflow not approved: %s", workflowID)
	}

	locked, err := d.store.WorkflowLockedVersion(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if locked == "" {
		return nil, fault.New(fault.KindNotApproved, "workflow has no locked version: %s", workflowID)
	}
	if version != "" && version != locked {
		return nil, fault.New(fault.KindVersionLocked, "workflow locked to version %s", locked)
	}

	approved, err := d.store.IsWorkflowApproved(ctx, workflowID, locked)
	if err != nil {
		return nil, err
	}
	if !approved {
		return nil, fault.New(fault.KindNotApproved, "workflow version not approved: %s@%s", workflowID, locked)
	}
	return wf, nil
}
