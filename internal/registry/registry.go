// Package registry manages the skill catalog: metadata, review submissions,
// approvals, and platform-wide version locks. Skill versions become
// invocable only after a submission is approved; a lock pins every tenant to
// one version.
package registry

import (
	"context"
	"time"

	"github.com/google/uuid"

	"skillmarket/backend/internal/fault"
	"skillmarket/backend/internal/logging"
	"skillmarket/backend/internal/repository"
	"skillmarket/backend/pkg/models"
)

// Service wraps the registry store with the review state machine.
type Service struct {
	store  repository.RegistryStore
	logger *logging.Logger
}

// NewService creates a registry service.
func NewService(store repository.RegistryStore, logger *logging.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// PublishSkill creates or updates a catalog entry.
func (s *Service) PublishSkill(ctx context.Context, meta *models.SkillMeta) error {
	if meta.Visibility == "" {
		meta.Visibility = models.VisibilityPublic
	}
	meta.CreatedAt = time.Now().UTC()
	return s.store.PutSkill(ctx, meta)
}

// ListSkills returns the catalog.
func (s *Service) ListSkills(ctx context.Context) ([]*models.SkillMeta, error) {
	return s.store.ListSkills(ctx)
}

// CanTenantSee applies the visibility rules. Skills without a catalog entry
// default to public.
func (s *Service) CanTenantSee(ctx context.Context, tenantID, skillID string) (bool, error) {
	meta, err := s.store.GetSkill(ctx, skillID)
	if err != nil {
		return false, err
	}
	if meta == nil || meta.Visibility == models.VisibilityPublic {
		return true, nil
	}
	for _, allowed := range meta.AllowedTenants {
		if allowed == tenantID {
			return true, nil
		}
	}
	return false, nil
}

// Submit opens a review submission for a skill version.
func (s *Service) Submit(ctx context.Context, skillID, version, developerID, notes string) (*models.Submission, error) {
	now := time.Now().UTC()
	sub := &models.Submission{
		SubmissionID: uuid.New().String(),
		SkillID:      skillID,
		Version:      version,
		DeveloperID:  developerID,
		Status:       models.SubmissionPending,
		Notes:        notes,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateSubmission(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// ApproveSubmission moves a pending submission to APPROVED and records the
// version approval the governance gate checks.
func (s *Service) ApproveSubmission(ctx context.Context, submissionID string) (*models.Submission, error) {
	sub, err := s.store.GetSubmission(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, fault.New(fault.KindNotFound, "submission not found: %s", submissionID)
	}
	if sub.Status != models.SubmissionPending {
		return nil, fault.New(fault.KindInvalidState, "cannot approve submission in status %s", sub.Status)
	}

	sub.Status = models.SubmissionApproved
	sub.UpdatedAt = time.Now().UTC()
	if err := s.store.UpdateSubmission(ctx, sub); err != nil {
		return nil, err
	}
	approval := &models.SkillApproval{
		SkillID:      sub.SkillID,
		Version:      sub.Version,
		SubmissionID: sub.SubmissionID,
		ApprovedAt:   sub.UpdatedAt,
	}
	if err := s.store.AddApproval(ctx, approval); err != nil {
		return nil, err
	}
	s.logger.Info("skill version approved", "skill_id", sub.SkillID, "version", sub.Version)
	return sub, nil
}

// RejectSubmission moves a pending submission to REJECTED with a reason.
func (s *Service) RejectSubmission(ctx context.Context, submissionID, reason string) (*models.Submission, error) {
	sub, err := s.store.GetSubmission(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, fault.New(fault.KindNotFound, "submission not found: %s", submissionID)
	}
	if sub.Status != models.SubmissionPending {
		return nil, fault.New(fault.KindInvalidState, "cannot reject submission in status %s", sub.Status)
	}

	sub.Status = models.SubmissionRejected
	sub.Reason = reason
	sub.UpdatedAt = time.Now().UTC()
	if err := s.store.UpdateSubmission(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// ListSubmissions returns every submission in creation order.
func (s *Service) ListSubmissions(ctx context.Context) ([]*models.Submission, error) {
	return s.store.ListSubmissions(ctx)
}

// Approve records a (skill, version) approval directly, without a
// submission. Used by seeding and operator tooling.
func (s *Service) Approve(ctx context.Context, skillID, version string) error {
	return s.store.AddApproval(ctx, &models.SkillApproval{
		SkillID:    skillID,
		Version:    version,
		ApprovedAt: time.Now().UTC(),
	})
}

// Lock pins every tenant to one version of a skill.
func (s *Service) Lock(ctx context.Context, skillID, version string) error {
	s.logger.Info("version locked", "skill_id", skillID, "version", version)
	return s.store.SetLock(ctx, &models.VersionLock{
		SkillID:       skillID,
		LockedVersion: version,
		LockedAt:      time.Now().UTC(),
	})
}
