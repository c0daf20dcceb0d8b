// Package install manages the tenant-specific binding of skill ids to
// installed versions, with an append-only history that rollback walks.
package install

import (
	"context"

	"skillmarket/backend/internal/fault"
	"skillmarket/backend/internal/logging"
	"skillmarket/backend/internal/registry"
	"skillmarket/backend/internal/repository"
	"skillmarket/backend/pkg/models"
)

// Service wraps the install store with visibility checks.
type Service struct {
	store    repository.InstallStore
	registry *registry.Service
	logger   *logging.Logger
}

// NewService creates an install service.
func NewService(store repository.InstallStore, reg *registry.Service, logger *logging.Logger) *Service {
	return &Service{store: store, registry: reg, logger: logger}
}

// Install binds a skill version to a tenant, appending a history entry. The
// tenant must be able to see the skill under its visibility rules.
func (s *Service) Install(ctx context.Context, tenantID, skillID, version, actor string) (*models.InstallRecord, error) {
	visible, err := s.registry.CanTenantSee(ctx, tenantID, skillID)
	if err != nil {
		return nil, err
	}
	if !visible {
		return nil, fault.New(fault.KindNotVisible, "skill not visible for this tenant: %s", skillID)
	}

	rec, err := s.store.Install(ctx, tenantID, skillID, version, actor)
	if err != nil {
		return nil, err
	}
	s.logger.Info("skill installed",
		"tenant_id", tenantID, "skill_id", skillID,
		"from_version", rec.FromVersion, "to_version", rec.ToVersion, "actor", actor)
	return rec, nil
}

// Rollback restores the previous installed version. It requires at least two
// history entries for the skill; the store enforces that atomically.
func (s *Service) Rollback(ctx context.Context, tenantID, skillID, actor string) (*models.InstallRecord, error) {
	rec, err := s.store.Rollback(ctx, tenantID, skillID, actor)
	if err != nil {
		return nil, err
	}
	s.logger.Info("skill rolled back",
		"tenant_id", tenantID, "skill_id", skillID,
		"from_version", rec.FromVersion, "to_version", rec.ToVersion, "actor", actor)
	return rec, nil
}

// InstalledVersion returns "" when the tenant never installed the skill.
func (s *Service) InstalledVersion(ctx context.Context, tenantID, skillID string) (string, error) {
	return s.store.InstalledVersion(ctx, tenantID, skillID)
}

// History returns the append-only install log for one tenant+skill.
func (s *Service) History(ctx context.Context, tenantID, skillID string) ([]models.InstallRecord, error) {
	return s.store.History(ctx, tenantID, skillID)
}
