package install

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skillmarket/backend/internal/fault"
	"skillmarket/backend/internal/logging"
	"skillmarket/backend/internal/registry"
	"skillmarket/backend/internal/repository"
	"skillmarket/backend/pkg/models"
)

func newService(t *testing.T) (*Service, *registry.Service) {
	t.Helper()
	repo := repository.NewMemory()
	reg := registry.NewService(repo.Registry(), logging.NewNop())
	return NewService(repo.Installs(), reg, logging.NewNop()), reg
}

func TestInstallAndRollback(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	rec, err := svc.Install(ctx, "t1", "clean_text", "1.0.0", "admin")
	require.NoError(t, err)
	assert.Equal(t, "", rec.FromVersion)
	assert.Equal(t, "1.0.0", rec.ToVersion)

	rec, err = svc.Install(ctx, "t1", "clean_text", "2.0.0", "admin")
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", rec.FromVersion)

	rec, err = svc.Rollback(ctx, "t1", "clean_text", "admin")
	require.NoError(t, err)
	assert.Equal(t, models.ActionRollback, rec.Action)
	assert.Equal(t, "1.0.0", rec.ToVersion)

	v, err := svc.InstalledVersion(ctx, "t1", "clean_text")
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", v)

	history, err := svc.History(ctx, "t1", "clean_text")
	require.NoError(t, err)
	assert.Len(t, history, 3)
}

func TestRollbackNeedsHistory(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	_, err := svc.Rollback(ctx, "t1", "clean_text", "admin")
	assert.Equal(t, fault.KindInvalidState, fault.KindOf(err))

	_, err = svc.Install(ctx, "t1", "clean_text", "1.0.0", "admin")
	require.NoError(t, err)

	// a single history entry has nothing earlier to restore
	_, err = svc.Rollback(ctx, "t1", "clean_text", "admin")
	assert.Equal(t, fault.KindInvalidState, fault.KindOf(err))
}

func TestInstallRespectsVisibility(t *testing.T) {
	ctx := context.Background()
	svc, reg := newService(t)

	require.NoError(t, reg.PublishSkill(ctx, &models.SkillMeta{
		SkillID: "private_skill", Name: "private_skill", DeveloperID: "dev_a",
		Visibility: models.VisibilityPrivate, AllowedTenants: []string{"t1"},
	}))

	_, err := svc.Install(ctx, "t1", "private_skill", "1.0.0", "admin")
	assert.NoError(t, err)

	_, err = svc.Install(ctx, "t2", "private_skill", "1.0.0", "admin")
	assert.Equal(t, fault.KindNotVisible, fault.KindOf(err))
}

func TestInstallsAreTenantScoped(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	_, err := svc.Install(ctx, "t1", "clean_text", "1.0.0", "admin")
	require.NoError(t, err)

	v, err := svc.InstalledVersion(ctx, "t2", "clean_text")
	require.NoError(t, err)
	assert.Equal(t, "", v)
}
