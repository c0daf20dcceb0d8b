package governance

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skillmarket/backend/internal/fault"
	"skillmarket/backend/internal/logging"
	"skillmarket/backend/internal/metrics"
	"skillmarket/backend/internal/ratelimit"
	"skillmarket/backend/internal/repository"
	"skillmarket/backend/pkg/models"
)

func newEnforcer(t *testing.T, policy ratelimit.Policy) (*Enforcer, repository.Repository) {
	t.Helper()
	repo := repository.NewMemory()
	limiter := ratelimit.NewLimiter(repo.Rates(), policy, logging.NewNop(), metrics.NewMetrics(prometheus.NewRegistry()))
	return NewEnforcer(repo.Installs(), repo.Registry(), limiter), repo
}

func permissivePolicy() ratelimit.Policy {
	return ratelimit.Policy{
		TenantPerMinute: 1000, TenantPerHour: 10000,
		DevicePerMinute: 1000, DevicePerHour: 10000,
	}
}

func TestEnforceOrderOfChecks(t *testing.T) {
	ctx := context.Background()
	enf, repo := newEnforcer(t, permissivePolicy())

	// nothing set up: not_installed wins
	_, err := enf.Enforce(ctx, "t1", "d1", "clean_text")
	assert.Equal(t, fault.KindNotInstalled, fault.KindOf(err))

	// installed 1.0.0 but locked to 2.0.0 and unapproved: lock wins
	_, err = repo.Installs().Install(ctx, "t1", "clean_text", "1.0.0", "test")
	require.NoError(t, err)
	require.NoError(t, repo.Registry().SetLock(ctx, &models.VersionLock{SkillID: "clean_text", LockedVersion: "2.0.0"}))

	_, err = enf.Enforce(ctx, "t1", "d1", "clean_text")
	assert.Equal(t, fault.KindVersionLocked, fault.KindOf(err))

	// lock aligned, still unapproved: approval check wins
	require.NoError(t, repo.Registry().SetLock(ctx, &models.VersionLock{SkillID: "clean_text", LockedVersion: "1.0.0"}))

	_, err = enf.Enforce(ctx, "t1", "d1", "clean_text")
	assert.Equal(t, fault.KindNotApproved, fault.KindOf(err))

	// approved: enforcement passes
	require.NoError(t, repo.Registry().AddApproval(ctx, &models.SkillApproval{SkillID: "clean_text", Version: "1.0.0"}))

	d, err := enf.Enforce(ctx, "t1", "d1", "clean_text")
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", d.InstalledVersion)
	assert.Equal(t, "1.0.0", d.LockedVersion)
}

func TestEnforceNoLockMeansAnyInstalledVersion(t *testing.T) {
	ctx := context.Background()
	enf, repo := newEnforcer(t, permissivePolicy())

	_, err := repo.Installs().Install(ctx, "t1", "keyword_extract", "3.1.0", "test")
	require.NoError(t, err)
	require.NoError(t, repo.Registry().AddApproval(ctx, &models.SkillApproval{SkillID: "keyword_extract", Version: "3.1.0"}))

	d, err := enf.Enforce(ctx, "t1", "d1", "keyword_extract")
	require.NoError(t, err)
	assert.Equal(t, "3.1.0", d.InstalledVersion)
	assert.Equal(t, "", d.LockedVersion)
}

func TestEnforceDeniedCallsDoNotConsumeQuota(t *testing.T) {
	ctx := context.Background()
	enf, repo := newEnforcer(t, ratelimit.Policy{
		TenantPerMinute: 2, TenantPerHour: 100,
		DevicePerMinute: 2, DevicePerHour: 100,
	})

	// uninstalled skill: denials never reach the counters
	for i := 0; i < 10; i++ {
		_, err := enf.Enforce(ctx, "t1", "d1", "ghost_skill")
		assert.Equal(t, fault.KindNotInstalled, fault.KindOf(err))
	}

	_, err := repo.Installs().Install(ctx, "t1", "clean_text", "1.0.0", "test")
	require.NoError(t, err)
	require.NoError(t, repo.Registry().AddApproval(ctx, &models.SkillApproval{SkillID: "clean_text", Version: "1.0.0"}))

	// full quota still available
	for i := 0; i < 2; i++ {
		_, err := enf.Enforce(ctx, "t1", "d1", "clean_text")
		assert.NoError(t, err)
	}
	_, err = enf.Enforce(ctx, "t1", "d1", "clean_text")
	assert.Equal(t, fault.KindRateLimited, fault.KindOf(err))
}

func TestEnforceSuspendedCaller(t *testing.T) {
	ctx := context.Background()
	enf, repo := newEnforcer(t, permissivePolicy())

	_, err := repo.Installs().Install(ctx, "t1", "clean_text", "1.0.0", "test")
	require.NoError(t, err)
	require.NoError(t, repo.Registry().AddApproval(ctx, &models.SkillApproval{SkillID: "clean_text", Version: "1.0.0"}))
	require.NoError(t, repo.Rates().CreateSuspension(ctx, &models.Suspension{
		SuspendID: "s1", TenantID: "t1", DeviceID: "d1",
		UntilTS: 9_999_999_999, Reason: "rate_limit_exceeded",
	}))

	_, err = enf.Enforce(ctx, "t1", "d1", "clean_text")
	assert.Equal(t, fault.KindSuspended, fault.KindOf(err))

	// other devices are unaffected
	_, err = enf.Enforce(ctx, "t1", "d2", "clean_text")
	assert.NoError(t, err)
}
