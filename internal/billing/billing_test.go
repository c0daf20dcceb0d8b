package billing

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skillmarket/backend/internal/fault"
	"skillmarket/backend/internal/logging"
	"skillmarket/backend/internal/metrics"
	"skillmarket/backend/internal/repository"
	"skillmarket/backend/pkg/models"
)

func newService(t *testing.T) (*Service, repository.Repository) {
	t.Helper()
	repo := repository.NewMemory()
	svc := NewService(repo.Wallets(), repo.Ledger(), repo.Registry(), Pricing{
		UnitCreditValueUSD: 0.01,
		PlatformFeePercent: 25,
		StarterCredits:     100,
	}, logging.NewNop(), metrics.NewMetrics(prometheus.NewRegistry()))
	return svc, repo
}

func TestChargeAndBalance(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	require.NoError(t, svc.EnsureWallet(ctx, "t1"))

	bal, err := svc.Balance(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), bal)

	require.NoError(t, svc.Charge(ctx, "t1", 30))

	err = svc.Charge(ctx, "t1", 71)
	assert.Equal(t, fault.KindInsufficientCredits, fault.KindOf(err))

	bal, err = svc.Balance(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, int64(70), bal, "failed charge must not move the balance")
}

func TestRecordEventFeeSplit(t *testing.T) {
	ctx := context.Background()
	svc, repo := newService(t)

	require.NoError(t, repo.Registry().PutSkill(ctx, &models.SkillMeta{
		SkillID:     "clean_text",
		Name:        "clean_text",
		DeveloperID: "dev_a",
		Visibility:  models.VisibilityPublic,
	}))

	ev := svc.RecordEvent(ctx, "t1", "clean_text", "1.0.0", 4, 12)

	assert.Equal(t, "dev_a", ev.DeveloperID)
	assert.Equal(t, int64(4), ev.Credits)
	assert.Equal(t, 0.04, ev.GrossUSD)
	assert.Equal(t, 0.01, ev.PlatformFeeUSD)
	assert.Equal(t, 0.03, ev.DeveloperNetUSD)
}

func TestRecordEventUnknownSkillBillsUnknownDev(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	ev := svc.RecordEvent(ctx, "t1", "ghost", "1.0.0", 1, 5)
	assert.Equal(t, "unknown_dev", ev.DeveloperID)
}

// flakyLedger fails the first n appends, then delegates.
type flakyLedger struct {
	repository.LedgerStore
	failures int
}

func (f *flakyLedger) Append(ctx context.Context, ev *models.BillingEvent) error {
	if f.failures > 0 {
		f.failures--
		return fault.Storage("append event")
	}
	return f.LedgerStore.Append(ctx, ev)
}

func TestRecordEventRetriesAndParks(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemory()
	flaky := &flakyLedger{LedgerStore: repo.Ledger(), failures: 10}
	svc := NewService(repo.Wallets(), flaky, repo.Registry(), Pricing{
		UnitCreditValueUSD: 0.01,
		PlatformFeePercent: 25,
	}, logging.NewNop(), metrics.NewMetrics(prometheus.NewRegistry()))

	// every attempt fails: the event parks instead of dropping
	ev := svc.RecordEvent(ctx, "t1", "clean_text", "1.0.0", 2, 3)
	events, err := repo.Ledger().ListByTenant(ctx, "t1")
	require.NoError(t, err)
	assert.Empty(t, events)

	// the store recovers; the next record redelivers the parked event too
	flaky.failures = 0
	svc.RecordEvent(ctx, "t1", "clean_text", "1.0.0", 1, 2)

	events, err = repo.Ledger().ListByTenant(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, events, 2)

	ids := map[string]bool{}
	for _, e := range events {
		ids[e.EventID] = true
	}
	assert.True(t, ids[ev.EventID], "parked event must reach the ledger")
}

func TestDashboards(t *testing.T) {
	ctx := context.Background()
	svc, repo := newService(t)

	require.NoError(t, repo.Registry().PutSkill(ctx, &models.SkillMeta{
		SkillID: "clean_text", Name: "clean_text", DeveloperID: "dev_a", Visibility: models.VisibilityPublic,
	}))
	require.NoError(t, repo.Registry().PutSkill(ctx, &models.SkillMeta{
		SkillID: "pii_redactor", Name: "pii_redactor", DeveloperID: "dev_b", Visibility: models.VisibilityPublic,
	}))
	require.NoError(t, svc.EnsureWallet(ctx, "t1"))

	svc.RecordEvent(ctx, "t1", "clean_text", "1.0.0", 4, 10)
	svc.RecordEvent(ctx, "t1", "clean_text", "1.0.0", 2, 10)
	svc.RecordEvent(ctx, "t1", "pii_redactor", "1.0.0", 10, 10)

	td, err := svc.TenantDashboard(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 3, td.TotalEvents)
	assert.Equal(t, int64(16), td.TotalCreditsUsed)
	assert.Equal(t, 0.16, td.TotalSpendUSD)
	assert.Equal(t, int64(6), td.BySkill["clean_text"].Credits)
	assert.Equal(t, int64(100), td.RemainingCredits, "dashboard reads never touch the wallet")

	dd, err := svc.DeveloperDashboard(ctx, "dev_a")
	require.NoError(t, err)
	assert.Equal(t, 2, dd.TotalEvents)
	assert.Equal(t, 0.06, dd.GrossUSD)
	assert.Equal(t, 0.015, dd.PlatformFeeUSD)
	assert.Equal(t, 0.045, dd.NetUSD)

	pd, err := svc.PlatformDashboard(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, pd.TotalEvents)
	assert.Equal(t, 0.16, pd.GrossUSD)
	assert.Equal(t, 0.04, pd.PlatformFeeUSD)
	assert.Equal(t, 0.12, pd.DeveloperNetUSD)
}
