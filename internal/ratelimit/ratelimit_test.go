package ratelimit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skillmarket/backend/internal/logging"
	"skillmarket/backend/internal/metrics"
	"skillmarket/backend/internal/repository"

	"github.com/prometheus/client_golang/prometheus"
)

func testLimiter(policy Policy) *Limiter {
	l := NewLimiter(repository.NewMemory(), policy, logging.NewNop(), metrics.NewMetrics(prometheus.NewRegistry()))
	l.now = func() int64 { return 1_000_000 }
	return l
}

func TestBucketRoute(t *testing.T) {
	assert.Equal(t, "POST /skills", BucketRoute("POST /skills/clean_text/run"))
	assert.Equal(t, "POST /workflows", BucketRoute("POST /workflows/abc/run"))
	assert.Equal(t, "POST /rag", BucketRoute("POST /rag/query"))
	assert.Equal(t, "GET /wallet", BucketRoute("GET /wallet"))
}

func TestCheckAllowsUpToLimitThenSuspends(t *testing.T) {
	ctx := context.Background()
	l := testLimiter(Policy{
		TenantPerMinute: 5,
		TenantPerHour:   100,
		DevicePerMinute: 5,
		DevicePerHour:   100,
		AutoSuspend:     true,
		SuspendMinutes:  10,
	})

	for i := 0; i < 5; i++ {
		d, err := l.Check(ctx, "t1", "d1", "POST /skills/clean_text", 1)
		require.NoError(t, err)
		assert.True(t, d.Allowed, "call %d should be admitted", i+1)
	}

	d, err := l.Check(ctx, "t1", "d1", "POST /skills/clean_text", 1)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, "rate_limited_and_suspended", d.Reason)

	// the suspension blocks every route for the pair, not just the noisy one
	d, err = l.Check(ctx, "t1", "d1", "POST /workflows/run", 1)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Reason, "suspended")
	assert.Greater(t, d.RetryAfter, int64(0))

	// a different device on the same tenant still has tenant quota left
	d, err = l.Check(ctx, "t1", "d2", "POST /skills/clean_text", 1)
	require.NoError(t, err)
	assert.False(t, d.Allowed, "tenant counter already at limit")
}

func TestCheckDeniesWithoutSuspendWhenDisabled(t *testing.T) {
	ctx := context.Background()
	l := testLimiter(Policy{
		TenantPerMinute: 2,
		TenantPerHour:   100,
		DevicePerMinute: 2,
		DevicePerHour:   100,
		AutoSuspend:     false,
	})

	for i := 0; i < 2; i++ {
		d, err := l.Check(ctx, "t1", "d1", "POST /skills/x", 1)
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	}

	d, err := l.Check(ctx, "t1", "d1", "POST /skills/x", 1)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, "rate_limited", d.Reason)
	assert.Equal(t, int64(60), d.RetryAfter)

	// no suspension was created, the next minute window admits again
	l.now = func() int64 { return 1_000_000 + 60 }
	d, err = l.Check(ctx, "t1", "d1", "POST /skills/x", 1)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestCheckCountersResetAtWindowBoundary(t *testing.T) {
	ctx := context.Background()
	l := testLimiter(Policy{
		TenantPerMinute: 1,
		TenantPerHour:   100,
		DevicePerMinute: 1,
		DevicePerHour:   100,
		AutoSuspend:     false,
	})

	d, err := l.Check(ctx, "t1", "d1", "POST /skills/x", 1)
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	d, err = l.Check(ctx, "t1", "d1", "POST /skills/x", 1)
	require.NoError(t, err)
	assert.False(t, d.Allowed)

	// minute boundary: minute counter resets, hour counter carries on
	l.now = func() int64 { return 1_000_000 + 60 }
	d, err = l.Check(ctx, "t1", "d1", "POST /skills/x", 1)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestCheckHourLimitBindsAcrossMinutes(t *testing.T) {
	ctx := context.Background()
	l := testLimiter(Policy{
		TenantPerMinute: 10,
		TenantPerHour:   3,
		DevicePerMinute: 10,
		DevicePerHour:   100,
		AutoSuspend:     false,
	})

	base := int64(1_000_000)
	for i := 0; i < 3; i++ {
		offset := int64(i) * 60
		l.now = func() int64 { return base + offset }
		d, err := l.Check(ctx, "t1", "d1", "POST /skills/x", 1)
		require.NoError(t, err)
		assert.True(t, d.Allowed, "call %d", i+1)
	}

	l.now = func() int64 { return base + 3*60 }
	d, err := l.Check(ctx, "t1", "d1", "POST /skills/x", 1)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
}

func TestClearSuspensionRestoresAccess(t *testing.T) {
	ctx := context.Background()
	l := testLimiter(Policy{
		TenantPerMinute: 1,
		TenantPerHour:   100,
		DevicePerMinute: 1,
		DevicePerHour:   100,
		AutoSuspend:     true,
		SuspendMinutes:  10,
	})

	d, err := l.Check(ctx, "t1", "d1", "POST /skills/x", 1)
	require.NoError(t, err)
	require.True(t, d.Allowed)

	d, err = l.Check(ctx, "t1", "d1", "POST /skills/x", 1)
	require.NoError(t, err)
	require.False(t, d.Allowed)

	suspensions, err := l.ListSuspensions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, suspensions, 1)

	cleared, err := l.ClearSuspension(ctx, suspensions[0].SuspendID)
	require.NoError(t, err)
	assert.True(t, cleared)

	// counters are intact, so the next window is needed for a fresh call
	l.now = func() int64 { return 1_000_000 + 60 }
	d, err = l.Check(ctx, "t1", "d1", "POST /skills/x", 1)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}
