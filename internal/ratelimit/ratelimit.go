// Package ratelimit implements fixed-window admission control with
// auto-suspension.
//
// Windows are fixed-width buckets, not a sliding log: a counter resets when
// window_start = now - (now mod window_length) advances, with no carry-over
// or smoothing. A burst straddling a window boundary can therefore pass
// uncharged; this coarseness is a deliberate trade for cheap atomic counters.
package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"skillmarket/backend/internal/fault"
	"skillmarket/backend/internal/logging"
	"skillmarket/backend/internal/metrics"
	"skillmarket/backend/internal/repository"
	"skillmarket/backend/pkg/models"
)

const (
	windowMinute = int64(60)
	windowHour   = int64(3600)
)

// Policy holds the thresholds the limiter enforces.
type Policy struct {
	TenantPerMinute int64
	TenantPerHour   int64
	DevicePerMinute int64
	DevicePerHour   int64
	RouteCosts      map[string]int64
	AutoSuspend     bool
	SuspendMinutes  int
}

// DefaultPolicy is the conservative fallback used when the configured policy
// cannot be read. It is deliberately restrictive; an unreadable policy must
// never mean "unlimited".
func DefaultPolicy() Policy {
	return Policy{
		TenantPerMinute: 120,
		TenantPerHour:   2000,
		DevicePerMinute: 60,
		DevicePerHour:   800,
		AutoSuspend:     true,
		SuspendMinutes:  10,
	}
}

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed    bool   `json:"allowed"`
	Reason     string `json:"reason,omitempty"`
	RetryAfter int64  `json:"retry_after,omitempty"`
	Cost       int64  `json:"cost,omitempty"`
}

// Limiter keys four counters per check: tenant-wide and tenant+device, each
// at a one-minute and a one-hour window, all scoped to a route bucket.
type Limiter struct {
	store   repository.RateStore
	policy  Policy
	logger  *logging.Logger
	metrics *metrics.Metrics
	now     func() int64
}

// NewLimiter creates a limiter with the given policy. A zero-valued policy
// (e.g. from an unreadable policy store) is replaced with DefaultPolicy.
func NewLimiter(store repository.RateStore, policy Policy, logger *logging.Logger, m *metrics.Metrics) *Limiter {
	if policy.TenantPerMinute <= 0 || policy.DevicePerMinute <= 0 {
		logger.Warn("rate limit policy unreadable or incomplete, falling back to conservative defaults")
		policy = DefaultPolicy()
	}
	if policy.SuspendMinutes <= 0 {
		policy.SuspendMinutes = DefaultPolicy().SuspendMinutes
	}
	return &Limiter{
		store:   store,
		policy:  policy,
		logger:  logger,
		metrics: m,
		now:     func() int64 { return time.Now().Unix() },
	}
}

// BucketRoute collapses route families so policy applies per family rather
// than per individual skill or index.
func BucketRoute(route string) string {
	switch {
	case strings.HasPrefix(route, "POST /skills/"):
		return "POST /skills"
	case strings.HasPrefix(route, "POST /rag/"):
		return "POST /rag"
	case strings.HasPrefix(route, "POST /workflows/"):
		return "POST /workflows"
	}
	return route
}

func counterKey(scope, tenantID, deviceID, bucket string, windowSec int64) string {
	return fmt.Sprintf("%s:%s:%s:%s:%d", scope, tenantID, deviceID, bucket, windowSec)
}

// Check admits or denies one call. The suspension check runs, and
// short-circuits, before any counter increment so a suspended caller is not
// double counted. Counter increments happen before the threshold comparison,
// so denied calls still consume quota within their window.
func (l *Limiter) Check(ctx context.Context, tenantID, deviceID, route string, cost int64) (*Decision, error) {
	now := l.now()
	bucket := BucketRoute(route)
	if override, ok := l.policy.RouteCosts[bucket]; ok {
		cost = override
	}
	if cost <= 0 {
		cost = 1
	}

	susp, err := l.store.ActiveSuspension(ctx, tenantID, deviceID, now)
	if err != nil {
		// fail closed
		return &Decision{Allowed: false, Reason: "rate policy unavailable", RetryAfter: 60}, err
	}
	if susp != nil {
		retry := susp.UntilTS - now
		if retry < 1 {
			retry = 1
		}
		return &Decision{Allowed: false, Reason: "suspended: " + susp.Reason, RetryAfter: retry}, nil
	}

	minStart := now - (now % windowMinute)
	hourStart := now - (now % windowHour)

	tenantMin, err := l.store.TouchCounter(ctx, counterKey("tenant", tenantID, "all", bucket, windowMinute), minStart, windowMinute, cost)
	if err != nil {
		return l.failClosed(err)
	}
	tenantHr, err := l.store.TouchCounter(ctx, counterKey("tenant", tenantID, "all", bucket, windowHour), hourStart, windowHour, cost)
	if err != nil {
		return l.failClosed(err)
	}
	devMin, err := l.store.TouchCounter(ctx, counterKey("device", tenantID, deviceID, bucket, windowMinute), minStart, windowMinute, cost)
	if err != nil {
		return l.failClosed(err)
	}
	devHr, err := l.store.TouchCounter(ctx, counterKey("device", tenantID, deviceID, bucket, windowHour), hourStart, windowHour, cost)
	if err != nil {
		return l.failClosed(err)
	}

	if tenantMin > l.policy.TenantPerMinute || tenantHr > l.policy.TenantPerHour ||
		devMin > l.policy.DevicePerMinute || devHr > l.policy.DevicePerHour {
		if l.policy.AutoSuspend {
			s := &models.Suspension{
				SuspendID: uuid.New().String(),
				TenantID:  tenantID,
				DeviceID:  deviceID,
				UntilTS:   now + int64(l.policy.SuspendMinutes)*60,
				Reason:    "rate_limit_exceeded",
			}
			if err := l.store.CreateSuspension(ctx, s); err != nil {
				l.logger.Error("failed to create suspension", "tenant_id", tenantID, "device_id", deviceID, "error", err)
			} else {
				l.metrics.SuspensionsCreated.Inc()
				l.logger.Warn("tenant+device suspended",
					"tenant_id", tenantID, "device_id", deviceID,
					"suspend_id", s.SuspendID, "until_ts", s.UntilTS)
			}
			return &Decision{Allowed: false, Reason: "rate_limited_and_suspended", RetryAfter: int64(l.policy.SuspendMinutes) * 60}, nil
		}
		return &Decision{Allowed: false, Reason: "rate_limited", RetryAfter: 60}, nil
	}

	return &Decision{Allowed: true, Cost: cost}, nil
}

func (l *Limiter) failClosed(err error) (*Decision, error) {
	l.logger.Error("rate counter unavailable, failing closed", "error", err)
	return &Decision{Allowed: false, Reason: "rate policy unavailable", RetryAfter: 60},
		fault.Storage("rate counter")
}

// ListSuspensions returns active suspensions, newest expiry first, with the
// retry_after each caller would observe.
func (l *Limiter) ListSuspensions(ctx context.Context, limit int) ([]*models.Suspension, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return l.store.ListSuspensions(ctx, l.now(), limit)
}

// ClearSuspension removes a suspension ahead of its expiry.
func (l *Limiter) ClearSuspension(ctx context.Context, suspendID string) (bool, error) {
	return l.store.ClearSuspension(ctx, suspendID)
}
