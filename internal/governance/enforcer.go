// Package governance composes the registry, install store, and rate limiter
// into the single admission gate every skill invocation passes through.
package governance

import (
	"context"
	"strings"

	"skillmarket/backend/internal/fault"
	"skillmarket/backend/internal/ratelimit"
	"skillmarket/backend/internal/repository"
)

// Decision is returned on a successful enforcement.
type Decision struct {
	InstalledVersion string `json:"installed_version"`
	LockedVersion    string `json:"locked_version,omitempty"`
}

// Enforcer runs the governance checks in a fixed, short-circuiting order:
// install exists, lock matches, version approved, rate check. Rate quota is
// consumed only by calls that pass the first three checks; a call rejected
// for a missing install or a lock mismatch never reaches the counters.
type Enforcer struct {
	installs repository.InstallStore
	registry repository.RegistryStore
	limiter  *ratelimit.Limiter
}

// NewEnforcer wires the gate. The enforcer mutates no state of its own; the
// only side effect of Enforce is the rate counter increment inside the
// limiter.
func NewEnforcer(installs repository.InstallStore, registry repository.RegistryStore, limiter *ratelimit.Limiter) *Enforcer {
	return &Enforcer{installs: installs, registry: registry, limiter: limiter}
}

// Enforce gates one invocation of skillID by tenantID from deviceID. A case
// failing several checks reports the first one in order.
func (e *Enforcer) Enforce(ctx context.Context, tenantID, deviceID, skillID string) (*Decision, error) {
	installed, err := e.installs.InstalledVersion(ctx, tenantID, skillID)
	if err != nil {
		return nil, err
	}
	if installed == "" {
		return nil, fault.New(fault.KindNotInstalled, "skill not installed for tenant %s: %s", tenantID, skillID)
	}

	locked, err := e.registry.LockedVersion(ctx, skillID)
	if err != nil {
		return nil, err
	}
	if locked != "" && installed != locked {
		return nil, fault.New(fault.KindVersionLocked, "skill %s locked to version %s, installed %s", skillID, locked, installed)
	}

	approved, err := e.registry.IsApproved(ctx, skillID, installed)
	if err != nil {
		return nil, err
	}
	if !approved {
		return nil, fault.New(fault.KindNotApproved, "skill version not approved: %s@%s", skillID, installed)
	}

	decision, err := e.limiter.Check(ctx, tenantID, deviceID, "POST /skills/"+skillID, 1)
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		kind := fault.KindRateLimited
		if strings.HasPrefix(decision.Reason, "suspended") {
			kind = fault.KindSuspended
		}
		return nil, fault.New(kind, "%s (retry after %ds)", decision.Reason, decision.RetryAfter)
	}

	return &Decision{InstalledVersion: installed, LockedVersion: locked}, nil
}
