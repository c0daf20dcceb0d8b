package workflow

import (
	"sync"
	"time"
)

// Status is the externally visible progress of a run. A snapshot is published
// after every step so observers can follow a run in flight.
type Status struct {
	TS         time.Time `json:"ts"`
	TenantID   string    `json:"tenant_id"`
	UserID     string    `json:"user_id"`
	DeviceID   string    `json:"device_id"`
	WorkflowID string    `json:"workflow_id"`
	Version    string    `json:"version"`
	OK         bool      `json:"ok"`
	StepsTotal int       `json:"steps_total"`
	StepsDone  int       `json:"steps_done"`
	LastStep   *LastStep `json:"last_step,omitempty"`
	Finished   bool      `json:"finished"`
	LatencyMS  int64     `json:"latency_ms,omitempty"`
}

// LastStep summarizes the most recently completed step.
type LastStep struct {
	Index   int    `json:"index"`
	Type    string `json:"type"`
	SkillID string `json:"skill_id,omitempty"`
	OK      bool   `json:"ok"`
}

// StatusTracker keeps the latest snapshot per tenant.
type StatusTracker struct {
	mu     sync.RWMutex
	latest map[string]Status
}

// NewStatusTracker creates an empty tracker.
func NewStatusTracker() *StatusTracker {
	return &StatusTracker{latest: map[string]Status{}}
}

// Publish stores the snapshot as the tenant's latest.
func (t *StatusTracker) Publish(s Status) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.latest[s.TenantID] = s
}

// Latest returns the tenant's most recent snapshot, if any.
func (t *StatusTracker) Latest(tenantID string) (Status, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.latest[tenantID]
	return s, ok
}
