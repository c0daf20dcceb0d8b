// Package services hosts the invocation pipeline: the single path every
// skill call takes through governance, execution, metering, and audit.
package services

import (
	"context"
	"time"

	"skillmarket/backend/internal/audit"
	"skillmarket/backend/internal/billing"
	"skillmarket/backend/internal/fault"
	"skillmarket/backend/internal/governance"
	"skillmarket/backend/internal/logging"
	"skillmarket/backend/internal/metrics"
	"skillmarket/backend/internal/skills"
)

// Caller identifies who is invoking.
type Caller struct {
	TenantID string
	UserID   string
	DeviceID string
}

// InvokeResult is the outcome of one skill invocation.
type InvokeResult struct {
	OK             bool           `json:"ok"`
	SkillID        string         `json:"skill_id"`
	Version        string         `json:"version"`
	Output         map[string]any `json:"output,omitempty"`
	ChargedCredits int64          `json:"charged_credits"`
	LatencyMS      int64          `json:"latency_ms"`
	Error          string         `json:"error,omitempty"`
	ErrorKind      fault.Kind     `json:"error_kind,omitempty"`
}

// Invocation runs skills through the full pipeline. Order is fixed:
// governance first, then execution, then the charge, then the ledger event.
// A denial produces an error; an execution failure produces a result with
// OK false and no charge.
type Invocation struct {
	enforcer *governance.Enforcer
	registry *skills.Registry
	executor *skills.Executor
	billing  *billing.Service
	audit    audit.Sink
	logger   *logging.Logger
	metrics  *metrics.Metrics
}

// NewInvocation wires the pipeline.
func NewInvocation(enforcer *governance.Enforcer, registry *skills.Registry, executor *skills.Executor, bill *billing.Service, sink audit.Sink, logger *logging.Logger, m *metrics.Metrics) *Invocation {
	return &Invocation{
		enforcer: enforcer,
		registry: registry,
		executor: executor,
		billing:  bill,
		audit:    sink,
		logger:   logger,
		metrics:  m,
	}
}

// InvokeSkill runs one skill call for a caller. Denials (governance, unknown
// skill, insufficient credits) come back as a fault error with a nil result.
func (s *Invocation) InvokeSkill(ctx context.Context, caller Caller, skillID string, input map[string]any) (*InvokeResult, error) {
	start := time.Now()

	skill, err := s.registry.Get(skillID)
	if err != nil {
		s.deny(caller, skillID, err)
		return nil, err
	}

	decision, err := s.enforcer.Enforce(ctx, caller.TenantID, caller.DeviceID, skillID)
	if err != nil {
		s.deny(caller, skillID, err)
		return nil, err
	}
	version := decision.InstalledVersion

	res := s.executor.Run(ctx, skill, input)
	s.metrics.InvocationDuration.WithLabelValues(skillID).Observe(time.Since(start).Seconds())

	if !res.OK {
		s.metrics.InvocationsTotal.WithLabelValues(skillID, "error").Inc()
		s.audit.Write(audit.Event{
			TenantID: caller.TenantID, UserID: caller.UserID, DeviceID: caller.DeviceID,
			Action: "invoke_skill", TargetID: skillID, OK: false, Error: res.Error,
		})
		return &InvokeResult{
			SkillID:   skillID,
			Version:   version,
			LatencyMS: res.LatencyMS,
			Error:     res.Error,
			ErrorKind: res.ErrorKind,
		}, nil
	}

	// Charge after execution so failed runs cost nothing. The wallet update
	// is atomic; a short balance rejects the whole call.
	if err := s.billing.Charge(ctx, caller.TenantID, res.Credits); err != nil {
		s.deny(caller, skillID, err)
		return nil, err
	}
	s.metrics.CreditsCharged.WithLabelValues(skillID).Add(float64(res.Credits))
	s.billing.RecordEvent(ctx, caller.TenantID, skillID, version, res.Credits, res.LatencyMS)

	s.metrics.InvocationsTotal.WithLabelValues(skillID, "ok").Inc()
	s.audit.Write(audit.Event{
		TenantID: caller.TenantID, UserID: caller.UserID, DeviceID: caller.DeviceID,
		Action: "invoke_skill", TargetID: skillID, OK: true, Credits: res.Credits,
	})

	return &InvokeResult{
		OK:             true,
		SkillID:        skillID,
		Version:        version,
		Output:         res.Output,
		ChargedCredits: res.Credits,
		LatencyMS:      res.LatencyMS,
	}, nil
}

func (s *Invocation) deny(caller Caller, skillID string, err error) {
	kind := string(fault.KindOf(err))
	if kind == "" {
		kind = "internal"
	}
	s.metrics.DenialsTotal.WithLabelValues(kind).Inc()
	s.metrics.InvocationsTotal.WithLabelValues(skillID, "denied").Inc()
	s.logger.Info("invocation denied",
		"tenant_id", caller.TenantID, "device_id", caller.DeviceID,
		"skill_id", skillID, "kind", kind)
	s.audit.Write(audit.Event{
		TenantID: caller.TenantID, UserID: caller.UserID, DeviceID: caller.DeviceID,
		Action: "invoke_skill", TargetID: skillID, OK: false, Error: err.Error(),
	})
}
