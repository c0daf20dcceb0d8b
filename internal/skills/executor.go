package skills

import (
	"context"
	"time"

	"skillmarket/backend/internal/fault"
	"skillmarket/backend/internal/logging"
)

// Result is the outcome of one skill execution.
type Result struct {
	OK        bool           `json:"ok"`
	Output    map[string]any `json:"output"`
	Credits   int64          `json:"credits"`
	Error     string         `json:"error,omitempty"`
	ErrorKind fault.Kind     `json:"error_kind,omitempty"`
	LatencyMS int64          `json:"latency_ms"`
}

// Executor runs skills under a caller timeout and turns validation errors and
// panics into structured results instead of faults that escape the runtime.
type Executor struct {
	logger  *logging.Logger
	timeout time.Duration
}

// NewExecutor creates an executor. timeout bounds each execution; zero means
// 30 seconds.
func NewExecutor(logger *logging.Logger, timeout time.Duration) *Executor {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Executor{logger: logger, timeout: timeout}
}

// Run executes one skill invocation. Failures are captured in the Result;
// the returned Result is always non-nil.
func (e *Executor) Run(ctx context.Context, skill Skill, input map[string]any) *Result {
	start := time.Now()

	if err := skill.Validate(input); err != nil {
		return &Result{
			OK:        false,
			Error:     err.Error(),
			ErrorKind: fault.KindStepInputInvalid,
			LatencyMS: time.Since(start).Milliseconds(),
		}
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	output, credits, err := e.execute(ctx, skill, input)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return &Result{
			OK:        false,
			Error:     err.Error(),
			ErrorKind: fault.KindExecutorError,
			LatencyMS: latency,
		}
	}
	if credits < 1 {
		credits = 1
	}
	return &Result{OK: true, Output: output, Credits: credits, LatencyMS: latency}
}

// execute isolates the panic recovery so a broken skill cannot take the
// runtime down with it.
func (e *Executor) execute(ctx context.Context, skill Skill, input map[string]any) (output map[string]any, credits int64, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("skill panicked", "skill_id", skill.Meta().SkillID, "panic", r)
			err = fault.New(fault.KindExecutorError, "skill execution panicked")
		}
	}()
	return skill.Execute(ctx, input)
}
