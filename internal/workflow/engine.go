// Package workflow runs ordered step sequences over installed skills with a
// shared variable memory. Each step's output merges into the memory
// (last writer wins), a failed step stops the run, and completed steps are
// never undone.
package workflow

import (
	"context"
	"sort"
	"strings"
	"time"

	"skillmarket/backend/internal/logging"
	"skillmarket/backend/internal/metrics"
	"skillmarket/backend/internal/retrieval"
	"skillmarket/backend/internal/services"
	"skillmarket/backend/pkg/models"
)

// maxVars caps the variable memory returned to the caller.
const maxVars = 200

// SkillInvoker runs one skill call through the full governance and metering
// pipeline.
type SkillInvoker interface {
	InvokeSkill(ctx context.Context, caller services.Caller, skillID string, input map[string]any) (*services.InvokeResult, error)
}

// StepResult is the trace entry for one executed step.
type StepResult struct {
	Index     int            `json:"index"`
	Type      string         `json:"type"`
	SkillID   string         `json:"skill_id,omitempty"`
	OK        bool           `json:"ok"`
	LatencyMS int64          `json:"latency_ms"`
	Output    map[string]any `json:"output,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// RunResult is the outcome of a whole run. Results covers executed steps
// only; steps after a failure never ran. Vars is the final variable memory,
// capped and key-sorted for a stable payload.
type RunResult struct {
	OK         bool           `json:"ok"`
	WorkflowID string         `json:"workflow_id"`
	Version    string         `json:"version"`
	TenantID   string         `json:"tenant_id"`
	UserID     string         `json:"user_id"`
	DeviceID   string         `json:"device_id"`
	Results    []StepResult   `json:"results"`
	Vars       map[string]any `json:"vars"`
	LatencyMS  int64          `json:"latency_ms"`
}

// Engine executes workflows. Each skill step goes through the same invoker
// as a direct API call, so governance and billing apply per step.
type Engine struct {
	invoker   SkillInvoker
	retriever retrieval.Backend
	defs      *Definitions
	status    *StatusTracker
	logger    *logging.Logger
	metrics   *metrics.Metrics
	ragTopK   int
}

// NewEngine wires the engine. ragTopK is the default match count for
// rag_query steps that do not set top_k.
func NewEngine(invoker SkillInvoker, retriever retrieval.Backend, defs *Definitions, status *StatusTracker, logger *logging.Logger, m *metrics.Metrics, ragTopK int) *Engine {
	if ragTopK <= 0 {
		ragTopK = 3
	}
	return &Engine{
		invoker:   invoker,
		retriever: retriever,
		defs:      defs,
		status:    status,
		logger:    logger,
		metrics:   m,
		ragTopK:   ragTopK,
	}
}

// Run executes an ad-hoc step list for a caller.
func (e *Engine) Run(ctx context.Context, caller services.Caller, workflowID, version string, steps []models.WorkflowStep, initialVars map[string]any) *RunResult {
	start := time.Now()
	if workflowID == "" {
		workflowID = "adhoc"
	}
	if version == "" {
		version = "1.0.0"
	}

	vars := make(map[string]any, len(initialVars))
	for k, v := range initialVars {
		vars[k] = v
	}

	status := Status{
		TS:         time.Now().UTC(),
		TenantID:   caller.TenantID,
		UserID:     caller.UserID,
		DeviceID:   caller.DeviceID,
		WorkflowID: workflowID,
		Version:    version,
		OK:         true,
		StepsTotal: len(steps),
	}
	e.status.Publish(status)

	var results []StepResult
	for idx, step := range steps {
		sr := e.runStep(ctx, caller, idx, step, vars)
		results = append(results, sr)

		status.TS = time.Now().UTC()
		status.StepsDone = idx + 1
		status.LastStep = &LastStep{Index: idx, Type: sr.Type, SkillID: sr.SkillID, OK: sr.OK}
		status.OK = status.OK && sr.OK
		e.status.Publish(status)

		e.metrics.WorkflowStepsTotal.WithLabelValues(sr.Type, outcome(sr.OK)).Inc()
		if !sr.OK {
			break
		}
	}

	total := time.Since(start).Milliseconds()
	status.TS = time.Now().UTC()
	status.Finished = true
	status.LatencyMS = total
	e.status.Publish(status)
	e.metrics.WorkflowRunsTotal.WithLabelValues(outcome(status.OK)).Inc()

	return &RunResult{
		OK:         status.OK,
		WorkflowID: workflowID,
		Version:    version,
		TenantID:   caller.TenantID,
		UserID:     caller.UserID,
		DeviceID:   caller.DeviceID,
		Results:    results,
		Vars:       capVars(vars),
		LatencyMS:  total,
	}
}

// RunNamed executes an approved, version-locked definition.
func (e *Engine) RunNamed(ctx context.Context, caller services.Caller, workflowID, version string, initialVars map[string]any) (*RunResult, error) {
	wf, err := e.defs.Runnable(ctx, workflowID, version)
	if err != nil {
		return nil, err
	}
	return e.Run(ctx, caller, wf.WorkflowID, wf.Version, wf.Steps, initialVars), nil
}

// runStep executes one step and merges its output into vars on success.
func (e *Engine) runStep(ctx context.Context, caller services.Caller, idx int, step models.WorkflowStep, vars map[string]any) StepResult {
	stepStart := time.Now()
	input := RenderInput(step.Input, vars)

	sr := StepResult{Index: idx, Type: step.Type, SkillID: step.SkillID}
	if sr.Type == "" {
		sr.Type = "skill"
	}

	switch {
	case step.Type == "rag_query":
		sr.OK, sr.Output, sr.Error = e.ragStep(ctx, caller.TenantID, input)
		if sr.OK {
			e.mergeVars(vars, map[string]any{
				"rag_matches": sr.Output["matches"],
				"rag_context": sr.Output["context"],
			})
		}
	case step.SkillID == "":
		sr.Error = "step must set type=rag_query or skill_id"
	default:
		res, err := e.invoker.InvokeSkill(ctx, caller, step.SkillID, input)
		if err != nil {
			sr.Error = err.Error()
		} else {
			sr.OK = res.OK
			sr.Output = res.Output
			sr.Error = res.Error
			if res.OK {
				e.mergeVars(vars, res.Output)
			}
		}
	}

	sr.LatencyMS = time.Since(stepStart).Milliseconds()
	return sr
}

// ragStep queries the retrieval backend and shapes the step output.
func (e *Engine) ragStep(ctx context.Context, tenantID string, input map[string]any) (bool, map[string]any, string) {
	query, _ := input["query"].(string)
	topK := e.ragTopK
	switch v := input["top_k"].(type) {
	case float64:
		topK = int(v)
	case int:
		topK = v
	}

	matches, err := e.retriever.Search(ctx, tenantID, query, topK)
	if err != nil {
		return false, nil, err.Error()
	}

	texts := make([]string, 0, len(matches))
	anyMatches := make([]any, len(matches))
	for i, m := range matches {
		if m.Text != "" {
			texts = append(texts, m.Text)
		}
		anyMatches[i] = map[string]any{
			"doc_id":   m.DocID,
			"chunk_id": m.ChunkID,
			"score":    m.Score,
			"text":     m.Text,
		}
	}
	return true, map[string]any{
		"matches": anyMatches,
		"context": strings.TrimSpace(strings.Join(texts, "\n")),
	}, ""
}

// mergeVars applies last-writer-wins. Overwrites are legal but logged and
// counted so silent clobbering shows up in dashboards.
func (e *Engine) mergeVars(vars map[string]any, output map[string]any) {
	for k, v := range output {
		if _, exists := vars[k]; exists {
			e.metrics.VarCollisionsTotal.Inc()
			e.logger.Debug("workflow var overwritten", "key", k)
		}
		vars[k] = v
	}
}

// capVars returns at most maxVars entries, selected by sorted key so the cap
// is deterministic.
func capVars(vars map[string]any) map[string]any {
	if len(vars) <= maxVars {
		return vars
	}
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make(map[string]any, maxVars)
	for _, k := range keys[:maxVars] {
		out[k] = vars[k]
	}
	return out
}

func outcome(ok bool) string {
	if ok {
		return "ok"
	}
	return "failed"
}
