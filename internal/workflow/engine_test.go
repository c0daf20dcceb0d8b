package workflow

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
	"skillmarket/backend/internal/retrieval"
	"skillmarket/backend/internal/services"
	"skillmarket/backend/pkg/models"
)

// scriptedInvoker replays canned results per skill id and records the inputs
// it saw.
type scriptedInvoker struct {
	results map[string]*services.InvokeResult
	errs    map[string]error
	inputs  []map[string]any
	calls   []string
}

func (s *scriptedInvoker) InvokeSkill(_ context.Context, _ services.Caller, skillID string, input map[string]any) (*services.InvokeResult, error) {
	s.calls = append(s.calls, skillID)
	s.inputs = append(s.inputs, input)
	if err, ok := s.errs[skillID]; ok {
		return nil, err
	}
	if res, ok := s.results[skillID]; ok {
		return res, nil
	}
	return &services.InvokeResult{OK: true, SkillID: skillID, Output: map[string]any{}}, nil
}

func testEngine(inv SkillInvoker, retriever retrieval.Backend) (*Engine, *Definitions, *StatusTracker) {
	logger := logging.NewNop()
	defs := NewDefinitions(repository.NewMemory().Workflows(), logger)
	tracker := NewStatusTracker()
	m := metrics.NewMetrics(prometheus.NewRegistry())
	return NewEngine(inv, retriever, defs, tracker, logger, m, 3), defs, tracker
}

func testCaller() services.Caller {
	return services.Caller{TenantID: "t1", UserID: "u1", DeviceID: "d1"}
}

func TestRunStopsOnFirstFailure(t *testing.T) {
	inv := &scriptedInvoker{
		results: map[string]*services.InvokeResult{
			"a": {OK: true, Output: map[string]any{"a_out": "x"}},
			"b": {OK: false, Error: "executor_error: broke"},
			"c": {OK: true, Output: map[string]any{"c_out": "never"}},
		},
	}
	engine, _, tracker := testEngine(inv, retrieval.NewMemory())

	res := engine.Run(context.Background(), testCaller(), "", "", []models.WorkflowStep{
		{SkillID: "a", Input: map[string]any{}},
		{SkillID: "b", Input: map[string]any{}},
		{SkillID: "c", Input: map[string]any{}},
	}, nil)

	assert.False(t, res.OK)
	require.Len(t, res.Results, 2, "step c must never run")
	assert.True(t, res.Results[0].OK)
	assert.False(t, res.Results[1].OK)
	assert.Equal(t, []string{"a", "b"}, inv.calls)

	// completed step output survives the failure
	assert.Equal(t, "x", res.Vars["a_out"])
	_, ran := res.Vars["c_out"]
	assert.False(t, ran)

	status, ok := tracker.Latest("t1")
	require.True(t, ok)
	assert.True(t, status.Finished)
	assert.False(t, status.OK)
	assert.Equal(t, 2, status.StepsDone)
	assert.Equal(t, 3, status.StepsTotal)
}

func TestRunTemplatesFlowBetweenSteps(t *testing.T) {
	inv := &scriptedInvoker{
		results: map[string]*services.InvokeResult{
			"clean_text":   {OK: true, Output: map[string]any{"cleaned": "hello world"}},
			"pii_redactor": {OK: true, Output: map[string]any{"redacted": "hello world"}},
		},
	}
	engine, _, _ := testEngine(inv, retrieval.NewMemory())

	res := engine.Run(context.Background(), testCaller(), "wf", "1.0.0", []models.WorkflowStep{
		{SkillID: "clean_text", Input: map[string]any{"text": "{text}"}},
		{SkillID: "pii_redactor", Input: map[string]any{"text": "{cleaned}"}},
	}, map[string]any{"text": "  hello   world "})

	require.True(t, res.OK)
	require.Len(t, inv.inputs, 2)
	assert.Equal(t, "  hello   world ", inv.inputs[0]["text"])
	assert.Equal(t, "hello world", inv.inputs[1]["text"], "second step sees the first step's output")
}

func TestRunGovernanceDenialFailsTheStep(t *testing.T) {
	inv := &scriptedInvoker{
		errs: map[string]error{
			"locked_skill": fault.New(fault.KindVersionLocked, "skill locked to 2.0.0"),
		},
	}
	engine, _, _ := testEngine(inv, retrieval.NewMemory())

	res := engine.Run(context.Background(), testCaller(), "", "", []models.WorkflowStep{
		{SkillID: "locked_skill", Input: map[string]any{}},
	}, nil)

	assert.False(t, res.OK)
	require.Len(t, res.Results, 1)
	assert.Contains(t, res.Results[0].Error, "version_locked")
}

func TestRunRagStepFeedsVariables(t *testing.T) {
	mem := retrieval.NewMemory()
	mem.Add("t1", "doc1", "alpha beta gamma")
	mem.Add("t1", "doc2", "beta delta")

	inv := &scriptedInvoker{
		results: map[string]*services.InvokeResult{
			"summarizer": {OK: true, Output: map[string]any{"summary": "ok"}},
		},
	}
	engine, _, _ := testEngine(inv, mem)

	res := engine.Run(context.Background(), testCaller(), "", "", []models.WorkflowStep{
		{Type: "rag_query", Input: map[string]any{"query": "beta", "top_k": float64(2)}},
		{SkillID: "summarizer", Input: map[string]any{"text": "{rag_context}"}},
	}, nil)

	require.True(t, res.OK)
	assert.Equal(t, "rag_query", res.Results[0].Type)
	assert.NotEmpty(t, res.Vars["rag_context"])
	assert.NotEmpty(t, res.Vars["rag_matches"])

	text := inv.inputs[0]["text"].(string)
	assert.Contains(t, text, "beta")
}

func TestRunStepWithoutTypeOrSkillFails(t *testing.T) {
	engine, _, _ := testEngine(&scriptedInvoker{}, retrieval.NewMemory())

	res := engine.Run(context.Background(), testCaller(), "", "", []models.WorkflowStep{
		{Input: map[string]any{}},
	}, nil)

	assert.False(t, res.OK)
	assert.Contains(t, res.Results[0].Error, "must set")
}

func TestRunLastWriterWinsOnVarCollision(t *testing.T) {
	inv := &scriptedInvoker{
		results: map[string]*services.InvokeResult{
			"a": {OK: true, Output: map[string]any{"value": "first"}},
			"b": {OK: true, Output: map[string]any{"value": "second"}},
		},
	}
	engine, _, _ := testEngine(inv, retrieval.NewMemory())

	res := engine.Run(context.Background(), testCaller(), "", "", []models.WorkflowStep{
		{SkillID: "a", Input: map[string]any{}},
		{SkillID: "b", Input: map[string]any{}},
	}, nil)

	require.True(t, res.OK)
	assert.Equal(t, "second", res.Vars["value"])
}

func TestRunNamedRequiresApprovalAndLock(t *testing.T) {
	inv := &scriptedInvoker{
		results: map[string]*services.InvokeResult{
			"clean_text": {OK: true, Output: map[string]any{"cleaned": "x"}},
		},
	}
	engine, defs, _ := testEngine(inv, retrieval.NewMemory())
	ctx := context.Background()

	wf, err := defs.Create(ctx, "demo", "1.0.0", "dev_a", []models.WorkflowStep{
		{SkillID: "clean_text", Input: map[string]any{"text": "{text}"}},
	})
	require.NoError(t, err)

	// DRAFT: not runnable
	_, err = engine.RunNamed(ctx, testCaller(), wf.WorkflowID, "", nil)
	assert.Equal(t, fault.KindNotApproved, fault.KindOf(err))

	_, err = defs.Submit(ctx, wf.WorkflowID)
	require.NoError(t, err)
	_, err = defs.Approve(ctx, wf.WorkflowID)
	require.NoError(t, err)

	// approved and locked: runnable
	res, err := engine.RunNamed(ctx, testCaller(), wf.WorkflowID, "", map[string]any{"text": "hi"})
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, wf.WorkflowID, res.WorkflowID)

	// requesting a version other than the locked one is refused
	_, err = engine.RunNamed(ctx, testCaller(), wf.WorkflowID, "2.0.0", nil)
	assert.Equal(t, fault.KindVersionLocked, fault.KindOf(err))
}

func TestDefinitionsReviewLifecycle(t *testing.T) {
	logger := logging.NewNop()
	defs := NewDefinitions(repository.NewMemory().Workflows(), logger)
	ctx := context.Background()

	_, err := defs.Create(ctx, "", "1.0.0", "dev_a", nil)
	assert.Equal(t, fault.KindStepInputInvalid, fault.KindOf(err))

	wf, err := defs.Create(ctx, "demo", "1.0.0", "", []models.WorkflowStep{{SkillID: "clean_text"}})
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowDraft, wf.Status)
	assert.Equal(t, "unknown_dev", wf.DeveloperID)

	// cannot approve straight from DRAFT
	_, err = defs.Approve(ctx, wf.WorkflowID)
	assert.Equal(t, fault.KindInvalidState, fault.KindOf(err))

	wf, err = defs.Submit(ctx, wf.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowSubmitted, wf.Status)

	wf, err = defs.Reject(ctx, wf.WorkflowID, "too broad")
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowRejected, wf.Status)

	// rejected definitions can be resubmitted
	wf, err = defs.Submit(ctx, wf.WorkflowID)
	require.NoError(t, err)

	wf, err = defs.Approve(ctx, wf.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowApproved, wf.Status)
}
