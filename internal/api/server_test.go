package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skillmarket/backend/internal/audit"
	"skillmarket/backend/internal/auth"
	"skillmarket/backend/internal/billing"
	"skillmarket/backend/internal/governance"
	"skillmarket/backend/internal/install"
	"skillmarket/backend/internal/logging"
	"skillmarket/backend/internal/metrics"
	"skillmarket/backend/internal/ratelimit"
	"skillmarket/backend/internal/registry"
	"skillmarket/backend/internal/repository"
	"skillmarket/backend/internal/retrieval"
	"skillmarket/backend/internal/services"
	"skillmarket/backend/internal/skills"
	"skillmarket/backend/internal/workflow"
	"skillmarket/backend/pkg/models"
)

// testStack wires the full handler stack over the in-memory repository with a
// static identity in place of the OIDC middleware.
type testStack struct {
	e    *echo.Echo
	repo repository.Repository
	bill *billing.Service
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()
	logger := logging.NewNop()
	repo := repository.NewMemory()
	m := metrics.NewMetrics(prometheus.NewRegistry())

	limiter := ratelimit.NewLimiter(repo.Rates(), ratelimit.Policy{
		TenantPerMinute: 1000, TenantPerHour: 10000,
		DevicePerMinute: 1000, DevicePerHour: 10000,
	}, logger, m)

	registrySvc := registry.NewService(repo.Registry(), logger)
	installSvc := install.NewService(repo.Installs(), registrySvc, logger)
	enforcer := governance.NewEnforcer(repo.Installs(), repo.Registry(), limiter)

	bill := billing.NewService(repo.Wallets(), repo.Ledger(), repo.Registry(), billing.Pricing{
		UnitCreditValueUSD: 0.01,
		PlatformFeePercent: 25,
		StarterCredits:     100,
	}, logger, m)

	reg := skills.NewRegistry()
	skills.RegisterBuiltins(reg)
	executor := skills.NewExecutor(logger, time.Second)
	sink := audit.NewAsyncSink(logger, 64, 64)
	t.Cleanup(func() { sink.Close(context.Background()) })

	invocation := services.NewInvocation(enforcer, reg, executor, bill, sink, logger, m)
	tracker := workflow.NewStatusTracker()
	defs := workflow.NewDefinitions(repo.Workflows(), logger)
	engine := workflow.NewEngine(invocation, retrieval.NewMemory(), defs, tracker, logger, m, 3)

	srv := &Server{
		Invocation: invocation,
		Engine:     engine,
		Workflows:  defs,
		Status:     tracker,
		Registry:   registrySvc,
		Installs:   installSvc,
		Billing:    bill,
		Limiter:    limiter,
		Skills:     reg,
		Audit:      sink,
		Logger:     logger,
	}

	e := echo.New()
	authMW := func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Set(auth.ContextTenantID, "t1")
			c.Set(auth.ContextUserID, "u1")
			c.Set(auth.ContextDeviceID, "d1")
			return next(c)
		}
	}
	srv.RegisterRoutes(e, authMW)

	return &testStack{e: e, repo: repo, bill: bill}
}

func (s *testStack) installApproved(t *testing.T, skillID, version string) {
	t.Helper()
	ctx := context.Background()
	_, err := s.repo.Installs().Install(ctx, "t1", skillID, version, "test")
	require.NoError(t, err)
	require.NoError(t, s.repo.Registry().AddApproval(ctx, &models.SkillApproval{SkillID: skillID, Version: version}))
}

func (s *testStack) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s := newTestStack(t)
	rec := s.do(http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRunSkillSuccess(t *testing.T) {
	s := newTestStack(t)
	s.installApproved(t, "clean_text", "1.0.0")
	require.NoError(t, s.bill.EnsureWallet(context.Background(), "t1"))

	rec := s.do(http.MethodPost, "/api/v1/skills/clean_text/run", `{"input":{"text":" a  b "}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res services.InvokeResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.True(t, res.OK)
	assert.Equal(t, "a b", res.Output["cleaned"])
	assert.Equal(t, int64(1), res.ChargedCredits)
}

func TestRunSkillDenialsMapToProblemStatuses(t *testing.T) {
	s := newTestStack(t)

	// unknown skill
	rec := s.do(http.MethodPost, "/api/v1/skills/ghost/run", `{"input":{}}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Header().Get(echo.HeaderContentType), "application/problem+json")

	// registered but not installed for the tenant
	rec = s.do(http.MethodPost, "/api/v1/skills/clean_text/run", `{"input":{"text":"x"}}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	var p ProblemDetails
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	assert.Equal(t, "not_installed", p.Title)
	assert.Equal(t, http.StatusForbidden, p.Status)
}

func TestRunSkillInsufficientCreditsIs402(t *testing.T) {
	s := newTestStack(t)
	s.installApproved(t, "clean_text", "1.0.0")
	// wallet exists but holds nothing
	require.NoError(t, s.repo.Wallets().Ensure(context.Background(), "t1", 0))

	rec := s.do(http.MethodPost, "/api/v1/skills/clean_text/run", `{"input":{"text":"hello"}}`)
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
}

func TestWalletBalance(t *testing.T) {
	s := newTestStack(t)
	require.NoError(t, s.bill.EnsureWallet(context.Background(), "t1"))

	rec := s.do(http.MethodGet, "/api/v1/wallet/balance", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "t1", body["tenant_id"])
	assert.Equal(t, float64(100), body["balance"])
}

func TestWorkflowLifecycleOverHTTP(t *testing.T) {
	s := newTestStack(t)
	s.installApproved(t, "clean_text", "1.0.0")
	require.NoError(t, s.bill.EnsureWallet(context.Background(), "t1"))

	rec := s.do(http.MethodPost, "/api/v1/workflows", `{
		"name": "demo", "version": "1.0.0", "developer_id": "dev_a",
		"steps": [{"skill_id": "clean_text", "input": {"text": "{text}"}}]
	}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var wf models.WorkflowDefinition
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &wf))
	require.NotEmpty(t, wf.WorkflowID)

	// running before approval is refused
	rec = s.do(http.MethodPost, "/api/v1/workflows/"+wf.WorkflowID+"/run", `{"input":{"text":"hi"}}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(http.MethodPost, "/api/v1/workflows/"+wf.WorkflowID+"/submit", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = s.do(http.MethodPost, "/api/v1/admin/workflows/"+wf.WorkflowID+"/approve", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(http.MethodPost, "/api/v1/workflows/"+wf.WorkflowID+"/run", `{"input":{"text":" h  i "}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var run workflow.RunResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	assert.True(t, run.OK)
	assert.Equal(t, "h i", run.Vars["cleaned"])

	// status endpoint reflects the finished run
	rec = s.do(http.MethodGet, "/api/v1/workflows/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var status workflow.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.True(t, status.Finished)
	assert.True(t, status.OK)
}

func TestAdminInstallAndRollback(t *testing.T) {
	s := newTestStack(t)

	rec := s.do(http.MethodPost, "/api/v1/admin/installs", `{"skill_id":"clean_text","version":"1.0.0"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = s.do(http.MethodPost, "/api/v1/admin/installs", `{"skill_id":"clean_text","version":"2.0.0"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(http.MethodPost, "/api/v1/admin/installs/rollback", `{"skill_id":"clean_text"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var installRec models.InstallRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &installRec))
	assert.Equal(t, "1.0.0", installRec.ToVersion)

	rec = s.do(http.MethodGet, "/api/v1/admin/installs/clean_text/history", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var history []models.InstallRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &history))
	assert.Len(t, history, 3)
}
