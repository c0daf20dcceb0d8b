// Package api contains the HTTP handlers for the marketplace runtime.
package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"skillmarket/backend/internal/audit"
	"skillmarket/backend/internal/auth"
	"skillmarket/backend/internal/billing"
	"skillmarket/backend/internal/install"
	"skillmarket/backend/internal/logging"
	"skillmarket/backend/internal/ratelimit"
	"skillmarket/backend/internal/registry"
	"skillmarket/backend/internal/services"
	"skillmarket/backend/internal/skills"
	"skillmarket/backend/internal/workflow"
)

// Server holds the handler dependencies.
type Server struct {
	Invocation *services.Invocation
	Engine     *workflow.Engine
	Workflows  *workflow.Definitions
	Status     *workflow.StatusTracker
	Registry   *registry.Service
	Installs   *install.Service
	Billing    *billing.Service
	Limiter    *ratelimit.Limiter
	Skills     *skills.Registry
	Audit      *audit.AsyncSink
	Logger     *logging.Logger
}

// RegisterRoutes mounts every route. authMW protects the tenant and admin
// surfaces; health and metrics stay open.
func (s *Server) RegisterRoutes(e *echo.Echo, authMW echo.MiddlewareFunc) {
	e.GET("/healthz", s.HandleHealth)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := e.Group("/api/v1", authMW)

	v1.GET("/skills", s.ListSkills)
	v1.POST("/skills/:skill_id/run", s.RunSkill)

	v1.POST("/workflows/run", s.RunAdhocWorkflow)
	v1.POST("/workflows/:workflow_id/run", s.RunNamedWorkflow)
	v1.GET("/workflows/status", s.WorkflowStatus)
	v1.POST("/workflows", s.CreateWorkflow)
	v1.GET("/workflows", s.ListWorkflows)
	v1.POST("/workflows/:workflow_id/submit", s.SubmitWorkflow)

	v1.GET("/wallet/balance", s.WalletBalance)
	v1.GET("/dashboards/tenant", s.TenantDashboard)
	v1.GET("/dashboards/developer/:developer_id", s.DeveloperDashboard)

	admin := v1.Group("/admin")
	admin.POST("/installs", s.AdminInstall)
	admin.POST("/installs/rollback", s.AdminRollback)
	admin.GET("/installs/:skill_id/history", s.AdminInstallHistory)
	admin.GET("/submissions", s.AdminListSubmissions)
	admin.POST("/submissions", s.AdminCreateSubmission)
	admin.POST("/submissions/:submission_id/approve", s.AdminApproveSubmission)
	admin.POST("/submissions/:submission_id/reject", s.AdminRejectSubmission)
	admin.POST("/locks", s.AdminLock)
	admin.POST("/workflows/:workflow_id/approve", s.AdminApproveWorkflow)
	admin.POST("/workflows/:workflow_id/reject", s.AdminRejectWorkflow)
	admin.GET("/suspensions", s.AdminListSuspensions)
	admin.DELETE("/suspensions/:suspend_id", s.AdminClearSuspension)
	admin.POST("/wallet/credit", s.AdminCreditWallet)
	admin.GET("/dashboards/platform", s.PlatformDashboard)
	admin.GET("/audit", s.AdminRecentAudit)
}

// caller builds the invocation identity from the authenticated context.
func caller(c echo.Context) services.Caller {
	tenantID, _ := c.Get(auth.ContextTenantID).(string)
	userID, _ := c.Get(auth.ContextUserID).(string)
	deviceID, _ := c.Get(auth.ContextDeviceID).(string)
	return services.Caller{TenantID: tenantID, UserID: userID, DeviceID: deviceID}
}

// HealthStatus is the health check response.
type HealthStatus struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Service   string    `json:"service"`
	Version   string    `json:"version"`
}

// HandleHealth always returns 200 when the process is up.
func (s *Server) HandleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthStatus{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
		Service:   "skillmarket",
		Version:   "1.0.0",
	})
}
