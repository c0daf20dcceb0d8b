package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
)

type installRequest struct {
	SkillID string `json:"skill_id"`
	Version string `json:"version"`
}

// AdminInstall binds a skill version to the tenant.
// (POST /api/v1/admin/installs)
func (s *Server) AdminInstall(c echo.Context) error {
	var req installRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body: "+err.Error())
	}
	if req.SkillID == "" || req.Version == "" {
		return badRequest(c, "skill_id and version required")
	}

	call := caller(c)
	rec, err := s.Installs.Install(c.Request().Context(), call.TenantID, req.SkillID, req.Version, call.UserID)
	if err != nil {
		return problem(c, err)
	}
	return c.JSON(http.StatusOK, rec)
}

// AdminRollback restores the previously installed version.
// (POST /api/v1/admin/installs/rollback)
func (s *Server) AdminRollback(c echo.Context) error {
	var req installRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body: "+err.Error())
	}
	if req.SkillID == "" {
		return badRequest(c, "skill_id required")
	}

	call := caller(c)
	rec, err := s.Installs.Rollback(c.Request().Context(), call.TenantID, req.SkillID, call.UserID)
	if err != nil {
		return problem(c, err)
	}
	return c.JSON(http.StatusOK, rec)
}

// AdminInstallHistory lists the tenant's install log for one skill.
// (GET /api/v1/admin/installs/:skill_id/history)
func (s *Server) AdminInstallHistory(c echo.Context) error {
	history, err := s.Installs.History(c.Request().Context(), caller(c).TenantID, c.Param("skill_id"))
	if err != nil {
		return problem(c, err)
	}
	return c.JSON(http.StatusOK, history)
}

// AdminListSubmissions lists every skill review submission.
// (GET /api/v1/admin/submissions)
func (s *Server) AdminListSubmissions(c echo.Context) error {
	subs, err := s.Registry.ListSubmissions(c.Request().Context())
	if err != nil {
		return problem(c, err)
	}
	return c.JSON(http.StatusOK, subs)
}

type submissionRequest struct {
	SkillID     string `json:"skill_id"`
	Version     string `json:"version"`
	DeveloperID string `json:"developer_id"`
	Notes       string `json:"notes"`
}

// AdminCreateSubmission opens a review submission for a skill version.
// (POST /api/v1/admin/submissions)
func (s *Server) AdminCreateSubmission(c echo.Context) error {
	var req submissionRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body: "+err.Error())
	}
	if req.SkillID == "" || req.Version == "" {
		return badRequest(c, "skill_id and version required")
	}

	sub, err := s.Registry.Submit(c.Request().Context(), req.SkillID, req.Version, req.DeveloperID, req.Notes)
	if err != nil {
		return problem(c, err)
	}
	return c.JSON(http.StatusCreated, sub)
}

// AdminApproveSubmission approves a pending submission.
// (POST /api/v1/admin/submissions/:submission_id/approve)
func (s *Server) AdminApproveSubmission(c echo.Context) error {
	sub, err := s.Registry.ApproveSubmission(c.Request().Context(), c.Param("submission_id"))
	if err != nil {
		return problem(c, err)
	}
	return c.JSON(http.StatusOK, sub)
}

// AdminRejectSubmission rejects a pending submission with a reason.
// (POST /api/v1/admin/submissions/:submission_id/reject)
func (s *Server) AdminRejectSubmission(c echo.Context) error {
	var req rejectRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body: "+err.Error())
	}

	sub, err := s.Registry.RejectSubmission(c.Request().Context(), c.Param("submission_id"), req.Reason)
	if err != nil {
		return problem(c, err)
	}
	return c.JSON(http.StatusOK, sub)
}

// AdminLock pins every tenant to one version of a skill.
// (POST /api/v1/admin/locks)
func (s *Server) AdminLock(c echo.Context) error {
	var req installRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body: "+err.Error())
	}
	if req.SkillID == "" || req.Version == "" {
		return badRequest(c, "skill_id and version required")
	}

	if err := s.Registry.Lock(c.Request().Context(), req.SkillID, req.Version); err != nil {
		return problem(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{
		"skill_id":       req.SkillID,
		"locked_version": req.Version,
	})
}

// AdminListSuspensions lists active suspensions.
// (GET /api/v1/admin/suspensions)
func (s *Server) AdminListSuspensions(c echo.Context) error {
	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return badRequest(c, "limit must be an integer")
		}
		limit = n
	}

	suspensions, err := s.Limiter.ListSuspensions(c.Request().Context(), limit)
	if err != nil {
		return problem(c, err)
	}
	return c.JSON(http.StatusOK, suspensions)
}

// AdminClearSuspension lifts one suspension early.
// (DELETE /api/v1/admin/suspensions/:suspend_id)
func (s *Server) AdminClearSuspension(c echo.Context) error {
	cleared, err := s.Limiter.ClearSuspension(c.Request().Context(), c.Param("suspend_id"))
	if err != nil {
		return problem(c, err)
	}
	if !cleared {
		return c.JSON(http.StatusNotFound, map[string]string{"detail": "suspension not found"})
	}
	return c.NoContent(http.StatusNoContent)
}

type creditRequest struct {
	TenantID string `json:"tenant_id"`
	Credits  int64  `json:"credits"`
}

// AdminCreditWallet tops up a tenant wallet.
// (POST /api/v1/admin/wallet/credit)
func (s *Server) AdminCreditWallet(c echo.Context) error {
	var req creditRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body: "+err.Error())
	}
	if req.TenantID == "" || req.Credits <= 0 {
		return badRequest(c, "tenant_id and a positive credits amount required")
	}

	if err := s.Billing.Credit(c.Request().Context(), req.TenantID, req.Credits); err != nil {
		return problem(c, err)
	}

	balance, err := s.Billing.Balance(c.Request().Context(), req.TenantID)
	if err != nil {
		return problem(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"tenant_id": req.TenantID,
		"balance":   balance,
	})
}

// AdminRecentAudit returns the most recent audit events.
// (GET /api/v1/admin/audit)
func (s *Server) AdminRecentAudit(c echo.Context) error {
	limit := 100
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return badRequest(c, "limit must be an integer")
		}
		limit = n
	}
	return c.JSON(http.StatusOK, s.Audit.Recent(limit))
}
