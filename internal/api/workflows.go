package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"skillmarket/backend/pkg/models"
)

type runWorkflowRequest struct {
	WorkflowID string                `json:"workflow_id"`
	Version    string                `json:"version"`
	Steps      []models.WorkflowStep `json:"steps"`
	Input      map[string]any        `json:"input"`
}

// RunAdhocWorkflow executes a step list supplied in the request body.
// (POST /api/v1/workflows/run)
func (s *Server) RunAdhocWorkflow(c echo.Context) error {
	var req runWorkflowRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body: "+err.Error())
	}
	if len(req.Steps) == 0 {
		return badRequest(c, "steps[] required")
	}

	res := s.Engine.Run(c.Request().Context(), caller(c), req.WorkflowID, req.Version, req.Steps, req.Input)
	return c.JSON(http.StatusOK, res)
}

// RunNamedWorkflow executes an approved, version-locked definition.
// (POST /api/v1/workflows/:workflow_id/run)
func (s *Server) RunNamedWorkflow(c echo.Context) error {
	var req runWorkflowRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body: "+err.Error())
	}

	res, err := s.Engine.RunNamed(c.Request().Context(), caller(c), c.Param("workflow_id"), req.Version, req.Input)
	if err != nil {
		return problem(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

// WorkflowStatus returns the tenant's most recent run snapshot.
// (GET /api/v1/workflows/status)
func (s *Server) WorkflowStatus(c echo.Context) error {
	status, ok := s.Status.Latest(caller(c).TenantID)
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"detail": "no workflow runs yet"})
	}
	return c.JSON(http.StatusOK, status)
}

type createWorkflowRequest struct {
	Name        string                `json:"name"`
	Version     string                `json:"version"`
	DeveloperID string                `json:"developer_id"`
	Steps       []models.WorkflowStep `json:"steps"`
}

// CreateWorkflow stores a new definition in DRAFT.
// (POST /api/v1/workflows)
func (s *Server) CreateWorkflow(c echo.Context) error {
	var req createWorkflowRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body: "+err.Error())
	}

	wf, err := s.Workflows.Create(c.Request().Context(), req.Name, req.Version, req.DeveloperID, req.Steps)
	if err != nil {
		return problem(c, err)
	}
	return c.JSON(http.StatusCreated, wf)
}

// ListWorkflows returns every stored definition.
// (GET /api/v1/workflows)
func (s *Server) ListWorkflows(c echo.Context) error {
	wfs, err := s.Workflows.List(c.Request().Context())
	if err != nil {
		return problem(c, err)
	}
	return c.JSON(http.StatusOK, wfs)
}

// SubmitWorkflow moves a definition into review.
// (POST /api/v1/workflows/:workflow_id/submit)
func (s *Server) SubmitWorkflow(c echo.Context) error {
	wf, err := s.Workflows.Submit(c.Request().Context(), c.Param("workflow_id"))
	if err != nil {
		return problem(c, err)
	}
	return c.JSON(http.StatusOK, wf)
}

// AdminApproveWorkflow clears a submitted definition and locks its version.
// (POST /api/v1/admin/workflows/:workflow_id/approve)
func (s *Server) AdminApproveWorkflow(c echo.Context) error {
	wf, err := s.Workflows.Approve(c.Request().Context(), c.Param("workflow_id"))
	if err != nil {
		return problem(c, err)
	}
	return c.JSON(http.StatusOK, wf)
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

// AdminRejectWorkflow rejects a submitted definition.
// (POST /api/v1/admin/workflows/:workflow_id/reject)
func (s *Server) AdminRejectWorkflow(c echo.Context) error {
	var req rejectRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body: "+err.Error())
	}

	wf, err := s.Workflows.Reject(c.Request().Context(), c.Param("workflow_id"), req.Reason)
	if err != nil {
		return problem(c, err)
	}
	return c.JSON(http.StatusOK, wf)
}
