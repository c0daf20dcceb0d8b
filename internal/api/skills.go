package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// ListSkills returns the registered skill implementations.
// (GET /api/v1/skills)
func (s *Server) ListSkills(c echo.Context) error {
	return c.JSON(http.StatusOK, s.Skills.List())
}

type runSkillRequest struct {
	Input map[string]any `json:"input"`
}

// RunSkill invokes one skill for the authenticated tenant.
// (POST /api/v1/skills/:skill_id/run)
func (s *Server) RunSkill(c echo.Context) error {
	var req runSkillRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body: "+err.Error())
	}
	if req.Input == nil {
		req.Input = map[string]any{}
	}

	res, err := s.Invocation.InvokeSkill(c.Request().Context(), caller(c), c.Param("skill_id"), req.Input)
	if err != nil {
		return problem(c, err)
	}
	return c.JSON(http.StatusOK, res)
}
