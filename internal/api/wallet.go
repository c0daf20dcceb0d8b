package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// WalletBalance returns the tenant's remaining credits.
// (GET /api/v1/wallet/balance)
func (s *Server) WalletBalance(c echo.Context) error {
	tenantID := caller(c).TenantID
	balance, err := s.Billing.Balance(c.Request().Context(), tenantID)
	if err != nil {
		return problem(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"tenant_id": tenantID,
		"balance":   balance,
	})
}

// TenantDashboard aggregates the authenticated tenant's spend.
// (GET /api/v1/dashboards/tenant)
func (s *Server) TenantDashboard(c echo.Context) error {
	d, err := s.Billing.TenantDashboard(c.Request().Context(), caller(c).TenantID)
	if err != nil {
		return problem(c, err)
	}
	return c.JSON(http.StatusOK, d)
}

// DeveloperDashboard aggregates a developer's earnings.
// (GET /api/v1/dashboards/developer/:developer_id)
func (s *Server) DeveloperDashboard(c echo.Context) error {
	d, err := s.Billing.DeveloperDashboard(c.Request().Context(), c.Param("developer_id"))
	if err != nil {
		return problem(c, err)
	}
	return c.JSON(http.StatusOK, d)
}

// PlatformDashboard aggregates the whole ledger.
// (GET /api/v1/admin/dashboards/platform)
func (s *Server) PlatformDashboard(c echo.Context) error {
	d, err := s.Billing.PlatformDashboard(c.Request().Context())
	if err != nil {
		return problem(c, err)
	}
	return c.JSON(http.StatusOK, d)
}
