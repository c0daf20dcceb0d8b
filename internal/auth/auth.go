// Package auth performs OpenID Connect bearer authentication and resolves
// the caller's tenant from the email domain in the token. Unknown domains are
// auto-provisioned as new tenants.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc"
	"github.com/labstack/echo/v4"
	"golang.org/x/oauth2"

	"skillmarket/backend/internal/config"
	"skillmarket/backend/internal/repository"
	"skillmarket/backend/pkg/models"
)

// Context keys set by the middleware.
const (
	ContextTenantID = "tenant_id"
	ContextUserID   = "user_id"
	ContextDeviceID = "device_id"
)

// HeaderDeviceID carries the caller's device identity. Missing headers fall
// back to "unknown_device" so rate limiting still has a device scope.
const HeaderDeviceID = "X-Device-ID"

// Logger is the logging interface the middleware needs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

// Auth verifies bearer tokens against an OIDC provider and maps callers to
// tenants.
type Auth struct {
	oauth2Config *oauth2.Config
	verifier     *oidc.IDTokenVerifier
	tenants      repository.TenantStore
	logger       Logger
	bypass       bool
}

// New creates an Auth from configuration. In DEV with dev_mode_bypass set,
// token verification is skipped and every request runs as dev@localhost.
func New(ctx context.Context, cfg *config.Config, tenants repository.TenantStore, logger Logger) (*Auth, error) {
	isDev := strings.ToUpper(cfg.Environment) == "DEV"
	bypass := isDev && cfg.Auth.DevModeBypass

	var oauth2Config *oauth2.Config
	var verifier *oidc.IDTokenVerifier

	if !bypass {
		if cfg.Auth.Issuer == "" || cfg.Auth.ClientID == "" {
			return nil, errors.New("auth configuration is incomplete")
		}

		provider, err := oidc.NewProvider(ctx, cfg.Auth.Issuer)
		if err != nil {
			return nil, err
		}

		oauth2Config = &oauth2.Config{
			ClientID:     cfg.Auth.ClientID,
			ClientSecret: cfg.Auth.ClientSecret,
			Endpoint:     provider.Endpoint(),
			RedirectURL:  cfg.Auth.RedirectURL,
			Scopes:       []string{oidc.ScopeOpenID, "email"},
		}

		// Access tokens can carry a different audience than the client id,
		// so the audience check is relaxed for bearer verification.
		verifier = provider.Verifier(&oidc.Config{SkipClientIDCheck: true})
	}

	return &Auth{
		oauth2Config: oauth2Config,
		verifier:     verifier,
		tenants:      tenants,
		logger:       logger,
		bypass:       bypass,
	}, nil
}

// Middleware authenticates the request and stores tenant_id, user_id, and
// device_id on the echo context.
func (a *Auth) Middleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		email, err := a.resolveEmail(c)
		if err != nil {
			return err
		}

		parts := strings.Split(email, "@")
		if len(parts) != 2 || parts[1] == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid email in token")
		}
		domain := parts[1]

		tenant, err := a.tenants.GetTenantByDomain(c.Request().Context(), domain)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, "tenant lookup failed")
		}
		if tenant == nil {
			tenant = &models.Tenant{Name: domain, Domain: domain}
			if err := a.tenants.CreateTenant(c.Request().Context(), tenant); err != nil {
				a.logger.Error("tenant provisioning failed", "domain", domain, "error", err)
				return echo.NewHTTPError(http.StatusInternalServerError, "failed to provision tenant")
			}
			a.logger.Info("tenant auto-provisioned", "domain", domain, "tenant_id", tenant.ID)
		}

		deviceID := c.Request().Header.Get(HeaderDeviceID)
		if deviceID == "" {
			deviceID = "unknown_device"
		}

		c.Set(ContextTenantID, tenant.ID)
		c.Set(ContextUserID, email)
		c.Set(ContextDeviceID, deviceID)
		return next(c)
	}
}

func (a *Auth) resolveEmail(c echo.Context) (string, error) {
	if a.bypass {
		return "dev@localhost", nil
	}

	header := c.Request().Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
	}
	raw := strings.TrimPrefix(header, "Bearer ")

	token, err := a.verifier.Verify(c.Request().Context(), raw)
	if err != nil {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
	}

	var claims struct {
		Email string `json:"email"`
	}
	if err := token.Claims(&claims); err != nil || claims.Email == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "token has no email claim")
	}
	return claims.Email, nil
}
