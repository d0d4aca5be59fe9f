package api

import (
	"context"
	"net/http"
	"strings"

	echo "github.com/labstack/echo/v5"

	"github.com/openclaw/mission-control/pkg/models"
)

const principalContextKey = "principal"

// TokenVerifier authenticates a raw credential against an org.
type TokenVerifier interface {
	VerifyAPIKey(ctx context.Context, slug, rawKey string) (*models.Principal, error)
}

// Revoker checks credential revocation marks.
type Revoker interface {
	IsRevoked(ctx context.Context, credentialID string) (bool, error)
}

// extractToken pulls the credential from the request.
// Priority: Authorization bearer > token query parameter (EventSource and
// WebSocket clients cannot set headers) > mc_token cookie.
func extractToken(c *echo.Context) string {
	if auth := c.Request().Header.Get("Authorization"); auth != "" {
		if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return token
		}
	}
	if token := c.QueryParam("token"); token != "" {
		return token
	}
	if cookie, err := c.Request().Cookie("mc_token"); err == nil {
		return cookie.Value
	}
	return ""
}

// requireAuth authenticates the request against the org in the path and
// stores the principal on the context.
func (s *Server) requireAuth() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			token := extractToken(c)
			if token == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing credentials")
			}

			p, err := s.verifier.VerifyAPIKey(c.Request().Context(), c.Param("slug"), token)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid credentials")
			}

			revoked, err := s.revoker.IsRevoked(c.Request().Context(), p.CredentialID)
			if err == nil && revoked {
				return echo.NewHTTPError(http.StatusUnauthorized, "credential revoked")
			}

			c.Set(principalContextKey, *p)
			return next(c)
		}
	}
}

// principalFrom returns the authenticated principal set by requireAuth.
func principalFrom(c *echo.Context) models.Principal {
	p, _ := c.Get(principalContextKey).(models.Principal)
	return p
}
