package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	echo "github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclaw/mission-control/pkg/models"
	"github.com/openclaw/mission-control/pkg/services"
)

func TestExtractToken(t *testing.T) {
	tests := []struct {
		name     string
		headers  map[string]string
		query    string
		cookie   string
		expected string
	}{
		{
			name:     "bearer header",
			headers:  map[string]string{"Authorization": "Bearer key-123"},
			expected: "key-123",
		},
		{
			name:     "query parameter for EventSource clients",
			query:    "?token=key-456",
			expected: "key-456",
		},
		{
			name:     "cookie fallback",
			cookie:   "key-789",
			expected: "key-789",
		},
		{
			name:     "header takes priority over query",
			headers:  map[string]string{"Authorization": "Bearer from-header"},
			query:    "?token=from-query",
			expected: "from-header",
		},
		{
			name:     "malformed authorization scheme falls through",
			headers:  map[string]string{"Authorization": "Basic abc"},
			query:    "?token=from-query",
			expected: "from-query",
		},
		{
			name:     "no credentials",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/"+tt.query, nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: "mc_token", Value: tt.cookie})
			}
			c := e.NewContext(req, httptest.NewRecorder())

			assert.Equal(t, tt.expected, extractToken(c))
		})
	}
}

type fakeVerifier struct {
	principal *models.Principal
	err       error
}

func (f *fakeVerifier) VerifyAPIKey(_ context.Context, _, _ string) (*models.Principal, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.principal, nil
}

type fakeRevoker struct {
	revoked map[string]bool
}

func (f *fakeRevoker) IsRevoked(_ context.Context, credentialID string) (bool, error) {
	return f.revoked[credentialID], nil
}

func runAuthRequest(t *testing.T, s *Server, token string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	e.GET("/orgs/:slug/ping", func(c *echo.Context) error {
		p := principalFrom(c)
		return c.JSON(http.StatusOK, map[string]string{"user_id": p.UserID.String()})
	}, s.requireAuth())

	req := httptest.NewRequest(http.MethodGet, "/orgs/acme/ping", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestRequireAuth_Success(t *testing.T) {
	p := &models.Principal{OrgSlug: "acme", CredentialID: "cred-1"}
	s := &Server{
		verifier: &fakeVerifier{principal: p},
		revoker:  &fakeRevoker{revoked: map[string]bool{}},
	}

	rec := runAuthRequest(t, s, "valid-key")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireAuth_MissingToken(t *testing.T) {
	s := &Server{
		verifier: &fakeVerifier{},
		revoker:  &fakeRevoker{},
	}

	rec := runAuthRequest(t, s, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireAuth_InvalidToken(t *testing.T) {
	s := &Server{
		verifier: &fakeVerifier{err: services.ErrAccessDenied},
		revoker:  &fakeRevoker{},
	}

	rec := runAuthRequest(t, s, "bad-key")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireAuth_RevokedCredential(t *testing.T) {
	p := &models.Principal{OrgSlug: "acme", CredentialID: "cred-9"}
	s := &Server{
		verifier: &fakeVerifier{principal: p},
		revoker:  &fakeRevoker{revoked: map[string]bool{"cred-9": true}},
	}

	rec := runAuthRequest(t, s, "valid-key")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
