package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/sebastiansabo/autoworld-crawl/internal/infrastructure/auth"
	"github.com/sebastiansabo/autoworld-crawl/internal/infrastructure/config"
)

func newTestJWTService(t *testing.T) *auth.JWTService {
	t.Helper()
	svc, err := auth.NewJWTService(config.TriggerConfig{
		AuthEnabled: true,
		JWTSecret:   "test-secret-key-at-least-32-chars!!",
		Issuer:      "test-issuer",
	})
	require.NoError(t, err)
	return svc
}

func newToken(t *testing.T, svc *auth.JWTService, scopes ...string) string {
	t.Helper()
	token, _, err := svc.GenerateToken("nightly-cron", scopes, time.Hour)
	require.NoError(t, err)
	return token
}

func authRouter(svc *auth.JWTService, l *zap.Logger, scope string) *gin.Engine {
	r := gin.New()
	r.Use(RequestID(), JWTAuthMiddleware(svc, l))
	r.POST("/runs", RequireScope(scope), func(c *gin.Context) {
		c.String(http.StatusOK, GetJWTSubject(c))
	})
	return r
}

func authRequest(token string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/runs", nil)
	if token != "" {
		req.Header.Set(AuthHeaderKey, BearerPrefix+token)
	}
	return req
}

func TestJWTAuthMiddleware_ValidToken(t *testing.T) {
	svc := newTestJWTService(t)
	w := serve(authRouter(svc, nil, auth.ScopeSyncRun), authRequest(newToken(t, svc, auth.ScopeSyncRun)))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "nightly-cron", w.Body.String())
}

func TestJWTAuthMiddleware_MissingHeader(t *testing.T) {
	svc := newTestJWTService(t)
	w := serve(authRouter(svc, nil, auth.ScopeSyncRun), authRequest(""))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "ERR_UNAUTHORIZED")
	assert.NotEmpty(t, w.Header().Get("WWW-Authenticate"))
}

func TestJWTAuthMiddleware_InvalidHeaderFormat(t *testing.T) {
	svc := newTestJWTService(t)
	req := httptest.NewRequest(http.MethodPost, "/runs", nil)
	req.Header.Set(AuthHeaderKey, "Basic dXNlcjpwYXNz")
	w := serve(authRouter(svc, nil, auth.ScopeSyncRun), req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "ERR_TOKEN_INVALID")
}

func TestJWTAuthMiddleware_InvalidToken(t *testing.T) {
	svc := newTestJWTService(t)
	core, logs := observer.New(zap.WarnLevel)
	w := serve(authRouter(svc, zap.New(core), auth.ScopeSyncRun), authRequest("garbage"))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "ERR_TOKEN_INVALID")
	assert.Equal(t, 1, logs.FilterMessage("JWT authentication failed").Len())
}

func TestJWTAuthMiddleware_ExpiredToken(t *testing.T) {
	svc := newTestJWTService(t)
	expired := &stubValidator{err: auth.ErrExpiredToken}

	r := gin.New()
	r.Use(JWTAuthMiddleware(expired, nil))
	r.POST("/runs", func(c *gin.Context) { c.Status(http.StatusOK) })
	w := serve(r, authRequest(newToken(t, svc)))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "ERR_TOKEN_EXPIRED")
}

func TestRequireScope(t *testing.T) {
	svc := newTestJWTService(t)

	t.Run("missing scope is forbidden", func(t *testing.T) {
		w := serve(authRouter(svc, nil, auth.ScopeMappingsAdmin), authRequest(newToken(t, svc, auth.ScopeSyncRun)))
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Contains(t, w.Body.String(), "ERR_FORBIDDEN")
	})

	t.Run("without authentication", func(t *testing.T) {
		r := gin.New()
		r.GET("/x", RequireScope(auth.ScopeSyncRun), func(c *gin.Context) { c.Status(http.StatusOK) })
		w := serve(r, httptest.NewRequest(http.MethodGet, "/x", nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestJWTAuthMiddleware_CustomOnError(t *testing.T) {
	var got error
	r := gin.New()
	r.Use(JWTAuthMiddlewareWithConfig(JWTMiddlewareConfig{
		Validator: &stubValidator{err: auth.ErrInvalidToken},
		OnError: func(c *gin.Context, err error) {
			got = err
			c.AbortWithStatus(http.StatusTeapot)
		},
	}))
	r.POST("/runs", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := serve(r, authRequest("whatever"))
	assert.Equal(t, http.StatusTeapot, w.Code)
	assert.True(t, errors.Is(got, auth.ErrInvalidToken))
}

func TestGetJWTClaims_NotFound(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	assert.Nil(t, GetJWTClaims(c))
	assert.Empty(t, GetJWTSubject(c))
}

type stubValidator struct {
	claims *auth.Claims
	err    error
}

func (s *stubValidator) ValidateToken(string) (*auth.Claims, error) {
	return s.claims, s.err
}
