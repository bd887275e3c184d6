package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/lottery-ticket-reservation/internal/config"
	"github.com/iliyamo/lottery-ticket-reservation/internal/logging"
	"github.com/iliyamo/lottery-ticket-reservation/internal/model"
	"github.com/iliyamo/lottery-ticket-reservation/internal/utils"
)

const secret = "test-secret"

func newContext(auth string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(http.MethodGet, "/v1/cart", nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	rec := httptest.NewRecorder()
	return echo.New().NewContext(req, rec), rec
}

func ok(c echo.Context) error { return c.NoContent(http.StatusNoContent) }

func TestJWTAuth(t *testing.T) {
	mw := JWTAuth(secret)

	c, rec := newContext("")
	require.NoError(t, mw(ok)(c))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	c, rec = newContext("Bearer garbage")
	require.NoError(t, mw(ok)(c))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	tok, err := utils.NewAccessToken(secret, 7, "mod", 15, time.Now())
	require.NoError(t, err)
	c, rec = newContext("Bearer " + tok.Token)
	require.NoError(t, mw(ok)(c))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, uint64(7), c.Get(CtxUserID))
	assert.Equal(t, "mod", c.Get(CtxRole))
}

func TestRequireRole(t *testing.T) {
	mw := RequireRole(Reviewers...)

	for role, want := range map[string]int{
		"user":  http.StatusForbidden,
		"":      http.StatusForbidden,
		"mod":   http.StatusNoContent,
		"agent": http.StatusNoContent,
		"admin": http.StatusNoContent,
	} {
		c, rec := newContext("")
		if role != "" {
			c.Set(CtxRole, role)
		}
		require.NoError(t, mw(ok)(c))
		assert.Equal(t, want, rec.Code, role)
	}

	c, rec := newContext("")
	c.Set(CtxRole, "mod")
	require.NoError(t, RequireRole(model.RoleAdmin)(ok)(c))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRequestLogger(t *testing.T) {
	mw := RequestLogger()

	c, rec := newContext("")
	var seen string
	require.NoError(t, mw(func(c echo.Context) error {
		seen = logging.CorrelationIDFromContext(c.Request().Context())
		return c.NoContent(http.StatusOK)
	})(c))
	id := rec.Header().Get("X-Request-ID")
	assert.NotEmpty(t, id)
	assert.Equal(t, id, seen)

	c, rec = newContext("")
	c.Request().Header.Set("X-Request-ID", "abc-123")
	require.NoError(t, mw(ok)(c))
	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
}

func TestRateLimitDisabledPassesThrough(t *testing.T) {
	mw := RateLimit(config.RateLimitConfig{Enabled: true}, nil)
	c, rec := newContext("")
	require.NoError(t, mw(ok)(c))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Header().Get("X-RateLimit-Limit"))
}

func TestRateKey(t *testing.T) {
	c, _ := newContext("")
	c.SetPath("/v1/cart")
	c.Set(CtxUserID, uint64(9))
	cfg := config.RateLimitConfig{Prefix: "rl", KeyStrategy: "user_route"}
	assert.Equal(t, "rl:user:9:route:GET /v1/cart", rateKey(cfg, c))

	cfg.KeyStrategy = "user"
	assert.Equal(t, "rl:user:9", rateKey(cfg, c))
}
