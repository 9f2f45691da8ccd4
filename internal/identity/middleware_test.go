package identity

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func newTestRouter(secret string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Middleware(secret))
	r.GET("/open", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/me", RequireIdentity(), func(c *gin.Context) {
		caller, _ := FromContext(c)
		c.JSON(http.StatusOK, caller)
	})
	r.GET("/admin", RequireIdentity(), RequireAdmin(), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return r
}

func doGet(t *testing.T, r *gin.Engine, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestTokenRoundTrip(t *testing.T) {
	id := Identity{UserID: 42, CompanyID: 7, Role: RoleShipper}
	token, err := SignToken(id, testSecret, time.Hour)
	require.NoError(t, err)

	parsed, err := ParseToken(token, testSecret)
	require.NoError(t, err)
	assert.Equal(t, id, parsed)
}

func TestParseToken_WrongSecret(t *testing.T) {
	token, err := SignToken(Identity{UserID: 1, CompanyID: 1, Role: RoleAdmin}, testSecret, time.Hour)
	require.NoError(t, err)

	_, err = ParseToken(token, "other-secret")
	assert.Error(t, err)
}

func TestParseToken_Expired(t *testing.T) {
	token, err := SignToken(Identity{UserID: 1, CompanyID: 1, Role: RoleHauler}, testSecret, -time.Minute)
	require.NoError(t, err)

	_, err = ParseToken(token, testSecret)
	assert.Error(t, err)
}

func TestRequireIdentity(t *testing.T) {
	r := newTestRouter(testSecret)

	w := doGet(t, r, "/me", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	token, err := SignToken(Identity{UserID: 3, CompanyID: 9, Role: RoleHauler}, testSecret, time.Hour)
	require.NoError(t, err)

	w = doGet(t, r, "/me", token)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"company_id":9`)
}

func TestRequireAdmin(t *testing.T) {
	r := newTestRouter(testSecret)

	haulerToken, err := SignToken(Identity{UserID: 3, CompanyID: 9, Role: RoleHauler}, testSecret, time.Hour)
	require.NoError(t, err)
	w := doGet(t, r, "/admin", haulerToken)
	assert.Equal(t, http.StatusForbidden, w.Code)

	adminToken, err := SignToken(Identity{UserID: 1, CompanyID: 0, Role: RoleAdmin}, testSecret, time.Hour)
	require.NoError(t, err)
	w = doGet(t, r, "/admin", adminToken)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMiddleware_IgnoresGarbageToken(t *testing.T) {
	r := newTestRouter(testSecret)
	w := doGet(t, r, "/open", "garbage")
	assert.Equal(t, http.StatusOK, w.Code)
}
