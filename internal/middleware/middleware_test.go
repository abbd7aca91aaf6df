package middleware_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/papersim/internal/config"
	"github.com/papersim/internal/middleware"
	"github.com/papersim/internal/service"
	"github.com/papersim/pkg/response"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(auth *service.AuthService) *gin.Engine {
	r := gin.New()
	r.Use(middleware.RequestIDMiddleware(), middleware.RequestLoggerMiddleware())
	authMiddleware := middleware.AuthMiddleware(auth)

	ok := func(c *gin.Context) { response.Success(c, gin.H{"claims": middleware.GetClaims(c)}) }
	r.GET("/accounts/:account_id", authMiddleware, ok)
	r.GET("/admin", authMiddleware, middleware.RequireAdmin(), ok)
	r.POST("/trading/:account_id/trades", authMiddleware, middleware.SettlementLoggerMiddleware(), func(c *gin.Context) {
		var body map[string]interface{}
		if err := c.ShouldBindJSON(&body); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		response.Created(c, body)
	})
	return r
}

func serve(r *gin.Engine, method, path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthMiddleware(t *testing.T) {
	auth := service.NewAuthService(config.JWTConfig{Secret: "secret", ExpireHours: 1})
	r := newRouter(auth)

	owner, err := auth.IssueToken("acc-1", false)
	require.NoError(t, err)
	admin, err := auth.IssueToken("", true)
	require.NoError(t, err)

	assert.Equal(t, http.StatusUnauthorized, serve(r, http.MethodGet, "/accounts/acc-1", "", "").Code)
	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/accounts/acc-1", owner.AccessToken, "").Code)
	assert.Equal(t, http.StatusForbidden, serve(r, http.MethodGet, "/accounts/acc-2", owner.AccessToken, "").Code)
	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/accounts/acc-2", admin.AccessToken, "").Code)
	assert.Equal(t, http.StatusForbidden, serve(r, http.MethodGet, "/admin", owner.AccessToken, "").Code)
	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/admin", admin.AccessToken, "").Code)

	// WebSocket clients pass the token as a query parameter
	w := serve(r, http.MethodGet, "/accounts/acc-1?token="+owner.AccessToken, "", "")
	assert.Equal(t, http.StatusOK, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/accounts/acc-1", nil)
	req.Header.Set("Authorization", "Basic abc")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequestIDMiddleware(t *testing.T) {
	auth := service.NewAuthService(config.JWTConfig{Secret: "secret", ExpireHours: 1})
	r := newRouter(auth)

	w := serve(r, http.MethodGet, "/accounts/acc-1", "", "")
	generated := w.Header().Get(middleware.HeaderRequestID)
	require.NotEmpty(t, generated)

	var resp response.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, generated, resp.RequestID)

	req := httptest.NewRequest(http.MethodGet, "/accounts/acc-1", nil)
	req.Header.Set(middleware.HeaderRequestID, "client-42")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "client-42", w.Header().Get(middleware.HeaderRequestID))
}

func TestSettlementLoggerKeepsBody(t *testing.T) {
	require.NoError(t, middleware.InitLogger(t.TempDir(), true))

	auth := service.NewAuthService(config.JWTConfig{Secret: "secret", ExpireHours: 1})
	r := newRouter(auth)
	owner, err := auth.IssueToken("acc-1", false)
	require.NoError(t, err)

	w := serve(r, http.MethodPost, "/trading/acc-1/trades", owner.AccessToken, `{"symbol":"AAPL"}`)
	require.Equal(t, http.StatusCreated, w.Code)

	var resp struct {
		Data map[string]interface{} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "AAPL", resp.Data["symbol"])
}
