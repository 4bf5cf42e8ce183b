package handler

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/stock-ledger/internal/core/domain"
)

func TestHealthCheck(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestProtectedRoutes_RequireSession(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{"/products", "/movements", "/users"} {
		rec := env.do(t, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
		assert.JSONEq(t, `{"error":"not authenticated"}`, rec.Body.String(), path)
	}

	rec := env.do(t, http.MethodGet, "/products", nil, withCookie("unknown-token"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestProviderFailure_IsInternalError(t *testing.T) {
	env := newTestEnv(t, withProvider(failingProvider{}))

	rec := env.do(t, http.MethodGet, "/products", nil, withCookie("any"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal error"}`, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), errUnavailable.Error())
}

func TestProductLifecycle(t *testing.T) {
	env := newTestEnv(t)
	token := env.seedUser(t, "admin-1", domain.RoleAdmin)
	auth := withCookie(token)

	rec := env.do(t, http.MethodPost, "/products", map[string]any{"name": "Widget", "quantity": 5}, auth)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeBody[ProductResponse](t, rec)
	assert.Equal(t, 5, created.Quantity)
	assert.Equal(t, 5, created.InitialQuantity)

	path := fmt.Sprintf("/products/%d", created.ID)

	rec = env.do(t, http.MethodPut, path, map[string]any{"name": "Widget", "description": "blue", "quantity": 8}, auth)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decodeBody[ProductResponse](t, rec)
	assert.Equal(t, 8, updated.Quantity)
	assert.Equal(t, "blue", updated.Description)

	rec = env.do(t, http.MethodPost, path+"/movements", map[string]any{"direction": "outbound", "magnitude": 3}, auth)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	moved := decodeBody[MovementCreatedResponse](t, rec)
	assert.Equal(t, 5, moved.Product.Quantity)
	assert.Equal(t, "outbound", moved.Movement.Direction)
	assert.Equal(t, "admin-1", moved.Movement.ActorID)

	rec = env.do(t, http.MethodGet, path+"/audit", nil, auth)
	require.Equal(t, http.StatusOK, rec.Code)
	audit := decodeBody[AuditResponse](t, rec)
	assert.True(t, audit.Balanced)
	assert.Equal(t, 0, audit.LedgerBalance)

	rec = env.do(t, http.MethodGet, path+"/movements", nil, auth)
	require.Equal(t, http.StatusOK, rec.Code)
	ledger := decodeBody[PageResponse[MovementResponse]](t, rec)
	require.Len(t, ledger.Results, 2)
	assert.Equal(t, "outbound", ledger.Results[0].Direction)
	assert.Equal(t, "inbound", ledger.Results[1].Direction)

	rec = env.do(t, http.MethodDelete, path, nil, auth)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodGet, path, nil, auth)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/movements", nil, auth)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeBody[PageResponse[MovementResponse]](t, rec).Results)
}

func TestCreateProduct_Validation(t *testing.T) {
	env := newTestEnv(t)
	auth := withCookie(env.seedUser(t, "u1", domain.RoleUser))

	tests := []struct {
		name string
		body any
		want string
	}{
		{"missing quantity", map[string]any{"name": "Widget"}, "quantity"},
		{"negative quantity", map[string]any{"name": "Widget", "quantity": -1}, "quantity"},
		{"quantity above column range", map[string]any{"name": "Widget", "quantity": 3000000000}, "quantity"},
		{"missing name", map[string]any{"quantity": 1}, "name"},
		{"unknown field", map[string]any{"name": "Widget", "quantity": 1, "price": 3}, "invalid request body"},
		{"malformed json", `{"name":`, "invalid request body"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/products", tt.body, auth)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, decodeBody[errorResponse](t, rec).Error, tt.want)
		})
	}
}

func TestAdjustStock_MagnitudeBounds(t *testing.T) {
	env := newTestEnv(t)
	auth := withCookie(env.seedUser(t, "u1", domain.RoleUser))

	rec := env.do(t, http.MethodPost, "/products", map[string]any{"name": "Widget", "quantity": 2147483600}, auth)
	require.Equal(t, http.StatusCreated, rec.Code)
	p := decodeBody[ProductResponse](t, rec)
	path := fmt.Sprintf("/products/%d/movements", p.ID)

	rec = env.do(t, http.MethodPost, path, map[string]any{"direction": "inbound", "magnitude": 3000000000}, auth)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeBody[errorResponse](t, rec).Error, "magnitude")

	rec = env.do(t, http.MethodPost, path, map[string]any{"direction": "inbound", "magnitude": 100}, auth)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeBody[errorResponse](t, rec).Error, "would exceed")

	rec = env.do(t, http.MethodGet, fmt.Sprintf("/products/%d", p.ID), nil, auth)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2147483600, decodeBody[ProductResponse](t, rec).Quantity)
}

func TestAdjustStock_InsufficientStock(t *testing.T) {
	env := newTestEnv(t)
	auth := withCookie(env.seedUser(t, "u1", domain.RoleUser))

	rec := env.do(t, http.MethodPost, "/products", map[string]any{"name": "Widget", "quantity": 2}, auth)
	require.Equal(t, http.StatusCreated, rec.Code)
	p := decodeBody[ProductResponse](t, rec)

	rec = env.do(t, http.MethodPost, fmt.Sprintf("/products/%d/movements", p.ID),
		map[string]any{"direction": "outbound", "magnitude": 3}, auth)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeBody[errorResponse](t, rec).Error, "insufficient stock")
}

func TestInvalidProductID(t *testing.T) {
	env := newTestEnv(t)
	auth := withCookie(env.seedUser(t, "u1", domain.RoleUser))

	rec := env.do(t, http.MethodGet, "/products/abc", nil, auth)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"invalid product id"}`, rec.Body.String())
}

func TestListProducts_Pagination(t *testing.T) {
	env := newTestEnv(t)
	auth := withCookie(env.seedUser(t, "u1", domain.RoleUser))

	for i := range 12 {
		rec := env.do(t, http.MethodPost, "/products", map[string]any{"name": fmt.Sprintf("p%02d", i), "quantity": i}, auth)
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := env.do(t, http.MethodGet, "/products?page=3&limit=5", nil, auth)
	require.Equal(t, http.StatusOK, rec.Code)
	page := decodeBody[PageResponse[ProductResponse]](t, rec)
	assert.Len(t, page.Results, 2)
	assert.Equal(t, PageInfo{Current: 3, TotalItems: 12, TotalPages: 3}, page.Page)

	rec = env.do(t, http.MethodGet, "/products?page=9&limit=5", nil, auth)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"results":[],"page":{"current":9,"total_items":12,"total_pages":3}}`, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/products?page=abc", nil, auth)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/products?limit=0", nil, auth)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListMovements_UnknownProduct(t *testing.T) {
	env := newTestEnv(t)
	auth := withCookie(env.seedUser(t, "u1", domain.RoleUser))

	rec := env.do(t, http.MethodGet, "/products/999/movements", nil, auth)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUserManagement_Permissions(t *testing.T) {
	env := newTestEnv(t)
	userAuth := withCookie(env.seedUser(t, "u1", domain.RoleUser))
	adminAuth := withCookie(env.seedUser(t, "a1", domain.RoleAdmin))
	env.seedUser(t, "u2", "")

	rec := env.do(t, http.MethodDelete, "/users/u2", nil, userAuth)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.JSONEq(t, `{"error":"forbidden"}`, rec.Body.String())

	rec = env.do(t, http.MethodPut, "/users/u2/role", map[string]string{"role": "admin"}, userAuth)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodPut, "/users/u2", map[string]string{"name": "Mallory", "email": "m@example.com"}, userAuth)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodPut, "/users/u1", map[string]string{"name": "Renamed", "email": "U1@Example.com"}, userAuth)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	self := decodeBody[UserResponse](t, rec)
	assert.Equal(t, "Renamed", self.Name)
	assert.Equal(t, "u1@example.com", self.Email)

	rec = env.do(t, http.MethodGet, "/users", nil, userAuth)
	require.Equal(t, http.StatusOK, rec.Code)
	users := decodeBody[PageResponse[UserResponse]](t, rec)
	assert.Equal(t, 3, users.Page.TotalItems)
	for _, u := range users.Results {
		if u.ID == "u2" {
			assert.Equal(t, "user", u.Role, "a missing role reads as the default")
		}
	}

	rec = env.do(t, http.MethodPut, "/users/u2/role", map[string]string{"role": "admin"}, adminAuth)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"id":"u2","role":"admin"}`, rec.Body.String())

	rec = env.do(t, http.MethodDelete, "/users/u2", nil, adminAuth)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodDelete, "/users/u2", nil, adminAuth)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/products", nil, withCookie("tok-u2"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "sessions go with the user")
}

func TestRoleChange_AppliesToNextRequest(t *testing.T) {
	env := newTestEnv(t)
	adminAuth := withCookie(env.seedUser(t, "a1", domain.RoleAdmin))
	userToken := env.seedUser(t, "u1", domain.RoleUser)
	env.seedUser(t, "victim", domain.RoleUser)

	rec := env.do(t, http.MethodDelete, "/users/victim", nil, withCookie(userToken))
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodPut, "/users/u1/role", map[string]string{"role": "admin"}, adminAuth)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodDelete, "/users/victim", nil, withCookie(userToken))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRegisterAndLogin(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/users", map[string]string{
		"name": "Ann", "email": "Ann@Example.com", "password": "secret1",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeBody[UserResponse](t, rec)
	assert.Equal(t, "ann@example.com", created.Email)
	assert.Equal(t, "user", created.Role)

	rec = env.do(t, http.MethodPost, "/users", map[string]string{
		"name": "Ann 2", "email": "ann@example.com", "password": "secret2",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodPost, "/login", map[string]string{"email": "ann@example.com", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodPost, "/login", map[string]string{"email": "ann@example.com", "password": "secret1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	login := decodeBody[LoginResponse](t, rec)
	require.NotEmpty(t, login.Token)

	rec = env.do(t, http.MethodGet, "/api/auth/get-session", nil, withBearer(login.Token))
	require.Equal(t, http.StatusOK, rec.Code)
	session := decodeBody[SessionResponse](t, rec)
	require.NotNil(t, session.Data.User)
	require.NotNil(t, session.Data.Session)
	assert.Equal(t, created.ID, session.Data.User.ID)
	assert.Equal(t, "user", session.Data.User.Role)
	assert.Equal(t, "jwt", session.Data.Session.Source)
	assert.Nil(t, session.Error)

	rec = env.do(t, http.MethodGet, "/products", nil, withBearer(login.Token))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestDeletedUser_LosesAccess(t *testing.T) {
	env := newTestEnv(t, withStaleCache())
	adminAuth := withCookie(env.seedUser(t, "a1", domain.RoleAdmin))
	cookieToken := env.seedUser(t, "u1", domain.RoleUser)

	rec := env.do(t, http.MethodPost, "/users", map[string]string{
		"name": "Ann", "email": "ann@example.com", "password": "secret1",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	ann := decodeBody[UserResponse](t, rec)

	rec = env.do(t, http.MethodPost, "/login", map[string]string{"email": "ann@example.com", "password": "secret1"})
	require.Equal(t, http.StatusOK, rec.Code)
	bearer := decodeBody[LoginResponse](t, rec).Token

	// warm the cache for both credentials
	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/products", nil, withBearer(bearer)).Code)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/products", nil, withCookie(cookieToken)).Code)

	require.Equal(t, http.StatusNoContent, env.do(t, http.MethodDelete, "/users/"+ann.ID, nil, adminAuth).Code)
	require.Equal(t, http.StatusNoContent, env.do(t, http.MethodDelete, "/users/u1", nil, adminAuth).Code)

	rec = env.do(t, http.MethodGet, "/products", nil, withBearer(bearer))
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "token issued before the delete")

	rec = env.do(t, http.MethodGet, "/products", nil, withCookie(cookieToken))
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "cached cookie session")

	rec = env.do(t, http.MethodGet, "/api/auth/session", nil, withBearer(bearer))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, decodeBody[SessionResponse](t, rec).Data.User)
}

func TestGetSession_Anonymous(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/auth/session", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"data":{"session":null,"user":null},"error":null}`, rec.Body.String())
}

func TestGetSession_ProviderFailure(t *testing.T) {
	env := newTestEnv(t, withProvider(failingProvider{}))

	rec := env.do(t, http.MethodGet, "/api/auth/session", nil, withCookie("any"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestSignOut(t *testing.T) {
	env := newTestEnv(t)
	token := env.seedUser(t, "u1", domain.RoleUser)

	rec := env.do(t, http.MethodPost, "/api/auth/sign-out", nil, withCookie(token))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"signedOut":true}`, rec.Body.String())

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, testCookie, cookies[0].Name)
	assert.Empty(t, cookies[0].Value)
	assert.Less(t, cookies[0].MaxAge, 0)
	assert.True(t, cookies[0].HttpOnly)
	assert.True(t, cookies[0].Secure)
	assert.Equal(t, http.SameSiteNoneMode, cookies[0].SameSite)

	rec = env.do(t, http.MethodGet, "/products", nil, withCookie(token))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestIdempotency(t *testing.T) {
	keys := newMemoryIdempotency()
	env := newTestEnv(t, withIdempotency(keys))
	auth := withCookie(env.seedUser(t, "u1", domain.RoleUser))
	body := map[string]any{"name": "Widget", "quantity": 1}

	rec := env.do(t, http.MethodPost, "/products", body, auth, withHeader("Idempotency-Key", "k1"))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(t, http.MethodPost, "/products", body, auth, withHeader("Idempotency-Key", "k1"))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.JSONEq(t, `{"error":"duplicate request"}`, rec.Body.String())

	// a failed request frees its key
	rec = env.do(t, http.MethodPost, "/products", map[string]any{"name": "Widget"}, auth, withHeader("Idempotency-Key", "k2"))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	rec = env.do(t, http.MethodPost, "/products", body, auth, withHeader("Idempotency-Key", "k2"))
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(t, http.MethodGet, "/products", nil, auth)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, decodeBody[PageResponse[ProductResponse]](t, rec).Page.TotalItems)
}

func TestIdempotency_StoreFailure(t *testing.T) {
	keys := newMemoryIdempotency()
	keys.err = errUnavailable
	env := newTestEnv(t, withIdempotency(keys))
	auth := withCookie(env.seedUser(t, "u1", domain.RoleUser))

	rec := env.do(t, http.MethodPost, "/products", map[string]any{"name": "Widget", "quantity": 1}, auth,
		withHeader("Idempotency-Key", "k1"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var logged bool
	for _, e := range env.hook.AllEntries() {
		if e.Message == "idempotency store unavailable" && e.Level == logrus.ErrorLevel {
			logged = true
		}
	}
	assert.True(t, logged)
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, withRateLimiter(NewRateLimiter(1, 2, logrus.New())))

	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/health", nil).Code)
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/health", nil).Code)

	rec := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodGet, "/health", nil)

	rec := env.do(t, http.MethodGet, "/metrics", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "stock_ledger_http_requests_total")
}
