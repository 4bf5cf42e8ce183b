package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/stock-ledger/internal/adapter/authz"
	"github.com/rl1809/stock-ledger/internal/adapter/identity"
	"github.com/rl1809/stock-ledger/internal/adapter/storage"
	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/core/service"
	"github.com/rl1809/stock-ledger/internal/port"
)

const testCookie = "test.session_token"

var errUnavailable = errors.New("backend unavailable")

type testEnv struct {
	store    *storage.MemoryAdapter
	stock    *service.StockService
	cascade  *service.CascadeService
	listing  *service.ListingService
	resolver *service.SessionResolver
	authz    *authz.Enforcer
	router   http.Handler
	log      *logrus.Logger
	hook     *logtest.Hook
}

type envOption func(*envConfig)

type envConfig struct {
	provider    port.IdentityProvider
	idempotency port.IdempotencyStore
	limiter     *RateLimiter
}

func withProvider(p port.IdentityProvider) envOption {
	return func(c *envConfig) { c.provider = p }
}

// withStaleCache puts a cache that is never invalidated in front of the
// configured provider.
func withStaleCache() envOption {
	return func(c *envConfig) { c.provider = &staleCache{next: c.provider, claims: make(map[string]*domain.SessionClaims)} }
}

type staleCache struct {
	mu     sync.Mutex
	next   port.IdentityProvider
	claims map[string]*domain.SessionClaims
}

func (c *staleCache) ValidateCredential(ctx context.Context, cred domain.Credential) (*domain.SessionClaims, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cached, ok := c.claims[cred.Value]; ok {
		return cached, nil
	}
	claims, err := c.next.ValidateCredential(ctx, cred)
	if err == nil && claims != nil {
		c.claims[cred.Value] = claims
	}
	return claims, err
}

func withIdempotency(s port.IdempotencyStore) envOption {
	return func(c *envConfig) { c.idempotency = s }
}

func withRateLimiter(rl *RateLimiter) envOption {
	return func(c *envConfig) { c.limiter = rl }
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	log, hook := logtest.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)

	store := storage.NewMemoryAdapter()
	jwtProvider, err := identity.NewJWTProvider("test-secret", time.Hour)
	require.NoError(t, err)

	cfg := envConfig{provider: identity.Chain{jwtProvider, store}}
	for _, opt := range opts {
		opt(&cfg)
	}

	enforcer, err := authz.NewEnforcer()
	require.NoError(t, err)

	env := &testEnv{
		store:    store,
		stock:    service.NewStockService(store, log, time.Second),
		cascade:  service.NewCascadeService(store, log, time.Second),
		listing:  service.NewListingService(store, time.Second),
		resolver: service.NewSessionResolver(cfg.provider, store, log, 200*time.Millisecond),
		authz:    enforcer,
		log:      log,
		hook:     hook,
	}

	users := service.NewUserService(store, store, identity.NewPBKDF2Hasher(), jwtProvider, log, time.Second)
	h := NewHTTPHandler(HandlerDeps{
		Stock:      env.stock,
		Cascade:    env.cascade,
		Listing:    env.listing,
		Users:      users,
		Resolver:   env.resolver,
		Authz:      enforcer,
		Revoker:    identity.Chain{jwtProvider, store},
		CookieName: testCookie,
		Log:        log,
	})
	env.router = NewRouter(RouterOptions{
		Handler:        h,
		Idempotency:    cfg.idempotency,
		RateLimiter:    cfg.limiter,
		AllowedOrigins: []string{"http://localhost:3000"},
		Log:            log,
	})
	return env
}

// seedUser stores a user with the given role and returns a live session token.
func (e *testEnv) seedUser(t *testing.T, id string, role domain.Role) string {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()

	err := e.store.WithinTx(ctx, port.TxOptions{}, func(tx port.Tx) error {
		return tx.InsertUser(ctx, domain.User{
			ID:        id,
			Name:      "User " + id,
			Email:     id + "@example.com",
			Role:      role,
			CreatedAt: now,
			UpdatedAt: now,
		})
	})
	require.NoError(t, err)

	token := "tok-" + id
	require.NoError(t, e.store.CreateSession(ctx, domain.Session{
		ID:        "sess-" + id,
		UserID:    id,
		Token:     token,
		ExpiresAt: now.Add(time.Hour),
		CreatedAt: now,
	}))
	return token
}

type requestOption func(*http.Request)

func withCookie(token string) requestOption {
	return func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: testCookie, Value: token})
	}
}

func withBearer(token string) requestOption {
	return func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+token)
	}
}

func withHeader(name, value string) requestOption {
	return func(r *http.Request) {
		r.Header.Set(name, value)
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, opts ...requestOption) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}

	req := httptest.NewRequest(method, path, &buf)
	if buf.Len() > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, opt := range opts {
		opt(req)
	}

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

type failingProvider struct{}

func (failingProvider) ValidateCredential(ctx context.Context, cred domain.Credential) (*domain.SessionClaims, error) {
	return nil, errUnavailable
}

// memoryIdempotency is an in-process IdempotencyStore.
type memoryIdempotency struct {
	mu   sync.Mutex
	keys map[string]string
	err  error
}

func newMemoryIdempotency() *memoryIdempotency {
	return &memoryIdempotency{keys: make(map[string]string)}
}

func (m *memoryIdempotency) SetIdempotency(ctx context.Context, key, owner string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	if _, ok := m.keys[key]; ok {
		return false, nil
	}
	m.keys[key] = owner
	return true, nil
}

func (m *memoryIdempotency) ReleaseIdempotency(ctx context.Context, key, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keys[key] == owner {
		delete(m.keys, key)
	}
	return nil
}
