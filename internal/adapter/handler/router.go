package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"

	"github.com/rl1809/stock-ledger/internal/adapter/authz"
	"github.com/rl1809/stock-ledger/internal/metrics"
	"github.com/rl1809/stock-ledger/internal/port"
)

// RouterOptions controls the construction of the HTTP router. Idempotency and
// RateLimiter are optional.
type RouterOptions struct {
	Handler        *HTTPHandler
	Idempotency    port.IdempotencyStore
	RateLimiter    *RateLimiter
	AllowedOrigins []string
	Log            logrus.FieldLogger
}

func corsOptions(origins []string) cors.Options {
	return cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "Idempotency-Key", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}
}

func NewRouter(opts RouterOptions) chi.Router {
	h := opts.Handler
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(opts.Log))
	r.Use(middleware.Recoverer)
	r.Use(metrics.InstrumentHandler)
	r.Use(cors.Handler(corsOptions(opts.AllowedOrigins)))
	if opts.RateLimiter != nil {
		r.Use(opts.RateLimiter.Handler)
	}

	r.Get("/health", h.HealthCheck)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Post("/login", h.Login)
	r.Get("/api/auth/session", h.GetSession)
	r.Get("/api/auth/get-session", h.GetSession)
	r.Post("/api/auth/sign-out", h.SignOut)

	once := idempotent(opts.Idempotency, opts.Log)
	can := h.requirePermission

	r.Route("/products", func(r chi.Router) {
		r.Use(h.authenticate)
		r.With(can(authz.ResourceProducts, authz.ActionRead)).Get("/", h.ListProducts)
		r.With(can(authz.ResourceProducts, authz.ActionWrite), once).Post("/", h.CreateProduct)

		r.Route("/{id}", func(r chi.Router) {
			r.With(can(authz.ResourceProducts, authz.ActionRead)).Get("/", h.GetProduct)
			r.With(can(authz.ResourceProducts, authz.ActionWrite), once).Put("/", h.UpdateProduct)
			r.With(can(authz.ResourceProducts, authz.ActionDelete)).Delete("/", h.DeleteProduct)
			r.With(can(authz.ResourceProducts, authz.ActionRead)).Get("/audit", h.AuditProduct)
			r.With(can(authz.ResourceMovements, authz.ActionRead)).Get("/movements", h.ListProductMovements)
			r.With(can(authz.ResourceMovements, authz.ActionWrite), once).Post("/movements", h.AdjustStock)
		})
	})

	r.With(h.authenticate, can(authz.ResourceMovements, authz.ActionRead)).Get("/movements", h.ListMovements)

	r.Route("/users", func(r chi.Router) {
		// sign-up is public
		r.With(once).Post("/", h.Register)

		r.Group(func(r chi.Router) {
			r.Use(h.authenticate)
			r.With(can(authz.ResourceUsers, authz.ActionRead)).Get("/", h.ListUsers)
			r.Put("/{id}", h.UpdateUser)
			r.With(can(authz.ResourceUsers, authz.ActionWrite)).Put("/{id}/role", h.SetUserRole)
			r.With(can(authz.ResourceUsers, authz.ActionDelete)).Delete("/{id}", h.DeleteUser)
		})
	})

	return r
}
