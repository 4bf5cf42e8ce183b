package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/port"
)

type contextKey string

const identityKey contextKey = "identity"

func withIdentity(ctx context.Context, id domain.Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFrom returns the identity resolved for the request, if any.
func IdentityFrom(ctx context.Context) (domain.Identity, bool) {
	id, ok := ctx.Value(identityKey).(domain.Identity)
	return id, ok
}

// credentialFromRequest prefers an Authorization bearer token over the
// session cookie.
func credentialFromRequest(r *http.Request, cookieName string) domain.Credential {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if token, ok := strings.CutPrefix(auth, "Bearer "); ok && strings.TrimSpace(token) != "" {
			return domain.Credential{Kind: domain.CredentialBearer, Value: strings.TrimSpace(token)}
		}
	}
	if c, err := r.Cookie(cookieName); err == nil && c.Value != "" {
		return domain.Credential{Kind: domain.CredentialCookie, Value: c.Value}
	}
	return domain.Credential{}
}

// requestLogger logs one line per request with the chi request id.
func requestLogger(log logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			entry := log.WithFields(logrus.Fields{
				"request_id": middleware.GetReqID(r.Context()),
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     status,
				"bytes":      ww.BytesWritten(),
				"latency":    time.Since(start).String(),
			})
			if status >= http.StatusInternalServerError {
				entry.Warn("request failed")
				return
			}
			entry.Debug("request handled")
		})
	}
}

// authenticate resolves the caller and rejects anonymous requests. A provider
// failure is a 500, never a pass-through.
func (h *HTTPHandler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := h.resolver.Resolve(r.Context(), credentialFromRequest(r, h.cookieName))
		if err != nil {
			writeError(w, err)
			return
		}
		if id == nil {
			writeError(w, domain.ErrUnauthenticated)
			return
		}
		next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), *id)))
	})
}

// requirePermission checks the resolved identity against the authorizer.
func (h *HTTPHandler) requirePermission(resource, action string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := IdentityFrom(r.Context())
			if !ok {
				writeError(w, domain.ErrUnauthenticated)
				return
			}
			if err := h.authorize(id, resource, action); err != nil {
				writeError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (h *HTTPHandler) authorize(id domain.Identity, resource, action string) error {
	allowed, err := h.authz.Authorize(id, resource, action)
	if err != nil {
		h.log.WithError(err).Error("authorization check failed")
		return domain.ErrInternal
	}
	if !allowed {
		return domain.ErrForbidden
	}
	return nil
}

// idempotent rejects a repeated Idempotency-Key from the same caller while the
// first request holds it. The key is released when the request fails so the
// client can retry.
func idempotent(store port.IdempotencyStore, log logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
			if store == nil || header == "" {
				next.ServeHTTP(w, r)
				return
			}

			caller := "anonymous"
			if id, ok := IdentityFrom(r.Context()); ok {
				caller = id.ID
			}
			key := caller + ":" + r.Method + ":" + r.URL.Path + ":" + header
			owner := middleware.GetReqID(r.Context())
			if owner == "" {
				owner = header
			}

			claimed, err := store.SetIdempotency(r.Context(), key, owner)
			if err != nil {
				log.WithError(err).Error("idempotency store unavailable")
				writeError(w, domain.ErrInternal)
				return
			}
			if !claimed {
				writeJSON(w, http.StatusConflict, errorResponse{Error: "duplicate request"})
				return
			}

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			if ww.Status() >= http.StatusBadRequest {
				if err := store.ReleaseIdempotency(context.WithoutCancel(r.Context()), key, owner); err != nil {
					log.WithError(err).Warn("release idempotency key")
				}
			}
		})
	}
}
