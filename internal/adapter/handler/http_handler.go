package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/rl1809/stock-ledger/internal/adapter/authz"
	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/core/service"
	"github.com/rl1809/stock-ledger/internal/port"
)

const maxBodyBytes = 1 << 20

var validate = validator.New(validator.WithRequiredStructEnabled())

type HTTPHandler struct {
	stock      *service.StockService
	cascade    *service.CascadeService
	listing    *service.ListingService
	users      *service.UserService
	resolver   *service.SessionResolver
	authz      port.Authorizer
	revoker    port.SessionRevoker
	cookieName string
	log        logrus.FieldLogger
}

type HandlerDeps struct {
	Stock    *service.StockService
	Cascade  *service.CascadeService
	Listing  *service.ListingService
	Users    *service.UserService
	Resolver *service.SessionResolver
	Authz    port.Authorizer
	// Revoker is optional; sign-out always clears the cookie
	Revoker    port.SessionRevoker
	CookieName string
	Log        logrus.FieldLogger
}

func NewHTTPHandler(deps HandlerDeps) *HTTPHandler {
	return &HTTPHandler{
		stock:      deps.Stock,
		cascade:    deps.Cascade,
		listing:    deps.Listing,
		users:      deps.Users,
		resolver:   deps.Resolver,
		authz:      deps.Authz,
		revoker:    deps.Revoker,
		cookieName: deps.CookieName,
		log:        deps.Log,
	}
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Products

func (h *HTTPHandler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req ProductRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	p, err := h.stock.CreateProduct(r.Context(), domain.NewProduct{
		Name:        req.Name,
		Description: req.Description,
		Quantity:    *req.Quantity,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toProductResponse(p))
}

func (h *HTTPHandler) GetProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := productID(w, r)
	if !ok {
		return
	}
	p, err := h.stock.GetProduct(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductResponse(p))
}

func (h *HTTPHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	req, ok := pageRequest(w, r)
	if !ok {
		return
	}
	page, err := h.listing.Products(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPageResponse(page, toProductResponse))
}

func (h *HTTPHandler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := productID(w, r)
	if !ok {
		return
	}
	var req ProductRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	caller, _ := IdentityFrom(r.Context())
	p, err := h.stock.UpdateProduct(r.Context(), id, domain.ProductUpdate{
		Name:        req.Name,
		Description: req.Description,
		Quantity:    *req.Quantity,
	}, caller.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductResponse(p))
}

func (h *HTTPHandler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := productID(w, r)
	if !ok {
		return
	}
	if err := h.cascade.DeleteProduct(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTPHandler) AdjustStock(w http.ResponseWriter, r *http.Request) {
	id, ok := productID(w, r)
	if !ok {
		return
	}
	var req MovementRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	caller, _ := IdentityFrom(r.Context())
	p, m, err := h.stock.AdjustStock(r.Context(), id, domain.Direction(req.Direction), req.Magnitude, caller.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, MovementCreatedResponse{
		Product:  toProductResponse(p),
		Movement: toMovementResponse(m),
	})
}

func (h *HTTPHandler) AuditProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := productID(w, r)
	if !ok {
		return
	}
	report, err := h.stock.Audit(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAuditResponse(report))
}

// Movements

func (h *HTTPHandler) ListMovements(w http.ResponseWriter, r *http.Request) {
	req, ok := pageRequest(w, r)
	if !ok {
		return
	}
	page, err := h.listing.Movements(r.Context(), domain.MovementFilter{}, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPageResponse(page, toMovementResponse))
}

func (h *HTTPHandler) ListProductMovements(w http.ResponseWriter, r *http.Request) {
	id, ok := productID(w, r)
	if !ok {
		return
	}
	req, ok := pageRequest(w, r)
	if !ok {
		return
	}
	page, err := h.listing.ProductMovements(r.Context(), id, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPageResponse(page, toMovementResponse))
}

// Users and sessions

func (h *HTTPHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	res, err := h.users.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, LoginResponse{
		Message:   "login successful",
		Token:     res.Token,
		ExpiresAt: res.ExpiresAt,
		User:      toUserResponse(res.User),
	})
}

func (h *HTTPHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	u, err := h.users.Register(r.Context(), domain.Registration{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
	}, "")
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserResponse(u))
}

func (h *HTTPHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	req, ok := pageRequest(w, r)
	if !ok {
		return
	}
	page, err := h.listing.Users(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPageResponse(page, toUserResponse))
}

// UpdateUser lets callers edit their own profile; editing anyone else
// requires write access to users.
func (h *HTTPHandler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	caller, _ := IdentityFrom(r.Context())
	if caller.ID != id {
		if err := h.authorize(caller, authz.ResourceUsers, authz.ActionWrite); err != nil {
			writeError(w, err)
			return
		}
	}

	var req UserUpdateRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	u, err := h.users.UpdateUser(r.Context(), id, domain.UserUpdate{Name: req.Name, Email: req.Email})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(u))
}

func (h *HTTPHandler) SetUserRole(w http.ResponseWriter, r *http.Request) {
	var req RoleRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	id := chi.URLParam(r, "id")
	if err := h.users.SetRole(r.Context(), id, domain.Role(req.Role)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "role": req.Role})
}

func (h *HTTPHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	if err := h.cascade.DeleteUser(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetSession reports the caller's session, or nulls when there is none.
func (h *HTTPHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	id, err := h.resolver.Resolve(r.Context(), credentialFromRequest(r, h.cookieName))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(id))
}

func (h *HTTPHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	cred := credentialFromRequest(r, h.cookieName)
	if h.revoker != nil && !cred.Empty() {
		if err := h.revoker.Revoke(r.Context(), cred); err != nil {
			h.log.WithError(err).Warn("revoke session")
		}
	}
	http.SetCookie(w, &http.Cookie{
		Name:     h.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteNoneMode,
	})
	writeJSON(w, http.StatusOK, map[string]bool{"signedOut": true})
}

// Helpers

func productID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid product id"})
		return 0, false
	}
	return id, true
}

func pageRequest(w http.ResponseWriter, r *http.Request) (domain.PageRequest, bool) {
	req := domain.PageRequest{Page: 1, Limit: domain.DefaultPageLimit}
	for name, dst := range map[string]*int{"page": &req.Page, "limit": &req.Limit} {
		raw := r.URL.Query().Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: name + " must be an integer"})
			return domain.PageRequest{}, false
		}
		*dst = n
	}
	return req, true
}

func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return false
	}
	if err := validate.Struct(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: validationMessage(err)})
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "invalid request body"
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.ToLower(fe.Field())
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s: %s=%s", field, fe.Tag(), fe.Param()))
		} else {
			parts = append(parts, fmt.Sprintf("%s: %s", field, fe.Tag()))
		}
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

// statusFor maps the domain error taxonomy onto HTTP. Only validation and
// not-found errors expose their message.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict, "conflict: the resource changed or already exists"
	case errors.Is(err, domain.ErrUnauthenticated):
		return http.StatusUnauthorized, "not authenticated"
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func writeError(w http.ResponseWriter, err error) {
	status, message := statusFor(err)
	writeJSON(w, status, errorResponse{Error: message})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
