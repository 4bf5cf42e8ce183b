package handler

import (
	"time"

	"github.com/rl1809/stock-ledger/internal/core/domain"
)

type ProductRequest struct {
	Name        string `json:"name" validate:"required,max=255"`
	Description string `json:"description" validate:"max=65535"`
	Quantity    *int   `json:"quantity" validate:"required,gte=0,lte=2147483647"`
}

type MovementRequest struct {
	Direction string `json:"direction" validate:"required,oneof=inbound outbound"`
	Magnitude int    `json:"magnitude" validate:"required,gt=0,lte=2147483647"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type RegisterRequest struct {
	Name     string `json:"name" validate:"required,max=255"`
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"required,min=6"`
}

type UserUpdateRequest struct {
	Name  string `json:"name" validate:"required,max=255"`
	Email string `json:"email" validate:"required,email,max=255"`
}

type RoleRequest struct {
	Role string `json:"role" validate:"required,oneof=user admin"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type ProductResponse struct {
	ID              int64     `json:"id"`
	Name            string    `json:"name"`
	Description     string    `json:"description"`
	Quantity        int       `json:"quantity"`
	InitialQuantity int       `json:"initial_quantity"`
	Version         int       `json:"version"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func toProductResponse(p domain.Product) ProductResponse {
	return ProductResponse{
		ID:              p.ID,
		Name:            p.Name,
		Description:     p.Description,
		Quantity:        p.Quantity,
		InitialQuantity: p.InitialQuantity,
		Version:         p.Version,
		CreatedAt:       p.CreatedAt,
		UpdatedAt:       p.UpdatedAt,
	}
}

type MovementResponse struct {
	ID          int64     `json:"id"`
	ProductID   int64     `json:"product_id"`
	ProductName string    `json:"product_name,omitempty"`
	Direction   string    `json:"direction"`
	Magnitude   int       `json:"magnitude"`
	ActorID     string    `json:"actor_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

func toMovementResponse(m domain.Movement) MovementResponse {
	return MovementResponse{
		ID:          m.ID,
		ProductID:   m.ProductID,
		ProductName: m.ProductName,
		Direction:   string(m.Direction),
		Magnitude:   m.Magnitude,
		ActorID:     m.ActorID,
		CreatedAt:   m.CreatedAt,
	}
}

type UserResponse struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Email         string    `json:"email"`
	EmailVerified bool      `json:"email_verified"`
	Role          string    `json:"role"`
	CreatedAt     time.Time `json:"created_at,omitzero"`
}

func toUserResponse(u domain.User) UserResponse {
	role := u.Role
	if !role.Valid() {
		role = domain.RoleUser
	}
	return UserResponse{
		ID:            u.ID,
		Name:          u.Name,
		Email:         u.Email,
		EmailVerified: u.EmailVerified,
		Role:          string(role),
		CreatedAt:     u.CreatedAt,
	}
}

type AuditResponse struct {
	ProductID       int64 `json:"product_id"`
	InitialQuantity int   `json:"initial_quantity"`
	LedgerBalance   int   `json:"ledger_balance"`
	Quantity        int   `json:"quantity"`
	Expected        int   `json:"expected"`
	Drift           int   `json:"drift"`
	Balanced        bool  `json:"balanced"`
}

func toAuditResponse(r domain.AuditReport) AuditResponse {
	return AuditResponse{
		ProductID:       r.ProductID,
		InitialQuantity: r.InitialQuantity,
		LedgerBalance:   r.LedgerBalance,
		Quantity:        r.Quantity,
		Expected:        r.Expected(),
		Drift:           r.Drift(),
		Balanced:        r.Balanced(),
	}
}

type PageInfo struct {
	Current    int `json:"current"`
	TotalItems int `json:"total_items"`
	TotalPages int `json:"total_pages"`
}

type PageResponse[T any] struct {
	Results []T      `json:"results"`
	Page    PageInfo `json:"page"`
}

func toPageResponse[S, T any](p domain.Page[S], conv func(S) T) PageResponse[T] {
	results := make([]T, 0, len(p.Items))
	for _, item := range p.Items {
		results = append(results, conv(item))
	}
	return PageResponse[T]{
		Results: results,
		Page: PageInfo{
			Current:    p.CurrentPage,
			TotalItems: p.TotalItems,
			TotalPages: p.TotalPages,
		},
	}
}

type SessionInfo struct {
	ID        string    `json:"id"`
	ExpiresAt time.Time `json:"expires_at"`
	Source    string    `json:"source"`
}

type SessionData struct {
	Session *SessionInfo  `json:"session"`
	User    *UserResponse `json:"user"`
}

type SessionResponse struct {
	Data  SessionData `json:"data"`
	Error *string     `json:"error"`
}

func toSessionResponse(id *domain.Identity) SessionResponse {
	if id == nil {
		return SessionResponse{}
	}
	return SessionResponse{Data: SessionData{
		Session: &SessionInfo{ID: id.Session.ID, ExpiresAt: id.Session.ExpiresAt, Source: id.Session.Source},
		User: &UserResponse{
			ID:            id.ID,
			Name:          id.Name,
			Email:         id.Email,
			EmailVerified: true,
			Role:          string(id.Role),
		},
	}}
}

type LoginResponse struct {
	Message   string       `json:"message"`
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      UserResponse `json:"user"`
}

type MovementCreatedResponse struct {
	Product  ProductResponse  `json:"product"`
	Movement MovementResponse `json:"movement"`
}
