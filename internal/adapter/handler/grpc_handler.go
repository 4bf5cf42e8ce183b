package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/rl1809/stock-ledger/internal/adapter/authz"
	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/core/service"
	"github.com/rl1809/stock-ledger/internal/port"
)

const inventoryServiceName = "stockledger.v1.InventoryService"

type UpdateProductRequest struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Quantity    int    `json:"quantity"`
}

type AdjustStockRequest struct {
	ProductID int64  `json:"product_id"`
	Direction string `json:"direction"`
	Magnitude int    `json:"magnitude"`
}

type DeleteProductRequest struct {
	ID int64 `json:"id"`
}

type DeleteProductResponse struct {
	Deleted bool `json:"deleted"`
}

type ListMovementsRequest struct {
	// ProductID 0 lists the whole ledger
	ProductID int64 `json:"product_id"`
	Page      int   `json:"page"`
	Limit     int   `json:"limit"`
}

type WhoAmIRequest struct{}

type WhoAmIResponse struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Email         string `json:"email"`
	Role          string `json:"role"`
	SessionSource string `json:"session_source"`
}

// InventoryServer is the gRPC surface of the inventory engines.
type InventoryServer interface {
	UpdateProduct(context.Context, *UpdateProductRequest) (*ProductResponse, error)
	AdjustStock(context.Context, *AdjustStockRequest) (*MovementCreatedResponse, error)
	DeleteProduct(context.Context, *DeleteProductRequest) (*DeleteProductResponse, error)
	ListMovements(context.Context, *ListMovementsRequest) (*PageResponse[MovementResponse], error)
	WhoAmI(context.Context, *WhoAmIRequest) (*WhoAmIResponse, error)
}

type GRPCHandler struct {
	stock   *service.StockService
	cascade *service.CascadeService
	listing *service.ListingService
}

func NewGRPCHandler(stock *service.StockService, cascade *service.CascadeService, listing *service.ListingService) *GRPCHandler {
	return &GRPCHandler{stock: stock, cascade: cascade, listing: listing}
}

func (h *GRPCHandler) UpdateProduct(ctx context.Context, req *UpdateProductRequest) (*ProductResponse, error) {
	caller, _ := IdentityFrom(ctx)
	p, err := h.stock.UpdateProduct(ctx, req.ID, domain.ProductUpdate{
		Name:        req.Name,
		Description: req.Description,
		Quantity:    req.Quantity,
	}, caller.ID)
	if err != nil {
		return nil, grpcError(err)
	}
	resp := toProductResponse(p)
	return &resp, nil
}

func (h *GRPCHandler) AdjustStock(ctx context.Context, req *AdjustStockRequest) (*MovementCreatedResponse, error) {
	caller, _ := IdentityFrom(ctx)
	p, m, err := h.stock.AdjustStock(ctx, req.ProductID, domain.Direction(req.Direction), req.Magnitude, caller.ID)
	if err != nil {
		return nil, grpcError(err)
	}
	return &MovementCreatedResponse{Product: toProductResponse(p), Movement: toMovementResponse(m)}, nil
}

func (h *GRPCHandler) DeleteProduct(ctx context.Context, req *DeleteProductRequest) (*DeleteProductResponse, error) {
	if err := h.cascade.DeleteProduct(ctx, req.ID); err != nil {
		return nil, grpcError(err)
	}
	return &DeleteProductResponse{Deleted: true}, nil
}

func (h *GRPCHandler) ListMovements(ctx context.Context, req *ListMovementsRequest) (*PageResponse[MovementResponse], error) {
	pr := domain.PageRequest{Page: req.Page, Limit: req.Limit}
	if pr.Page == 0 {
		pr.Page = 1
	}
	if pr.Limit == 0 {
		pr.Limit = domain.DefaultPageLimit
	}
	page, err := h.listing.Movements(ctx, domain.MovementFilter{ProductID: req.ProductID}, pr)
	if err != nil {
		return nil, grpcError(err)
	}
	resp := toPageResponse(page, toMovementResponse)
	return &resp, nil
}

func (h *GRPCHandler) WhoAmI(ctx context.Context, _ *WhoAmIRequest) (*WhoAmIResponse, error) {
	id, ok := IdentityFrom(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "not authenticated")
	}
	return &WhoAmIResponse{
		ID:            id.ID,
		Name:          id.Name,
		Email:         id.Email,
		Role:          string(id.Role),
		SessionSource: id.Session.Source,
	}, nil
}

func grpcError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, domain.ErrConflict):
		return status.Error(codes.Aborted, "conflict: the resource changed or already exists")
	case errors.Is(err, domain.ErrUnauthenticated):
		return status.Error(codes.Unauthenticated, "not authenticated")
	case errors.Is(err, domain.ErrForbidden):
		return status.Error(codes.PermissionDenied, "forbidden")
	default:
		return status.Error(codes.Internal, "internal error")
	}
}

type permission struct {
	resource string
	action   string
}

var methodPermissions = map[string]permission{
	"/" + inventoryServiceName + "/UpdateProduct": {authz.ResourceProducts, authz.ActionWrite},
	"/" + inventoryServiceName + "/AdjustStock":   {authz.ResourceMovements, authz.ActionWrite},
	"/" + inventoryServiceName + "/DeleteProduct": {authz.ResourceProducts, authz.ActionDelete},
	"/" + inventoryServiceName + "/ListMovements": {authz.ResourceMovements, authz.ActionRead},
}

// credentialFromMetadata reads the same credentials the HTTP surface accepts
// from the authorization and cookie metadata keys.
func credentialFromMetadata(ctx context.Context, cookieName string) domain.Credential {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return domain.Credential{}
	}
	r := &http.Request{Header: http.Header{}}
	for _, v := range md.Get("authorization") {
		r.Header.Add("Authorization", v)
	}
	for _, v := range md.Get("cookie") {
		r.Header.Add("Cookie", v)
	}
	return credentialFromRequest(r, cookieName)
}

// AuthInterceptor resolves the caller on every unary call and enforces the
// per-method permission. Resolution failures are Internal, never anonymous.
func AuthInterceptor(resolver *service.SessionResolver, authorizer port.Authorizer, cookieName string, log logrus.FieldLogger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		id, err := resolver.Resolve(ctx, credentialFromMetadata(ctx, cookieName))
		if err != nil {
			return nil, grpcError(err)
		}
		if id == nil {
			return nil, status.Error(codes.Unauthenticated, "not authenticated")
		}

		if perm, ok := methodPermissions[info.FullMethod]; ok {
			allowed, err := authorizer.Authorize(*id, perm.resource, perm.action)
			if err != nil {
				log.WithError(err).WithField("method", info.FullMethod).Error("authorization check failed")
				return nil, status.Error(codes.Internal, "internal error")
			}
			if !allowed {
				return nil, status.Error(codes.PermissionDenied, "forbidden")
			}
		}

		return handler(withIdentity(ctx, *id), req)
	}
}

// RegisterInventoryServer attaches srv to s under the hand-written descriptor.
func RegisterInventoryServer(s grpc.ServiceRegistrar, srv InventoryServer) {
	s.RegisterService(&inventoryServiceDesc, srv)
}

func unaryHandler[Req, Resp any](method string, call func(InventoryServer, context.Context, *Req) (Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, status.Error(codes.InvalidArgument, "invalid request body")
			}
			if interceptor == nil {
				return call(srv.(InventoryServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: "/" + inventoryServiceName + "/" + method,
			}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(InventoryServer), ctx, req.(*Req))
			})
		},
	}
}

var inventoryServiceDesc = grpc.ServiceDesc{
	ServiceName: inventoryServiceName,
	HandlerType: (*InventoryServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryHandler("UpdateProduct", InventoryServer.UpdateProduct),
		unaryHandler("AdjustStock", InventoryServer.AdjustStock),
		unaryHandler("DeleteProduct", InventoryServer.DeleteProduct),
		unaryHandler("ListMovements", InventoryServer.ListMovements),
		unaryHandler("WhoAmI", InventoryServer.WhoAmI),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "stockledger/v1/inventory",
}

// InventoryClient calls InventoryService over a connection that uses JSONCodec.
type InventoryClient struct {
	cc grpc.ClientConnInterface
}

func NewInventoryClient(cc grpc.ClientConnInterface) *InventoryClient {
	return &InventoryClient{cc: cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, req any, opts ...grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	if err := cc.Invoke(ctx, "/"+inventoryServiceName+"/"+method, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *InventoryClient) UpdateProduct(ctx context.Context, req *UpdateProductRequest, opts ...grpc.CallOption) (*ProductResponse, error) {
	return invoke[ProductResponse](ctx, c.cc, "UpdateProduct", req, opts...)
}

func (c *InventoryClient) AdjustStock(ctx context.Context, req *AdjustStockRequest, opts ...grpc.CallOption) (*MovementCreatedResponse, error) {
	return invoke[MovementCreatedResponse](ctx, c.cc, "AdjustStock", req, opts...)
}

func (c *InventoryClient) DeleteProduct(ctx context.Context, req *DeleteProductRequest, opts ...grpc.CallOption) (*DeleteProductResponse, error) {
	return invoke[DeleteProductResponse](ctx, c.cc, "DeleteProduct", req, opts...)
}

func (c *InventoryClient) ListMovements(ctx context.Context, req *ListMovementsRequest, opts ...grpc.CallOption) (*PageResponse[MovementResponse], error) {
	return invoke[PageResponse[MovementResponse]](ctx, c.cc, "ListMovements", req, opts...)
}

func (c *InventoryClient) WhoAmI(ctx context.Context, opts ...grpc.CallOption) (*WhoAmIResponse, error) {
	return invoke[WhoAmIResponse](ctx, c.cc, "WhoAmI", &WhoAmIRequest{}, opts...)
}
