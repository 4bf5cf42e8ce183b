package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/port"
)

// ListingService serves paginated reads. The total and the page come from the
// same read-only transaction.
type ListingService struct {
	store   port.Store
	timeout time.Duration
}

func NewListingService(store port.Store, timeout time.Duration) *ListingService {
	if timeout <= 0 {
		timeout = DefaultOperationTimeout
	}
	return &ListingService{store: store, timeout: timeout}
}

func (s *ListingService) Products(ctx context.Context, req domain.PageRequest) (domain.Page[domain.Product], error) {
	return listPage(ctx, s, req, nil,
		func(ctx context.Context, tx port.Tx) (int, error) { return tx.CountProducts(ctx) },
		func(ctx context.Context, tx port.Tx, offset, limit int) ([]domain.Product, error) {
			return tx.ListProducts(ctx, offset, limit)
		})
}

// Movements lists the ledger newest first. A filter on a product that does not
// exist is ErrNotFound rather than an empty page.
func (s *ListingService) Movements(ctx context.Context, filter domain.MovementFilter, req domain.PageRequest) (domain.Page[domain.Movement], error) {
	var precheck func(context.Context, port.Tx) error
	if filter.ProductID != 0 {
		precheck = func(ctx context.Context, tx port.Tx) error {
			p, err := tx.GetProduct(ctx, filter.ProductID)
			if err != nil {
				return err
			}
			if p == nil {
				return fmt.Errorf("product %d: %w", filter.ProductID, domain.ErrNotFound)
			}
			return nil
		}
	}
	return listPage(ctx, s, req, precheck,
		func(ctx context.Context, tx port.Tx) (int, error) { return tx.CountMovements(ctx, filter) },
		func(ctx context.Context, tx port.Tx, offset, limit int) ([]domain.Movement, error) {
			return tx.ListMovements(ctx, filter, offset, limit)
		})
}

func (s *ListingService) ProductMovements(ctx context.Context, productID int64, req domain.PageRequest) (domain.Page[domain.Movement], error) {
	return s.Movements(ctx, domain.MovementFilter{ProductID: productID}, req)
}

func (s *ListingService) Users(ctx context.Context, req domain.PageRequest) (domain.Page[domain.User], error) {
	return listPage(ctx, s, req, nil,
		func(ctx context.Context, tx port.Tx) (int, error) { return tx.CountUsers(ctx) },
		func(ctx context.Context, tx port.Tx, offset, limit int) ([]domain.User, error) {
			return tx.ListUsers(ctx, offset, limit)
		})
}

func listPage[T any](
	ctx context.Context,
	s *ListingService,
	req domain.PageRequest,
	precheck func(context.Context, port.Tx) error,
	count func(context.Context, port.Tx) (int, error),
	list func(context.Context, port.Tx, int, int) ([]T, error),
) (domain.Page[T], error) {
	if err := req.Validate(); err != nil {
		return domain.Page[T]{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var page domain.Page[T]
	err := s.store.WithinTx(ctx, port.TxOptions{ReadOnly: true}, func(tx port.Tx) error {
		if precheck != nil {
			if err := precheck(ctx, tx); err != nil {
				return err
			}
		}

		total, err := count(ctx, tx)
		if err != nil {
			return err
		}

		var items []T
		if req.Offset() < total {
			items, err = list(ctx, tx, req.Offset(), req.Limit)
			if err != nil {
				return err
			}
		}
		page = domain.NewPage(req, items, total)
		return nil
	})
	return page, err
}
