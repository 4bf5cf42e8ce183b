package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/metrics"
	"github.com/rl1809/stock-ledger/internal/port"
)

const DefaultOperationTimeout = 5 * time.Second

// StockService owns every write to a product's quantity. Each mutation reads
// the current row under lock and appends its ledger entry in the same
// transaction, so quantity and ledger commit or roll back together.
type StockService struct {
	store   port.Store
	log     logrus.FieldLogger
	timeout time.Duration
	now     func() time.Time
}

func NewStockService(store port.Store, log logrus.FieldLogger, timeout time.Duration) *StockService {
	if timeout <= 0 {
		timeout = DefaultOperationTimeout
	}
	return &StockService{
		store:   store,
		log:     log,
		timeout: timeout,
		now:     utcNow,
	}
}

// utcNow truncates to microseconds, the precision of the DATETIME(6) columns.
func utcNow() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

func (s *StockService) CreateProduct(ctx context.Context, in domain.NewProduct) (domain.Product, error) {
	if err := in.Validate(); err != nil {
		return domain.Product{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	now := s.now()
	p := domain.Product{
		Name:            strings.TrimSpace(in.Name),
		Description:     in.Description,
		Quantity:        in.Quantity,
		InitialQuantity: in.Quantity,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err := s.store.WithinTx(ctx, port.TxOptions{}, func(tx port.Tx) error {
		return tx.InsertProduct(ctx, &p)
	})
	metrics.RecordMutation("create", outcome(err))
	if err != nil {
		s.logFailure("create product", err, logrus.Fields{"name": p.Name})
		return domain.Product{}, err
	}

	s.log.WithFields(logrus.Fields{"product_id": p.ID, "quantity": p.Quantity}).Info("product created")
	return p, nil
}

func (s *StockService) GetProduct(ctx context.Context, id int64) (domain.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var product domain.Product
	err := s.store.WithinTx(ctx, port.TxOptions{ReadOnly: true}, func(tx port.Tx) error {
		p, err := tx.GetProduct(ctx, id)
		if err != nil {
			return err
		}
		if p == nil {
			return fmt.Errorf("product %d: %w", id, domain.ErrNotFound)
		}
		product = *p
		return nil
	})
	return product, err
}

// UpdateProduct replaces name, description and quantity. A quantity change is
// recorded as one inbound or outbound movement of |delta|; an unchanged
// quantity records nothing. Conflicts are returned to the caller, never
// retried here, so a delta is applied at most once per call.
func (s *StockService) UpdateProduct(ctx context.Context, id int64, in domain.ProductUpdate, actorID string) (domain.Product, error) {
	if err := in.Validate(); err != nil {
		return domain.Product{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var (
		updated  domain.Product
		movement *domain.Movement
	)
	err := s.store.WithinTx(ctx, port.TxOptions{}, func(tx port.Tx) error {
		current, err := tx.LockProduct(ctx, id)
		if err != nil {
			return err
		}
		if current == nil {
			return fmt.Errorf("product %d: %w", id, domain.ErrNotFound)
		}

		next := *current
		next.Name = strings.TrimSpace(in.Name)
		next.Description = in.Description
		next.Quantity = in.Quantity

		movement, err = s.apply(ctx, tx, &next, in.Quantity-current.Quantity, actorID)
		if err != nil {
			return err
		}
		updated = next
		return nil
	})

	result := outcome(err)
	if err == nil && movement == nil {
		result = "noop"
	}
	metrics.RecordMutation("update", result)
	if err != nil {
		s.logFailure("update product", err, logrus.Fields{"product_id": id, "actor_id": actorID})
		return domain.Product{}, err
	}

	s.logApplied(updated, movement, actorID)
	return updated, nil
}

// AdjustStock applies a relative movement. Outbound movements larger than the
// quantity on hand are rejected.
func (s *StockService) AdjustStock(ctx context.Context, id int64, direction domain.Direction, magnitude int, actorID string) (domain.Product, domain.Movement, error) {
	if err := domain.ValidateAdjustment(direction, magnitude); err != nil {
		return domain.Product{}, domain.Movement{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var (
		updated  domain.Product
		movement *domain.Movement
	)
	err := s.store.WithinTx(ctx, port.TxOptions{}, func(tx port.Tx) error {
		current, err := tx.LockProduct(ctx, id)
		if err != nil {
			return err
		}
		if current == nil {
			return fmt.Errorf("product %d: %w", id, domain.ErrNotFound)
		}

		delta := direction.Sign() * magnitude
		if current.Quantity+delta < 0 {
			return fmt.Errorf("%w: insufficient stock: %d on hand, %d requested",
				domain.ErrValidation, current.Quantity, magnitude)
		}
		if current.Quantity+delta > domain.MaxQuantity {
			return fmt.Errorf("%w: quantity would exceed %d", domain.ErrValidation, domain.MaxQuantity)
		}

		next := *current
		next.Quantity += delta
		movement, err = s.apply(ctx, tx, &next, delta, actorID)
		if err != nil {
			return err
		}
		updated = next
		return nil
	})
	metrics.RecordMutation("adjust", outcome(err))
	if err != nil {
		s.logFailure("adjust stock", err, logrus.Fields{"product_id": id, "direction": direction, "magnitude": magnitude})
		return domain.Product{}, domain.Movement{}, err
	}

	s.logApplied(updated, movement, actorID)
	return updated, *movement, nil
}

// apply writes next (whose version is the locked row's version) and appends
// the ledger entry for delta when it is non-zero.
func (s *StockService) apply(ctx context.Context, tx port.Tx, next *domain.Product, delta int, actorID string) (*domain.Movement, error) {
	now := s.now()
	next.UpdatedAt = now
	if err := tx.UpdateProduct(ctx, next); err != nil {
		return nil, err
	}
	if delta == 0 {
		return nil, nil
	}

	m := domain.MovementForDelta(next.ID, delta, actorID, now)
	if err := tx.AppendMovement(ctx, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// Audit reads a product and its ledger balance from one snapshot.
func (s *StockService) Audit(ctx context.Context, id int64) (domain.AuditReport, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var report domain.AuditReport
	err := s.store.WithinTx(ctx, port.TxOptions{ReadOnly: true}, func(tx port.Tx) error {
		p, err := tx.GetProduct(ctx, id)
		if err != nil {
			return err
		}
		if p == nil {
			return fmt.Errorf("product %d: %w", id, domain.ErrNotFound)
		}
		balance, err := tx.LedgerBalance(ctx, id)
		if err != nil {
			return err
		}
		report = domain.AuditReport{
			ProductID:       id,
			InitialQuantity: p.InitialQuantity,
			LedgerBalance:   balance,
			Quantity:        p.Quantity,
		}
		return nil
	})
	return report, err
}

func (s *StockService) logApplied(p domain.Product, m *domain.Movement, actorID string) {
	fields := logrus.Fields{"product_id": p.ID, "quantity": p.Quantity, "version": p.Version}
	if m == nil {
		s.log.WithFields(fields).Debug("product updated without stock change")
		return
	}
	metrics.RecordMovement(string(m.Direction))
	fields["movement_id"] = m.ID
	fields["direction"] = m.Direction
	fields["magnitude"] = m.Magnitude
	fields["actor_id"] = actorID
	s.log.WithFields(fields).Info("stock movement recorded")
}

func (s *StockService) logFailure(op string, err error, fields logrus.Fields) {
	logFailure(s.log, op, err, fields)
}

func logFailure(log logrus.FieldLogger, op string, err error, fields logrus.Fields) {
	entry := log.WithFields(fields).WithError(err)
	switch {
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrNotFound):
		entry.Debug(op + " rejected")
	case errors.Is(err, domain.ErrConflict):
		entry.Warn(op + " conflicted, rolled back")
	default:
		entry.Error(op + " failed, rolled back")
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrValidation):
		return "invalid"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrConflict):
		return "conflict"
	default:
		return "error"
	}
}
