package service

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/metrics"
	"github.com/rl1809/stock-ledger/internal/port"
)

// CascadeService deletes an entity together with the rows that only exist in
// reference to it, children first, in a single transaction.
type CascadeService struct {
	store    port.Store
	log      logrus.FieldLogger
	timeout  time.Duration
	revokers []port.SubjectRevoker
}

func NewCascadeService(store port.Store, log logrus.FieldLogger, timeout time.Duration) *CascadeService {
	if timeout <= 0 {
		timeout = DefaultOperationTimeout
	}
	return &CascadeService{store: store, log: log, timeout: timeout}
}

func (s *CascadeService) DeleteProduct(ctx context.Context, id int64) error {
	return s.Delete(ctx, domain.ProductCascade, id)
}

// WithSubjectRevokers registers caches to purge after a user is deleted.
func (s *CascadeService) WithSubjectRevokers(revokers ...port.SubjectRevoker) *CascadeService {
	s.revokers = append(s.revokers, revokers...)
	return s
}

func (s *CascadeService) DeleteUser(ctx context.Context, id string) error {
	if err := s.Delete(ctx, domain.UserCascade, id); err != nil {
		return err
	}

	// the delete is committed; purge failures are only logged
	for _, r := range s.revokers {
		if err := r.RevokeSubject(ctx, id); err != nil {
			s.log.WithError(err).WithField("user_id", id).Warn("purge cached sessions failed")
		}
	}
	return nil
}

// Delete runs spec for key. A missing parent row rolls back the child deletes
// and reports ErrNotFound.
func (s *CascadeService) Delete(ctx context.Context, spec domain.CascadeSpec, key any) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	removed := make(logrus.Fields, len(spec.Children))
	err := s.store.WithinTx(ctx, port.TxOptions{}, func(tx port.Tx) error {
		for _, step := range spec.Children {
			n, err := tx.DeleteRows(ctx, step, key)
			if err != nil {
				return fmt.Errorf("cascade %s: %w", step.Table, err)
			}
			removed[step.Table] = n
		}

		n, err := tx.DeleteRows(ctx, spec.Parent, key)
		if err != nil {
			return fmt.Errorf("cascade %s: %w", spec.Parent.Table, err)
		}
		if n == 0 {
			return fmt.Errorf("%s %v: %w", spec.Entity, key, domain.ErrNotFound)
		}
		return nil
	})

	metrics.RecordCascade(spec.Entity, outcome(err))
	if err != nil {
		logFailure(s.log, "delete "+spec.Entity, err, logrus.Fields{"key": key})
		return err
	}

	s.log.WithField("key", key).WithFields(removed).Info(spec.Entity + " deleted")
	return nil
}
