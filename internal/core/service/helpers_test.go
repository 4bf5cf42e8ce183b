package service

import (
	"context"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/stock-ledger/internal/adapter/storage"
	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/port"
)

var errInjected = errors.New("injected failure")

func newTestLogger() (*logrus.Logger, *logtest.Hook) {
	log, hook := logtest.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	return log, hook
}

// faultyStore wraps a store and fails DeleteRows on one table.
type faultyStore struct {
	port.Store
	failTable string
}

func (f *faultyStore) WithinTx(ctx context.Context, opts port.TxOptions, fn func(tx port.Tx) error) error {
	return f.Store.WithinTx(ctx, opts, func(tx port.Tx) error {
		return fn(&faultyTx{Tx: tx, failTable: f.failTable})
	})
}

type faultyTx struct {
	port.Tx
	failTable string
}

func (t *faultyTx) DeleteRows(ctx context.Context, step domain.CascadeStep, key any) (int64, error) {
	if step.Table == t.failTable {
		return 0, errInjected
	}
	return t.Tx.DeleteRows(ctx, step, key)
}

func seedProduct(t *testing.T, svc *StockService, name string, quantity int) domain.Product {
	t.Helper()
	p, err := svc.CreateProduct(context.Background(), domain.NewProduct{Name: name, Quantity: quantity})
	require.NoError(t, err)
	return p
}

func countMovements(t *testing.T, store port.Store, productID int64) int {
	t.Helper()
	var n int
	err := store.WithinTx(context.Background(), port.TxOptions{ReadOnly: true}, func(tx port.Tx) error {
		var err error
		n, err = tx.CountMovements(context.Background(), domain.MovementFilter{ProductID: productID})
		return err
	})
	require.NoError(t, err)
	return n
}

func newMemoryStore() *storage.MemoryAdapter {
	return storage.NewMemoryAdapter()
}
