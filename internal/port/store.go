package port

import (
	"context"

	"github.com/rl1809/stock-ledger/internal/core/domain"
)

type TxOptions struct {
	// ReadOnly requests a consistent snapshot for listings and audits.
	ReadOnly bool
}

// Store is the relational system of record for products, the movement ledger
// and user accounts.
type Store interface {
	// WithinTx runs fn in a single transaction. A non-nil error from fn, or a
	// cancelled context, rolls back every write made through tx.
	WithinTx(ctx context.Context, opts TxOptions, fn func(tx Tx) error) error
}

type Tx interface {
	ProductReader
	UserReader

	// LockProduct reads a product and holds its row lock until the transaction
	// ends. Returns nil when the product does not exist.
	LockProduct(ctx context.Context, id int64) (*domain.Product, error)

	// InsertProduct assigns p.ID.
	InsertProduct(ctx context.Context, p *domain.Product) error

	// UpdateProduct writes p guarded by p.Version and increments p.Version.
	UpdateProduct(ctx context.Context, p *domain.Product) error

	// AppendMovement assigns m.ID.
	AppendMovement(ctx context.Context, m *domain.Movement) error

	LockUser(ctx context.Context, id string) (*domain.User, error)
	InsertUser(ctx context.Context, u domain.User) error
	UpdateUser(ctx context.Context, u domain.User) error
	InsertAccount(ctx context.Context, a domain.Account) error

	// DeleteRows removes every row of step.Table whose step.Column equals key
	// and reports how many rows were removed.
	DeleteRows(ctx context.Context, step domain.CascadeStep, key any) (int64, error)
}

type ProductReader interface {
	GetProduct(ctx context.Context, id int64) (*domain.Product, error)
	CountProducts(ctx context.Context) (int, error)
	ListProducts(ctx context.Context, offset, limit int) ([]domain.Product, error)
	// ListProductIDs returns ids greater than afterID in ascending order.
	ListProductIDs(ctx context.Context, afterID int64, limit int) ([]int64, error)

	CountMovements(ctx context.Context, filter domain.MovementFilter) (int, error)
	ListMovements(ctx context.Context, filter domain.MovementFilter, offset, limit int) ([]domain.Movement, error)
	// LedgerBalance is the signed sum of a product's movement magnitudes.
	LedgerBalance(ctx context.Context, productID int64) (int, error)
}

type UserReader interface {
	GetUser(ctx context.Context, id string) (*domain.User, error)
	CountUsers(ctx context.Context) (int, error)
	ListUsers(ctx context.Context, offset, limit int) ([]domain.User, error)
	// CredentialByEmail returns the user and its password credential, or nil
	// values when no credential account exists for the address.
	CredentialByEmail(ctx context.Context, email string) (*domain.User, *domain.Account, error)
}
