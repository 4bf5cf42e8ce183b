package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/port"
)

var ErrOptimisticLock = fmt.Errorf("optimistic lock conflict: %w", domain.ErrConflict)

// MySQL server error numbers the adapter classifies.
const (
	mysqlErrDuplicateEntry  = 1062
	mysqlErrLockWaitTimeout = 1205
	mysqlErrDeadlock        = 1213
	mysqlErrDataOutOfRange  = 1264
	mysqlErrIncorrectValue  = 1366
	mysqlErrRowIsReferenced = 1451
	mysqlErrNoReferencedRow = 1452
	mysqlErrCheckConstraint = 3819
)

// classifyError maps driver errors onto the domain taxonomy, keeping the
// original error in the chain.
func classifyError(op string, err error) error {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case mysqlErrDeadlock, mysqlErrLockWaitTimeout:
			return fmt.Errorf("%s: %w: %w", op, domain.ErrConflict, err)
		case mysqlErrDuplicateEntry, mysqlErrRowIsReferenced, mysqlErrNoReferencedRow:
			return fmt.Errorf("%s: %w: %w", op, domain.ErrConflict, err)
		case mysqlErrCheckConstraint, mysqlErrDataOutOfRange, mysqlErrIncorrectValue:
			return &rejectedError{op: op, cause: err}
		}
	}
	return fmt.Errorf("%s: %w: %w", op, domain.ErrInternal, err)
}

// rejectedError is a value the schema refused. Its message is safe to show
// to clients; the driver error is only reachable through Unwrap.
type rejectedError struct {
	op    string
	cause error
}

func (e *rejectedError) Error() string {
	return e.op + ": " + domain.ErrValidation.Error() + ": value rejected by the store"
}

func (e *rejectedError) Unwrap() []error {
	return []error{domain.ErrValidation, e.cause}
}

type MySQLAdapter struct {
	db *sqlx.DB
}

func NewMySQLAdapter(db *sqlx.DB) *MySQLAdapter {
	return &MySQLAdapter{db: db}
}

// WithinTx runs writes under READ COMMITTED with explicit row locks, and
// read-only work under REPEATABLE READ so counts and pages share a snapshot.
func (m *MySQLAdapter) WithinTx(ctx context.Context, opts port.TxOptions, fn func(tx port.Tx) error) error {
	txOpts := &sql.TxOptions{Isolation: sql.LevelReadCommitted}
	if opts.ReadOnly {
		txOpts = &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}
	}

	tx, err := m.db.BeginTxx(ctx, txOpts)
	if err != nil {
		return classifyError("begin tx", err)
	}
	defer tx.Rollback()

	if err := fn(&mysqlTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return classifyError("commit", err)
	}
	return nil
}

func (m *MySQLAdapter) RoleOf(ctx context.Context, userID string) (domain.Role, bool, error) {
	var role sql.NullString
	err := m.db.GetContext(ctx, &role, `SELECT role FROM users WHERE id = ?`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, fmt.Errorf("user %s: %w", userID, domain.ErrNotFound)
	}
	if err != nil {
		return "", false, classifyError("query role", err)
	}
	if !role.Valid || role.String == "" {
		return "", false, nil
	}
	return domain.Role(role.String), true, nil
}

func (m *MySQLAdapter) SetRole(ctx context.Context, userID string, role domain.Role) error {
	return m.WithinTx(ctx, port.TxOptions{}, func(tx port.Tx) error {
		u, err := tx.LockUser(ctx, userID)
		if err != nil {
			return err
		}
		if u == nil {
			return fmt.Errorf("user %s: %w", userID, domain.ErrNotFound)
		}
		u.Role = role
		u.UpdatedAt = time.Now().UTC()
		return tx.UpdateUser(ctx, *u)
	})
}

type productRow struct {
	ID              int64     `db:"id"`
	Name            string    `db:"name"`
	Description     string    `db:"description"`
	Quantity        int       `db:"quantity"`
	InitialQuantity int       `db:"initial_quantity"`
	Version         int       `db:"version"`
	CreatedAt       time.Time `db:"created_at"`
	UpdatedAt       time.Time `db:"updated_at"`
}

func (r productRow) toDomain() domain.Product {
	return domain.Product{
		ID:              r.ID,
		Name:            r.Name,
		Description:     r.Description,
		Quantity:        r.Quantity,
		InitialQuantity: r.InitialQuantity,
		Version:         r.Version,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}

type movementRow struct {
	ID          int64          `db:"id"`
	ProductID   int64          `db:"product_id"`
	ProductName sql.NullString `db:"product_name"`
	Direction   string         `db:"direction"`
	Magnitude   int            `db:"magnitude"`
	ActorID     sql.NullString `db:"actor_id"`
	CreatedAt   time.Time      `db:"created_at"`
}

func (r movementRow) toDomain() domain.Movement {
	return domain.Movement{
		ID:          r.ID,
		ProductID:   r.ProductID,
		ProductName: r.ProductName.String,
		Direction:   domain.Direction(r.Direction),
		Magnitude:   r.Magnitude,
		ActorID:     r.ActorID.String,
		CreatedAt:   r.CreatedAt,
	}
}

type userRow struct {
	ID            string         `db:"id"`
	Name          string         `db:"name"`
	Email         string         `db:"email"`
	EmailVerified bool           `db:"email_verified"`
	Role          sql.NullString `db:"role"`
	CreatedAt     time.Time      `db:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at"`
}

func (r userRow) toDomain() domain.User {
	role := domain.RoleUser
	if r.Role.Valid && r.Role.String != "" {
		role = domain.Role(r.Role.String)
	}
	return domain.User{
		ID:            r.ID,
		Name:          r.Name,
		Email:         r.Email,
		EmailVerified: r.EmailVerified,
		Role:          role,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

const (
	productColumns = `id, name, description, quantity, initial_quantity, version, created_at, updated_at`
	userColumns    = `id, name, email, email_verified, role, created_at, updated_at`
)

type mysqlTx struct {
	tx *sqlx.Tx
}

func (t *mysqlTx) getProduct(ctx context.Context, query string, id int64) (*domain.Product, error) {
	var row productRow
	err := t.tx.GetContext(ctx, &row, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classifyError("query product", err)
	}
	p := row.toDomain()
	return &p, nil
}

func (t *mysqlTx) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	return t.getProduct(ctx, `SELECT `+productColumns+` FROM products WHERE id = ?`, id)
}

func (t *mysqlTx) LockProduct(ctx context.Context, id int64) (*domain.Product, error) {
	return t.getProduct(ctx, `SELECT `+productColumns+` FROM products WHERE id = ? FOR UPDATE`, id)
}

func (t *mysqlTx) CountProducts(ctx context.Context) (int, error) {
	var n int
	if err := t.tx.GetContext(ctx, &n, `SELECT COUNT(*) FROM products`); err != nil {
		return 0, classifyError("count products", err)
	}
	return n, nil
}

func (t *mysqlTx) ListProducts(ctx context.Context, offset, limit int) ([]domain.Product, error) {
	var rows []productRow
	err := t.tx.SelectContext(ctx, &rows, `
		SELECT `+productColumns+`
		FROM products ORDER BY id LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, classifyError("list products", err)
	}
	products := make([]domain.Product, 0, len(rows))
	for _, r := range rows {
		products = append(products, r.toDomain())
	}
	return products, nil
}

func (t *mysqlTx) ListProductIDs(ctx context.Context, afterID int64, limit int) ([]int64, error) {
	var ids []int64
	err := t.tx.SelectContext(ctx, &ids, `
		SELECT id FROM products WHERE id > ? ORDER BY id LIMIT ?`, afterID, limit)
	if err != nil {
		return nil, classifyError("list product ids", err)
	}
	return ids, nil
}

func movementWhere(filter domain.MovementFilter) (string, []any) {
	if filter.ProductID != 0 {
		return ` WHERE m.product_id = ?`, []any{filter.ProductID}
	}
	return "", nil
}

func (t *mysqlTx) CountMovements(ctx context.Context, filter domain.MovementFilter) (int, error) {
	where, args := movementWhere(filter)
	var n int
	if err := t.tx.GetContext(ctx, &n, `SELECT COUNT(*) FROM movements m`+where, args...); err != nil {
		return 0, classifyError("count movements", err)
	}
	return n, nil
}

func (t *mysqlTx) ListMovements(ctx context.Context, filter domain.MovementFilter, offset, limit int) ([]domain.Movement, error) {
	where, args := movementWhere(filter)
	query := `
		SELECT m.id, m.product_id, p.name AS product_name, m.direction, m.magnitude, m.actor_id, m.created_at
		FROM movements m
		LEFT JOIN products p ON p.id = m.product_id` + where + `
		ORDER BY m.created_at DESC, m.id DESC
		LIMIT ? OFFSET ?`

	var rows []movementRow
	if err := t.tx.SelectContext(ctx, &rows, query, append(args, limit, offset)...); err != nil {
		return nil, classifyError("list movements", err)
	}
	movements := make([]domain.Movement, 0, len(rows))
	for _, r := range rows {
		movements = append(movements, r.toDomain())
	}
	return movements, nil
}

func (t *mysqlTx) LedgerBalance(ctx context.Context, productID int64) (int, error) {
	var balance int
	err := t.tx.GetContext(ctx, &balance, `
		SELECT COALESCE(SUM(CASE direction WHEN 'inbound' THEN magnitude ELSE -magnitude END), 0)
		FROM movements WHERE product_id = ?`, productID)
	if err != nil {
		return 0, classifyError("ledger balance", err)
	}
	return balance, nil
}

func (t *mysqlTx) InsertProduct(ctx context.Context, p *domain.Product) error {
	result, err := t.tx.ExecContext(ctx, `
		INSERT INTO products (name, description, quantity, initial_quantity, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.Name, p.Description, p.Quantity, p.InitialQuantity, p.Version, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return classifyError("insert product", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return classifyError("insert product", err)
	}
	p.ID = id
	return nil
}

func (t *mysqlTx) UpdateProduct(ctx context.Context, p *domain.Product) error {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE products
		SET name = ?, description = ?, quantity = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		p.Name, p.Description, p.Quantity, p.UpdatedAt, p.ID, p.Version,
	)
	if err != nil {
		return classifyError("update product", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return classifyError("update product", err)
	}
	if rows == 0 {
		return ErrOptimisticLock
	}

	p.Version++
	return nil
}

func (t *mysqlTx) AppendMovement(ctx context.Context, mv *domain.Movement) error {
	var actor sql.NullString
	if mv.ActorID != "" {
		actor = sql.NullString{String: mv.ActorID, Valid: true}
	}
	result, err := t.tx.ExecContext(ctx, `
		INSERT INTO movements (product_id, direction, magnitude, actor_id, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		mv.ProductID, mv.Direction, mv.Magnitude, actor, mv.CreatedAt,
	)
	if err != nil {
		return classifyError("append movement", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return classifyError("append movement", err)
	}
	mv.ID = id
	return nil
}

func (t *mysqlTx) getUser(ctx context.Context, query, id string) (*domain.User, error) {
	var row userRow
	err := t.tx.GetContext(ctx, &row, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classifyError("query user", err)
	}
	u := row.toDomain()
	return &u, nil
}

func (t *mysqlTx) GetUser(ctx context.Context, id string) (*domain.User, error) {
	return t.getUser(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
}

func (t *mysqlTx) LockUser(ctx context.Context, id string) (*domain.User, error) {
	return t.getUser(ctx, `SELECT `+userColumns+` FROM users WHERE id = ? FOR UPDATE`, id)
}

func (t *mysqlTx) CountUsers(ctx context.Context) (int, error) {
	var n int
	if err := t.tx.GetContext(ctx, &n, `SELECT COUNT(*) FROM users`); err != nil {
		return 0, classifyError("count users", err)
	}
	return n, nil
}

func (t *mysqlTx) ListUsers(ctx context.Context, offset, limit int) ([]domain.User, error) {
	var rows []userRow
	err := t.tx.SelectContext(ctx, &rows, `
		SELECT `+userColumns+`
		FROM users ORDER BY id LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, classifyError("list users", err)
	}
	users := make([]domain.User, 0, len(rows))
	for _, r := range rows {
		users = append(users, r.toDomain())
	}
	return users, nil
}

func (t *mysqlTx) InsertUser(ctx context.Context, u domain.User) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO users (id, name, email, email_verified, role, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Name, u.Email, u.EmailVerified, string(u.Role), u.CreatedAt, u.UpdatedAt,
	)
	if err != nil {
		return classifyError("insert user", err)
	}
	return nil
}

// UpdateUser expects the row to be locked by LockUser in the same transaction.
func (t *mysqlTx) UpdateUser(ctx context.Context, u domain.User) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE users SET name = ?, email = ?, role = ?, updated_at = ?
		WHERE id = ?`,
		u.Name, u.Email, string(u.Role), u.UpdatedAt, u.ID,
	)
	if err != nil {
		return classifyError("update user", err)
	}
	return nil
}

func (t *mysqlTx) InsertAccount(ctx context.Context, a domain.Account) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO accounts (id, user_id, provider_id, password, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		a.ID, a.UserID, a.ProviderID, a.Password, a.CreatedAt,
	)
	if err != nil {
		return classifyError("insert account", err)
	}
	return nil
}

func (t *mysqlTx) CredentialByEmail(ctx context.Context, email string) (*domain.User, *domain.Account, error) {
	var row struct {
		userRow
		AccountID string         `db:"account_id"`
		Password  sql.NullString `db:"password"`
	}
	err := t.tx.GetContext(ctx, &row, `
		SELECT u.id, u.name, u.email, u.email_verified, u.role, u.created_at, u.updated_at,
		       a.id AS account_id, a.password
		FROM users u
		JOIN accounts a ON a.user_id = u.id AND a.provider_id = ?
		WHERE u.email = ?`,
		domain.CredentialProvider, domain.NormalizeEmail(email),
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, classifyError("query credential", err)
	}

	u := row.userRow.toDomain()
	a := domain.Account{
		ID:         row.AccountID,
		UserID:     u.ID,
		ProviderID: domain.CredentialProvider,
		Password:   row.Password.String,
	}
	return &u, &a, nil
}

func (t *mysqlTx) DeleteRows(ctx context.Context, step domain.CascadeStep, key any) (int64, error) {
	if err := checkCascadeStep(step); err != nil {
		return 0, err
	}

	query := fmt.Sprintf("DELETE FROM %s WHERE %s = ?", step.Table, step.Column)
	result, err := t.tx.ExecContext(ctx, query, key)
	if err != nil {
		return 0, classifyError("delete "+step.Table, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, classifyError("delete "+step.Table, err)
	}
	return rows, nil
}
