package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/port"
)

// allowedCascadeSteps is the fixed set of table/column pairs DeleteRows accepts.
var allowedCascadeSteps = map[domain.CascadeStep]bool{
	{Table: "products", Column: "id"}:          true,
	{Table: "movements", Column: "product_id"}: true,
	{Table: "users", Column: "id"}:             true,
	{Table: "sessions", Column: "user_id"}:     true,
	{Table: "accounts", Column: "user_id"}:     true,
}

func checkCascadeStep(step domain.CascadeStep) error {
	if !allowedCascadeSteps[step] {
		return fmt.Errorf("%w: cascade step %s.%s not allowed", domain.ErrInternal, step.Table, step.Column)
	}
	return nil
}

type memoryState struct {
	products       map[int64]domain.Product
	movements      []domain.Movement
	users          map[string]domain.User
	sessions       []domain.Session
	accounts       []domain.Account
	nextProductID  int64
	nextMovementID int64
}

func (s *memoryState) clone() *memoryState {
	c := &memoryState{
		products:       make(map[int64]domain.Product, len(s.products)),
		movements:      append([]domain.Movement(nil), s.movements...),
		users:          make(map[string]domain.User, len(s.users)),
		sessions:       append([]domain.Session(nil), s.sessions...),
		accounts:       append([]domain.Account(nil), s.accounts...),
		nextProductID:  s.nextProductID,
		nextMovementID: s.nextMovementID,
	}
	for id, p := range s.products {
		c.products[id] = p
	}
	for id, u := range s.users {
		c.users[id] = u
	}
	return c
}

// MemoryAdapter is a process-local Store. Transactions are fully serialized
// and work on a copy of the state that replaces it only on commit.
type MemoryAdapter struct {
	mu    sync.Mutex
	state *memoryState
}

func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{
		state: &memoryState{
			products: make(map[int64]domain.Product),
			users:    make(map[string]domain.User),
		},
	}
}

func (m *MemoryAdapter) WithinTx(ctx context.Context, opts port.TxOptions, fn func(tx port.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("begin tx: %w: %w", domain.ErrInternal, err)
	}

	work := m.state.clone()
	if err := fn(&memoryTx{state: work}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("commit: %w: %w", domain.ErrInternal, err)
	}
	if !opts.ReadOnly {
		m.state = work
	}
	return nil
}

func (m *MemoryAdapter) RoleOf(ctx context.Context, userID string) (domain.Role, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.state.users[userID]
	if !ok {
		return "", false, fmt.Errorf("user %s: %w", userID, domain.ErrNotFound)
	}
	if u.Role == "" {
		return "", false, nil
	}
	return u.Role, true, nil
}

func (m *MemoryAdapter) SetRole(ctx context.Context, userID string, role domain.Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.state.users[userID]
	if !ok {
		return fmt.Errorf("user %s: %w", userID, domain.ErrNotFound)
	}
	u.Role = role
	u.UpdatedAt = time.Now().UTC()
	m.state.users[userID] = u
	return nil
}

// CreateSession stores a login session; the memory driver acts as its own
// session provider.
func (m *MemoryAdapter) CreateSession(ctx context.Context, s domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.state.users[s.UserID]; !ok {
		return fmt.Errorf("user %s: %w", s.UserID, domain.ErrNotFound)
	}
	m.state.sessions = append(m.state.sessions, s)
	return nil
}

func (m *MemoryAdapter) ValidateCredential(ctx context.Context, cred domain.Credential) (*domain.SessionClaims, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for _, s := range m.state.sessions {
		if s.Token != cred.Value || !now.Before(s.ExpiresAt) {
			continue
		}
		u, ok := m.state.users[s.UserID]
		if !ok {
			return nil, nil
		}
		return &domain.SessionClaims{
			SessionID:    s.ID,
			SubjectID:    u.ID,
			SubjectName:  u.Name,
			SubjectEmail: u.Email,
			ExpiresAt:    s.ExpiresAt,
			Source:       "memory",
		}, nil
	}
	return nil, nil
}

func (m *MemoryAdapter) Revoke(ctx context.Context, cred domain.Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.state.sessions[:0]
	for _, s := range m.state.sessions {
		if s.Token != cred.Value {
			kept = append(kept, s)
		}
	}
	m.state.sessions = kept
	return nil
}

type memoryTx struct {
	state *memoryState
}

func (t *memoryTx) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	p, ok := t.state.products[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (t *memoryTx) LockProduct(ctx context.Context, id int64) (*domain.Product, error) {
	return t.GetProduct(ctx, id)
}

func (t *memoryTx) CountProducts(ctx context.Context) (int, error) {
	return len(t.state.products), nil
}

func (t *memoryTx) sortedProducts() []domain.Product {
	products := make([]domain.Product, 0, len(t.state.products))
	for _, p := range t.state.products {
		products = append(products, p)
	}
	sort.Slice(products, func(i, j int) bool { return products[i].ID < products[j].ID })
	return products
}

func (t *memoryTx) ListProducts(ctx context.Context, offset, limit int) ([]domain.Product, error) {
	return window(t.sortedProducts(), offset, limit), nil
}

func (t *memoryTx) ListProductIDs(ctx context.Context, afterID int64, limit int) ([]int64, error) {
	var ids []int64
	for _, p := range t.sortedProducts() {
		if p.ID <= afterID {
			continue
		}
		ids = append(ids, p.ID)
		if len(ids) == limit {
			break
		}
	}
	return ids, nil
}

func (t *memoryTx) filteredMovements(filter domain.MovementFilter) []domain.Movement {
	var out []domain.Movement
	for _, mv := range t.state.movements {
		if filter.ProductID != 0 && mv.ProductID != filter.ProductID {
			continue
		}
		if p, ok := t.state.products[mv.ProductID]; ok {
			mv.ProductName = p.Name
		}
		out = append(out, mv)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

func (t *memoryTx) CountMovements(ctx context.Context, filter domain.MovementFilter) (int, error) {
	return len(t.filteredMovements(filter)), nil
}

func (t *memoryTx) ListMovements(ctx context.Context, filter domain.MovementFilter, offset, limit int) ([]domain.Movement, error) {
	return window(t.filteredMovements(filter), offset, limit), nil
}

func (t *memoryTx) LedgerBalance(ctx context.Context, productID int64) (int, error) {
	balance := 0
	for _, mv := range t.state.movements {
		if mv.ProductID == productID {
			balance += mv.Signed()
		}
	}
	return balance, nil
}

func (t *memoryTx) InsertProduct(ctx context.Context, p *domain.Product) error {
	if p.Quantity < 0 {
		return fmt.Errorf("insert product: %w: quantity must not be negative", domain.ErrValidation)
	}
	t.state.nextProductID++
	p.ID = t.state.nextProductID
	t.state.products[p.ID] = *p
	return nil
}

func (t *memoryTx) UpdateProduct(ctx context.Context, p *domain.Product) error {
	current, ok := t.state.products[p.ID]
	if !ok || current.Version != p.Version {
		return ErrOptimisticLock
	}
	if p.Quantity < 0 {
		return fmt.Errorf("update product: %w: quantity must not be negative", domain.ErrValidation)
	}
	p.Version++
	t.state.products[p.ID] = *p
	return nil
}

func (t *memoryTx) AppendMovement(ctx context.Context, mv *domain.Movement) error {
	if _, ok := t.state.products[mv.ProductID]; !ok {
		return fmt.Errorf("append movement: %w: product %d does not exist", domain.ErrConflict, mv.ProductID)
	}
	t.state.nextMovementID++
	mv.ID = t.state.nextMovementID
	stored := *mv
	stored.ProductName = ""
	t.state.movements = append(t.state.movements, stored)
	return nil
}

func (t *memoryTx) GetUser(ctx context.Context, id string) (*domain.User, error) {
	u, ok := t.state.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (t *memoryTx) LockUser(ctx context.Context, id string) (*domain.User, error) {
	return t.GetUser(ctx, id)
}

func (t *memoryTx) CountUsers(ctx context.Context) (int, error) {
	return len(t.state.users), nil
}

func (t *memoryTx) ListUsers(ctx context.Context, offset, limit int) ([]domain.User, error) {
	users := make([]domain.User, 0, len(t.state.users))
	for _, u := range t.state.users {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return window(users, offset, limit), nil
}

func (t *memoryTx) emailTaken(email, exceptID string) bool {
	for id, u := range t.state.users {
		if id != exceptID && u.Email == email {
			return true
		}
	}
	return false
}

func (t *memoryTx) InsertUser(ctx context.Context, u domain.User) error {
	if _, ok := t.state.users[u.ID]; ok {
		return fmt.Errorf("insert user: %w: duplicate id", domain.ErrConflict)
	}
	if t.emailTaken(u.Email, "") {
		return fmt.Errorf("insert user: %w: email already in use", domain.ErrConflict)
	}
	t.state.users[u.ID] = u
	return nil
}

func (t *memoryTx) UpdateUser(ctx context.Context, u domain.User) error {
	if _, ok := t.state.users[u.ID]; !ok {
		return fmt.Errorf("user %s: %w", u.ID, domain.ErrNotFound)
	}
	if t.emailTaken(u.Email, u.ID) {
		return fmt.Errorf("update user: %w: email already in use", domain.ErrConflict)
	}
	t.state.users[u.ID] = u
	return nil
}

func (t *memoryTx) InsertAccount(ctx context.Context, a domain.Account) error {
	if _, ok := t.state.users[a.UserID]; !ok {
		return fmt.Errorf("insert account: %w: user %s does not exist", domain.ErrConflict, a.UserID)
	}
	t.state.accounts = append(t.state.accounts, a)
	return nil
}

func (t *memoryTx) CredentialByEmail(ctx context.Context, email string) (*domain.User, *domain.Account, error) {
	email = domain.NormalizeEmail(email)
	for _, u := range t.state.users {
		if u.Email != email {
			continue
		}
		for _, a := range t.state.accounts {
			if a.UserID == u.ID && a.ProviderID == domain.CredentialProvider {
				user, account := u, a
				return &user, &account, nil
			}
		}
	}
	return nil, nil, nil
}

func (t *memoryTx) DeleteRows(ctx context.Context, step domain.CascadeStep, key any) (int64, error) {
	if err := checkCascadeStep(step); err != nil {
		return 0, err
	}

	var removed int64
	switch step.Table {
	case "products":
		id, ok := key.(int64)
		if !ok {
			return 0, fmt.Errorf("%w: product key must be int64", domain.ErrInternal)
		}
		if _, exists := t.state.products[id]; exists {
			delete(t.state.products, id)
			removed = 1
		}
	case "movements":
		id, ok := key.(int64)
		if !ok {
			return 0, fmt.Errorf("%w: product key must be int64", domain.ErrInternal)
		}
		kept := t.state.movements[:0]
		for _, mv := range t.state.movements {
			if mv.ProductID == id {
				removed++
				continue
			}
			kept = append(kept, mv)
		}
		t.state.movements = kept
	case "users":
		id := fmt.Sprint(key)
		if _, exists := t.state.users[id]; exists {
			delete(t.state.users, id)
			removed = 1
		}
	case "sessions":
		id := fmt.Sprint(key)
		kept := t.state.sessions[:0]
		for _, s := range t.state.sessions {
			if s.UserID == id {
				removed++
				continue
			}
			kept = append(kept, s)
		}
		t.state.sessions = kept
	case "accounts":
		id := fmt.Sprint(key)
		kept := t.state.accounts[:0]
		for _, a := range t.state.accounts {
			if a.UserID == id {
				removed++
				continue
			}
			kept = append(kept, a)
		}
		t.state.accounts = kept
	}
	return removed, nil
}

func window[T any](items []T, offset, limit int) []T {
	if offset < 0 || limit < 1 || offset >= len(items) {
		return []T{}
	}
	end := offset + limit
	if end > len(items) || end < offset {
		end = len(items)
	}
	return append([]T(nil), items[offset:end]...)
}
