package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/port"
)

// LoginResult is returned by a successful password login.
type LoginResult struct {
	User      domain.User
	Token     string
	ExpiresAt time.Time
}

type UserService struct {
	store   port.Store
	roles   port.RoleStore
	hasher  port.PasswordHasher
	tokens  port.TokenIssuer
	log     logrus.FieldLogger
	timeout time.Duration
	now     func() time.Time
}

func NewUserService(store port.Store, roles port.RoleStore, hasher port.PasswordHasher, tokens port.TokenIssuer, log logrus.FieldLogger, timeout time.Duration) *UserService {
	if timeout <= 0 {
		timeout = DefaultOperationTimeout
	}
	return &UserService{
		store:   store,
		roles:   roles,
		hasher:  hasher,
		tokens:  tokens,
		log:     log,
		timeout: timeout,
		now:     utcNow,
	}
}

// Register creates a user and its password credential in one transaction. An
// empty role leaves the role unset, which resolves to the default role.
func (s *UserService) Register(ctx context.Context, reg domain.Registration, role domain.Role) (domain.User, error) {
	if err := reg.Validate(); err != nil {
		return domain.User{}, err
	}
	if role != "" && !role.Valid() {
		return domain.User{}, fmt.Errorf("%w: unknown role %q", domain.ErrValidation, role)
	}

	hash, err := s.hasher.Hash(reg.Password)
	if err != nil {
		return domain.User{}, fmt.Errorf("hash password: %w: %w", domain.ErrInternal, err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	now := s.now()
	user := domain.User{
		ID:        uuid.NewString(),
		Name:      strings.TrimSpace(reg.Name),
		Email:     domain.NormalizeEmail(reg.Email),
		Role:      role,
		CreatedAt: now,
		UpdatedAt: now,
	}
	account := domain.Account{
		ID:         uuid.NewString(),
		UserID:     user.ID,
		ProviderID: domain.CredentialProvider,
		Password:   hash,
		CreatedAt:  now,
	}

	err = s.store.WithinTx(ctx, port.TxOptions{}, func(tx port.Tx) error {
		if err := tx.InsertUser(ctx, user); err != nil {
			return err
		}
		return tx.InsertAccount(ctx, account)
	})
	if err != nil {
		logFailure(s.log, "register user", err, logrus.Fields{"email": user.Email})
		return domain.User{}, err
	}

	s.log.WithFields(logrus.Fields{"user_id": user.ID, "role": role}).Info("user registered")
	return user, nil
}

// Authenticate checks an email/password pair. Unknown addresses and wrong
// passwords are indistinguishable to the caller.
func (s *UserService) Authenticate(ctx context.Context, email, password string) (domain.User, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var (
		user    *domain.User
		account *domain.Account
	)
	err := s.store.WithinTx(ctx, port.TxOptions{ReadOnly: true}, func(tx port.Tx) error {
		var err error
		user, account, err = tx.CredentialByEmail(ctx, domain.NormalizeEmail(email))
		return err
	})
	if err != nil {
		return domain.User{}, err
	}
	if user == nil || account == nil || !s.hasher.Verify(password, account.Password) {
		return domain.User{}, fmt.Errorf("%w: invalid email or password", domain.ErrUnauthenticated)
	}
	return *user, nil
}

// Login authenticates and issues a bearer token for the user.
func (s *UserService) Login(ctx context.Context, email, password string) (LoginResult, error) {
	user, err := s.Authenticate(ctx, email, password)
	if err != nil {
		return LoginResult{}, err
	}
	token, expiresAt, err := s.tokens.Issue(user)
	if err != nil {
		return LoginResult{}, fmt.Errorf("issue token: %w: %w", domain.ErrInternal, err)
	}
	s.log.WithField("user_id", user.ID).Info("user logged in")
	return LoginResult{User: user, Token: token, ExpiresAt: expiresAt}, nil
}

func (s *UserService) UpdateUser(ctx context.Context, id string, in domain.UserUpdate) (domain.User, error) {
	if err := in.Validate(); err != nil {
		return domain.User{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var updated domain.User
	err := s.store.WithinTx(ctx, port.TxOptions{}, func(tx port.Tx) error {
		current, err := tx.LockUser(ctx, id)
		if err != nil {
			return err
		}
		if current == nil {
			return fmt.Errorf("user %s: %w", id, domain.ErrNotFound)
		}
		updated = *current
		updated.Name = strings.TrimSpace(in.Name)
		updated.Email = domain.NormalizeEmail(in.Email)
		updated.UpdatedAt = s.now()
		return tx.UpdateUser(ctx, updated)
	})
	if err != nil {
		logFailure(s.log, "update user", err, logrus.Fields{"user_id": id})
		return domain.User{}, err
	}
	return updated, nil
}

func (s *UserService) SetRole(ctx context.Context, id string, role domain.Role) error {
	if !role.Valid() {
		return fmt.Errorf("%w: unknown role %q", domain.ErrValidation, role)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.roles.SetRole(ctx, id, role); err != nil {
		logFailure(s.log, "set role", err, logrus.Fields{"user_id": id, "role": role})
		return err
	}
	s.log.WithFields(logrus.Fields{"user_id": id, "role": role}).Info("role changed")
	return nil
}
