package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/metrics"
	"github.com/rl1809/stock-ledger/internal/port"
)

const DefaultProviderTimeout = 3 * time.Second

// SessionResolver turns a raw credential into an Identity. Session validity is
// decided by the identity provider; the role always comes from the local role
// store, looked up on every call.
type SessionResolver struct {
	provider port.IdentityProvider
	roles    port.RoleStore
	log      logrus.FieldLogger
	timeout  time.Duration
	now      func() time.Time
}

func NewSessionResolver(provider port.IdentityProvider, roles port.RoleStore, log logrus.FieldLogger, timeout time.Duration) *SessionResolver {
	if timeout <= 0 {
		timeout = DefaultProviderTimeout
	}
	return &SessionResolver{
		provider: provider,
		roles:    roles,
		log:      log,
		timeout:  timeout,
		now:      time.Now,
	}
}

// Resolve returns (nil, nil) when the caller is anonymous or the session's user
// no longer exists, and (nil, ErrInternal)
// when the session cannot be checked. It never returns an identity alongside
// an error.
func (r *SessionResolver) Resolve(ctx context.Context, cred domain.Credential) (*domain.Identity, error) {
	if cred.Empty() {
		metrics.RecordResolution("anonymous")
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	claims, err := r.provider.ValidateCredential(ctx, cred)
	if err != nil {
		metrics.RecordResolution("provider_error")
		r.log.WithError(err).WithField("kind", cred.Kind).Error("identity provider unavailable")
		return nil, fmt.Errorf("validate session: %w", domain.ErrInternal)
	}
	if claims == nil || claims.SubjectID == "" {
		metrics.RecordResolution("anonymous")
		return nil, nil
	}
	if !claims.ExpiresAt.IsZero() && !claims.ExpiresAt.After(r.now()) {
		metrics.RecordResolution("expired")
		return nil, nil
	}

	role, found, err := r.roles.RoleOf(ctx, claims.SubjectID)
	if errors.Is(err, domain.ErrNotFound) {
		// the session outlived its user
		metrics.RecordResolution("unknown_subject")
		r.log.WithField("user_id", claims.SubjectID).Warn("session for deleted user")
		return nil, nil
	}
	if err != nil {
		metrics.RecordResolution("role_error")
		r.log.WithError(err).WithField("user_id", claims.SubjectID).Error("role lookup failed")
		return nil, fmt.Errorf("lookup role: %w", domain.ErrInternal)
	}
	if !found {
		role = domain.RoleUser
	}

	id := domain.NewIdentity(*claims, role)
	metrics.RecordResolution("authenticated")
	return &id, nil
}
