package identity

import (
	"context"
	"errors"

	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/port"
)

// Chain asks each provider in turn. The first claims found win; any provider
// error ends the walk.
type Chain []port.IdentityProvider

func (c Chain) ValidateCredential(ctx context.Context, cred domain.Credential) (*domain.SessionClaims, error) {
	for _, p := range c {
		claims, err := p.ValidateCredential(ctx, cred)
		if err != nil {
			return nil, err
		}
		if claims != nil {
			return claims, nil
		}
	}
	return nil, nil
}

func (c Chain) Revoke(ctx context.Context, cred domain.Credential) error {
	var errs []error
	for _, p := range c {
		if r, ok := p.(port.SessionRevoker); ok {
			errs = append(errs, r.Revoke(ctx, cred))
		}
	}
	return errors.Join(errs...)
}

func (c Chain) RevokeSubject(ctx context.Context, userID string) error {
	var errs []error
	for _, p := range c {
		if r, ok := p.(port.SubjectRevoker); ok {
			errs = append(errs, r.RevokeSubject(ctx, userID))
		}
	}
	return errors.Join(errs...)
}
