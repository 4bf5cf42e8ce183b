package port

import (
	"context"
	"time"

	"github.com/rl1809/stock-ledger/internal/core/domain"
)

type IdentityProvider interface {
	// ValidateCredential returns nil claims with a nil error when the credential
	// does not carry a valid session.
	ValidateCredential(ctx context.Context, cred domain.Credential) (*domain.SessionClaims, error)
}

type RoleStore interface {
	// RoleOf reports the stored role and whether one is set. A user that does
	// not exist yields an error wrapping domain.ErrNotFound.
	RoleOf(ctx context.Context, userID string) (domain.Role, bool, error)
	SetRole(ctx context.Context, userID string, role domain.Role) error
}

type Authorizer interface {
	Authorize(identity domain.Identity, resource, action string) (bool, error)
}

type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, encoded string) bool
}

type TokenIssuer interface {
	Issue(user domain.User) (token string, expiresAt time.Time, err error)
}

// SessionRevoker ends the session a credential refers to. Revoking an unknown
// session is not an error.
type SessionRevoker interface {
	Revoke(ctx context.Context, cred domain.Credential) error
}

// SubjectRevoker drops every cached session that belongs to a user.
type SubjectRevoker interface {
	RevokeSubject(ctx context.Context, userID string) error
}
