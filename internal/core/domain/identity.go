package domain

import "time"

type CredentialKind string

const (
	CredentialCookie CredentialKind = "cookie"
	CredentialBearer CredentialKind = "bearer"
)

// Credential is the raw session material presented by a caller.
type Credential struct {
	Kind  CredentialKind
	Value string
}

func (c Credential) Empty() bool {
	return c.Value == ""
}

// SessionClaims is what an identity provider vouches for. It carries no role.
type SessionClaims struct {
	SessionID    string
	SubjectID    string
	SubjectName  string
	SubjectEmail string
	ExpiresAt    time.Time
	Source       string
}

type SessionMetadata struct {
	ID        string
	ExpiresAt time.Time
	Source    string
}

// Identity is the request-scoped merge of session claims and the locally owned
// role. It is built once per request and passed by value.
type Identity struct {
	ID      string
	Name    string
	Email   string
	Role    Role
	Session SessionMetadata
}

func NewIdentity(claims SessionClaims, role Role) Identity {
	if !role.Valid() {
		role = RoleUser
	}
	return Identity{
		ID:    claims.SubjectID,
		Name:  claims.SubjectName,
		Email: claims.SubjectEmail,
		Role:  role,
		Session: SessionMetadata{
			ID:        claims.SessionID,
			ExpiresAt: claims.ExpiresAt,
			Source:    claims.Source,
		},
	}
}

func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

// Session is a provider-owned login session row.
type Session struct {
	ID        string
	UserID    string
	Token     string
	ExpiresAt time.Time
	CreatedAt time.Time
}
