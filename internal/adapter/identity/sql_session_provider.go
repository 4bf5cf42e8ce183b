package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/rl1809/stock-ledger/internal/core/domain"
)

// SQLSessionProvider validates cookie sessions against the sessions table
// the authentication service writes.
type SQLSessionProvider struct {
	db     *sqlx.DB
	secret []byte
	now    func() time.Time
}

func NewSQLSessionProvider(db *sqlx.DB, cookieSecret string) *SQLSessionProvider {
	return &SQLSessionProvider{
		db:     db,
		secret: []byte(cookieSecret),
		now:    time.Now,
	}
}

type sessionRow struct {
	ID        string    `db:"id"`
	UserID    string    `db:"user_id"`
	ExpiresAt time.Time `db:"expires_at"`
	Name      string    `db:"name"`
	Email     string    `db:"email"`
}

func (p *SQLSessionProvider) token(cred domain.Credential) string {
	if cred.Kind != domain.CredentialCookie {
		return ""
	}
	return SessionToken(cred.Value, p.secret)
}

func (p *SQLSessionProvider) ValidateCredential(ctx context.Context, cred domain.Credential) (*domain.SessionClaims, error) {
	token := p.token(cred)
	if token == "" {
		return nil, nil
	}

	var row sessionRow
	err := p.db.GetContext(ctx, &row, `
		SELECT s.id, s.user_id, s.expires_at, u.name, u.email
		FROM sessions s
		JOIN users u ON u.id = s.user_id
		WHERE s.token = ? AND s.expires_at > ?`,
		token, p.now().UTC())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query session: %w", err)
	}

	return &domain.SessionClaims{
		SessionID:    row.ID,
		SubjectID:    row.UserID,
		SubjectName:  row.Name,
		SubjectEmail: row.Email,
		ExpiresAt:    row.ExpiresAt,
		Source:       "sql",
	}, nil
}

func (p *SQLSessionProvider) Revoke(ctx context.Context, cred domain.Credential) error {
	token := p.token(cred)
	if token == "" {
		return nil
	}
	if _, err := p.db.ExecContext(ctx, `DELETE FROM sessions WHERE token = ?`, token); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}
