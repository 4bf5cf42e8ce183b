package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/rl1809/stock-ledger/internal/core/domain"
)

const (
	DefaultTokenTTL = time.Hour
	tokenIssuer     = "stock-ledger"
)

type tokenClaims struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// JWTProvider issues and validates HS256 bearer tokens for password logins.
// Tokens carry no role; the role is looked up when the token is resolved.
type JWTProvider struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewJWTProvider(secret string, ttl time.Duration) (*JWTProvider, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &JWTProvider{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

func (p *JWTProvider) Issue(user domain.User) (string, time.Time, error) {
	now := p.now()
	expiresAt := now.Add(p.ttl)
	claims := tokenClaims{
		Name:  user.Name,
		Email: user.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   user.ID,
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// ValidateCredential accepts bearer credentials only. Malformed, expired and
// foreign tokens are reported as no session.
func (p *JWTProvider) ValidateCredential(_ context.Context, cred domain.Credential) (*domain.SessionClaims, error) {
	if cred.Kind != domain.CredentialBearer || cred.Value == "" {
		return nil, nil
	}

	var claims tokenClaims
	_, err := jwt.ParseWithClaims(cred.Value, &claims, func(*jwt.Token) (any, error) {
		return p.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(p.now),
	)
	if err != nil || claims.Subject == "" {
		return nil, nil
	}

	return &domain.SessionClaims{
		SessionID:    claims.ID,
		SubjectID:    claims.Subject,
		SubjectName:  claims.Name,
		SubjectEmail: claims.Email,
		ExpiresAt:    claims.ExpiresAt.Time,
		Source:       "jwt",
	}, nil
}
