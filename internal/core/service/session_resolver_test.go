package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/stock-ledger/internal/core/domain"
)

type stubProvider struct {
	claims *domain.SessionClaims
	err    error
	delay  time.Duration
	calls  int
}

func (p *stubProvider) ValidateCredential(ctx context.Context, cred domain.Credential) (*domain.SessionClaims, error) {
	p.calls++
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return p.claims, p.err
}

type stubRoles struct {
	roles   map[string]domain.Role
	deleted map[string]bool
	err     error
}

func (r stubRoles) RoleOf(ctx context.Context, userID string) (domain.Role, bool, error) {
	if r.err != nil {
		return "", false, r.err
	}
	if r.deleted[userID] {
		return "", false, fmt.Errorf("user %s: %w", userID, domain.ErrNotFound)
	}
	role, ok := r.roles[userID]
	return role, ok, nil
}

func (r stubRoles) SetRole(ctx context.Context, userID string, role domain.Role) error {
	r.roles[userID] = role
	return nil
}

var cookie = domain.Credential{Kind: domain.CredentialCookie, Value: "token"}

func validClaims() *domain.SessionClaims {
	return &domain.SessionClaims{
		SessionID:    "s1",
		SubjectID:    "u1",
		SubjectName:  "Ann",
		SubjectEmail: "ann@example.com",
		ExpiresAt:    time.Now().Add(time.Hour),
		Source:       "stub",
	}
}

func TestResolve_NoCredential(t *testing.T) {
	provider := &stubProvider{claims: validClaims()}
	r := NewSessionResolver(provider, stubRoles{}, logrus.New(), 0)

	id, err := r.Resolve(context.Background(), domain.Credential{})
	assert.NoError(t, err)
	assert.Nil(t, id)
	assert.Zero(t, provider.calls)
}

func TestResolve_DefaultRole(t *testing.T) {
	r := NewSessionResolver(&stubProvider{claims: validClaims()}, stubRoles{roles: map[string]domain.Role{}}, logrus.New(), 0)

	id, err := r.Resolve(context.Background(), cookie)
	require.NoError(t, err)
	require.NotNil(t, id)
	assert.Equal(t, domain.RoleUser, id.Role)
	assert.Equal(t, "u1", id.ID)
	assert.Equal(t, "s1", id.Session.ID)
	assert.Equal(t, "stub", id.Session.Source)
}

func TestResolve_StoredRole(t *testing.T) {
	roles := stubRoles{roles: map[string]domain.Role{"u1": domain.RoleAdmin}}
	r := NewSessionResolver(&stubProvider{claims: validClaims()}, roles, logrus.New(), 0)

	id, err := r.Resolve(context.Background(), cookie)
	require.NoError(t, err)
	assert.True(t, id.IsAdmin())

	// no caching: a role change is visible on the next call
	roles.roles["u1"] = domain.RoleUser
	id, err = r.Resolve(context.Background(), cookie)
	require.NoError(t, err)
	assert.False(t, id.IsAdmin())
}

func TestResolve_DeletedSubject(t *testing.T) {
	log, hook := newTestLogger()
	roles := stubRoles{deleted: map[string]bool{"u1": true}}
	r := NewSessionResolver(&stubProvider{claims: validClaims()}, roles, log, 0)

	id, err := r.Resolve(context.Background(), cookie)
	assert.NoError(t, err)
	assert.Nil(t, id)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
}

func TestResolve_UnknownSession(t *testing.T) {
	r := NewSessionResolver(&stubProvider{}, stubRoles{}, logrus.New(), 0)

	id, err := r.Resolve(context.Background(), cookie)
	assert.NoError(t, err)
	assert.Nil(t, id)
}

func TestResolve_ExpiredSession(t *testing.T) {
	claims := validClaims()
	claims.ExpiresAt = time.Now().Add(-time.Minute)
	r := NewSessionResolver(&stubProvider{claims: claims}, stubRoles{}, logrus.New(), 0)

	id, err := r.Resolve(context.Background(), cookie)
	assert.NoError(t, err)
	assert.Nil(t, id)
}

func TestResolve_ProviderErrorFailsClosed(t *testing.T) {
	log, hook := newTestLogger()
	r := NewSessionResolver(&stubProvider{claims: validClaims(), err: errors.New("connection refused")}, stubRoles{}, log, 0)

	id, err := r.Resolve(context.Background(), cookie)
	assert.ErrorIs(t, err, domain.ErrInternal)
	assert.Nil(t, id)
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
}

func TestResolve_ProviderTimeoutFailsClosed(t *testing.T) {
	provider := &stubProvider{claims: validClaims(), delay: time.Second}
	r := NewSessionResolver(provider, stubRoles{}, logrus.New(), 20*time.Millisecond)

	start := time.Now()
	id, err := r.Resolve(context.Background(), cookie)
	assert.ErrorIs(t, err, domain.ErrInternal)
	assert.Nil(t, id)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestResolve_RoleLookupErrorFailsClosed(t *testing.T) {
	r := NewSessionResolver(&stubProvider{claims: validClaims()}, stubRoles{err: errors.New("db down")}, logrus.New(), 0)

	id, err := r.Resolve(context.Background(), cookie)
	assert.ErrorIs(t, err, domain.ErrInternal)
	assert.Nil(t, id)
}

func TestResolve_DoesNotMutateClaims(t *testing.T) {
	claims := validClaims()
	r := NewSessionResolver(&stubProvider{claims: claims}, stubRoles{roles: map[string]domain.Role{"u1": domain.RoleAdmin}}, logrus.New(), 0)

	id, err := r.Resolve(context.Background(), cookie)
	require.NoError(t, err)
	id.Name = "changed"
	assert.Equal(t, "Ann", claims.SubjectName)
}
