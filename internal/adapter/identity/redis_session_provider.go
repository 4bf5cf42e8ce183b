package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/port"
)

const (
	sessionKeyPrefix       = "session:"
	subjectKeyPrefix       = "session-subject:"
	defaultSessionCacheTTL = time.Minute
)

// RedisSessionProvider caches the claims of another provider in Redis, keyed
// by session token. Only positive results are cached, and never past the
// session's own expiry. Roles are not part of the cached value.
type RedisSessionProvider struct {
	client *redis.Client
	next   port.IdentityProvider
	ttl    time.Duration
	log    logrus.FieldLogger
	now    func() time.Time
}

func NewRedisSessionProvider(client *redis.Client, next port.IdentityProvider, ttl time.Duration, log logrus.FieldLogger) *RedisSessionProvider {
	if ttl <= 0 {
		ttl = defaultSessionCacheTTL
	}
	return &RedisSessionProvider{client: client, next: next, ttl: ttl, log: log, now: time.Now}
}

type cachedClaims struct {
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expires_at"`
}

func sessionKey(cred domain.Credential) string {
	return sessionKeyPrefix + string(cred.Kind) + ":" + cred.Value
}

// subjectKey names the set of cache keys held for one user.
func subjectKey(userID string) string {
	return subjectKeyPrefix + userID
}

func (p *RedisSessionProvider) ValidateCredential(ctx context.Context, cred domain.Credential) (*domain.SessionClaims, error) {
	key := sessionKey(cred)

	raw, err := p.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var c cachedClaims
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("decode cached session: %w", err)
		}
		if !c.ExpiresAt.After(p.now()) {
			return nil, nil
		}
		return &domain.SessionClaims{
			SessionID:    c.SessionID,
			SubjectID:    c.UserID,
			SubjectName:  c.Name,
			SubjectEmail: c.Email,
			ExpiresAt:    c.ExpiresAt,
			Source:       "redis",
		}, nil
	case !errors.Is(err, redis.Nil):
		return nil, fmt.Errorf("read cached session: %w", err)
	}

	claims, err := p.next.ValidateCredential(ctx, cred)
	if err != nil || claims == nil {
		return claims, err
	}

	ttl := p.ttl
	if remaining := claims.ExpiresAt.Sub(p.now()); remaining < ttl {
		ttl = remaining
	}
	if ttl > 0 {
		payload, err := json.Marshal(cachedClaims{
			SessionID: claims.SessionID,
			UserID:    claims.SubjectID,
			Name:      claims.SubjectName,
			Email:     claims.SubjectEmail,
			ExpiresAt: claims.ExpiresAt,
		})
		if err == nil {
			err = p.store(ctx, key, claims.SubjectID, payload, ttl)
		}
		if err != nil {
			// a failed cache write leaves the session valid
			p.log.WithError(err).WithField("user_id", claims.SubjectID).Debug("session cache write failed")
		}
	}
	return claims, nil
}

func (p *RedisSessionProvider) store(ctx context.Context, key, userID string, payload []byte, ttl time.Duration) error {
	index := subjectKey(userID)
	_, err := p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, payload, ttl)
		pipe.SAdd(ctx, index, key)
		pipe.Expire(ctx, index, p.ttl)
		return nil
	})
	return err
}

// RevokeSubject drops every cached session of userID.
func (p *RedisSessionProvider) RevokeSubject(ctx context.Context, userID string) error {
	index := subjectKey(userID)
	keys, err := p.client.SMembers(ctx, index).Result()
	if err != nil {
		return fmt.Errorf("list cached sessions: %w", err)
	}
	if err := p.client.Del(ctx, append(keys, index)...).Err(); err != nil {
		return fmt.Errorf("delete cached sessions: %w", err)
	}
	return nil
}

func (p *RedisSessionProvider) Revoke(ctx context.Context, cred domain.Credential) error {
	if err := p.client.Del(ctx, sessionKey(cred)).Err(); err != nil {
		return fmt.Errorf("delete cached session: %w", err)
	}
	if r, ok := p.next.(port.SessionRevoker); ok {
		return r.Revoke(ctx, cred)
	}
	return nil
}
