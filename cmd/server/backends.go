package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/rl1809/stock-ledger/internal/adapter/identity"
	"github.com/rl1809/stock-ledger/internal/adapter/storage"
	"github.com/rl1809/stock-ledger/internal/config"
	"github.com/rl1809/stock-ledger/internal/port"
)

// backends are the stateful dependencies selected by configuration.
type backends struct {
	store       port.Store
	roles       port.RoleStore
	sessions    port.IdentityProvider
	idempotency port.IdempotencyStore

	db  *sqlx.DB
	rdb *redis.Client
}

func openMySQL(ctx context.Context, cfg *config.Config) (*sqlx.DB, error) {
	db, err := sqlx.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxDBConnections)
	db.SetMaxIdleConns(cfg.MaxDBConnections / 2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}
	return db, nil
}

func openBackends(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (*backends, error) {
	b := &backends{}

	switch cfg.StoreDriver {
	case config.StoreMySQL:
		db, err := openMySQL(ctx, cfg)
		if err != nil {
			return nil, err
		}
		log.Info("connected to mysql")
		mysqlStore := storage.NewMySQLAdapter(db)
		b.db = db
		b.store = mysqlStore
		b.roles = mysqlStore
		b.sessions = identity.NewSQLSessionProvider(db, cfg.Session.CookieSecret)
	default:
		log.Warn("using the in-memory store; data is lost on exit")
		mem := storage.NewMemoryAdapter()
		b.store = mem
		b.roles = mem
		b.sessions = mem
	}

	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			PoolSize: 100,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			b.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		log.Info("connected to redis")
		b.rdb = rdb
		b.idempotency = storage.NewRedisAdapter(rdb, cfg.IdempotencyTTL)
		b.sessions = identity.NewRedisSessionProvider(rdb, b.sessions, cfg.Session.CacheTTL, log)
	}

	return b, nil
}

func (b *backends) Close() error {
	var errs []error
	if b.rdb != nil {
		errs = append(errs, b.rdb.Close())
	}
	if b.db != nil {
		errs = append(errs, b.db.Close())
	}
	return errors.Join(errs...)
}

// newTokenProvider builds the bearer token provider. Without JWT_SECRET a
// random key is used, so issued tokens die with the process.
func newTokenProvider(cfg *config.Config, log logrus.FieldLogger) (*identity.JWTProvider, error) {
	secret := cfg.Session.JWTSecret
	if secret == "" {
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			return nil, fmt.Errorf("generate jwt secret: %w", err)
		}
		secret = hex.EncodeToString(buf)
		log.Warn("JWT_SECRET is not set; using an ephemeral signing key")
	}
	return identity.NewJWTProvider(secret, cfg.Session.JWTTTL)
}
