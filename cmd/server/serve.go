package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/rl1809/stock-ledger/internal/adapter/authz"
	"github.com/rl1809/stock-ledger/internal/adapter/handler"
	"github.com/rl1809/stock-ledger/internal/adapter/identity"
	"github.com/rl1809/stock-ledger/internal/core/service"
)

const (
	shutdownTimeout     = 10 * time.Second
	limiterCleanupEvery = time.Minute
	auditQueuePerWorker = 64
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and gRPC servers and the ledger auditor",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx)
	},
}

func serve(ctx context.Context) error {
	b, err := openBackends(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer b.Close()

	tokens, err := newTokenProvider(cfg, logger)
	if err != nil {
		return err
	}
	enforcer, err := authz.NewEnforcer()
	if err != nil {
		return err
	}

	// bearer tokens first, then the session store
	sessions := identity.Chain{tokens, b.sessions}

	stock := service.NewStockService(b.store, logger, cfg.RequestTimeout)
	cascade := service.NewCascadeService(b.store, logger, cfg.RequestTimeout).WithSubjectRevokers(sessions)
	listing := service.NewListingService(b.store, cfg.RequestTimeout)
	users := service.NewUserService(b.store, b.roles, identity.NewPBKDF2Hasher(), tokens, logger, cfg.RequestTimeout)
	resolver := service.NewSessionResolver(sessions, b.roles, logger, cfg.ProviderTimeout)

	auditor := service.NewAuditor(b.store, stock, logger, cfg.AuditWorkers*auditQueuePerWorker)
	auditor.Start(cfg.AuditWorkers)
	defer auditor.Close()

	limiter := handler.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, logger)
	limiter.StartCleanup(ctx, limiterCleanupEvery)

	opts := handler.RouterOptions{
		Handler: handler.NewHTTPHandler(handler.HandlerDeps{
			Stock:      stock,
			Cascade:    cascade,
			Listing:    listing,
			Users:      users,
			Resolver:   resolver,
			Authz:      enforcer,
			Revoker:    sessions,
			CookieName: cfg.Session.CookieName,
			Log:        logger,
		}),
		Idempotency:    b.idempotency,
		RateLimiter:    limiter,
		AllowedOrigins: cfg.AllowedOrigins,
		Log:            logger,
	}

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler.NewRouter(opts),
		ReadHeaderTimeout: 5 * time.Second,
	}

	grpcServer := grpc.NewServer(
		grpc.ForceServerCodec(handler.JSONCodec{}),
		grpc.UnaryInterceptor(handler.AuthInterceptor(resolver, enforcer, cfg.Session.CookieName, logger)),
	)
	handler.RegisterInventoryServer(grpcServer, handler.NewGRPCHandler(stock, cascade, listing))

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.WithField("addr", cfg.HTTPAddr).Info("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		logger.WithField("addr", cfg.GRPCAddr).Info("gRPC server listening")
		if err := grpcServer.Serve(lis); err != nil {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		logger.WithFields(logrus.Fields{
			"interval": cfg.AuditInterval.String(),
			"workers":  cfg.AuditWorkers,
		}).Info("ledger auditor started")
		auditor.Run(gctx, cfg.AuditInterval)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("HTTP shutdown")
		}
		grpcServer.GracefulStop()
		logger.Info("servers stopped")
		return nil
	})

	return g.Wait()
}
