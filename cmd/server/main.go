// Command leaseflow-server runs the lease workflow gRPC API and the tenant signing portal.
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

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/and161185/leaseflow/internal/config"
	"github.com/and161185/leaseflow/internal/crypto"
	"github.com/and161185/leaseflow/internal/logging"
	"github.com/and161185/leaseflow/internal/migrate"
	"github.com/and161185/leaseflow/internal/notify"
	"github.com/and161185/leaseflow/internal/repository/postgres"
	grpcserver "github.com/and161185/leaseflow/internal/server/grpc"
	"github.com/and161185/leaseflow/internal/server/portal"
	"github.com/and161185/leaseflow/internal/service"
	"github.com/and161185/leaseflow/internal/signlink"
	"github.com/and161185/leaseflow/internal/workflow"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "leaseflow-server:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := logging.NewLogger(logging.Config{Component: "leaseflow-server", Level: cfg.LogLevel})
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("grpc_addr", cfg.GRPCAddr),
		zap.String("http_addr", cfg.HTTPAddr),
	)

	if err := workflow.Validate(); err != nil {
		return fmt.Errorf("transition table: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := migrate.Up(ctx, cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migrate up: %w", err)
	}
	db, err := postgres.New(ctx, postgres.PoolConfig{ConnString: cfg.DatabaseURL, MaxConns: cfg.DBMaxConns})
	if err != nil {
		return err
	}
	defer db.Close()
	store := postgres.NewStore(db)

	dispatcher := notify.NewDispatcher(logger.Named("notify"), notify.DispatcherConfig{
		Attempts: cfg.Dispatch.Attempts,
		Schedule: cfg.Dispatch.Backoff,
	}, transports(cfg, logger))

	// Services
	audit := service.NewAuditLog(store, nil)
	sm := service.NewStateMachine(store, audit, logger, nil)
	sm.Subscribe(service.NewNotifier(dispatcher, logger))
	approvals := service.NewApprovalService(store, sm, audit, nil)
	otp := service.NewOTPService(store, audit, dispatcher, cfg.OTPConfig(), nil, logger)
	links := signlink.New([]byte(cfg.SigningKey), cfg.PublicBaseURL)
	signingCfg := cfg.SigningConfig()
	if signingCfg.Sealer, err = crypto.NewSealer([]byte(cfg.SigningKey), "signature-data"); err != nil {
		return fmt.Errorf("signature sealer: %w", err)
	}
	signing := service.NewSigningService(store, sm, audit, otp, links, dispatcher, signingCfg, nil, logger)
	edits := service.NewEditTracker(store, audit, nil)
	disputes := service.NewDisputeService(store, sm, audit, edits, signing, nil, logger)

	// gRPC
	opts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(
			grpcserver.RecoverUnary(logger),
			grpcserver.AuthUnary(grpcserver.NewAuthenticator([]byte(cfg.JWTKey), nil)),
			grpcserver.LoggingUnary(logger),
		),
	}
	if cfg.TLSCert != "" {
		creds, err := credentials.NewServerTLSFromFile(cfg.TLSCert, cfg.TLSKey)
		if err != nil {
			return fmt.Errorf("load TLS cert/key: %w", err)
		}
		opts = append(opts, grpc.Creds(creds))
	}
	gs := grpc.NewServer(opts...)
	grpcserver.New(grpcserver.Services{
		Workflow:  sm,
		Approvals: approvals,
		OTP:       otp,
		Signing:   signing,
		Edits:     edits,
		Disputes:  disputes,
		Audit:     audit,
	}).Register(gs)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	if cfg.GRPCReflection {
		reflection.Register(gs)
	}

	// Tenant portal
	httpSrv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: portal.New(portal.Config{
			Signing:  signing,
			Disputes: disputes,
			Log:      logger.Named("portal"),
			Ping:     db.Ping,
			Timeout:  cfg.RequestTimeout,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("grpc listening", zap.String("addr", cfg.GRPCAddr), zap.Bool("tls", cfg.TLSCert != ""))
		return gs.Serve(lis)
	})
	g.Go(func() error {
		logger.Info("portal listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		hs.Shutdown()

		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		done := make(chan struct{})
		go func() {
			gs.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-sctx.Done():
			gs.Stop()
		}
		if err := httpSrv.Shutdown(sctx); err != nil {
			logger.Warn("portal shutdown", zap.Error(err))
		}
		if err := dispatcher.Close(sctx); err != nil {
			logger.Warn("notification retries abandoned", zap.Error(err))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("server error", zap.Error(err))
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

// transports picks a real gateway per channel when configured and logs otherwise.
func transports(cfg config.Config, logger *zap.Logger) map[notify.Channel]notify.Transport {
	out := map[notify.Channel]notify.Transport{
		notify.SMS:   notify.LogTransport{Log: logger, Channel: notify.SMS},
		notify.Email: notify.LogTransport{Log: logger, Channel: notify.Email},
	}
	at := notify.NewAfricasTalking(notify.AfricasTalkingConfig{
		APIKey:   cfg.SMS.APIKey,
		Username: cfg.SMS.Username,
		Sender:   cfg.SMS.Sender,
		URL:      cfg.SMS.APIURL,
	}, nil)
	if at.IsConfigured() {
		out[notify.SMS] = at
	} else {
		logger.Warn("SMS gateway not configured, messages are logged only")
	}
	mail := notify.NewSMTP(notify.SMTPConfig{
		Addr:     cfg.SMTP.Addr,
		From:     cfg.SMTP.From,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
	})
	if mail.IsConfigured() {
		out[notify.Email] = mail
	} else {
		logger.Warn("SMTP not configured, e-mail is logged only")
	}
	return out
}
