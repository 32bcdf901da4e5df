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

	"github.com/avast/retry-go/v4"
	"github.com/sethvargo/go-password/password"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"opsconsole.dev/internal/audit"
	"opsconsole.dev/internal/auth"
	"opsconsole.dev/internal/config"
	"opsconsole.dev/internal/httpapi"
	"opsconsole.dev/internal/obs"
	"opsconsole.dev/internal/resources"
	"opsconsole.dev/internal/resources/awsprovider"
	"opsconsole.dev/internal/store/memory"
	"opsconsole.dev/internal/store/pg"
)

var (
	version = "dev"
	commit  = "none"
)

type store interface {
	auth.Store
	Close() error
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "opsconsole: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := obs.NewLogger(obs.LogOptions{
		Development: cfg.IsLocal(),
		Level:       cfg.LogLevel,
		File:        cfg.LogFile,
	})
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	obs.SetLogger(logger)
	obs.Init(version, commit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	hasher, err := auth.NewHasher(cfg.Pepper, cfg.BcryptCost)
	if err != nil {
		return err
	}
	svc, err := auth.NewService(st, hasher,
		auth.WithSessionSecret(cfg.SessionSecret),
		auth.WithSessionTTL(cfg.SessionTTL),
		auth.WithInvitationTTL(cfg.InvitationTTL),
		auth.WithAuditor(audit.NewRecorder(st, logger)),
		auth.WithLogger(logger),
	)
	if err != nil {
		return err
	}
	if err := bootstrapAdmin(ctx, svc, cfg, logger); err != nil {
		return err
	}

	api := httpapi.New(svc, newResources(cfg, logger), httpapi.Options{
		Version:      version,
		CookieSecure: cfg.CookieSecure,
		RateBurst:    cfg.RateBurst,
		RatePerSec:   cfg.RatePerSec,
		MaxBodyBytes: cfg.MaxBodyBytes,
		Logger:       logger,

		TrustedProxies: cfg.TrustedProxies,
	})
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	p := pool.New().WithContext(ctx).WithCancelOnError()
	p.Go(func(ctx context.Context) error {
		logger.Info("http_listening", zap.String("addr", srv.Addr), zap.String("version", version))
		errCh := make(chan error, 1)
		go func() { errCh <- srv.ListenAndServe() }()
		select {
		case err := <-errCh:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return fmt.Errorf("http listen: %w", err)
		case <-ctx.Done():
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if cfg.GRPCAddr != "" {
		p.Go(func(ctx context.Context) error {
			lis, err := net.Listen("tcp", cfg.GRPCAddr)
			if err != nil {
				return fmt.Errorf("grpc listen: %w", err)
			}
			gs := grpc.NewServer()
			httpapi.NewHealthServer(svc).Register(gs)
			go func() {
				<-ctx.Done()
				gs.GracefulStop()
			}()
			logger.Info("grpc_listening", zap.String("addr", cfg.GRPCAddr))
			if err := gs.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return fmt.Errorf("grpc serve: %w", err)
			}
			return nil
		})
	}

	err = p.Wait()
	logger.Info("stopped")
	return err
}

// openStore connects to PostgreSQL, retrying the first ping while the database comes up.
// Local runs without a DSN use the in-memory store.
func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (store, error) {
	if cfg.DatabaseDSN == "" {
		logger.Warn("using in-memory store; data is lost on restart")
		return memoryStore{memory.New(memory.WithLogger(logger))}, nil
	}
	st, err := pg.Open(cfg.DatabaseDSN, pg.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	err = retry.Do(
		func() error { return st.Ping(ctx) },
		retry.Context(ctx),
		retry.Attempts(6),
		retry.Delay(500*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			logger.Warn("db_ping_retry", zap.Uint("attempt", n+1), zap.Error(err))
		}),
	)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("database unreachable: %w", err)
	}
	return st, nil
}

type memoryStore struct{ *memory.Store }

func (memoryStore) Close() error { return nil }

// bootstrapAdmin creates the "admin" account on first boot. A generated password is
// logged exactly once.
func bootstrapAdmin(ctx context.Context, svc *auth.Service, cfg config.Config, logger *zap.Logger) error {
	pass := cfg.AdminPassword
	generated := pass == ""
	if generated {
		var err error
		if pass, err = password.Generate(24, 6, 0, false, true); err != nil {
			return fmt.Errorf("generate admin password: %w", err)
		}
	}
	created, err := svc.EnsureAdmin(ctx, cfg.AdminEmail, pass)
	if err != nil {
		return fmt.Errorf("bootstrap admin: %w", err)
	}
	if !created {
		return nil
	}
	fields := []zap.Field{zap.String("username", auth.AdminUsername), zap.String("email", cfg.AdminEmail)}
	if generated {
		fields = append(fields, zap.String("password", pass))
	}
	logger.Warn("admin_bootstrapped", fields...)
	return nil
}

func newResources(cfg config.Config, logger *zap.Logger) *resources.Service {
	catalog := resources.NewCatalog(cfg.AWSRegions)
	if cfg.ResourceProvider == config.ProviderCatalog {
		return resources.NewService(cfg.AWSRegions, catalog, catalog, logger)
	}
	live, err := awsprovider.New(cfg.AWSRegions)
	if err != nil {
		logger.Warn("aws_provider_unavailable", zap.Error(err))
		return resources.NewService(cfg.AWSRegions, nil, catalog, logger)
	}
	return resources.NewService(cfg.AWSRegions, live, catalog, logger)
}
