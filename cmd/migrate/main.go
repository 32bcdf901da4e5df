package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"opsconsole.dev/internal/auth"
	"opsconsole.dev/internal/config"
	"opsconsole.dev/internal/migrate"
	"opsconsole.dev/internal/obs"
	"opsconsole.dev/internal/store/pg"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flag.Usage = func() {
		fmt.Fprintln(flag.CommandLine.Output(), "usage: migrate [up|down|status|seed]")
		flag.PrintDefaults()
	}
	timeout := flag.Duration("timeout", time.Minute, "overall deadline")
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		return fmt.Errorf("expected exactly one command")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.DatabaseDSN == "" {
		return fmt.Errorf("OPSCONSOLE_PG_DSN is required")
	}
	logger, err := obs.NewLogger(obs.LogOptions{Development: cfg.IsLocal(), Level: cfg.LogLevel})
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	st, err := pg.Open(cfg.DatabaseDSN, pg.WithLogger(logger))
	if err != nil {
		return err
	}
	defer st.Close()
	mgr, err := migrate.NewManager(st.DB())
	if err != nil {
		return err
	}

	switch cmd := flag.Arg(0); cmd {
	case "up":
		applied, err := mgr.Up(ctx)
		if err != nil {
			return err
		}
		logger.Info("migrations_applied", zap.Int64s("versions", applied))
	case "down":
		version, err := mgr.Down(ctx)
		if err != nil {
			return err
		}
		logger.Info("migration_rolled_back", zap.Int64("version", version))
	case "status":
		statuses, err := mgr.Status(ctx)
		if err != nil {
			return err
		}
		for _, s := range statuses {
			applied := "pending"
			if s.Applied {
				applied = s.AppliedAt.UTC().Format(time.RFC3339)
			}
			fmt.Printf("%05d  %-40s  %s\n", s.Version, s.Path, applied)
		}
		version, err := mgr.Version(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("current version: %d\n", version)
	case "seed":
		return seed(ctx, st, cfg, logger)
	default:
		flag.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
	return nil
}

// seed creates the bootstrap admin. It requires an explicit password so nothing secret
// is generated outside the API process.
func seed(ctx context.Context, st *pg.Store, cfg config.Config, logger *zap.Logger) error {
	if cfg.AdminPassword == "" {
		return fmt.Errorf("OPSCONSOLE_ADMIN_PASSWORD is required for seed")
	}
	hasher, err := auth.NewHasher(cfg.Pepper, cfg.BcryptCost)
	if err != nil {
		return err
	}
	svc, err := auth.NewService(st, hasher, auth.WithLogger(logger))
	if err != nil {
		return err
	}
	created, err := svc.EnsureAdmin(ctx, cfg.AdminEmail, cfg.AdminPassword)
	if err != nil {
		return err
	}
	logger.Info("seed_complete", zap.Bool("admin_created", created))
	return nil
}
