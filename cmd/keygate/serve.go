// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keygate Contributors

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/keygate/keygate/internal/auth"
	"github.com/keygate/keygate/internal/auth/federation"
	authpg "github.com/keygate/keygate/internal/auth/postgres"
	"github.com/keygate/keygate/internal/config"
	"github.com/keygate/keygate/internal/httpapi"
	"github.com/keygate/keygate/internal/logging"
	"github.com/keygate/keygate/internal/mail"
	"github.com/keygate/keygate/internal/observability"
	"github.com/keygate/keygate/internal/store"
	"github.com/keygate/keygate/pkg/errutil"
)

const shutdownTimeout = 5 * time.Second

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	var autoMigrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the authentication API server",
		Long: `Start the HTTP API server, connecting to PostgreSQL and serving
authentication endpoints plus a metrics/health endpoint.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configFile, cmd.Flags())
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg, autoMigrate)
		},
	}

	cmd.Flags().String("listen_addr", config.DefaultListenAddr, "API listen address")
	cmd.Flags().String("metrics_addr", config.DefaultMetricsAddr, "metrics/health HTTP address (empty = disabled)")
	cmd.Flags().String("log_format", config.DefaultLogFormat, "log format (json or text)")
	cmd.Flags().BoolVar(&autoMigrate, "auto-migrate", false, "run pending database migrations before serving")

	return cmd
}

func runServe(ctx context.Context, cfg *config.Config, autoMigrate bool) error {
	logging.SetDefault("keygate", version, cfg.LogFormat)
	logger := slog.Default()

	logger.Info("starting keygate",
		"listen_addr", cfg.ListenAddr,
		"metrics_addr", cfg.MetricsAddr,
		"log_format", cfg.LogFormat,
	)

	if autoMigrate {
		migrator, err := store.NewMigrator(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		if err := migrator.Up(); err != nil {
			_ = migrator.Close()
			return err
		}
		if err := migrator.Close(); err != nil {
			logger.Warn("error closing migrator", "error", err)
		}
		logger.Info("database migrations applied")
	}

	pool, err := store.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	logger.Info("connected to database")

	tokens, err := auth.NewTokenIssuer([]byte(cfg.Auth.TokenSecret), cfg.Auth.TokenLifetime)
	if err != nil {
		return err
	}

	sender, err := buildSender(cfg, logger)
	if err != nil {
		return err
	}

	var resolver auth.FederationResolver
	if cfg.Auth.GoogleClientID != "" || cfg.Auth.AppleClientID != "" {
		resolver = federation.NewResolver(federation.Config{
			GoogleClientID:    cfg.Auth.GoogleClientID,
			AppleClientID:     cfg.Auth.AppleClientID,
			AppleClientSecret: cfg.Auth.AppleClientSecret,
		})
	}

	engine, err := auth.NewEngine(auth.EngineParams{
		Accounts: authpg.NewAccountRepository(pool),
		Hasher:   auth.NewArgon2idHasher(),
		Tokens:   tokens,
		Sender:   sender,
		Resolver: resolver,
		Codes:    auth.CodeGenerator{TTL: cfg.Auth.CodeTTL},
		Lockout: auth.LockoutPolicy{
			Threshold: cfg.Auth.LockoutThreshold,
			Duration:  cfg.Auth.LockoutDuration,
		},
		Passwords: auth.PasswordPolicy{
			MinLength:      cfg.Auth.PasswordMinLength,
			RequireDigit:   cfg.Auth.PasswordRequireDigit,
			RequireUpper:   cfg.Auth.PasswordRequireUpper,
			RequireLower:   cfg.Auth.PasswordRequireLower,
			RequireSpecial: cfg.Auth.PasswordRequireSpecial,
		},
		EmailPattern:         cfg.EmailRegexp(),
		VerificationRequired: cfg.Auth.VerificationRequired,
		Logger:               logger,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var metrics *observability.Metrics
	var obsServer *observability.Server
	if cfg.MetricsAddr != "" {
		obsServer = observability.NewServer(cfg.MetricsAddr, func() bool {
			pingCtx, pingCancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer pingCancel()
			return pool.Ping(pingCtx) == nil
		})
		obsErrCh, err := obsServer.Start()
		if err != nil {
			return err
		}
		go monitorServerErrors(ctx, cancel, obsErrCh, "observability")
		metrics = obsServer.Metrics()
	}

	apiServer, err := httpapi.NewServer(httpapi.Params{
		Addr:    cfg.ListenAddr,
		Engine:  engine,
		Tokens:  tokens,
		Metrics: metrics,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	apiErrCh, err := apiServer.Start()
	if err != nil {
		if obsServer != nil {
			stopObservability(obsServer, logger)
		}
		return err
	}
	go monitorServerErrors(ctx, cancel, apiErrCh, "api")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	logger.Info("keygate ready", "addr", apiServer.Addr())

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	}

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := apiServer.Stop(shutdownCtx); err != nil {
		errutil.LogError(logger, "error stopping api server", err)
	}
	if obsServer != nil {
		if err := obsServer.Stop(shutdownCtx); err != nil {
			errutil.LogError(logger, "error stopping observability server", err)
		}
	}

	logger.Info("shutdown complete")
	return nil
}

// buildSender selects the code delivery mechanism. Without an SMTP host the
// log-only sender is used, which is unsuitable for production.
func buildSender(cfg *config.Config, logger *slog.Logger) (auth.CodeSender, error) {
	if cfg.SMTP.Host == "" {
		logger.Warn("smtp host not configured, verification codes will be logged")
		return mail.NewLogSender(logger), nil
	}
	sender, err := mail.NewSMTPSender(mail.SMTPParams{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
	})
	if err != nil {
		return nil, oops.With("operation", "configure smtp sender").Wrap(err)
	}
	return sender, nil
}

// stopObservability stops the observability server during startup cleanup.
func stopObservability(server *observability.Server, logger *slog.Logger) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Warn("failed to stop observability server during cleanup", "error", err)
	}
}

// monitorServerErrors cancels the context when a server reports an error,
// triggering graceful shutdown of the whole process. Exits when the channel
// closes or the context is cancelled.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}
