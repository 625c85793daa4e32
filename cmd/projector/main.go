// Package main is the entry point of the projector.
//
// Usage:
//
//	projector               run the projection engine and the admin API
//	projector token [-subject name] [-ttl 12h]
//	                        print an operator token for the admin API
//
// Import Path: readmodel.dev/projector/cmd/projector
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"readmodel.dev/projector/internal/api/middleware"
	"readmodel.dev/projector/internal/app"
	"readmodel.dev/projector/internal/config"
	"readmodel.dev/projector/internal/pkg/logger"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if len(args) > 0 && args[0] == "token" {
		return mintToken(cfg, args[1:], stdout)
	}
	if len(args) > 0 {
		return fmt.Errorf("unknown command %q", args[0])
	}
	return serve(cfg)
}

func mintToken(cfg *config.Config, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	subject := fs.String("subject", "operator", "token subject")
	ttl := fs.Duration("ttl", cfg.Security.TokenLifetime, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}

	jwtCfg := app.NewJWTConfig(cfg)
	jwtCfg.ExpiresIn = *ttl
	token, expiresAt, err := middleware.GenerateToken(jwtCfg, *subject, []string{middleware.RoleOperator})
	if err != nil {
		return fmt.Errorf("generate token: %w", err)
	}
	_, err = fmt.Fprintf(stdout, "%s\n# expires %s\n", token, expiresAt.Format("2006-01-02T15:04:05Z07:00"))
	return err
}

func serve(cfg *config.Config) error {
	if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting projector",
		zap.Int("port", cfg.Server.Port),
		zap.String("log_level", cfg.Log.Level),
		zap.Strings("slots", cfg.Projection.Slots),
		zap.Bool("rebuild", cfg.Projection.Rebuild),
		zap.Bool("manual_poll", cfg.Projection.ManualPoll),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	application, err := app.Bootstrap(ctx, cfg)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	defer application.Shutdown()

	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("start background services: %w", err)
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      application.Router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	done, err := application.Pools.General.Go(ctx, func(context.Context) {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	})
	if err != nil {
		return fmt.Errorf("start http server: %w", err)
	}

	logger.Info("Server started", zap.String("addr", srv.Addr))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("Shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	logger.Info("Shutting down server...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	<-done

	logger.Info("Server stopped gracefully")
	return nil
}
