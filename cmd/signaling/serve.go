package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mossy-p/signconnect/internal/auth"
	"github.com/mossy-p/signconnect/internal/handlers"
	"github.com/mossy-p/signconnect/internal/persistence"
	"github.com/mossy-p/signconnect/internal/presence"
	"github.com/mossy-p/signconnect/internal/signaling"
	"github.com/mossy-p/signconnect/internal/store"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the relay and the REST API (default)",
		Args:  cobra.NoArgs,
		RunE:  serve,
	}
}

func serve(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := store.Open(cfg.Database, logger)
	if err != nil {
		return err
	}
	defer s.Close()

	bridge := persistence.New(s, cfg.Persistence, logger)
	opts := []signaling.Option{signaling.WithRecorder(bridge)}

	var mirror *presence.Mirror
	if cfg.Redis.Enabled() {
		mirror, err = presence.Connect(ctx, cfg.Redis, logger)
		if err != nil {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}
		defer mirror.Close()
		opts = append(opts, signaling.WithPresence(mirror))
	} else {
		logger.Warn("REDIS_HOST is empty, presence mirror disabled")
	}

	hub := signaling.NewHub(cfg.Relay, logger, opts...)

	deps := handlers.Deps{
		AllowedOrigins: cfg.AllowedOrigins,
		Store:          s,
		Tokens:         auth.NewTokenService(cfg.JWTSecret, cfg.JWTExpiry),
		Hub:            hub,
		Cache:          bridge,
		Logger:         logger,
	}
	verifiers := auth.Chain{deps.Tokens}
	if cfg.OIDC.Issuer != "" {
		oidcVerifier, err := auth.NewOIDCVerifier(ctx, cfg.OIDC.Issuer, cfg.OIDC.ClientID)
		if err != nil {
			return err
		}
		verifiers = append(verifiers, oidcVerifier)
		logger.Info("accepting OIDC tokens", "issuer", cfg.OIDC.Issuer)
	}
	deps.Verifier = verifiers

	if mirror != nil {
		deps.Occupancy = mirror
		refresher, err := mirror.StartRefresh(cfg.Redis.Refresh, cfg.Persistence.Timeout, hub.Tracker().Snapshot)
		if err != nil {
			return fmt.Errorf("invalid PRESENCE_REFRESH %q: %w", cfg.Redis.Refresh, err)
		}
		defer refresher.Stop()
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handlers.NewRouter(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting WebRTC signaling server", "port", cfg.Port, "environment", cfg.Environment)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shut down http server", "error", err)
	}
	if err := bridge.Close(shutdownCtx); err != nil {
		logger.Error("failed to drain persistence queue", "error", err)
	}
	logger.Info("stopped", "persist_dropped", bridge.Dropped(), "persist_failed", bridge.Failed())
	return nil
}
