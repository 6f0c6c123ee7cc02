package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"kudos/api/internal/app"
	"kudos/api/internal/config"
	"kudos/api/internal/identity"
	"kudos/api/internal/logging"
	"kudos/api/internal/push"
	"kudos/api/internal/store"
)

func main() {
	logging.Setup()
	cfg := config.Load()
	ctx := context.Background()

	var (
		dataStore store.Store
		err       error
	)
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		slog.Info("using postgres store", "url", cfg.DatabaseURL)
		dataStore, err = store.OpenPostgres(ctx, cfg.DatabaseURL)
	} else {
		slog.Info("using redis store")
		dataStore, err = store.NewRedisStore(cfg.RedisURL)
	}
	if err != nil {
		slog.Error("store connection failed", "error", err)
		os.Exit(1)
	}
	defer dataStore.Close()

	dispatcher, err := push.NewDispatcher(cfg.APNSCertPath, cfg.APNSCertPassword, cfg.APNSTopic, cfg.APNSSandbox)
	if err != nil {
		slog.Error("push dispatcher setup failed", "error", err)
		os.Exit(1)
	}

	verifier := identity.NewFacebookVerifier(cfg.FacebookGraphURL)
	service := app.New(cfg, dataStore, verifier, dispatcher)

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		slog.Info("kudos API listening", "addr", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
}
