package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ghhufue/chatrelay/pkg/api"
	"github.com/ghhufue/chatrelay/pkg/auth"
	"github.com/ghhufue/chatrelay/pkg/banner"
	"github.com/ghhufue/chatrelay/pkg/config"
	"github.com/ghhufue/chatrelay/pkg/logger"
	"github.com/ghhufue/chatrelay/pkg/presence"
	"github.com/ghhufue/chatrelay/pkg/relay"
	"github.com/ghhufue/chatrelay/pkg/reply"
	"github.com/ghhufue/chatrelay/pkg/session"
	"github.com/ghhufue/chatrelay/pkg/shutdown"
	"github.com/ghhufue/chatrelay/pkg/store"
)

// version is set via ldflags during release builds.
var version = "dev"

func main() {
	_ = godotenv.Load(".env")
	addrVal, dbVal, cfgVal, setFlags := config.ParseCommandFlags()

	cfg, envUsed, err := config.LoadEffective(cfgVal)
	if err != nil {
		shutdown.Abort("failed to load config", err, "", 0)
	}
	// explicit flags win over config/env
	addr := cfg.Addr()
	if setFlags["addr"] {
		addr = addrVal
	}
	dbPath := cfg.Server.DBPath
	if setFlags["db"] || dbPath == "" {
		dbPath = dbVal
	}

	logger.InitWithLevel(cfg.Logging.Level)
	if envUsed {
		logger.Info("config_env_overrides_applied")
	}

	rc, err := config.BuildRuntime(cfg)
	if err != nil {
		shutdown.Abort("invalid configuration", err, dbPath, 0)
	}
	config.SetRuntime(rc)

	if err := store.Open(dbPath); err != nil {
		shutdown.Abort("failed to open pebble", err, dbPath, 0)
	}

	registry := presence.NewRegistry()
	directory := auth.NewDirectory(rc.TokenSecret)

	var generator reply.Generator
	if cfg.Reply.Endpoint != "" {
		generator = reply.NewClient(cfg.Reply.Endpoint, cfg.Reply.Model, cfg.Reply.APIKey)
	} else {
		generator = reply.Canned{Reply: "Sorry, I have nothing to say right now."}
	}
	engine := relay.NewEngine(registry, directory, generator, cfg.Reply.Timeout.Duration())
	friends := relay.NewFriends(registry, directory)

	limits := session.Limits{
		RPS:   cfg.Security.RateLimit.RPS,
		Burst: cfg.Security.RateLimit.Burst,
	}
	a := &api.API{
		Registry:  registry,
		Directory: directory,
		Engine:    engine,
		Friends:   friends,
		TokenTTL:  cfg.Auth.TokenTTL.Duration(),
		Limits:    limits,
	}

	r := mux.NewRouter()
	a.Register(r)
	r.Handle("/metrics", promhttp.Handler())

	banner.Print(cfg, version)

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		cert, key := cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile
		if cert != "" && key != "" {
			errCh <- srv.ListenAndServeTLS(cert, key)
		} else {
			errCh <- srv.ListenAndServe()
		}
	}()
	logger.Info("server_started", "addr", addr, "db", dbPath, "version", version)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("signal_received", "signal", sig.String())
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("http_shutdown_failed", "error", err)
		}
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			if cerr := store.Close(); cerr != nil {
				logger.Error("store_close_failed", "error", cerr)
			}
			shutdown.Abort("http server failed", err, dbPath, 0)
		}
	}

	if err := store.Close(); err != nil {
		logger.Error("store_close_failed", "error", err)
	}
	logger.Info("server_stopped")
}
