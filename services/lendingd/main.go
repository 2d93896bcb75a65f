package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"lendcore/native/lending"
	"lendcore/observability/logging"
	"lendcore/services/lendingd/config"
	"lendcore/services/lendingd/oracle"
	"lendcore/services/lendingd/server"
	"lendcore/services/lendingd/store"
)

// staticPauses serves the boot-time pause list from configuration.
type staticPauses struct {
	modules map[string]bool
}

func newStaticPauses(modules []string) *staticPauses {
	paused := make(map[string]bool, len(modules))
	for _, module := range modules {
		paused[module] = true
	}
	return &staticPauses{modules: paused}
}

func (p *staticPauses) IsPaused(module string) bool {
	return p.modules[module]
}

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/lendingd/config.yaml", "path to lendingd config")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	env := cfg.Environment
	if env == "" {
		env = strings.TrimSpace(os.Getenv("LENDCORE_ENV"))
	}
	logger := logging.Setup("lendingd", env)

	params, err := config.LoadParams(cfg.ParamsPath)
	if err != nil {
		log.Fatalf("load lending params: %v", err)
	}

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}

	engine := lending.NewEngine(params.Curve())
	engine.SetState(st)
	engine.SetPriceSource(oracle.NewFeed(cfg.Oracle.BaseURL, time.Duration(cfg.Oracle.TimeoutSeconds)*time.Second))
	if len(cfg.PausedModules) > 0 {
		engine.SetPauses(newStaticPauses(cfg.PausedModules))
	}

	auth := server.NewAuthenticator(server.AuthConfig{
		Enabled:    cfg.Auth.Enabled,
		HMACSecret: cfg.Auth.HMACSecret,
		Issuer:     cfg.Auth.Issuer,
		Audience:   cfg.Auth.Audience,
	}, logger)
	limiter := server.NewRateLimiter(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.Burst)

	api := server.New(engine, logger)
	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           api.Router(auth, limiter),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("lendingd listening", "addr", cfg.ListenAddress)
		serverErr <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("forcing server stop", "err", err)
			_ = httpServer.Close()
		}
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("serve http: %v", err)
		}
	}
}
