package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"clinical-consent/internal/app"
	"clinical-consent/internal/domain/consent"
	"clinical-consent/internal/platform/config"
	"clinical-consent/internal/platform/metrics"
	"clinical-consent/internal/router"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONSENT_CONFIG"), "ruta al YAML de config (opcional)")
	flag.Parse()

	_ = godotenv.Load(".env")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logg := app.Logger(cfg)
	if s, ok := logg.(interface{ Sync() error }); ok {
		defer func() { _ = s.Sync() }()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := app.OpenDB(ctx, cfg, logg)
	if err != nil {
		logg.Error("storage init failed", map[string]any{"err": err})
		os.Exit(1)
	}
	if db != nil {
		defer db.Close()
	}

	verifier, err := app.Verifier(cfg)
	if err != nil {
		logg.Error("auth verifier init failed", map[string]any{"err": err})
		os.Exit(1)
	}

	limiter, closeLimiter, err := app.Limiter(ctx, cfg, logg)
	if err != nil {
		logg.Error("rate limiter init failed", map[string]any{"err": err})
		os.Exit(1)
	}
	defer closeLimiter()

	notifier, err := app.Notifier(cfg, logg)
	if err != nil {
		logg.Error("notifier init failed", map[string]any{"err": err})
		os.Exit(1)
	}

	opts := router.Options{
		AuthVerifier:     verifier,
		DB:               db,
		Logger:           logg,
		Metrics:          metrics.New(),
		Notifier:         notifier,
		Limiter:          limiter,
		AuditDedupWindow: cfg.Audit.DedupWindow,
		NotifyTimeout:    cfg.Notify.Timeout,
	}
	// El sweeper comparte el servicio con el router.
	svc := router.BuildService(opts)
	opts.Service = svc

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router.NewRouter(opts),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logg.Info("starting server", map[string]any{"addr": cfg.Server.Addr, "auth_mode": cfg.Auth.Mode})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if !cfg.Sweeper.Disabled {
		sweeper := consent.NewSweeper(svc, cfg.Sweeper.Interval, cfg.Sweeper.Batch)
		g.Go(func() error { return sweeper.Run(gctx) })
	}

	// graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		logg.Info("shutting down", nil)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logg.Error("server stopped with error", map[string]any{"err": err})
	}

	// Notificaciones en vuelo terminan antes de cerrar la DB.
	svc.Wait()
	logg.Info("stopped", nil)
}
