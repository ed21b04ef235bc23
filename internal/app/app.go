// Package app arma las dependencias compartidas por los binarios a partir de
// la config: base de datos, verificador de identidad, rate limiter y notifier.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	rdb "github.com/redis/go-redis/v9"

	"clinical-consent/internal/adapters/auth/jwtverify"
	"clinical-consent/internal/adapters/auth/odin"
	"clinical-consent/internal/adapters/notify/lognotify"
	"clinical-consent/internal/adapters/notify/webhook"
	pg "clinical-consent/internal/adapters/storage/postgres"
	"clinical-consent/internal/platform/config"
	"clinical-consent/internal/platform/logger"
	"clinical-consent/internal/platform/ratelimit"
	"clinical-consent/internal/ports/auth"
	"clinical-consent/internal/ports/notify"
)

// Logger arma el logger zap a partir de la config.
func Logger(cfg *config.Config) logger.Logger {
	return logger.New(logger.Options{
		Level:  logger.ParseLevel(cfg.Log.Level),
		Format: logger.ParseFormat(cfg.Log.Format),
		App:    cfg.App.Name,
	})
}

// OpenDB abre Postgres si hay DSN; nil sin DSN (store in-memory).
// Con migrate_on_start aplica las migraciones pendientes.
func OpenDB(ctx context.Context, cfg *config.Config, log logger.Logger) (*sql.DB, error) {
	if cfg.Storage.DSN == "" {
		log.Warn("no DB_DSN configured, using in-memory store", nil)
		return nil, nil
	}
	db, err := pg.Open(cfg.Storage.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if cfg.Storage.MigrateOnStart {
		res, err := pg.Migrate(ctx, db)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		log.Info("migrations applied", map[string]any{"applied": res.Applied, "skipped": res.Skipped})
	}
	return db, nil
}

// Verifier devuelve nil en modo dev (AuthContext acepta headers de debug).
func Verifier(cfg *config.Config) (auth.AuthVerifier, error) {
	switch cfg.Auth.Mode {
	case config.AuthModeOdin:
		c, err := odin.NewClient(odin.Config{
			BaseURL:      cfg.Auth.Odin.BaseURL,
			APIKey:       cfg.Auth.Odin.APIKey,
			APIKeyHeader: cfg.Auth.Odin.APIKeyHeader,
			Timeout:      cfg.Auth.Odin.Timeout,
		})
		if err != nil {
			return nil, err
		}
		return odin.NewVerifier(c, cfg.Auth.Odin.CacheTTL), nil
	case config.AuthModeJWT:
		v, err := jwtverify.New(jwtverify.Config{
			Secret:   cfg.Auth.JWT.Secret,
			Issuer:   cfg.Auth.JWT.Issuer,
			Audience: cfg.Auth.JWT.Audience,
			Leeway:   cfg.Auth.JWT.Leeway,
		})
		if err != nil {
			return nil, err
		}
		return v, nil
	default:
		return nil, nil
	}
}

// Limiter elige Redis si hay REDIS_ADDR (límite compartido entre réplicas),
// si no un limiter en memoria. El cleanup cierra el cliente Redis.
func Limiter(ctx context.Context, cfg *config.Config, log logger.Logger) (ratelimit.Limiter, func(), error) {
	if cfg.Rate.Claim.Limit == 0 {
		return nil, func() {}, nil
	}
	if cfg.Redis.Addr == "" {
		return ratelimit.NewMemoryLimiter(cfg.Rate.Claim.Limit, cfg.Rate.Claim.Window), func() {}, nil
	}

	client := rdb.NewClient(&rdb.Options{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("redis ping: %w", err)
	}
	log.Info("claim rate limit backed by redis", map[string]any{"addr": cfg.Redis.Addr})
	lim := ratelimit.NewRedisLimiter(client, cfg.Redis.Prefix, cfg.Rate.Claim.Limit, cfg.Rate.Claim.Window)
	return lim, func() { _ = client.Close() }, nil
}

// Notifier usa el webhook si está configurado; si no, solo loguea.
func Notifier(cfg *config.Config, log logger.Logger) (notify.Notifier, error) {
	if cfg.Notify.Webhook.URL == "" {
		return lognotify.New(log), nil
	}
	n, err := webhook.New(webhook.Config{
		URL:     cfg.Notify.Webhook.URL,
		Secret:  cfg.Notify.Webhook.Secret,
		Timeout: cfg.Notify.Timeout,
	})
	if err != nil {
		return nil, err
	}
	return n, nil
}
