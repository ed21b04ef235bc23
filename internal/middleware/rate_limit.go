package middleware

import (
	"net"
	"net/http"
	"strconv"
	"strings"

	"clinical-consent/internal/platform/logger"
	"clinical-consent/internal/platform/ratelimit"
)

type RateLimitOptions struct {
	Limiter ratelimit.Limiter
	// Scope etiqueta la key y la métrica (ej: "claim").
	Scope string
	// OnLimited se llama en cada 429 (métricas). Opcional.
	OnLimited func(scope string)
	Log       logger.Logger
}

// RateLimit limita por usuario autenticado, o por IP si no hay claims.
// Si el limiter falla se deja pasar el request (fail-open) y se loguea.
func RateLimit(opts RateLimitOptions) func(http.Handler) http.Handler {
	log := opts.Log
	if log == nil {
		log = logger.Nop()
	}
	return func(next http.Handler) http.Handler {
		if opts.Limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := opts.Scope + ":" + clientKey(r)

			res, err := opts.Limiter.Allow(r.Context(), key)
			if err != nil {
				log.Warn("rate limiter unavailable", map[string]any{"scope": opts.Scope, "err": err})
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(res.Remaining, 10))
			if !res.Allowed {
				secs := int(res.RetryAfter.Seconds())
				if secs < 1 {
					secs = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(secs))
				if opts.OnLimited != nil {
					opts.OnLimited(opts.Scope)
				}
				http.Error(w, "too many requests", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientKey(r *http.Request) string {
	if c, ok := GetClaims(r.Context()); ok && strings.TrimSpace(c.UserID) != "" {
		return "user:" + c.UserID
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}
