package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"clinical-consent/internal/platform/logger"
	"clinical-consent/internal/platform/ratelimit"
	"clinical-consent/internal/ports/auth"
)

type stubVerifier struct {
	claims auth.Claims
	err    error
}

func (v stubVerifier) Verify(ctx context.Context, token string) (auth.Claims, error) {
	if token != "good" {
		return auth.Claims{}, errors.New("bad token")
	}
	return v.claims, v.err
}

func claimsEcho() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, ok := GetClaims(r.Context())
		if !ok {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(c.UserID + "|" + c.Email))
	})
}

func TestAuthContext_DevHeaders(t *testing.T) {
	h := AuthContext(nil)(claimsEcho())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Debug-User-ID", "parent-1")
	req.Header.Set("X-Debug-User-Email", "p@home.test")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "parent-1|p@home.test", rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	var got auth.Claims
	svc := AuthContext(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = GetClaims(r.Context())
	}))
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Debug-User-ID", "records-service")
	req.Header.Set("X-Debug-Service", "true")
	svc.ServeHTTP(httptest.NewRecorder(), req)
	assert.True(t, got.Service)
}

func TestAuthContext_Verifier(t *testing.T) {
	h := AuthContext(stubVerifier{claims: auth.Claims{UserID: "u-1"}})(claimsEcho())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer good")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "u-1|", rec.Body.String())

	// Header de debug ignorado cuando hay verifier.
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Debug-User-ID", "intruder")
	req.Header.Set("Authorization", "Bearer bad")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string) (ratelimit.Result, error) {
	return ratelimit.Result{}, errors.New("redis down")
}

func TestRateLimit_RejectsOverLimitPerUser(t *testing.T) {
	limited := 0
	mw := RateLimit(RateLimitOptions{
		Limiter:   ratelimit.NewMemoryLimiter(2, time.Hour),
		Scope:     "claim",
		OnLimited: func(string) { limited++ },
	})
	h := AuthContext(nil)(mw(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})))

	do := func(user string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/consents/claim", nil)
		req.Header.Set("X-Debug-User-ID", user)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	require.Equal(t, http.StatusNoContent, do("c-1").Code)
	require.Equal(t, http.StatusNoContent, do("c-1").Code)
	rec := do("c-1")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Equal(t, 1, limited)

	assert.Equal(t, http.StatusNoContent, do("c-2").Code)
}

func TestRateLimit_FailsOpen(t *testing.T) {
	h := RateLimit(RateLimitOptions{Limiter: failingLimiter{}, Scope: "claim"})(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) }),
	)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRequestLog_LevelByStatus(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	h := RequestLog(logger.NewZap(zap.New(core)))(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusConflict)
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/consents/x/revoke", nil))

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	assert.EqualValues(t, 409, entries[0].ContextMap()["status"])
}
