package odin

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"clinical-consent/internal/ports/auth"
)

var (
	ErrTokenEmpty = errors.New("token is empty")
)

const DefaultCacheTTL = 30 * time.Second

// Verifier implementa auth.AuthVerifier usando Odin. Los claims verificados se
// cachean por huella del token durante un TTL corto para no llamar a Odin en
// cada request.
type Verifier struct {
	client *Client
	cache  *gocache.Cache
}

func NewVerifier(client *Client, cacheTTL time.Duration) *Verifier {
	if cacheTTL <= 0 {
		cacheTTL = DefaultCacheTTL
	}
	return &Verifier{
		client: client,
		cache:  gocache.New(cacheTTL, 2*cacheTTL),
	}
}

var _ auth.AuthVerifier = (*Verifier)(nil)

func (v *Verifier) Verify(ctx context.Context, token string) (auth.Claims, error) {
	if v == nil || v.client == nil {
		return auth.Claims{}, ErrOdinNotConfigured
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return auth.Claims{}, ErrTokenEmpty
	}

	key := fingerprint(token)
	if c, ok := v.cache.Get(key); ok {
		return c.(auth.Claims), nil
	}

	claims, err := v.client.VerifyToken(ctx, token)
	if err != nil {
		return auth.Claims{}, fmt.Errorf("odin verify failed: %w", err)
	}

	claims.UserID = strings.TrimSpace(claims.UserID)
	if claims.UserID == "" {
		return auth.Claims{}, errors.New("odin claims missing user id")
	}

	v.cache.SetDefault(key, claims)
	return claims, nil
}

func fingerprint(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
