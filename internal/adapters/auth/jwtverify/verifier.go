package jwtverify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"clinical-consent/internal/ports/auth"
)

var (
	ErrInvalidToken  = errors.New("invalid token")
	ErrNotConfigured = errors.New("jwt verifier not configured")
)

// Claims del token de sesión. sub = user id; svc = cuenta de servicio.
type Claims struct {
	Email   string `json:"email,omitempty"`
	Service bool   `json:"svc,omitempty"`
	jwt.RegisteredClaims
}

type Config struct {
	Secret   string
	Issuer   string // vacío => no se valida
	Audience string // vacío => no se valida
	Leeway   time.Duration
}

// Verifier implementa auth.AuthVerifier para JWT HS256 firmados con secreto compartido.
type Verifier struct {
	secret []byte
	parser *jwt.Parser
}

func New(cfg Config) (*Verifier, error) {
	secret := strings.TrimSpace(cfg.Secret)
	if secret == "" {
		return nil, ErrNotConfigured
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	}
	if cfg.Leeway > 0 {
		opts = append(opts, jwt.WithLeeway(cfg.Leeway))
	}
	if iss := strings.TrimSpace(cfg.Issuer); iss != "" {
		opts = append(opts, jwt.WithIssuer(iss))
	}
	if aud := strings.TrimSpace(cfg.Audience); aud != "" {
		opts = append(opts, jwt.WithAudience(aud))
	}

	return &Verifier{secret: []byte(secret), parser: jwt.NewParser(opts...)}, nil
}

var _ auth.AuthVerifier = (*Verifier)(nil)

func (v *Verifier) Verify(ctx context.Context, token string) (auth.Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return auth.Claims{}, ErrInvalidToken
	}

	var claims Claims
	parsed, err := v.parser.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil || !parsed.Valid {
		return auth.Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	sub := strings.TrimSpace(claims.Subject)
	if sub == "" {
		return auth.Claims{}, fmt.Errorf("%w: subject missing", ErrInvalidToken)
	}
	return auth.Claims{
		UserID:  sub,
		Email:   strings.TrimSpace(claims.Email),
		Service: claims.Service,
	}, nil
}

// Sign emite un token HS256 (tests y `consentctl token`).
func Sign(secret string, c Claims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString([]byte(secret))
}
