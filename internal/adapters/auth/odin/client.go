package odin

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"clinical-consent/internal/platform/httpclient"
	"clinical-consent/internal/ports/auth"
)

var (
	ErrOdinNotConfigured = errors.New("odin client not configured")
	ErrOdinUnauthorized  = errors.New("odin unauthorized")
	ErrOdinUpstream      = errors.New("odin upstream error")
)

const verifyPath = "/v1/tokens/verify"

// PrincipalService es el principal_type que Odin usa para cuentas de servicio.
const PrincipalService = "service"

// Config del cliente Odin (IAM externo). BaseURL y APIKey vienen de config.
type Config struct {
	BaseURL string
	APIKey  string

	// Header donde se manda la API key. Vacío => "X-Api-Key".
	APIKeyHeader string

	Timeout time.Duration
}

type Client struct {
	http         *httpclient.Client
	apiKey       string
	apiKeyHeader string
}

func NewClient(cfg Config) (*Client, error) {
	h := strings.TrimSpace(cfg.APIKeyHeader)
	if h == "" {
		h = "X-Api-Key"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	hc, err := httpclient.NewWithBaseURL(strings.TrimSpace(cfg.BaseURL), timeout)
	if err != nil {
		return nil, fmt.Errorf("odin: %w", err)
	}
	// Verify es idempotente: un reintento ante 5xx/transporte es seguro.
	hc.Retry = httpclient.Retry{Attempts: 2, Backoff: 100 * time.Millisecond}

	return &Client{
		http:         hc,
		apiKey:       strings.TrimSpace(cfg.APIKey),
		apiKeyHeader: h,
	}, nil
}

func (c *Client) IsConfigured() bool {
	return c != nil && c.http != nil && c.http.BaseURL != "" && c.apiKey != ""
}

// VerifyToken llama a Odin para verificar un token y traer claims.
func (c *Client) VerifyToken(ctx context.Context, token string) (auth.Claims, error) {
	if !c.IsConfigured() {
		return auth.Claims{}, ErrOdinNotConfigured
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return auth.Claims{}, ErrOdinUnauthorized
	}

	var out struct {
		UserID        string `json:"user_id"`
		Email         string `json:"email"`
		PrincipalType string `json:"principal_type"`
	}
	err := c.http.DoJSON(ctx, http.MethodPost, verifyPath, map[string]string{
		c.apiKeyHeader: c.apiKey,
		// Algunos IAM esperan el token en Authorization, aunque también vaya en body.
		"Authorization": "Bearer " + token,
	}, map[string]string{"token": token}, &out)
	if err != nil {
		switch httpclient.StatusCode(err) {
		case http.StatusUnauthorized, http.StatusForbidden:
			return auth.Claims{}, ErrOdinUnauthorized
		default:
			return auth.Claims{}, fmt.Errorf("%w: %v", ErrOdinUpstream, err)
		}
	}

	out.UserID = strings.TrimSpace(out.UserID)
	if out.UserID == "" {
		return auth.Claims{}, errors.New("odin response missing user_id")
	}

	return auth.Claims{
		UserID:  out.UserID,
		Email:   strings.TrimSpace(out.Email),
		Service: strings.EqualFold(strings.TrimSpace(out.PrincipalType), PrincipalService),
	}, nil
}
