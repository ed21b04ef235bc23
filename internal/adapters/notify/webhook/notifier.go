package webhook

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"clinical-consent/internal/platform/httpclient"
	"clinical-consent/internal/ports/notify"
)

var ErrNotConfigured = errors.New("webhook url not configured")

type Config struct {
	URL     string
	Secret  string // se manda en X-Webhook-Secret si no está vacío
	Timeout time.Duration
	// Attempts totales ante 5xx/429/transporte.
	Attempts int
}

// Notifier entrega cada Notification como POST JSON al servicio de mensajería.
type Notifier struct {
	client *httpclient.Client
	url    string
	secret string
}

func New(cfg Config) (*Notifier, error) {
	u := strings.TrimSpace(cfg.URL)
	if u == "" {
		return nil, ErrNotConfigured
	}
	if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		return nil, fmt.Errorf("webhook url must be absolute: %q", u)
	}

	c := httpclient.New(cfg.Timeout)
	attempts := cfg.Attempts
	if attempts <= 0 {
		attempts = 3
	}
	c.Retry = httpclient.Retry{Attempts: attempts, Backoff: 200 * time.Millisecond}

	return &Notifier{client: c, url: u, secret: strings.TrimSpace(cfg.Secret)}, nil
}

var _ notify.Notifier = (*Notifier)(nil)

func (n *Notifier) Notify(ctx context.Context, in notify.Notification) error {
	headers := map[string]string{
		"X-Notification-Kind": string(in.Kind),
		// El receptor deduplica reintentos por grant + tipo.
		"Idempotency-Key": in.GrantID + ":" + string(in.Kind),
	}
	if n.secret != "" {
		headers["X-Webhook-Secret"] = n.secret
	}
	if err := n.client.DoJSON(ctx, http.MethodPost, n.url, headers, in, nil); err != nil {
		return fmt.Errorf("webhook notify %s: %w", in.Kind, err)
	}
	return nil
}
