package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clinical-consent/internal/ports/notify"
)

func TestNotifier_PostsPayload(t *testing.T) {
	var got notify.Notification
	var headers http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers = r.Header.Clone()
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	n, err := New(Config{URL: srv.URL, Secret: "s3", Timeout: time.Second})
	require.NoError(t, err)

	err = n.Notify(context.Background(), notify.Notification{
		Kind:           notify.KindClaimInvitation,
		GrantID:        "g-1",
		RecipientEmail: "dr@clinic.test",
		ClaimToken:     "raw-token",
	})
	require.NoError(t, err)

	assert.Equal(t, "g-1", got.GrantID)
	assert.Equal(t, "raw-token", got.ClaimToken)
	assert.Equal(t, "s3", headers.Get("X-Webhook-Secret"))
	assert.Equal(t, "g-1:claim_invitation", headers.Get("Idempotency-Key"))
}

func TestNotifier_SurfacesHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	n, err := New(Config{URL: srv.URL, Attempts: 1})
	require.NoError(t, err)
	require.Error(t, n.Notify(context.Background(), notify.Notification{Kind: notify.KindConsentRevoked, GrantID: "g"}))
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorIs(t, err, ErrNotConfigured)
	_, err = New(Config{URL: "/relative"})
	assert.Error(t, err)
}
