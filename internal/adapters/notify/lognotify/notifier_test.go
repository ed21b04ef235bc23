package lognotify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"clinical-consent/internal/platform/logger"
	"clinical-consent/internal/ports/notify"
)

func TestNotify_TokenOnlyAtDebug(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	n := New(logger.NewZap(zap.New(core)))

	err := n.Notify(context.Background(), notify.Notification{
		Kind:           notify.KindClaimInvitation,
		GrantID:        "g-1",
		RecipientEmail: "dr@clinic.test",
		ClaimToken:     "raw-token",
	})
	require.NoError(t, err)

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "consent notification", entry.Message)
	_, leaked := entry.ContextMap()["claim_token"]
	assert.False(t, leaked)
}
