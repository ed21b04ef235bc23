package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"clinical-consent/internal/domain/consent"
	"clinical-consent/internal/platform/logger"
)

type memSink struct {
	mu   sync.Mutex
	rows []Denial
	err  error
}

func (s *memSink) RecordDenial(ctx context.Context, d Denial) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.rows = append(s.rows, d)
	return nil
}

func denial(reason consent.DenyReason) consent.AccessDenial {
	return consent.AccessDenial{
		ClinicianID: "clinician-1",
		PatientID:   "patient-1",
		Permission:  consent.PermissionView,
		Reason:      reason,
		At:          time.Date(2025, 12, 22, 10, 0, 0, 0, time.UTC),
	}
}

func TestRecorder_DeduplicatesWithinWindow(t *testing.T) {
	sink := &memSink{}
	r := NewRecorder(sink, time.Minute, nil)

	r.AccessDenied(context.Background(), denial(consent.DenyNoGrant))
	r.AccessDenied(context.Background(), denial(consent.DenyNoGrant))
	r.AccessDenied(context.Background(), denial(consent.DenyRevoked))

	require.Len(t, sink.rows, 2)
	assert.Equal(t, "no_grant", sink.rows[0].Reason)
	assert.Equal(t, "revoked", sink.rows[1].Reason)
	assert.NotEmpty(t, sink.rows[0].ID)
}

func TestRecorder_RetriesAfterSinkFailure(t *testing.T) {
	sink := &memSink{err: errors.New("db down")}
	r := NewRecorder(sink, time.Minute, nil)

	r.AccessDenied(context.Background(), denial(consent.DenyExpired))
	require.Empty(t, sink.rows)

	sink.mu.Lock()
	sink.err = nil
	sink.mu.Unlock()

	r.AccessDenied(context.Background(), denial(consent.DenyExpired))
	require.Len(t, sink.rows, 1)
}

func TestLogSink_WritesStructuredEvent(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	s := NewLogSink(logger.NewZap(zap.New(core)))

	err := s.RecordDenial(context.Background(), Denial{
		ID: "d-1", ClinicianID: "c", PatientID: "p", Permission: "view", Reason: "no_grant",
		OccurredAt: time.Now(),
	})
	require.NoError(t, err)

	entries := logs.FilterMessage("access denied").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "access_denied", entries[0].ContextMap()["event"])
	_, hasGrant := entries[0].ContextMap()["grant_id"]
	assert.False(t, hasGrant)
}
