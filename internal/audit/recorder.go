// Package audit registra las denegaciones de acceso. Es un stream aparte del
// audit log de cada grant, que solo guarda transiciones de estado.
package audit

import (
	"context"
	"strings"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	gocache "github.com/patrickmn/go-cache"

	"clinical-consent/internal/domain/consent"
	"clinical-consent/internal/platform/ids"
	"clinical-consent/internal/platform/logger"
)

const DefaultDedupWindow = time.Minute

// Denial es la fila persistida.
type Denial struct {
	ID          string
	RequestID   string
	ClinicianID string
	PatientID   string
	GrantID     string
	Permission  string
	Reason      string
	OccurredAt  time.Time
}

// Sink persiste denegaciones (Postgres o log).
type Sink interface {
	RecordDenial(ctx context.Context, d Denial) error
}

// Recorder implementa consent.AccessAuditor. Colapsa denegaciones repetidas
// del mismo (profesional, paciente, permiso, motivo) dentro de la ventana.
type Recorder struct {
	sink Sink
	seen *gocache.Cache
	ttl  time.Duration
	log  logger.Logger
}

func NewRecorder(sink Sink, window time.Duration, log logger.Logger) *Recorder {
	if window <= 0 {
		window = DefaultDedupWindow
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Recorder{
		sink: sink,
		seen: gocache.New(window, 2*window),
		ttl:  window,
		log:  log.With(map[string]any{"component": "access_audit"}),
	}
}

var _ consent.AccessAuditor = (*Recorder)(nil)

func (r *Recorder) AccessDenied(ctx context.Context, d consent.AccessDenial) {
	key := strings.Join([]string{d.ClinicianID, d.PatientID, string(d.Permission), string(d.Reason)}, "|")
	// Add falla si la key ya existe y no expiró.
	if err := r.seen.Add(key, struct{}{}, r.ttl); err != nil {
		return
	}

	row := Denial{
		ID:          ids.NewAt(d.At),
		RequestID:   chimw.GetReqID(ctx),
		ClinicianID: d.ClinicianID,
		PatientID:   d.PatientID,
		GrantID:     d.GrantID,
		Permission:  string(d.Permission),
		Reason:      string(d.Reason),
		OccurredAt:  d.At,
	}
	if err := r.sink.RecordDenial(ctx, row); err != nil {
		// Se libera la key para que el próximo intento vuelva a grabar.
		r.seen.Delete(key)
		r.log.Warn("access denial not recorded", map[string]any{
			"clinician_id": d.ClinicianID,
			"patient_id":   d.PatientID,
			"err":          err,
		})
	}
}

// LogSink escribe la denegación como evento estructurado. Se usa sin base de datos.
type LogSink struct {
	log logger.Logger
}

func NewLogSink(log logger.Logger) *LogSink {
	if log == nil {
		log = logger.Nop()
	}
	return &LogSink{log: log}
}

func (s *LogSink) RecordDenial(ctx context.Context, d Denial) error {
	fields := map[string]any{
		"type":         "audit",
		"event":        "access_denied",
		"id":           d.ID,
		"clinician_id": d.ClinicianID,
		"patient_id":   d.PatientID,
		"permission":   d.Permission,
		"reason":       d.Reason,
		"ts":           d.OccurredAt.UTC().Format(time.RFC3339Nano),
	}
	if d.GrantID != "" {
		fields["grant_id"] = d.GrantID
	}
	if d.RequestID != "" {
		fields["request_id"] = d.RequestID
	}
	s.log.Info("access denied", fields)
	return nil
}
