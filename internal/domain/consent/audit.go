package consent

import (
	"time"

	"clinical-consent/internal/platform/ids"
)

type AuditAction string

const (
	AuditGranted            AuditAction = "granted"
	AuditClaimed            AuditAction = "claimed"
	AuditPermissionsUpdated AuditAction = "permissions_updated"
	AuditRevoked            AuditAction = "revoked"
	AuditExpired            AuditAction = "expired"
)

// SystemUserID es el actor de las transiciones automáticas (expiración).
const SystemUserID = "system"

// AuditEntry es inmutable una vez agregada: Seq es 1..n en orden de inserción.
type AuditEntry struct {
	ID        string
	Seq       int64
	Action    AuditAction
	Timestamp time.Time
	UserID    string
	Details   map[string]string
}

func (e AuditEntry) clone() AuditEntry {
	if e.Details != nil {
		d := make(map[string]string, len(e.Details))
		for k, v := range e.Details {
			d[k] = v
		}
		e.Details = d
	}
	return e
}

// appendAudit agrega una entrada al final del log del grant.
// Se llama siempre dentro de una MutateFunc (o antes de Create), así la entrada
// viaja en la misma transacción que el cambio de estado.
func (g *Grant) appendAudit(action AuditAction, userID string, details map[string]string, now time.Time) AuditEntry {
	e := AuditEntry{
		ID:        ids.NewAt(now),
		Seq:       int64(len(g.AuditLog)) + 1,
		Action:    action,
		Timestamp: now,
		UserID:    userID,
		Details:   details,
	}.clone()
	g.AuditLog = append(g.AuditLog, e)
	return e
}

// Audit devuelve una vista inmutable (copia) del log.
func (g Grant) Audit() []AuditEntry {
	out := make([]AuditEntry, len(g.AuditLog))
	for i, e := range g.AuditLog {
		out[i] = e.clone()
	}
	return out
}

// LastAudit devuelve la última entrada, o nil si el log está vacío.
func (g Grant) LastAudit() *AuditEntry {
	if len(g.AuditLog) == 0 {
		return nil
	}
	e := g.AuditLog[len(g.AuditLog)-1].clone()
	return &e
}
