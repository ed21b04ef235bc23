package consent

import "time"

type Status string

const (
	StatusPending Status = "pending"
	StatusActive  Status = "active"
	StatusRevoked Status = "revoked"
	StatusExpired Status = "expired"
)

// Terminal: no hay transición que salga de revoked/expired.
func (s Status) Terminal() bool {
	return s == StatusRevoked || s == StatusExpired
}

// Grant es la autorización de un padre/tutor para que un profesional acceda a la
// historia clínica de un paciente. Es propiedad exclusiva del repositorio:
// todo lo que sale de él es una copia.
type Grant struct {
	ID string

	ParentID  string // quien otorga
	PatientID string // sujeto

	// ClinicianID queda vacío mientras está pending, salvo que el padre lo haya
	// vinculado al crear. Se fija una sola vez en Claim.
	ClinicianID    string
	ClinicianEmail string

	// Token crudo: solo viene en el valor devuelto por Service.Grant.
	Token string
	// TokenHash es la huella persistida; se conserva tras el claim para que un
	// replay encuentre el grant y falle con ErrInvalidState.
	TokenHash       string
	TokenConsumedAt *time.Time

	Permissions Permissions
	AccessLevel AccessLevel
	Status      Status

	GrantedAt   time.Time
	ActivatedAt *time.Time
	RevokedAt   *time.Time
	ExpiredAt   *time.Time
	ExpiresAt   *time.Time
	UpdatedAt   time.Time

	GrantedByName  string
	GrantedByEmail string
	Notes          string

	Version  int64
	AuditLog []AuditEntry
}

func (g Grant) ClaimTokenHash() string { return g.TokenHash }

func (g Grant) ClaimTokenConsumed() bool { return g.TokenConsumedAt != nil }

// PastDeadline indica si el reloj ya pasó ExpiresAt.
func (g Grant) PastDeadline(now time.Time) bool {
	return g.ExpiresAt != nil && !now.Before(*g.ExpiresAt)
}

// EffectiveStatus aplica la expiración perezosa sin tocar el estado guardado.
func (g Grant) EffectiveStatus(now time.Time) Status {
	if (g.Status == StatusPending || g.Status == StatusActive) && g.PastDeadline(now) {
		return StatusExpired
	}
	return g.Status
}

// Clone devuelve una copia profunda (punteros, audit log y details incluidos).
func (g Grant) Clone() Grant {
	out := g
	out.TokenConsumedAt = cloneTime(g.TokenConsumedAt)
	out.ActivatedAt = cloneTime(g.ActivatedAt)
	out.RevokedAt = cloneTime(g.RevokedAt)
	out.ExpiredAt = cloneTime(g.ExpiredAt)
	out.ExpiresAt = cloneTime(g.ExpiresAt)
	if g.AuditLog != nil {
		out.AuditLog = make([]AuditEntry, len(g.AuditLog))
		for i, e := range g.AuditLog {
			out.AuditLog[i] = e.clone()
		}
	}
	return out
}

// GrantWithDetails es la vista para dashboards.
type GrantWithDetails struct {
	Grant
	EffectiveStatus Status
	// AccessibleNow: activo, dentro de plazo y con al menos un flag.
	AccessibleNow bool
	LastAction    *AuditEntry
}

// DenyReason explica por qué CheckAccess negó.
type DenyReason string

const (
	DenyNone         DenyReason = ""
	DenyNoGrant      DenyReason = "no_grant"
	DenyNotActive    DenyReason = "not_active"
	DenyRevoked      DenyReason = "revoked"
	DenyExpired      DenyReason = "expired"
	DenyScopeMissing DenyReason = "scope_missing"
)

// Decision es el resultado de CheckAccess. Negar no es un error.
type Decision struct {
	Allowed bool
	Reason  DenyReason
	GrantID string
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
