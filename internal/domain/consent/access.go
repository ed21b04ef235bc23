package consent

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// AccessDenial es lo que se registra cuando CheckAccess niega.
type AccessDenial struct {
	ClinicianID string
	PatientID   string
	GrantID     string
	Permission  Permission
	Reason      DenyReason
	At          time.Time
}

// AccessAuditor recibe las denegaciones. Los allow no se auditan uno a uno
// (solo métricas); el volumen de lecturas lo haría impracticable.
type AccessAuditor interface {
	AccessDenied(ctx context.Context, d AccessDenial)
}

// Observer recibe eventos para métricas.
type Observer interface {
	AccessChecked(perm Permission, d Decision)
	Transitioned(action AuditAction)
	Swept(expired int, err error)
}

type nopAuditor struct{}

func (nopAuditor) AccessDenied(context.Context, AccessDenial) {}

type nopObserver struct{}

func (nopObserver) AccessChecked(Permission, Decision) {}
func (nopObserver) Transitioned(AuditAction)           {}
func (nopObserver) Swept(int, error)                   {}

// denyRank ordena los motivos para informar el más específico cuando hay
// varios grants para el mismo par.
func denyRank(r DenyReason) int {
	switch r {
	case DenyScopeMissing:
		return 5
	case DenyNotActive:
		return 4
	case DenyExpired:
		return 3
	case DenyRevoked:
		return 2
	case DenyNoGrant:
		return 1
	default:
		return 0
	}
}

// CheckAccess decide si el profesional puede ejercer perm sobre el paciente.
// Negar no es error: el error queda para input inválido o fallas de storage.
// Un grant pending o activo vencido se niega y se transiciona a expired de paso.
func (s *Service) CheckAccess(ctx context.Context, clinicianID, patientID string, perm Permission) (Decision, error) {
	clinicianID = strings.TrimSpace(clinicianID)
	patientID = strings.TrimSpace(patientID)
	if clinicianID == "" {
		return Decision{}, invalid("clinician_id", "required")
	}
	if patientID == "" {
		return Decision{}, invalid("patient_id", "required")
	}
	perm, err := ParsePermission(string(perm))
	if err != nil {
		return Decision{}, err
	}

	grants, err := s.repo.FindForAccess(ctx, clinicianID, patientID)
	if err != nil {
		return Decision{}, fmt.Errorf("check access: %w", err)
	}

	now := s.now()
	dec := Decision{Reason: DenyNoGrant}

	for _, g := range grants {
		var reason DenyReason
		switch {
		case g.Status == StatusRevoked:
			reason = DenyRevoked
		case g.Status == StatusExpired:
			reason = DenyExpired
		case g.PastDeadline(now):
			reason = DenyExpired
			s.expireLazily(ctx, g.ID)
		case g.Status != StatusActive:
			reason = DenyNotActive
		case !Covers(g.Permissions, perm):
			reason = DenyScopeMissing
		default:
			dec = Decision{Allowed: true, GrantID: g.ID}
			s.observer.AccessChecked(perm, dec)
			return dec, nil
		}
		if denyRank(reason) > denyRank(dec.Reason) {
			dec = Decision{Reason: reason, GrantID: g.ID}
		}
	}

	s.observer.AccessChecked(perm, dec)
	s.auditor.AccessDenied(ctx, AccessDenial{
		ClinicianID: clinicianID,
		PatientID:   patientID,
		GrantID:     dec.GrantID,
		Permission:  perm,
		Reason:      dec.Reason,
		At:          now,
	})
	return dec, nil
}
