package postgres

import (
	"context"
	"database/sql"

	"clinical-consent/internal/audit"
)

type AccessDenialsRepo struct {
	db *sql.DB
}

func NewAccessDenialsRepo(db *sql.DB) *AccessDenialsRepo {
	return &AccessDenialsRepo{db: db}
}

var _ audit.Sink = (*AccessDenialsRepo)(nil)

func (r *AccessDenialsRepo) RecordDenial(ctx context.Context, d audit.Denial) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO consent_access_denials (
			id, request_id, clinician_id, patient_id, grant_id,
			permission, reason, occurred_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (id) DO NOTHING
	`,
		d.ID,
		toNullString(d.RequestID),
		d.ClinicianID,
		d.PatientID,
		toNullString(d.GrantID),
		d.Permission,
		d.Reason,
		d.OccurredAt,
	)
	return err
}
