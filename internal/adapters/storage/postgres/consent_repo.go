package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"clinical-consent/internal/domain/consent"
)

type ConsentRepo struct {
	db *sql.DB
}

func NewConsentRepo(db *sql.DB) *ConsentRepo {
	return &ConsentRepo{db: db}
}

var _ consent.Repository = (*ConsentRepo)(nil)

const grantColumns = `
	id, parent_id, patient_id, clinician_id, clinician_email,
	token_hash, token_consumed_at,
	perm_view, perm_edit, perm_assessments, perm_reports, perm_iep, access_level,
	status, granted_at, activated_at, revoked_at, expired_at, expires_at, updated_at,
	granted_by_name, granted_by_email, notes, version`

func (r *ConsentRepo) Create(ctx context.Context, g consent.Grant) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if g.Version == 0 {
		g.Version = 1
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO consent_grants (`+grantColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24)
	`,
		g.ID,
		g.ParentID,
		g.PatientID,
		toNullString(g.ClinicianID),
		g.ClinicianEmail,
		g.TokenHash,
		toNullTime(g.TokenConsumedAt),
		g.Permissions.View,
		g.Permissions.Edit,
		g.Permissions.Assessments,
		g.Permissions.Reports,
		g.Permissions.IEP,
		string(g.AccessLevel),
		string(g.Status),
		g.GrantedAt,
		toNullTime(g.ActivatedAt),
		toNullTime(g.RevokedAt),
		toNullTime(g.ExpiredAt),
		toNullTime(g.ExpiresAt),
		g.UpdatedAt,
		g.GrantedByName,
		g.GrantedByEmail,
		g.Notes,
		g.Version,
	)
	if err != nil {
		return fmt.Errorf("insert grant: %w", err)
	}

	if err := insertAuditEntries(ctx, tx, g.ID, g.AuditLog); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *ConsentRepo) Mutate(ctx context.Context, id string, fn consent.MutateFunc) (consent.Grant, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return consent.Grant{}, consent.ErrNotFound
	}
	return r.mutate(ctx, `SELECT `+grantColumns+` FROM consent_grants WHERE id = $1 FOR UPDATE`, id, fn)
}

func (r *ConsentRepo) MutateByTokenHash(ctx context.Context, tokenHash string, fn consent.MutateFunc) (consent.Grant, error) {
	if strings.TrimSpace(tokenHash) == "" {
		return consent.Grant{}, consent.ErrNotFound
	}
	return r.mutate(ctx, `SELECT `+grantColumns+` FROM consent_grants WHERE token_hash = $1 FOR UPDATE`, tokenHash, fn)
}

// mutate: SELECT ... FOR UPDATE, fn sobre la copia, UPDATE + INSERT de las
// entradas nuevas, COMMIT. Cualquier error de fn hace rollback.
func (r *ConsentRepo) mutate(ctx context.Context, selectSQL string, key string, fn consent.MutateFunc) (consent.Grant, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return consent.Grant{}, err
	}
	defer func() { _ = tx.Rollback() }()

	cur, err := scanGrant(tx.QueryRowContext(ctx, selectSQL, key))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return consent.Grant{}, consent.ErrNotFound
		}
		return consent.Grant{}, fmt.Errorf("lock grant: %w", err)
	}
	cur.AuditLog, err = loadAudit(ctx, tx, `WHERE grant_id = $1`, cur.ID)
	if err != nil {
		return consent.Grant{}, err
	}

	work := cur.Clone()
	if err := fn(&work); err != nil {
		return consent.Grant{}, err
	}
	if len(work.AuditLog) < len(cur.AuditLog) {
		return consent.Grant{}, errors.New("audit log entries cannot be removed")
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE consent_grants
		SET
			clinician_id = $2,
			clinician_email = $3,
			token_consumed_at = $4,
			perm_view = $5,
			perm_edit = $6,
			perm_assessments = $7,
			perm_reports = $8,
			perm_iep = $9,
			access_level = $10,
			status = $11,
			activated_at = $12,
			revoked_at = $13,
			expired_at = $14,
			expires_at = $15,
			updated_at = $16,
			notes = $17,
			version = version + 1
		WHERE id = $1
	`,
		cur.ID,
		toNullString(work.ClinicianID),
		work.ClinicianEmail,
		toNullTime(work.TokenConsumedAt),
		work.Permissions.View,
		work.Permissions.Edit,
		work.Permissions.Assessments,
		work.Permissions.Reports,
		work.Permissions.IEP,
		string(work.AccessLevel),
		string(work.Status),
		toNullTime(work.ActivatedAt),
		toNullTime(work.RevokedAt),
		toNullTime(work.ExpiredAt),
		toNullTime(work.ExpiresAt),
		work.UpdatedAt,
		work.Notes,
	)
	if err != nil {
		return consent.Grant{}, fmt.Errorf("update grant: %w", err)
	}

	if err := insertAuditEntries(ctx, tx, cur.ID, work.AuditLog[len(cur.AuditLog):]); err != nil {
		return consent.Grant{}, err
	}
	if err := tx.Commit(); err != nil {
		return consent.Grant{}, fmt.Errorf("commit: %w", err)
	}

	work.ID = cur.ID
	work.Token = ""
	work.TokenHash = cur.TokenHash
	work.Version = cur.Version + 1
	return work, nil
}

func (r *ConsentRepo) GetByID(ctx context.Context, id string) (consent.Grant, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return consent.Grant{}, consent.ErrNotFound
	}

	g, err := scanGrant(r.db.QueryRowContext(ctx, `SELECT `+grantColumns+` FROM consent_grants WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return consent.Grant{}, consent.ErrNotFound
		}
		return consent.Grant{}, err
	}
	g.AuditLog, err = loadAudit(ctx, r.db, `WHERE grant_id = $1`, id)
	if err != nil {
		return consent.Grant{}, err
	}
	return g, nil
}

// FindForAccess no carga el audit log: CheckAccess no lo necesita.
func (r *ConsentRepo) FindForAccess(ctx context.Context, clinicianID, patientID string) ([]consent.Grant, error) {
	return listGrants(ctx, r.db, `
		SELECT `+grantColumns+`
		FROM consent_grants
		WHERE clinician_id = $1 AND patient_id = $2
		ORDER BY granted_at DESC, id ASC
	`, clinicianID, patientID)
}

func (r *ConsentRepo) ListByPatient(ctx context.Context, patientID string) ([]consent.Grant, error) {
	patientID = strings.TrimSpace(patientID)
	if patientID == "" {
		return nil, nil
	}
	out, err := listGrants(ctx, r.db, `
		SELECT `+grantColumns+`
		FROM consent_grants
		WHERE patient_id = $1
		ORDER BY granted_at DESC, id ASC
	`, patientID)
	if err != nil {
		return nil, err
	}
	return r.attachAudit(ctx, out, `WHERE grant_id IN (SELECT id FROM consent_grants WHERE patient_id = $1)`, patientID)
}

func (r *ConsentRepo) ListByClinician(ctx context.Context, clinicianID string) ([]consent.Grant, error) {
	clinicianID = strings.TrimSpace(clinicianID)
	if clinicianID == "" {
		return nil, nil
	}
	out, err := listGrants(ctx, r.db, `
		SELECT `+grantColumns+`
		FROM consent_grants
		WHERE clinician_id = $1
		ORDER BY granted_at DESC, id ASC
	`, clinicianID)
	if err != nil {
		return nil, err
	}
	return r.attachAudit(ctx, out, `WHERE grant_id IN (SELECT id FROM consent_grants WHERE clinician_id = $1)`, clinicianID)
}

// ListExpirable no carga el audit log: el sweeper solo usa los ids.
func (r *ConsentRepo) ListExpirable(ctx context.Context, now time.Time, afterID string, limit int) ([]consent.Grant, error) {
	if limit <= 0 {
		limit = consent.DefaultSweepBatch
	}
	return listGrants(ctx, r.db, `
		SELECT `+grantColumns+`
		FROM consent_grants
		WHERE status IN ('pending', 'active')
		  AND expires_at IS NOT NULL
		  AND expires_at <= $1
		  AND id > $2
		ORDER BY id ASC
		LIMIT $3
	`, now, afterID, limit)
}

func (r *ConsentRepo) attachAudit(ctx context.Context, grants []consent.Grant, where string, arg any) ([]consent.Grant, error) {
	if len(grants) == 0 {
		return grants, nil
	}
	entries, err := loadAuditByGrant(ctx, r.db, where, arg)
	if err != nil {
		return nil, err
	}
	for i := range grants {
		grants[i].AuditLog = entries[grants[i].ID]
	}
	return grants, nil
}

func listGrants(ctx context.Context, q querier, query string, args ...any) ([]consent.Grant, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]consent.Grant, 0)
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func scanGrant(row rowScanner) (consent.Grant, error) {
	var (
		g           consent.Grant
		clinicianID sql.NullString
		level       string
		status      string
		consumedAt  sql.NullTime
		activatedAt sql.NullTime
		revokedAt   sql.NullTime
		expiredAt   sql.NullTime
		expiresAt   sql.NullTime
	)
	if err := row.Scan(
		&g.ID,
		&g.ParentID,
		&g.PatientID,
		&clinicianID,
		&g.ClinicianEmail,
		&g.TokenHash,
		&consumedAt,
		&g.Permissions.View,
		&g.Permissions.Edit,
		&g.Permissions.Assessments,
		&g.Permissions.Reports,
		&g.Permissions.IEP,
		&level,
		&status,
		&g.GrantedAt,
		&activatedAt,
		&revokedAt,
		&expiredAt,
		&expiresAt,
		&g.UpdatedAt,
		&g.GrantedByName,
		&g.GrantedByEmail,
		&g.Notes,
		&g.Version,
	); err != nil {
		return consent.Grant{}, err
	}

	g.ClinicianID = clinicianID.String
	g.AccessLevel = consent.AccessLevel(level)
	g.Status = consent.Status(status)
	g.TokenConsumedAt = fromNullTime(consumedAt)
	g.ActivatedAt = fromNullTime(activatedAt)
	g.RevokedAt = fromNullTime(revokedAt)
	g.ExpiredAt = fromNullTime(expiredAt)
	g.ExpiresAt = fromNullTime(expiresAt)
	return g, nil
}

const auditColumns = `id, grant_id, seq, action, occurred_at, user_id, details`

func loadAudit(ctx context.Context, q querier, where string, arg any) ([]consent.AuditEntry, error) {
	byGrant, err := loadAuditByGrant(ctx, q, where, arg)
	if err != nil {
		return nil, err
	}
	for _, entries := range byGrant {
		return entries, nil
	}
	return nil, nil
}

func loadAuditByGrant(ctx context.Context, q querier, where string, arg any) (map[string][]consent.AuditEntry, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+auditColumns+` FROM consent_audit_entries `+where+` ORDER BY grant_id, seq ASC`, arg)
	if err != nil {
		return nil, fmt.Errorf("load audit: %w", err)
	}
	defer rows.Close()

	out := map[string][]consent.AuditEntry{}
	for rows.Next() {
		var (
			e       consent.AuditEntry
			grantID string
			action  string
			details []byte
		)
		if err := rows.Scan(&e.ID, &grantID, &e.Seq, &action, &e.Timestamp, &e.UserID, &details); err != nil {
			return nil, err
		}
		e.Action = consent.AuditAction(action)
		if len(details) > 0 {
			if err := json.Unmarshal(details, &e.Details); err != nil {
				return nil, fmt.Errorf("decode audit details %s: %w", e.ID, err)
			}
		}
		out[grantID] = append(out[grantID], e)
	}
	return out, rows.Err()
}

func insertAuditEntries(ctx context.Context, q querier, grantID string, entries []consent.AuditEntry) error {
	for _, e := range entries {
		var details any
		if len(e.Details) > 0 {
			b, err := json.Marshal(e.Details)
			if err != nil {
				return fmt.Errorf("encode audit details: %w", err)
			}
			details = string(b)
		}
		_, err := q.ExecContext(ctx, `
			INSERT INTO consent_audit_entries (`+auditColumns+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
		`,
			e.ID,
			grantID,
			e.Seq,
			string(e.Action),
			e.Timestamp,
			e.UserID,
			details,
		)
		if err != nil {
			return fmt.Errorf("insert audit entry: %w", err)
		}
	}
	return nil
}
