package consent

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"clinical-consent/internal/platform/logger"
	"clinical-consent/internal/ports/notify"
	"clinical-consent/internal/security/claimtoken"
)

const (
	DefaultSweepBatch    = 200
	defaultNotifyTimeout = 10 * time.Second
)

type Service struct {
	repo Repository
	now  func() time.Time

	log      logger.Logger
	notifier notify.Notifier
	auditor  AccessAuditor
	observer Observer

	notifyTimeout time.Duration
	inflight      sync.WaitGroup
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

func WithNotifier(n notify.Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

func WithAccessAuditor(a AccessAuditor) Option {
	return func(s *Service) {
		if a != nil {
			s.auditor = a
		}
	}
}

func WithObserver(o Observer) Option {
	return func(s *Service) {
		if o != nil {
			s.observer = o
		}
	}
}

func WithNotifyTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.notifyTimeout = d
		}
	}
}

func NewService(repo Repository, opts ...Option) *Service {
	s := &Service{
		repo:          repo,
		now:           time.Now,
		log:           logger.Nop(),
		auditor:       nopAuditor{},
		observer:      nopObserver{},
		notifyTimeout: defaultNotifyTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(map[string]any{"component": "consent"})
	return s
}

type GrantInput struct {
	ParentID  string
	PatientID string

	ClinicianEmail string
	// ClinicianID opcional: si viene, solo ese usuario puede reclamar.
	ClinicianID string

	Permissions Permissions
	AccessLevel AccessLevel
	ExpiresAt   *time.Time

	Notes          string
	GrantedByName  string
	GrantedByEmail string
}

func (s *Service) Grant(ctx context.Context, in GrantInput) (Grant, error) {
	parentID := strings.TrimSpace(in.ParentID)
	patientID := strings.TrimSpace(in.PatientID)
	clinicianID := strings.TrimSpace(in.ClinicianID)
	email := strings.ToLower(strings.TrimSpace(in.ClinicianEmail))

	if parentID == "" {
		return Grant{}, invalid("parent_id", "required")
	}
	if patientID == "" {
		return Grant{}, invalid("patient_id", "required")
	}
	if email == "" && clinicianID == "" {
		return Grant{}, invalid("clinician_email", "clinician email or id required")
	}
	if email != "" {
		if _, err := mail.ParseAddress(email); err != nil {
			return Grant{}, invalid("clinician_email", "malformed email address")
		}
	}
	if clinicianID != "" && clinicianID == parentID {
		return Grant{}, invalid("clinician_id", "cannot grant access to yourself")
	}

	level, err := Validate(in.Permissions, in.AccessLevel)
	if err != nil {
		return Grant{}, err
	}

	now := s.now()
	if in.ExpiresAt != nil && !in.ExpiresAt.After(now) {
		return Grant{}, invalid("expires_at", "must be in the future")
	}

	tok, err := claimtoken.Generate()
	if err != nil {
		return Grant{}, fmt.Errorf("generate claim token: %w", err)
	}

	g := Grant{
		ID:             uuid.NewString(),
		ParentID:       parentID,
		PatientID:      patientID,
		ClinicianID:    clinicianID,
		ClinicianEmail: email,
		TokenHash:      tok.Hash,
		Permissions:    in.Permissions,
		AccessLevel:    level,
		Status:         StatusPending,
		GrantedAt:      now,
		ExpiresAt:      cloneTime(in.ExpiresAt),
		UpdatedAt:      now,
		GrantedByName:  strings.TrimSpace(in.GrantedByName),
		GrantedByEmail: strings.TrimSpace(in.GrantedByEmail),
		Notes:          strings.TrimSpace(in.Notes),
		Version:        1,
	}
	g.appendAudit(AuditGranted, parentID, map[string]string{
		"access_level": string(level),
		"patient_id":   patientID,
	}, now)

	if err := s.repo.Create(ctx, g); err != nil {
		return Grant{}, fmt.Errorf("create grant: %w", err)
	}

	s.observer.Transitioned(AuditGranted)
	s.log.Info("consent granted", map[string]any{
		"grant_id":     g.ID,
		"patient_id":   patientID,
		"parent_id":    parentID,
		"access_level": string(level),
	})

	s.dispatch(notify.Notification{
		Kind:            notify.KindClaimInvitation,
		GrantID:         g.ID,
		PatientID:       patientID,
		ParentID:        parentID,
		RecipientUserID: clinicianID,
		RecipientEmail:  email,
		GrantedByName:   g.GrantedByName,
		ClaimToken:      tok.Raw,
		ExpiresAt:       cloneTime(g.ExpiresAt),
	})

	out := g.Clone()
	out.Token = tok.Raw
	return out, nil
}

type ClaimInput struct {
	Token       string
	ClinicianID string
}

// Claim canjea el token y activa el grant. Bajo concurrencia sobre el mismo
// token exactamente una llamada gana; el resto ve ErrInvalidState.
func (s *Service) Claim(ctx context.Context, in ClaimInput) (Grant, error) {
	token := strings.TrimSpace(in.Token)
	clinicianID := strings.TrimSpace(in.ClinicianID)
	if token == "" {
		return Grant{}, invalid("token", "required")
	}
	if clinicianID == "" {
		return Grant{}, invalid("clinician_id", "required")
	}

	now := s.now()
	expiredID := ""

	g, err := s.repo.MutateByTokenHash(ctx, claimtoken.Hash(token), func(g *Grant) error {
		if g.Status != StatusPending {
			return fmt.Errorf("%w: grant is %s", ErrInvalidState, g.Status)
		}
		if !claimtoken.Verify(*g, token) {
			return ErrNotFound
		}
		if g.ClinicianID != "" && g.ClinicianID != clinicianID {
			return ErrUnauthorized
		}
		if g.ParentID == clinicianID {
			return ErrUnauthorized
		}
		if g.PastDeadline(now) {
			expiredID = g.ID
			return ErrExpired
		}

		g.ClinicianID = clinicianID
		g.TokenConsumedAt = &now
		g.Status = StatusActive
		g.ActivatedAt = &now
		g.UpdatedAt = now
		g.appendAudit(AuditClaimed, clinicianID, nil, now)
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrExpired) && expiredID != "" {
			s.expireLazily(ctx, expiredID)
		}
		s.log.Debug("claim rejected", map[string]any{"clinician_id": clinicianID, "err": err})
		return Grant{}, err
	}

	s.observer.Transitioned(AuditClaimed)
	s.log.Info("consent claimed", map[string]any{
		"grant_id":     g.ID,
		"clinician_id": clinicianID,
	})
	return g, nil
}

type UpdatePermissionsInput struct {
	CallerID    string
	Permissions *Permissions
	AccessLevel *AccessLevel
}

// UpdateConsentPermissions cambia el scope de un grant activo. Solo el padre que
// lo otorgó. El chequeo de autorización va antes que el de estado.
func (s *Service) UpdateConsentPermissions(ctx context.Context, grantID string, in UpdatePermissionsInput) (Grant, error) {
	grantID = strings.TrimSpace(grantID)
	callerID := strings.TrimSpace(in.CallerID)
	if grantID == "" {
		return Grant{}, invalid("grant_id", "required")
	}
	if callerID == "" {
		return Grant{}, invalid("caller_id", "required")
	}
	if in.Permissions == nil && in.AccessLevel == nil {
		return Grant{}, invalid("permissions", "nothing to update")
	}

	now := s.now()
	expired := false

	g, err := s.repo.Mutate(ctx, grantID, func(g *Grant) error {
		if g.ParentID != callerID {
			return ErrUnauthorized
		}
		if g.Status != StatusActive {
			return fmt.Errorf("%w: grant is %s", ErrInvalidState, g.Status)
		}
		if g.PastDeadline(now) {
			expired = true
			return ErrExpired
		}

		newP := g.Permissions
		if in.Permissions != nil {
			newP = *in.Permissions
		}
		// Sin level explícito: si cambian los flags se re-deriva, si no se
		// revalida el level actual contra los flags.
		var lvl AccessLevel
		switch {
		case in.AccessLevel != nil:
			lvl = *in.AccessLevel
		case in.Permissions == nil:
			lvl = g.AccessLevel
		}
		level, err := Validate(newP, lvl)
		if err != nil {
			return err
		}

		details := diffScope(g.Permissions, g.AccessLevel, newP, level)
		if len(details) == 0 {
			return ErrNoChange
		}

		g.Permissions = newP
		g.AccessLevel = level
		g.UpdatedAt = now
		g.appendAudit(AuditPermissionsUpdated, callerID, details, now)
		return nil
	})
	if errors.Is(err, ErrNoChange) {
		// Mismo scope: no se escribe nada, se devuelve el estado actual.
		return s.repo.GetByID(ctx, grantID)
	}
	if err != nil {
		if expired {
			s.expireLazily(ctx, grantID)
		}
		return Grant{}, err
	}

	s.observer.Transitioned(AuditPermissionsUpdated)
	s.log.Info("consent permissions updated", map[string]any{
		"grant_id":     g.ID,
		"access_level": string(g.AccessLevel),
	})
	return g, nil
}

type RevokeInput struct {
	CallerID string
	Reason   string
}

func (s *Service) Revoke(ctx context.Context, grantID string, in RevokeInput) (Grant, error) {
	grantID = strings.TrimSpace(grantID)
	callerID := strings.TrimSpace(in.CallerID)
	reason := strings.TrimSpace(in.Reason)
	if grantID == "" {
		return Grant{}, invalid("grant_id", "required")
	}
	if callerID == "" {
		return Grant{}, invalid("caller_id", "required")
	}

	now := s.now()
	expired := false

	g, err := s.repo.Mutate(ctx, grantID, func(g *Grant) error {
		if g.ParentID != callerID {
			return ErrUnauthorized
		}
		if g.Status.Terminal() {
			return fmt.Errorf("%w: grant is %s", ErrInvalidState, g.Status)
		}
		if g.PastDeadline(now) {
			expired = true
			return ErrExpired
		}

		var details map[string]string
		if reason != "" {
			details = map[string]string{"reason": reason}
		}
		g.Status = StatusRevoked
		g.RevokedAt = &now
		g.UpdatedAt = now
		g.appendAudit(AuditRevoked, callerID, details, now)
		return nil
	})
	if err != nil {
		if expired {
			s.expireLazily(ctx, grantID)
		}
		return Grant{}, err
	}

	s.observer.Transitioned(AuditRevoked)
	s.log.Info("consent revoked", map[string]any{
		"grant_id":  g.ID,
		"parent_id": callerID,
	})

	if g.ClinicianID != "" || g.ClinicianEmail != "" {
		s.dispatch(notify.Notification{
			Kind:            notify.KindConsentRevoked,
			GrantID:         g.ID,
			PatientID:       g.PatientID,
			ParentID:        g.ParentID,
			RecipientUserID: g.ClinicianID,
			RecipientEmail:  g.ClinicianEmail,
			GrantedByName:   g.GrantedByName,
			Reason:          reason,
		})
	}
	return g, nil
}

// GetGrant devuelve un grant a una de sus partes (padre o profesional vinculado).
func (s *Service) GetGrant(ctx context.Context, grantID, callerID string) (Grant, error) {
	grantID = strings.TrimSpace(grantID)
	callerID = strings.TrimSpace(callerID)
	if grantID == "" {
		return Grant{}, invalid("grant_id", "required")
	}
	if callerID == "" {
		return Grant{}, invalid("caller_id", "required")
	}

	g, err := s.repo.GetByID(ctx, grantID)
	if err != nil {
		return Grant{}, err
	}
	if g.ParentID != callerID && g.ClinicianID != callerID {
		return Grant{}, ErrUnauthorized
	}
	return g, nil
}

// ListGrantsForPatient: dashboard del padre. La expiración se calcula al vuelo,
// sin escribir.
func (s *Service) ListGrantsForPatient(ctx context.Context, patientID string) ([]GrantWithDetails, error) {
	patientID = strings.TrimSpace(patientID)
	if patientID == "" {
		return nil, invalid("patient_id", "required")
	}
	items, err := s.repo.ListByPatient(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("list grants by patient: %w", err)
	}
	return s.withDetails(items), nil
}

// ListGrantsForClinician: vista del profesional sobre sus grants reclamados.
func (s *Service) ListGrantsForClinician(ctx context.Context, clinicianID string) ([]GrantWithDetails, error) {
	clinicianID = strings.TrimSpace(clinicianID)
	if clinicianID == "" {
		return nil, invalid("clinician_id", "required")
	}
	items, err := s.repo.ListByClinician(ctx, clinicianID)
	if err != nil {
		return nil, fmt.Errorf("list grants by clinician: %w", err)
	}
	return s.withDetails(items), nil
}

func (s *Service) withDetails(items []Grant) []GrantWithDetails {
	now := s.now()
	out := make([]GrantWithDetails, 0, len(items))
	for _, g := range items {
		eff := g.EffectiveStatus(now)
		out = append(out, GrantWithDetails{
			Grant:           g,
			EffectiveStatus: eff,
			AccessibleNow:   eff == StatusActive && g.Permissions.Any(),
			LastAction:      g.LastAudit(),
		})
	}
	return out
}

// ExpireDue pasa a expired todo grant pending/active vencido. Devuelve cuántos
// transicionó en esta corrida; los que otro proceso ya cerró no cuentan.
// Un grant que falla no corta la pasada: se loguea y el error se devuelve
// junto con los demás al final.
func (s *Service) ExpireDue(ctx context.Context, batch int) (int, error) {
	if batch <= 0 {
		batch = DefaultSweepBatch
	}
	now := s.now()
	expired := 0
	afterID := ""
	var errs []error

	for {
		if err := ctx.Err(); err != nil {
			return expired, errors.Join(append(errs, err)...)
		}
		items, err := s.repo.ListExpirable(ctx, now, afterID, batch)
		if err != nil {
			return expired, errors.Join(append(errs, fmt.Errorf("list expirable: %w", err))...)
		}
		for _, g := range items {
			ok, err := s.expireAt(ctx, g.ID, now)
			if err != nil {
				s.log.Warn("expire grant failed", map[string]any{"grant_id": g.ID, "err": err})
				errs = append(errs, err)
				continue
			}
			if ok {
				expired++
			}
		}
		if len(items) < batch {
			return expired, errors.Join(errs...)
		}
		afterID = items[len(items)-1].ID
	}
}

// expireLazily intenta la transición a expired en su propia transacción.
// Un fallo no cambia la respuesta al llamador: el sweeper lo reintenta.
func (s *Service) expireLazily(ctx context.Context, grantID string) {
	if _, err := s.expireAt(ctx, grantID, s.now()); err != nil {
		s.log.Warn("lazy expiry failed", map[string]any{"grant_id": grantID, "err": err})
	}
}

func (s *Service) expireAt(ctx context.Context, grantID string, now time.Time) (bool, error) {
	_, err := s.repo.Mutate(ctx, grantID, func(g *Grant) error {
		return expireInPlace(g, now)
	})
	if errors.Is(err, ErrNoChange) || errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("expire grant %s: %w", grantID, err)
	}
	s.observer.Transitioned(AuditExpired)
	s.log.Info("consent expired", map[string]any{"grant_id": grantID})
	return true, nil
}

// expireInPlace es el CAS de expiración: solo actúa si el grant sigue
// pending/active y el plazo pasó. Una revocación concurrente gana.
func expireInPlace(g *Grant, now time.Time) error {
	if g.Status != StatusPending && g.Status != StatusActive {
		return ErrNoChange
	}
	if !g.PastDeadline(now) {
		return ErrNoChange
	}
	g.Status = StatusExpired
	g.ExpiredAt = &now
	g.UpdatedAt = now
	g.appendAudit(AuditExpired, SystemUserID, map[string]string{
		"expires_at": g.ExpiresAt.UTC().Format(time.RFC3339),
	}, now)
	return nil
}

func (s *Service) dispatch(n notify.Notification) {
	if s.notifier == nil {
		return
	}
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.notifyTimeout)
		defer cancel()
		if err := s.notifier.Notify(ctx, n); err != nil {
			s.log.Warn("notification dispatch failed", map[string]any{
				"grant_id": n.GrantID,
				"kind":     string(n.Kind),
				"err":      err,
			})
		}
	}()
}

// Wait bloquea hasta que terminen las notificaciones en vuelo.
func (s *Service) Wait() {
	s.inflight.Wait()
}
