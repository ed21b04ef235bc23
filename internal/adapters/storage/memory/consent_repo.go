package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"clinical-consent/internal/domain/consent"
)

// consentRepo guarda copias profundas: nada de lo que entra o sale comparte
// memoria con el mapa interno. Mutate toma el lock de escritura completo, que
// alcanza como "lock de fila" para un proceso.
type consentRepo struct {
	mu      sync.RWMutex
	byID    map[string]consent.Grant
	byToken map[string]string // token hash -> grant id
}

func NewConsentRepo() consent.Repository {
	return &consentRepo{
		byID:    make(map[string]consent.Grant),
		byToken: make(map[string]string),
	}
}

func (r *consentRepo) Create(ctx context.Context, g consent.Grant) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if g.ID == "" {
		return errors.New("grant id required")
	}
	if _, exists := r.byID[g.ID]; exists {
		return errors.New("grant already exists")
	}
	if g.TokenHash != "" {
		if _, exists := r.byToken[g.TokenHash]; exists {
			return errors.New("claim token already in use")
		}
		r.byToken[g.TokenHash] = g.ID
	}

	g = g.Clone()
	g.Token = ""
	if g.Version == 0 {
		g.Version = 1
	}
	r.byID[g.ID] = g
	return nil
}

func (r *consentRepo) Mutate(ctx context.Context, id string, fn consent.MutateFunc) (consent.Grant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.mutateLocked(ctx, id, fn)
}

func (r *consentRepo) MutateByTokenHash(ctx context.Context, tokenHash string, fn consent.MutateFunc) (consent.Grant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byToken[tokenHash]
	if !ok || tokenHash == "" {
		return consent.Grant{}, consent.ErrNotFound
	}
	return r.mutateLocked(ctx, id, fn)
}

func (r *consentRepo) mutateLocked(ctx context.Context, id string, fn consent.MutateFunc) (consent.Grant, error) {
	if err := ctx.Err(); err != nil {
		return consent.Grant{}, err
	}
	cur, ok := r.byID[id]
	if !ok {
		return consent.Grant{}, consent.ErrNotFound
	}

	work := cur.Clone()
	if err := fn(&work); err != nil {
		return consent.Grant{}, err
	}

	// Las entradas previas del log son inmutables: solo se aceptan appends.
	if len(work.AuditLog) < len(cur.AuditLog) {
		return consent.Grant{}, errors.New("audit log entries cannot be removed")
	}

	work.ID = cur.ID
	work.Token = ""
	work.TokenHash = cur.TokenHash
	work.Version = cur.Version + 1
	r.byID[id] = work.Clone()
	return work, nil
}

func (r *consentRepo) GetByID(ctx context.Context, id string) (consent.Grant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	g, ok := r.byID[id]
	if !ok {
		return consent.Grant{}, consent.ErrNotFound
	}
	return g.Clone(), nil
}

func (r *consentRepo) FindForAccess(ctx context.Context, clinicianID, patientID string) ([]consent.Grant, error) {
	return r.filter(func(g consent.Grant) bool {
		return g.ClinicianID == clinicianID && g.PatientID == patientID
	}), nil
}

func (r *consentRepo) ListByPatient(ctx context.Context, patientID string) ([]consent.Grant, error) {
	return r.filter(func(g consent.Grant) bool { return g.PatientID == patientID }), nil
}

func (r *consentRepo) ListByClinician(ctx context.Context, clinicianID string) ([]consent.Grant, error) {
	return r.filter(func(g consent.Grant) bool { return g.ClinicianID == clinicianID }), nil
}

func (r *consentRepo) ListExpirable(ctx context.Context, now time.Time, afterID string, limit int) ([]consent.Grant, error) {
	r.mu.RLock()
	out := make([]consent.Grant, 0)
	for _, g := range r.byID {
		if g.Status != consent.StatusPending && g.Status != consent.StatusActive {
			continue
		}
		if !g.PastDeadline(now) {
			continue
		}
		if afterID != "" && g.ID <= afterID {
			continue
		}
		out = append(out, g.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// filter devuelve copias ordenadas por GrantedAt desc (más reciente primero).
func (r *consentRepo) filter(match func(consent.Grant) bool) []consent.Grant {
	r.mu.RLock()
	out := make([]consent.Grant, 0)
	for _, g := range r.byID {
		if match(g) {
			out = append(out, g.Clone())
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].GrantedAt.Equal(out[j].GrantedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].GrantedAt.After(out[j].GrantedAt)
	})
	return out
}
