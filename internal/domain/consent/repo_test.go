package consent

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// -------------------------
// Test repo (in-memory)
// -------------------------

type testRepo struct {
	mu      sync.Mutex
	byID    map[string]Grant
	byToken map[string]string

	// failMutate fuerza error de storage en Mutate (lazy expiry tolerante).
	failMutate error
	// failIDs falla Mutate solo para esos grants.
	failIDs map[string]error
	mutates    int
}

func newTestRepo() *testRepo {
	return &testRepo{byID: map[string]Grant{}, byToken: map[string]string{}}
}

func (r *testRepo) Create(ctx context.Context, g Grant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if g.ID == "" {
		return errors.New("repo: id required")
	}
	if _, ok := r.byID[g.ID]; ok {
		return errors.New("repo: already exists")
	}
	g = g.Clone()
	g.Token = ""
	r.byID[g.ID] = g
	r.byToken[g.TokenHash] = g.ID
	return nil
}

func (r *testRepo) Mutate(ctx context.Context, id string, fn MutateFunc) (Grant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mutate(id, fn)
}

func (r *testRepo) MutateByTokenHash(ctx context.Context, hash string, fn MutateFunc) (Grant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byToken[hash]
	if !ok {
		return Grant{}, ErrNotFound
	}
	return r.mutate(id, fn)
}

func (r *testRepo) mutate(id string, fn MutateFunc) (Grant, error) {
	r.mutates++
	if r.failMutate != nil {
		return Grant{}, r.failMutate
	}
	if err := r.failIDs[id]; err != nil {
		return Grant{}, err
	}
	cur, ok := r.byID[id]
	if !ok {
		return Grant{}, ErrNotFound
	}
	work := cur.Clone()
	if err := fn(&work); err != nil {
		return Grant{}, err
	}
	work.Version = cur.Version + 1
	r.byID[id] = work.Clone()
	return work, nil
}

func (r *testRepo) GetByID(ctx context.Context, id string) (Grant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.byID[id]
	if !ok {
		return Grant{}, ErrNotFound
	}
	return g.Clone(), nil
}

func (r *testRepo) FindForAccess(ctx context.Context, clinicianID, patientID string) ([]Grant, error) {
	return r.list(func(g Grant) bool { return g.ClinicianID == clinicianID && g.PatientID == patientID }), nil
}

func (r *testRepo) ListByPatient(ctx context.Context, patientID string) ([]Grant, error) {
	return r.list(func(g Grant) bool { return g.PatientID == patientID }), nil
}

func (r *testRepo) ListByClinician(ctx context.Context, clinicianID string) ([]Grant, error) {
	return r.list(func(g Grant) bool { return g.ClinicianID == clinicianID }), nil
}

func (r *testRepo) ListExpirable(ctx context.Context, now time.Time, afterID string, limit int) ([]Grant, error) {
	out := r.list(func(g Grant) bool {
		return (g.Status == StatusPending || g.Status == StatusActive) && g.PastDeadline(now) && g.ID > afterID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *testRepo) list(match func(Grant) bool) []Grant {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Grant, 0)
	for _, g := range r.byID {
		if match(g) {
			out = append(out, g.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *testRepo) stored(id string) Grant {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byID[id].Clone()
}

// -------------------------
// Test doubles
// -------------------------

type recordingAuditor struct {
	mu      sync.Mutex
	denials []AccessDenial
}

func (a *recordingAuditor) AccessDenied(ctx context.Context, d AccessDenial) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.denials = append(a.denials, d)
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}
