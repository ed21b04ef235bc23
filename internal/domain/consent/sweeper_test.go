package consent

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"
)

type countingObserver struct {
	nopObserver
	mu     sync.Mutex
	sweeps int
	errs   int
}

func (o *countingObserver) Swept(n int, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sweeps++
	if err != nil {
		o.errs++
	}
}

func (o *countingObserver) snapshot() (int, int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sweeps, o.errs
}

func TestSweeper_RunOnce(t *testing.T) {
	svc, repo, c := newTestService(t)
	obs := &countingObserver{}
	svc.observer = obs

	exp := c.Now().Add(time.Minute)
	g := mustActive(t, svc, GrantInput{Permissions: Permissions{View: true}, ExpiresAt: &exp})

	w := NewSweeper(svc, time.Hour, 10)
	n, err := w.RunOnce(context.Background())
	if err != nil || n != 0 {
		t.Fatalf("nothing due yet, got n=%d err=%v", n, err)
	}

	c.Advance(time.Minute)
	n, err = w.RunOnce(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("expected 1 expired, got n=%d err=%v", n, err)
	}
	if st := repo.stored(g.ID).Status; st != StatusExpired {
		t.Fatalf("expected expired, got %s", st)
	}
	if sweeps, _ := obs.snapshot(); sweeps != 2 {
		t.Fatalf("expected 2 observed sweeps, got %d", sweeps)
	}
}

func TestSweeper_RunSurvivesErrorsAndStopsOnCancel(t *testing.T) {
	svc, repo, c := newTestService(t)
	obs := &countingObserver{}
	svc.observer = obs

	exp := c.Now().Add(time.Minute)
	mustActive(t, svc, GrantInput{Permissions: Permissions{View: true}, ExpiresAt: &exp})
	c.Advance(time.Hour)

	repo.mu.Lock()
	repo.failMutate = errors.New("db down")
	repo.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewSweeper(svc, 5*time.Millisecond, 10).Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for {
		if sweeps, errs := obs.snapshot(); sweeps >= 3 && errs >= 3 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("sweeper stopped ticking after errors")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run must return nil on cancel, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("sweeper did not stop")
	}
}

func TestSweeper_FailingGrantDoesNotBlockOthers(t *testing.T) {
	svc, repo, c := newTestService(t)
	exp := c.Now().Add(time.Minute)

	ids := make([]string, 0, 3)
	for i := 0; i < 3; i++ {
		g := mustGrant(t, svc, GrantInput{Permissions: Permissions{View: true}, ExpiresAt: &exp})
		ids = append(ids, g.ID)
	}
	sort.Strings(ids)
	c.Advance(time.Hour)

	corrupt := errors.New("decode audit details: corrupt")
	repo.mu.Lock()
	repo.failIDs = map[string]error{ids[0]: corrupt}
	repo.mu.Unlock()

	w := NewSweeper(svc, time.Hour, 1)
	n, err := w.RunOnce(context.Background())
	if !errors.Is(err, corrupt) {
		t.Fatalf("expected the failing grant's error, got %v", err)
	}
	if n != 2 {
		t.Fatalf("expected the 2 healthy grants expired, got %d", n)
	}
	for _, id := range ids[1:] {
		if st := repo.stored(id).Status; st != StatusExpired {
			t.Fatalf("grant %s: expected expired, got %s", id, st)
		}
	}
	if st := repo.stored(ids[0]).Status; st != StatusPending {
		t.Fatalf("failing grant must stay pending, got %s", st)
	}

	// La siguiente pasada reintenta solo el que falló.
	n, err = w.RunOnce(context.Background())
	if !errors.Is(err, corrupt) || n != 0 {
		t.Fatalf("expected retry of the failing grant only, got n=%d err=%v", n, err)
	}
}
