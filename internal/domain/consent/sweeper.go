package consent

import (
	"context"
	"errors"
	"time"

	"clinical-consent/internal/platform/logger"
)

const DefaultSweepInterval = time.Minute

// Sweeper corre ExpireDue periódicamente sobre los grants vencidos que
// nadie consultó.
type Sweeper struct {
	svc      *Service
	interval time.Duration
	batch    int
	log      logger.Logger
}

func NewSweeper(svc *Service, interval time.Duration, batch int) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if batch <= 0 {
		batch = DefaultSweepBatch
	}
	return &Sweeper{
		svc:      svc,
		interval: interval,
		batch:    batch,
		log:      svc.log.With(map[string]any{"worker": "expiry_sweeper"}),
	}
}

// RunOnce hace una pasada. El error de una pasada no es fatal para Run.
func (w *Sweeper) RunOnce(ctx context.Context) (int, error) {
	started := time.Now()
	n, err := w.svc.ExpireDue(ctx, w.batch)
	w.svc.observer.Swept(n, err)

	fields := map[string]any{"expired": n, "elapsed_ms": time.Since(started).Milliseconds()}
	switch {
	case err != nil && !errors.Is(err, context.Canceled):
		fields["err"] = err
		w.log.Error("expiry sweep failed", fields)
	case n > 0:
		w.log.Info("expiry sweep", fields)
	default:
		w.log.Debug("expiry sweep", fields)
	}
	return n, err
}

// Run bloquea hasta que ctx se cancele. La primera pasada es inmediata.
func (w *Sweeper) Run(ctx context.Context) error {
	w.log.Info("expiry sweeper started", map[string]any{"interval": w.interval.String(), "batch": w.batch})

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		_, _ = w.RunOnce(ctx)

		select {
		case <-ctx.Done():
			w.log.Info("expiry sweeper stopped", nil)
			return nil
		case <-ticker.C:
		}
	}
}
