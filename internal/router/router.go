package router

import (
	"database/sql"
	"net/http"
	"time"

	_ "clinical-consent/docs"
	"clinical-consent/internal/adapters/notify/lognotify"
	mem "clinical-consent/internal/adapters/storage/memory"
	pg "clinical-consent/internal/adapters/storage/postgres"
	"clinical-consent/internal/audit"
	"clinical-consent/internal/domain/consent"
	"clinical-consent/internal/middleware"
	"clinical-consent/internal/platform/logger"
	"clinical-consent/internal/platform/metrics"
	"clinical-consent/internal/platform/ratelimit"
	"clinical-consent/internal/ports/auth"
	"clinical-consent/internal/ports/notify"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	httpSwagger "github.com/swaggo/http-swagger"
)

type Options struct {
	AuthVerifier auth.AuthVerifier // puede ser nil (modo dev)

	// Opcional: si viene, usa Postgres. Si no, in-memory.
	DB *sql.DB

	// Service ya armado (ej: compartido con el sweeper). Si es nil se arma con BuildService.
	Service *consent.Service

	Logger   logger.Logger
	Metrics  *metrics.Metrics  // nil => sin /metrics ni instrumentación
	Notifier notify.Notifier   // nil => lognotify
	Limiter  ratelimit.Limiter // rate limit de /consents/claim; nil => sin límite
	Clock    func() time.Time  // tests

	AuditDedupWindow time.Duration
	NotifyTimeout    time.Duration
}

// BuildService arma el servicio de consentimientos con sus adapters:
// store, auditor de denegaciones, notifier y métricas.
func BuildService(opts Options) *consent.Service {
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}

	var (
		repo consent.Repository
		sink audit.Sink
	)
	if opts.DB != nil {
		repo = pg.NewConsentRepo(opts.DB)
		sink = pg.NewAccessDenialsRepo(opts.DB)
	} else {
		repo = mem.NewConsentRepo()
		sink = audit.NewLogSink(log)
	}

	notifier := opts.Notifier
	if notifier == nil {
		notifier = lognotify.New(log)
	}

	svcOpts := []consent.Option{
		consent.WithLogger(log),
		consent.WithNotifier(notifier),
		consent.WithAccessAuditor(audit.NewRecorder(sink, opts.AuditDedupWindow, log)),
		consent.WithClock(opts.Clock),
		consent.WithNotifyTimeout(opts.NotifyTimeout),
	}
	if opts.Metrics != nil {
		svcOpts = append(svcOpts, consent.WithObserver(opts.Metrics))
	}
	return consent.NewService(repo, svcOpts...)
}

func NewRouter(opts Options) http.Handler {
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}

	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	if opts.Metrics != nil {
		r.Use(opts.Metrics.Instrument)
	}
	r.Use(middleware.RequestLog(log))

	// Rutas operativas sin auth.
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics.Handler())
	}
	r.Get("/swagger/*", httpSwagger.WrapHandler)

	svc := opts.Service
	if svc == nil {
		svc = BuildService(opts)
	}

	var onLimited func(string)
	if opts.Metrics != nil {
		onLimited = opts.Metrics.RateLimited
	}
	claimLimit := middleware.RateLimit(middleware.RateLimitOptions{
		Limiter:   opts.Limiter,
		Scope:     "claim",
		OnLimited: onLimited,
		Log:       log,
	})

	r.Group(func(ar chi.Router) {
		ar.Use(middleware.AuthContext(opts.AuthVerifier))
		consent.RegisterRoutes(ar, svc, claimLimit)
	})

	return r
}
