package router

import (
	"database/sql"
	"net/http"
	"time"

	_ "vet-practice-records/docs"
	mem "vet-practice-records/internal/adapters/storage/memory"
	pg "vet-practice-records/internal/adapters/storage/postgres"
	"vet-practice-records/internal/domain/accounts"
	"vet-practice-records/internal/domain/activity"
	"vet-practice-records/internal/domain/organizations"
	"vet-practice-records/internal/domain/records"
	"vet-practice-records/internal/guard"
	"vet-practice-records/internal/middleware"
	"vet-practice-records/internal/platform/logger"
	"vet-practice-records/internal/platform/metrics"
	"vet-practice-records/internal/ports/auth"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	httpSwagger "github.com/swaggo/http-swagger"
)

type Options struct {
	AuthVerifier auth.AuthVerifier // puede ser nil (modo dev)

	// Opcional: si viene, usa Postgres. Si no, in-memory.
	DB *sql.DB

	Logger  logger.Logger
	Metrics *metrics.Metrics

	// ActivitySink extra (p.ej. Redis stream). El log de la org siempre se escribe.
	ActivitySink activity.Sink

	MasterAdminEmails []string
	InvitationTTL     time.Duration
	ActivityTimeout   time.Duration
}

func NewRouter(opts Options) http.Handler {
	log := opts.Logger
	if log == nil {
		log = logger.NewNop()
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.New()
	}

	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(accessLog(log))

	r.Use(middleware.AuthContext(opts.AuthVerifier, log.With(map[string]any{"component": "auth"})))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", m.Handler())
	r.Get("/swagger/*", httpSwagger.WrapHandler)

	var (
		accountRepo accounts.Repository
		orgRepo     organizations.Repository
		recordStore records.Store
		activityLog interface {
			activity.Sink
			activity.Reader
		}
	)

	if opts.DB != nil {
		accountRepo = pg.NewAccountsRepo(opts.DB)
		orgRepo = pg.NewOrganizationsRepo(opts.DB)
		recordStore = pg.NewRecordStore(opts.DB)
		activityLog = pg.NewActivityLog(opts.DB)
	} else {
		accountRepo = mem.NewAccountRepo()
		orgRepo = mem.NewOrganizationRepo()
		recordStore = mem.NewRecordStore()
		activityLog = mem.NewActivityLog()
	}

	var sink activity.Sink = activityLog
	if opts.ActivitySink != nil {
		sink = activity.MultiSink{activityLog, opts.ActivitySink}
	}
	recorder := activity.NewRecorder(sink, log.With(map[string]any{"component": "activity"}), m, opts.ActivityTimeout)

	// Services por módulo
	accountsSvc := accounts.NewService(accountRepo, accounts.Options{
		Recorder:          recorder,
		MasterAdminEmails: opts.MasterAdminEmails,
	})
	orgSvc := organizations.NewService(orgRepo, organizations.Options{
		Accounts:      accountsSvc,
		Recorder:      recorder,
		InvitationTTL: opts.InvitationTTL,
	})
	recordsSvc := records.NewService(recordStore, records.Options{
		Recorder: recorder,
		Metrics:  m,
	})

	g := guard.New(accountsSvc, orgSvc, m, log.With(map[string]any{"component": "guard"}))

	// Rutas por módulo
	accounts.RegisterRoutes(r, accountsSvc, g, log)
	organizations.RegisterRoutes(r, orgSvc, g, log)
	records.RegisterRoutes(r, recordsSvc, g, log)
	activity.RegisterRoutes(r, activityLog, g, log)

	return r
}

func accessLog(log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug("http request", map[string]any{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      ww.Status(),
				"duration_ms": time.Since(start).Milliseconds(),
				"request_id":  chimw.GetReqID(r.Context()),
			})
		})
	}
}
