package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"nitropay/internal/domain"
	nplog "nitropay/internal/log"
)

const defaultIntentLimit = 60

// Config holds the server dependencies.
type Config struct {
	Session domain.SessionController
	// Gatherer backs /metrics; the route is absent when nil.
	Gatherer prometheus.Gatherer
	// IntentLimit caps intent requests per client IP and minute.
	IntentLimit int
	Logger      *zerolog.Logger
}

// Server is the HTTP front of one session.
type Server struct {
	session domain.SessionController
	log     zerolog.Logger
	router  http.Handler
}

// New builds the router.
func New(cfg Config) *Server {
	if cfg.IntentLimit <= 0 {
		cfg.IntentLimit = defaultIntentLimit
	}
	l := nplog.Nop()
	if cfg.Logger != nil {
		l = *cfg.Logger
	}
	s := &Server{
		session: cfg.Session,
		log:     l.With().Str(nplog.FieldComponent, "api").Logger(),
	}
	s.router = s.routes(cfg)
	return s
}

// Handler exposes the configured router.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes(cfg Config) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(s.accessLog)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(v1 chi.Router) {
		v1.Get("/session", s.getSession)
		v1.Get("/session/events", s.streamSession)

		v1.Group(func(intents chi.Router) {
			intents.Use(httprate.Limit(cfg.IntentLimit, time.Minute,
				httprate.WithKeyFuncs(httprate.KeyByIP),
				httprate.WithLimitHandler(func(w http.ResponseWriter, _ *http.Request) {
					writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "rate_limit_exceeded"})
				}),
			))
			intents.Post("/session/connect", s.connect)
			intents.Post("/session/disconnect", s.disconnect)
			intents.Post("/channel", s.openChannel)
			intents.Delete("/channel", s.closeChannel)
			intents.Post("/deposits", s.deposit)
			intents.Post("/payments", s.pay)
			intents.Post("/balances/refresh", s.refreshBalances)
		})
	})
	return r
}

// accessLog puts a request-scoped logger into the request context and logs
// the request once it completes.
func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rl := s.log.With().Str(nplog.FieldRequestID, chimw.GetReqID(r.Context())).Logger()
		r = r.WithContext(nplog.IntoContext(r.Context(), rl))
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		rl.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("took", time.Since(start)).
			Msg("http request")
	})
}
