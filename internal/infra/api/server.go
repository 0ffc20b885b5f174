package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"content-batch/internal/usecase"
)

// RateLimiter throttles job starts per account.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

type Options struct {
	RequestTimeout time.Duration
	JobStartLimit  int
	JobStartWindow time.Duration
}

type Server struct {
	orch    usecase.OrchestratorUseCase
	ledger  usecase.LedgerUseCase
	publish usecase.PublishUseCase
	auth    *AuthManager
	limiter RateLimiter
	opts    Options
	log     *zerolog.Logger
}

// NewServer wires the API. limiter may be nil to disable throttling.
func NewServer(
	orch usecase.OrchestratorUseCase,
	ledger usecase.LedgerUseCase,
	publish usecase.PublishUseCase,
	auth *AuthManager,
	limiter RateLimiter,
	opts Options,
	logger *zerolog.Logger,
) *Server {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	l := logger.With().Str("component", "api").Logger()
	return &Server{
		orch:    orch,
		ledger:  ledger,
		publish: publish,
		auth:    auth,
		limiter: limiter,
		opts:    opts,
		log:     &l,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(TraceID)
	r.Use(middleware.RealIP)
	r.Use(RequestLog(s.log))
	r.Use(Recover(s.log))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(Timeout(s.opts.RequestTimeout))
		r.Use(s.auth.Middleware)

		r.Post("/jobs", s.handleStartJob)
		r.Post("/jobs/backlog", s.handleStartBacklog)
		r.Get("/jobs/{id}", s.handleGetJob)
		r.Get("/jobs/{id}/items", s.handleListJobItems)
		r.Post("/jobs/{id}/cancel", s.handleCancelJob)
		r.Post("/jobs/{id}/retry", s.handleRetryJob)

		r.Post("/items", s.handleEnqueueItems)
		r.Get("/items/{id}", s.handleGetItem)
		r.Post("/items/{id}/publish", s.handlePublishItem)

		r.With(RequireAdmin).Post("/accounts", s.handleOpenAccount)
		r.Get("/accounts/{id}", s.handleGetBalance)
		r.Get("/accounts/{id}/history", s.handleGetHistory)
		r.With(RequireAdmin).Post("/accounts/{id}/credits", s.handleCredit)
	})
	return r
}
