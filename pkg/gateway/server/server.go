// Package server wires the gateway's handlers, middleware, and
// dependencies into one http.Handler.
package server

import (
	"log/slog"
	"net/http"

	"github.com/voxprep/voxprep/pkg/gateway/config"
	"github.com/voxprep/voxprep/pkg/gateway/handlers"
	"github.com/voxprep/voxprep/pkg/gateway/metrics"
	"github.com/voxprep/voxprep/pkg/gateway/mw"
	"github.com/voxprep/voxprep/pkg/gateway/ratelimit"
)

// Deps carries the gateway's service dependencies.
type Deps struct {
	Store     handlers.Store
	Questions handlers.QuestionGenerator
	Feedback  handlers.FeedbackGenerator
	// DB is the optional database health probe for /readyz.
	DB handlers.Pinger
}

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux

	limiter *ratelimit.Limiter
	metrics *metrics.Metrics
}

func New(cfg config.Config, logger *slog.Logger, deps Deps) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:    cfg,
		logger: logger,
		mux:    http.NewServeMux(),
		limiter: ratelimit.New(ratelimit.Config{
			Limit:      cfg.QuestionRateLimit,
			Window:     cfg.QuestionRateWindow,
			MaxEntries: cfg.QuestionRateMaxEntries,
		}),
		metrics: metrics.New("voxprep"),
	}

	s.routes(deps)
	return s
}

func (s *Server) routes(deps Deps) {
	s.mux.Handle("/healthz", handlers.HealthHandler{})
	s.mux.Handle("/readyz", handlers.ReadyHandler{Config: s.cfg, DB: deps.DB})
	s.mux.Handle("/metrics", s.metrics.Handler())

	s.mux.Handle("/v1/questions", mw.Instrument(s.metrics, "questions", handlers.QuestionsHandler{
		Config:   s.cfg,
		Pipeline: deps.Questions,
		Limiter:  s.limiter,
		Metrics:  s.metrics,
		Logger:   s.logger,
	}))
	interviews := mw.Instrument(s.metrics, "interviews", handlers.InterviewsHandler{
		Store:  deps.Store,
		Logger: s.logger,
	})
	s.mux.Handle("/v1/interviews", interviews)
	s.mux.Handle("/v1/interviews/", interviews)
	s.mux.Handle("/v1/feedback", mw.Instrument(s.metrics, "feedback", handlers.FeedbackHandler{
		Store:    deps.Store,
		Pipeline: deps.Feedback,
		Metrics:  s.metrics,
		Model:    s.cfg.FeedbackModel,
		Logger:   s.logger,
	}))
	s.mux.Handle("/", handlers.NotFoundHandler{})
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	if s.cfg.HandlerTimeout > 0 {
		h = http.TimeoutHandler(h, s.cfg.HandlerTimeout,
			`{"error":{"type":"api_error","message":"request timed out"}}`)
	}
	h = mw.MaxBody(s.cfg.MaxBodyBytes, h)
	h = mw.Auth(s.cfg, h)
	h = mw.CORS(s.cfg, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}
