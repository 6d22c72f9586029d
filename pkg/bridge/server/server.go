// Package server assembles the bridge HTTP surface: call initiation,
// transcription lookup, schedules, the media-stream WebSocket, health,
// and Prometheus metrics.
package server

import (
	"log/slog"
	"net/http"

	"github.com/hearsay-ai/callwire/pkg/bridge/config"
	"github.com/hearsay-ai/callwire/pkg/bridge/dialer"
	"github.com/hearsay-ai/callwire/pkg/bridge/handlers"
	"github.com/hearsay-ai/callwire/pkg/bridge/metrics"
	"github.com/hearsay-ai/callwire/pkg/bridge/mw"
	"github.com/hearsay-ai/callwire/pkg/bridge/store"
)

type Server struct {
	cfg     config.Config
	logger  *slog.Logger
	store   store.Store
	dialer  dialer.Dialer
	metrics *metrics.Metrics
	mux     *http.ServeMux
}

func New(cfg config.Config, logger *slog.Logger, st store.Store, d dialer.Dialer) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:     cfg,
		logger:  logger,
		store:   st,
		dialer:  d,
		metrics: metrics.New(cfg.MetricsNamespace),
		mux:     http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	// "/{$}" matches the bare root only; the plain "/" pattern picks up
	// everything unrouted.
	s.mux.Handle("/{$}", handlers.HealthHandler{})
	s.mux.Handle("/", handlers.NotFoundHandler{})
	s.mux.Handle("/call-user", handlers.CallUserHandler{
		Config:  s.cfg,
		Store:   s.store,
		Dialer:  s.dialer,
		Metrics: s.metrics,
		Logger:  s.logger,
	})
	s.mux.Handle("GET /calls/{id}/transcription", handlers.TranscriptionHandler{
		Store:  s.store,
		Logger: s.logger,
	})
	s.mux.Handle("/schedules", handlers.SchedulesHandler{
		Config: s.cfg,
		Store:  s.store,
		Logger: s.logger,
	})
	s.mux.Handle("GET /media-stream", handlers.MediaStreamHandler{
		Config:  s.cfg,
		Store:   s.store,
		Metrics: s.metrics,
		Logger:  s.logger,
	})
	s.mux.Handle("GET /metrics", s.metrics.Handler())
}

// Handler wraps the mux in the middleware chain. Order matters: the
// outermost middleware is applied last.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.Metrics(s.metrics, h)
	h = mw.CORS(s.cfg, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}

// Metrics exposes the registry for tests.
func (s *Server) Metrics() *metrics.Metrics {
	return s.metrics
}
