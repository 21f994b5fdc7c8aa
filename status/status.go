// Package status serves the local introspection endpoint: liveness,
// engine counters, active channels and recent alerts. It binds to
// localhost by default and carries no authentication, so never expose
// it beyond the host.
package status

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hazyhaar/hostwatch/channels"
	"github.com/hazyhaar/hostwatch/observability"
	"github.com/hazyhaar/hostwatch/scheduler"
)

// heartbeatStale is the liveness boundary for the reported heartbeat,
// three times the writer's 15s interval.
const heartbeatStale = 45 * time.Second

// Server exposes agent state over local HTTP.
type Server struct {
	engine  *scheduler.Engine
	router  *channels.Router
	alerts  *observability.AlertLogger
	obsDB   *sql.DB
	logger  *slog.Logger
	started time.Time

	http *http.Server
}

// New creates a status server. The alert logger and observability database
// are optional; nil just leaves those payload sections empty.
func New(addr string, engine *scheduler.Engine, router *channels.Router, alerts *observability.AlertLogger, obsDB *sql.DB, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		engine:  engine,
		router:  router,
		alerts:  alerts,
		obsDB:   obsDB,
		logger:  logger,
		started: time.Now(),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", s.handleHealthz)
	r.Get("/status", s.handleStatus)

	s.http = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the HTTP handler, for tests.
func (s *Server) Handler() http.Handler { return s.http.Handler }

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		s.logger.Info("status endpoint listening", "addr", s.http.Addr)
		errc <- s.http.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("ok\n"))
}

// statusPayload is the /status response body.
type statusPayload struct {
	Uptime       string                         `json:"uptime"`
	Engine       scheduler.Stats                `json:"engine"`
	Channels     []string                       `json:"channels"`
	Heartbeat    *observability.HeartbeatStatus `json:"heartbeat,omitempty"`
	RecentAlerts []observability.AlertRecord    `json:"recent_alerts,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	payload := statusPayload{
		Uptime:   time.Since(s.started).Round(time.Second).String(),
		Engine:   s.engine.Stats(),
		Channels: s.router.Active(),
	}
	if s.obsDB != nil {
		hb, err := observability.LatestHeartbeat(r.Context(), s.obsDB, "hostwatch", heartbeatStale)
		if err != nil {
			s.logger.Warn("heartbeat query failed", "error", err)
		} else {
			payload.Heartbeat = hb
		}
	}
	if s.alerts != nil {
		recent, err := s.alerts.RecentAlerts(r.Context(), 20)
		if err != nil {
			s.logger.Warn("recent alerts query failed", "error", err)
		} else {
			payload.RecentAlerts = recent
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("status encode failed", "error", err)
	}
}
