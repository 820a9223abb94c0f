// Package api serves the read-only stats HTTP API.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/plpmc/statmirror/internal/cache"
	"github.com/plpmc/statmirror/internal/export"
	"github.com/plpmc/statmirror/internal/query"
	"github.com/plpmc/statmirror/internal/version"
)

// Server is the HTTP front of a query.Service.
type Server struct {
	log    logrus.FieldLogger
	cfg    Config
	query  *query.Service
	health *export.HealthMetrics

	slots    *semaphore.Weighted
	handler  http.Handler
	server   *http.Server
	listener net.Listener
}

// New creates a server over c. The query limits come from cfg.
func New(
	log logrus.FieldLogger,
	cfg Config,
	c *cache.Cache,
	health *export.HealthMetrics,
) *Server {
	cfg.ApplyDefaults()

	s := &Server{
		log:    log.WithField("component", "api"),
		cfg:    cfg,
		health: health,
		slots:  semaphore.NewWeighted(int64(cfg.Workers)),
		query: query.New(c, query.Limits{
			MaxPlayers: cfg.MaxResponsePlayers,
			MaxTop:     cfg.MaxTopResults,
		}),
	}

	s.handler = s.routes()

	return s
}

// Handler returns the full handler chain.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	base := s.cfg.BasePath
	mux := http.NewServeMux()

	s.handle(mux, base+"/players", "players", s.handlePlayers)
	s.handle(mux, base+"/players/", "player_by_id", s.handlePlayerByID)
	s.handle(mux, base+"/player/", "player_by_name", s.handlePlayerByName)
	s.handle(mux, base+"/online", "online", s.handleOnline)
	s.handle(mux, base+"/summary", "summary", s.handleSummary)
	s.handle(mux, base+"/top/jumps", "top_jumps", s.handleTopJumps)
	s.handle(mux, base+"/top/", "top", s.handleTop)

	return s.withHeaders(mux)
}

// handle registers h behind the method check, the worker pool and the
// request metrics.
func (s *Server) handle(mux *http.ServeMux, pattern, route string, h http.HandlerFunc) {
	mux.Handle(pattern, s.instrument(route, s.pooled(getOnly(h))))
}

func (s *Server) withHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", version.UserAgent())

		if s.cfg.CORS.Enabled {
			w.Header().Set("Access-Control-Allow-Origin", s.cfg.CORS.AllowOrigin)
		}

		next.ServeHTTP(w, r)
	})
}

func getOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			writeText(w, http.StatusMethodNotAllowed, "Method Not Allowed")

			return
		}

		next(w, r)
	}
}

// pooled bounds concurrent requests to the configured number of workers.
// Excess requests wait for a slot until their client goes away.
func (s *Server) pooled(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.slots.TryAcquire(1) {
			s.addQueued(1)
			err := s.slots.Acquire(r.Context(), 1)
			s.addQueued(-1)

			if err != nil {
				writeText(w, http.StatusServiceUnavailable, "Service Unavailable")

				return
			}
		}

		defer s.slots.Release(1)

		s.addInFlight(1)
		defer s.addInFlight(-1)

		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrument(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		if s.health != nil {
			s.health.HTTPRequestsTotal.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
			s.health.HTTPRequestDuration.WithLabelValues(route).
				Observe(time.Since(start).Seconds())
		}

		s.log.WithFields(logrus.Fields{
			"route":  route,
			"path":   r.URL.Path,
			"status": rec.status,
			"took":   time.Since(start),
		}).Trace("Served request")
	})
}

func (s *Server) addQueued(v float64) {
	if s.health != nil {
		s.health.HTTPQueued.Add(v)
	}
}

func (s *Server) addInFlight(v float64) {
	if s.health != nil {
		s.health.HTTPInFlight.Add(v)
	}
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start(_ context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Addr, err)
	}

	s.listener = ln
	s.server = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		s.log.WithFields(logrus.Fields{
			"addr":      ln.Addr().String(),
			"base_path": s.cfg.BasePath,
			"workers":   s.cfg.Workers,
		}).Info("Stats API listening")

		if err := s.server.Serve(ln); err != nil &&
			!errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).Error("Stats API server error")
		}
	}()

	return nil
}

// Addr returns the actual listener address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}

	return s.cfg.Addr
}

// Stop stops accepting requests and waits for in-flight ones until the
// shutdown timeout, then closes remaining connections.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		_ = s.server.Close()

		return fmt.Errorf("shutting down stats API: %w", err)
	}

	return nil
}
