// Package server exposes a running poll over HTTP: per-host status as JSON
// and Prometheus metrics.
package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/devpoll/devpoll/internal/errors"
	"github.com/devpoll/devpoll/internal/logger"
)

// Server serves the status API.
type Server struct {
	router *chi.Mux
	status *Status
	runID  string
	log    logger.Logger
}

// New builds the router. gatherer may be nil to omit /metrics.
func New(runID string, status *Status, gatherer prometheus.Gatherer, log logger.Logger) *Server {
	if log == nil {
		log = logger.Noop()
	}
	s := &Server{router: chi.NewRouter(), status: status, runID: runID, log: log}

	r := s.router
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)
	r.Use(s.requestLog)

	r.Get("/healthz", s.health)
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/hosts", s.listHosts)
		r.Get("/hosts/{host}", s.getHost)
	})
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve listens on addr until ctx is done, then shuts down gracefully.
// ready, when non-nil, receives the bound address once listening.
func (s *Server) Serve(ctx context.Context, addr string, ready chan<- string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig,
			"Can't listen on "+addr,
			"Pick a free port with --listen")
	}
	if ready != nil {
		ready <- ln.Addr().String()
	}
	s.log.Info("status API listening on http://%s", ln.Addr())

	srv := &http.Server{Handler: s.router, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		return errors.WrapWithCode(err, errors.ErrConfig, "Status API stopped", "")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig, "Status API didn't shut down cleanly", "")
	}
	return nil
}

func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("http: %s %s %d %s", r.Method, r.URL.Path, ww.Status(), time.Since(start).Round(time.Microsecond))
	})
}

type healthResponse struct {
	Status string         `json:"status"`
	RunID  string         `json:"run_id"`
	Done   bool           `json:"done"`
	States map[string]int `json:"states"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, healthResponse{
		Status: "ok",
		RunID:  s.runID,
		Done:   s.status.Done(),
		States: s.status.Counts(),
	})
}

func (s *Server) listHosts(w http.ResponseWriter, r *http.Request) {
	hosts := s.status.Hosts()
	if state := r.URL.Query().Get("state"); state != "" {
		filtered := hosts[:0]
		for _, h := range hosts {
			if h.State == state {
				filtered = append(filtered, h)
			}
		}
		hosts = filtered
	}
	sendJSON(w, http.StatusOK, hosts)
}

func (s *Server) getHost(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "host")
	h, ok := s.status.Host(id)
	if !ok {
		sendError(w, http.StatusNotFound, "NOT_FOUND", "No host named "+id)
		return
	}
	sendJSON(w, http.StatusOK, h)
}

type errorResponse struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func sendJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

func sendError(w http.ResponseWriter, status int, code, message string) {
	sendJSON(w, status, errorResponse{Error: errorDetail{Code: code, Message: message}})
}
