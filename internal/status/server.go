// Package status serves the watch loop's health, metrics and trigger
// endpoints.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/nhle/mailpost/internal/logger"
	"github.com/nhle/mailpost/internal/metrics"
	"github.com/nhle/mailpost/internal/sync"
)

const shutdownTimeout = 5 * time.Second

// Poller is the part of sync.Poller the server exposes.
type Poller interface {
	Status() sync.SyncStatus
	Trigger()
}

// Health is the /healthz response body.
type Health struct {
	State       string     `json:"state"`
	Healthy     bool       `json:"healthy"`
	Runs        int        `json:"runs"`
	Failures    int        `json:"failures"`
	LastRun     *time.Time `json:"last_run,omitempty"`
	LastSuccess *time.Time `json:"last_success,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// Server is the HTTP status server.
type Server struct {
	addr   string
	poller Poller
	server *http.Server
}

// New creates a server listening on addr.
func New(addr string, poller Poller) *Server {
	s := &Server{addr: addr, poller: poller}
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Router returns the routes served by s.
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()
	router.Use(loggingMiddleware)

	router.Handle("/metrics", metrics.Handler()).Methods("GET")
	router.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	router.HandleFunc("/trigger", s.handleTrigger).Methods("POST")
	return router
}

// Start serves until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("status server listening", "addr", s.addr)
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.poller.Status()
	h := Health{
		State:    st.State.String(),
		Healthy:  st.Healthy(),
		Runs:     st.Runs,
		Failures: st.Failures,
	}
	if !st.LastRun.IsZero() {
		h.LastRun = &st.LastRun
	}
	if !st.LastSuccess.IsZero() {
		h.LastSuccess = &st.LastSuccess
	}
	if st.Error != nil {
		h.Error = st.Error.Error()
	}

	code := http.StatusOK
	if !h.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, h)
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	s.poller.Trigger()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "triggered"})
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Debug("status request", "method", r.Method, "path", r.URL.Path, "elapsed", time.Since(start))
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Warn("encoding status response", "error", err)
	}
}
