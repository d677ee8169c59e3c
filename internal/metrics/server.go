package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"bagging-bot/internal/logging"
	"bagging-bot/internal/models"
)

// StatusFunc returns the controller's current status snapshot.
type StatusFunc func() models.BotStatus

// RouterOption mounts optional control routes.
type RouterOption func(chi.Router)

// WithClearStop mounts POST /emergency/clear, which lifts an emergency halt.
func WithClearStop(clear func() bool) RouterOption {
	return func(r chi.Router) {
		r.Post("/emergency/clear", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]bool{"cleared": clear()})
		})
	}
}

// CycleFunc runs one forced cycle.
type CycleFunc func(ctx context.Context) models.CycleResult

// ExecuteFunc runs one full cycle, bypassing risk gating when force is set.
type ExecuteFunc func(ctx context.Context, force bool) models.CycleResult

// WithCycles mounts POST /cycle and POST /execute?force=, which run a cycle in the
// serving process so it shares that process's cycle lock and emergency stop. The
// cycle outlives a dropped request.
func WithCycles(cycle CycleFunc, execute ExecuteFunc) RouterOption {
	return func(r chi.Router) {
		r.Post("/cycle", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, cycle(context.WithoutCancel(r.Context())))
		})
		r.Post("/execute", func(w http.ResponseWriter, r *http.Request) {
			force := false
			if v := r.URL.Query().Get("force"); v != "" {
				var err error
				if force, err = strconv.ParseBool(v); err != nil {
					writeJSON(w, http.StatusBadRequest, map[string]string{"error": "force must be a boolean"})
					return
				}
			}
			writeJSON(w, http.StatusOK, execute(context.WithoutCancel(r.Context()), force))
		})
	}
}

// NewRouter builds the ops router: /metrics, /healthz and /status.
func NewRouter(m *Metrics, status StatusFunc, opts ...RouterOption) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	read := r.With(middleware.Timeout(10 * time.Second))
	read.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		st := status()
		code := http.StatusOK
		if st.IsRunning && !st.ThreadAlive {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, map[string]interface{}{
			"status":            healthLabel(code),
			"running":           st.IsRunning,
			"thread_alive":      st.ThreadAlive,
			"emergency_stopped": st.EmergencyStopped,
		})
	})

	read.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, status())
	})

	if m != nil {
		read.Handle("/metrics", m.Handler())
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func healthLabel(code int) string {
	if code == http.StatusOK {
		return "ok"
	}
	return "degraded"
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// CycleTimeout bounds a forwarded cycle: the lock wait, market data and the order.
const CycleTimeout = 60 * time.Second

// Server serves the ops router until its context ends.
type Server struct {
	srv    *http.Server
	logger zerolog.Logger
}

// NewServer creates an ops HTTP server on addr.
func NewServer(addr string, handler http.Handler, logger zerolog.Logger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      CycleTimeout,
			IdleTimeout:       60 * time.Second,
		},
		logger: logging.WithComponent(logger, "ops"),
	}
}

// Run listens until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.srv.Addr).Msg("Ops server listening")
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info().Msg("Ops server stopped")
	return nil
}
