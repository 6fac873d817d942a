package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"jobcal/internal/cache"
	"jobcal/internal/config"
	"jobcal/internal/ics"
	appLog "jobcal/internal/log"
	"jobcal/internal/model"
	"jobcal/internal/push"
)

// Store is the persistence the API needs. *store.DB implements it.
type Store interface {
	ListSchedules(ctx context.Context) ([]model.ScheduleItem, error)
	ListSchedulesBetween(ctx context.Context, from, to time.Time) ([]model.ScheduleItem, error)
	GetSchedule(ctx context.Context, id int64) (model.ScheduleItem, error)
	CreateSchedule(ctx context.Context, it model.ScheduleItem) (model.ScheduleItem, error)
	UpdateSchedule(ctx context.Context, it model.ScheduleItem) (model.ScheduleItem, error)
	UpdateScheduleStatus(ctx context.Context, id int64, status string) error
	DeleteSchedule(ctx context.Context, id int64) error
	RecordAck(ctx context.Context, session string, ack model.Ack) (int64, error)
	ListAcks(ctx context.Context, session string, limit int) ([]model.AckRecord, error)
}

// Server provides the schedule, calendar and live-event HTTP APIs.
type Server struct {
	cfg      *config.Config
	store    Store
	broker   *push.Broker
	importer *ics.Importer
	mux      *http.ServeMux

	// Calendar layouts are cached until the next schedule change; gen
	// counts changes.
	layouts *cache.Store
	gen     atomic.Uint64
	now     func() time.Time
}

// NewServer constructs a new Server. importer may be nil when no ICS
// sources are configured.
func NewServer(cfg *config.Config, store Store, broker *push.Broker, importer *ics.Importer) *Server {
	s := &Server{
		cfg:      cfg,
		store:    store,
		broker:   broker,
		importer: importer,
		mux:      http.NewServeMux(),
		layouts:  cache.New(5 * time.Minute),
		now:      time.Now,
	}
	s.registerRoutes()
	return s
}

// Handler returns the root http.Handler including auth and request logging.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		h = s.basicAuthMiddleware(h)
	}
	return logRequests(h)
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)

	s.mux.HandleFunc("GET /api/schedules", s.handleListSchedules)
	s.mux.HandleFunc("POST /api/schedules", s.handleCreateSchedule)
	s.mux.HandleFunc("GET /api/schedules/{id}", s.handleGetSchedule)
	s.mux.HandleFunc("PUT /api/schedules/{id}", s.handleUpdateSchedule)
	s.mux.HandleFunc("PATCH /api/schedules/{id}/status", s.handleUpdateStatus)
	s.mux.HandleFunc("DELETE /api/schedules/{id}", s.handleDeleteSchedule)

	s.mux.HandleFunc("GET /api/calendar/week", s.handleWeek)
	s.mux.HandleFunc("GET /api/calendar/month", s.handleMonth)

	s.mux.HandleFunc("GET /api/live/stream", s.handleStream)
	s.mux.HandleFunc("POST /api/live/ack", s.handleAck)
	s.mux.HandleFunc("GET /api/live/acks", s.handleListAcks)
	s.mux.HandleFunc("POST /api/live/publish", s.handlePublish)

	s.mux.HandleFunc("POST /api/ics/refresh", s.handleICSRefresh)
}

// StartServer serves the API on cfg.Listen until ctx is canceled, then
// shuts down gracefully.
func (s *Server) StartServer(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       time.Minute,
		// No WriteTimeout: live streams are long-lived.
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		// Open streams keep Shutdown waiting; cut them off.
		appLog.Error("graceful shutdown incomplete", err)
		return srv.Close()
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="jobcal", charset="UTF-8"`)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// sessionOf is the live-event session key of a request: the authenticated
// user, or "default" when auth is disabled.
func sessionOf(r *http.Request) string {
	if u, _, ok := r.BasicAuth(); ok && u != "" {
		return u
	}
	return "default"
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush keeps SSE working through the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		appLog.Debug("http", "method", r.Method, "path", r.URL.Path, "status", rec.status, "duration", time.Since(start))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.New("invalid JSON body: " + err.Error())
	}
	return nil
}
