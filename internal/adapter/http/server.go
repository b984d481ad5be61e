package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cwygoda/snapkeeper/internal/domain"
	"github.com/cwygoda/snapkeeper/internal/jobs"
	"github.com/cwygoda/snapkeeper/internal/trigger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

// Captures is the capture manager surface used by the API.
type Captures interface {
	StartCapture(ctx context.Context, artifactID int64, date string) (*domain.Snapshot, error)
	CreateArtifact(ctx context.Context, template domain.Snapshot) (*domain.Snapshot, error)
	TerminateDownload(ctx context.Context, artifactID int64, date string) error
	DeleteArtifact(ctx context.Context, artifactID int64) error
	DeleteSnapshot(ctx context.Context, key domain.Key) error
	Snapshots() *domain.SnapshotService
	Jobs() *jobs.Registry
}

// Scheduler is the schedule manager surface used by the API.
type Scheduler interface {
	ComputeEligibleJobs(ctx context.Context) ([]domain.ScheduledJob, error)
	Pending() []trigger.Trigger
	RunScheduled(ctx context.Context, artifactID int64, force bool) (*domain.Snapshot, error)
	RequestUpdate()
}

// ErrorCounter tracks unread capture errors.
type ErrorCounter interface {
	UnreadErrors() int
	MarkErrorsRead(ctx context.Context)
}

// Notifications lists active user-facing conditions.
type Notifications interface {
	Active() []domain.Notification
}

// Options holds the server collaborators. Errors and Notifications are optional.
type Options struct {
	Addr          string
	Secret        string
	Captures      Captures
	Scheduler     Scheduler
	Search        domain.SearchIndex
	Errors        ErrorCounter
	Notifications Notifications
	Logger        logrus.FieldLogger
}

// Server is the HTTP control API.
type Server struct {
	captures      Captures
	scheduler     Scheduler
	search        domain.SearchIndex
	errors        ErrorCounter
	notifications Notifications
	secret        string
	logger        logrus.FieldLogger

	router *chi.Mux
	server *http.Server
}

// NewServer creates a new HTTP server.
func NewServer(opts Options) *Server {
	s := &Server{
		captures:      opts.Captures,
		scheduler:     opts.Scheduler,
		search:        opts.Search,
		errors:        opts.Errors,
		notifications: opts.Notifications,
		secret:        opts.Secret,
		logger:        opts.Logger,
		router:        chi.NewRouter(),
	}
	if s.logger == nil {
		s.logger = logrus.StandardLogger()
	}
	s.routes()
	s.server = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/health", s.handleHealth)
	r.Get("/artifacts", s.handleListArtifacts)
	r.Get("/artifacts/{id}", s.handleGetArtifact)
	r.Get("/snapshots/{id}/{date}", s.handleGetSnapshot)
	r.Get("/jobs", s.handleListJobs)
	r.Get("/jobs/{id}/{date}/progress", s.handleProgress)
	r.Get("/schedule", s.handleSchedule)
	r.Get("/search", s.handleSearch)
	r.Get("/errors", s.handleErrors)
	r.Get("/notifications", s.handleNotifications)

	r.Group(func(r chi.Router) {
		r.Use(s.verify)
		r.Post("/artifacts", s.handleCreateArtifact)
		r.Delete("/artifacts/{id}", s.handleDeleteArtifact)
		r.Post("/artifacts/{id}/captures", s.handleStartCapture)
		r.Post("/artifacts/{id}/run", s.handleRunScheduled)
		r.Delete("/snapshots/{id}/{date}", s.handleDeleteSnapshot)
		r.Post("/snapshots/{id}/{date}/cancel", s.handleCancel)
		r.Post("/schedule/refresh", s.handleRefreshSchedule)
		r.Post("/errors/read", s.handleMarkErrorsRead)
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.WithFields(logrus.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"duration":   time.Since(start).String(),
			"request_id": middleware.GetReqID(r.Context()),
		}).Debug("http: request")
	})
}

// errorResponse is the JSON error response.
type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg})
}

// writeErr maps domain errors to status codes.
func (s *Server) writeErr(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.WithError(err).WithField("path", r.URL.Path).Error("http: internal error")
		s.writeError(w, status, "internal error")
		return
	}
	s.writeError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrConcurrentRun),
		errors.Is(err, domain.ErrGatingBlocked),
		errors.Is(err, domain.ErrNotRunning),
		errors.Is(err, domain.ErrSnapshotFinal):
		return http.StatusConflict
	case errors.Is(err, domain.ErrSnapshotNotFound),
		errors.Is(err, domain.ErrArtifactNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidSnapshot),
		errors.Is(err, domain.ErrUnknownContentType),
		errors.Is(err, domain.ErrUnknownDestination):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func artifactID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

func snapshotKey(r *http.Request) (domain.Key, error) {
	id, err := artifactID(r)
	if err != nil {
		return domain.Key{}, err
	}
	return domain.Key{ArtifactID: id, Date: chi.URLParam(r, "date")}, nil
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// ServeHTTP implements http.Handler for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Addr returns the server address.
func (s *Server) Addr() string {
	return s.server.Addr
}

// Port extracts the port from the address.
func (s *Server) Port() int {
	addr := s.server.Addr
	if idx := strings.LastIndex(addr, ":"); idx >= 0 {
		port, _ := strconv.Atoi(addr[idx+1:])
		return port
	}
	return 0
}
