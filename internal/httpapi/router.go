// Package httpapi exposes the interview service over HTTP.
package httpapi

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/loqalabs/recon/internal/eventstore"
	"github.com/loqalabs/recon/internal/interview"
	"github.com/loqalabs/recon/internal/session"
)

// Interview is the service surface the handlers need. *interview.Service
// satisfies it.
type Interview interface {
	Prepare(ctx context.Context, cfg session.Config) (interview.PrepareResult, error)
	Status(ctx context.Context, id string) (interview.StatusView, error)
	Question(ctx context.Context, id string, index int) (interview.QuestionView, error)
	SubmitAnswer(ctx context.Context, id string, index int, r io.Reader, filename string) (interview.SubmitResult, error)
	Cancel(ctx context.Context, id string) (session.Status, error)
	Report(ctx context.Context, id string, wait bool) (interview.Report, error)
}

// Journal reads recorded lifecycle events. *eventstore.Store satisfies it.
type Journal interface {
	ListSessionEvents(ctx context.Context, sessionID string, limit int) ([]eventstore.Event, error)
}

// Options configure a Server.
type Options struct {
	Interview Interview
	// Journal backs GET /session_events/{id}; the route is omitted when nil.
	Journal Journal
	// StaticDir is served under URLPrefix when both are set.
	StaticDir   string
	URLPrefix   string
	MaxUploadMB int
	// Metrics is mounted at MetricsPath when set.
	Metrics     http.Handler
	MetricsPath string
	Ready       func() bool
	Logger      *slog.Logger
}

// Server holds the handlers.
type Server struct {
	svc       Interview
	journal   Journal
	maxUpload int64
	ready     func() bool
	logger    *slog.Logger
}

// NewRouter builds the chi router with middleware and all routes.
func NewRouter(opts Options) *chi.Mux {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "http"))
	maxUpload := int64(opts.MaxUploadMB) << 20
	if maxUpload <= 0 {
		maxUpload = 25 << 20
	}
	s := &Server{
		svc:       opts.Interview,
		journal:   opts.Journal,
		maxUpload: maxUpload,
		ready:     opts.Ready,
		logger:    logger,
	}

	r := chi.NewRouter()
	r.Use(CORS)
	r.Use(RequestID)
	r.Use(Logger(logger))
	r.Use(Recovery(logger))

	r.Get("/healthz", s.Health)
	r.Get("/readyz", s.Readiness)
	if opts.Metrics != nil {
		path := opts.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.Handle(path, opts.Metrics)
	}

	r.Post("/prepare_session", s.PrepareSession)
	r.Get("/session_status/{id}", s.SessionStatus)
	r.Get("/get_question/{id}/{index}", s.GetQuestion)
	r.Post("/interview_session/{id}/submit_answer", s.SubmitAnswer)
	r.Post("/cancel_session/{id}", s.CancelSession)
	r.Get("/report/{id}", s.Report)
	if s.journal != nil {
		r.Get("/session_events/{id}", s.SessionEvents)
	}

	if opts.StaticDir != "" && opts.URLPrefix != "" {
		prefix := "/" + strings.Trim(opts.URLPrefix, "/")
		files := http.StripPrefix(prefix, noListing(http.FileServer(http.Dir(opts.StaticDir))))
		r.Handle(prefix+"/*", files)
	}
	return r
}

// noListing hides directory indexes.
func noListing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "" || strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}
