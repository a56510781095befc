// Package server provides the HTTP server and handlers.
package server

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/bryan-buckman/rssmonitor/internal/database"
	monerrs "github.com/bryan-buckman/rssmonitor/internal/errors"
	"github.com/bryan-buckman/rssmonitor/internal/logger"
	"github.com/bryan-buckman/rssmonitor/internal/model"
	"github.com/bryan-buckman/rssmonitor/internal/morph"
	"github.com/bryan-buckman/rssmonitor/internal/rss"
)

//go:embed templates/*.html
var templatesFS embed.FS

//go:embed static/*
var staticFS embed.FS

// Poller runs ingestion passes on demand and remembers the last one.
type Poller interface {
	Trigger(ctx context.Context) (model.RunSummary, error)
	Last() (rss.LastRun, bool)
}

// Server is the main HTTP server.
type Server struct {
	store     database.Store
	poller    Poller
	router    chi.Router
	templates *template.Template
	http      *http.Server

	lemmaStats func() morph.CacheStats
}

// Option configures a Server.
type Option func(*Server)

// WithLemmaStats reports lemma cache counters on the status endpoint.
func WithLemmaStats(stats func() morph.CacheStats) Option {
	return func(s *Server) {
		s.lemmaStats = stats
	}
}

// New creates a new server listening on addr once started.
func New(addr string, store database.Store, poller Poller, opts ...Option) (*Server, error) {
	tmpl, err := template.New("").Funcs(template.FuncMap{
		"timeAgo": timeAgo,
		"join":    strings.Join,
	}).ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}

	s := &Server{
		store:     store,
		poller:    poller,
		templates: tmpl,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.setupRoutes()
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(accessLog)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	// Serve static files.
	staticSub, _ := fs.Sub(staticFS, "static")
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(staticSub))))

	// Pages.
	r.Get("/", s.handleHome)
	r.Get("/manage", s.handleManage)
	r.Get("/check", s.handleCheck)
	r.Post("/feeds", s.handleAddFeedForm)
	r.Post("/feeds/{id}/delete", s.handleDeleteFeedForm)
	r.Post("/keywords", s.handleAddKeywordForm)
	r.Post("/keywords/{id}/delete", s.handleDeleteKeywordForm)

	// API.
	r.Route("/api", func(r chi.Router) {
		r.Method(http.MethodGet, "/feeds", HandlerFuncE(s.apiListFeeds))
		r.Method(http.MethodPost, "/feeds", HandlerFuncE(s.apiAddFeed))
		r.Method(http.MethodDelete, "/feeds/{id}", HandlerFuncE(s.apiDeleteFeed))
		r.Method(http.MethodGet, "/keywords", HandlerFuncE(s.apiListKeywords))
		r.Method(http.MethodPost, "/keywords", HandlerFuncE(s.apiAddKeyword))
		r.Method(http.MethodDelete, "/keywords/{id}", HandlerFuncE(s.apiDeleteKeyword))
		r.Method(http.MethodGet, "/news", HandlerFuncE(s.apiListNews))
		r.Method(http.MethodPost, "/refresh", HandlerFuncE(s.apiRefresh))
		r.Method(http.MethodGet, "/status", HandlerFuncE(s.apiStatus))
		r.Method(http.MethodGet, "/settings", HandlerFuncE(s.apiGetSettings))
		r.Method(http.MethodPost, "/settings", HandlerFuncE(s.apiSaveSettings))
		r.Method(http.MethodPost, "/import-opml", HandlerFuncE(s.apiImportOPML))
		r.Method(http.MethodGet, "/export-opml", HandlerFuncE(s.apiExportOPML))
	})

	s.router = r
}

// Handler returns the server's root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves HTTP until Shutdown is called.
func (s *Server) Start() error {
	slog.Info("server starting", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// accessLog logs each request with its request ID attached to the context.
func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := logger.Ctx(r.Context(), slog.String("request_id", middleware.GetReqID(r.Context())))
		r = r.WithContext(ctx)

		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		slog.InfoContext(ctx, "request completed",
			"method", r.Method,
			"url", r.URL.String(),
			"duration", time.Since(start),
			"status_code", ww.Status(),
		)
	})
}

// HandlerFuncE is a modified type of [http.HandlerFunc] that returns an error.
type HandlerFuncE func(w http.ResponseWriter, r *http.Request) error

func (f HandlerFuncE) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	err := f(w, r)
	if err == nil {
		return
	}

	// Either it's already a structured error, or coerce it to one
	sErr := &monerrs.Error{}
	if !errors.As(err, &sErr) {
		slog.ErrorContext(r.Context(), "unhandled error", "error", err)
		sErr = monerrs.E(http.StatusInternalServerError, "internal server error")
	}

	if err := writeJSON(w, sErr.Status, sErr); err != nil {
		slog.ErrorContext(r.Context(), "error writing response", "error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		return fmt.Errorf("encode json response: %w", err)
	}
	return nil
}

// validator is a request body that can check itself.
type validator interface {
	Validate() error
}

// decodeValid decodes a JSON request body and validates it.
func decodeValid[V validator](r io.Reader) (V, error) {
	var v V
	if err := json.NewDecoder(r).Decode(&v); err != nil {
		return v, monerrs.E(http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
	}
	if err := v.Validate(); err != nil {
		return v, err
	}
	return v, nil
}

// --- Helpers ---

func (s *Server) render(w http.ResponseWriter, r *http.Request, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.templates.ExecuteTemplate(w, name, data); err != nil {
		slog.ErrorContext(r.Context(), "template error", "template", name, "error", err)
		http.Error(w, "Render error", http.StatusInternalServerError)
	}
}

func timeAgo(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
