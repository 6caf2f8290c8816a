// Package server exposes the session over HTTP: selector catalogs, the
// current map and table projections, GeoJSON boundaries in paint order, and
// selection commands.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/vmt-browser/internal/dataset"
	"github.com/sells-group/vmt-browser/internal/registry"
	"github.com/sells-group/vmt-browser/internal/session"
	"github.com/sells-group/vmt-browser/internal/theme"
)

// Session is the part of *session.Manager the HTTP surface drives.
type Session interface {
	View() *session.View
	LastEvent() *session.UpdateEvent
	Initialize(ctx context.Context) error
	SelectMunicipality(ctx context.Context, id registry.MunicipalityID) error
	ClearSelection(ctx context.Context) error
	SelectTheme(ctx context.Context, id string) error
	RequestYear(ctx context.Context, year dataset.Year) error
}

// Config wires a Server. Registry and Themes default to the built-in
// catalogs; a nil Gatherer serves the default Prometheus registry.
type Config struct {
	Addr        string
	CORSOrigins []string
	Registry    *registry.Registry
	Themes      *theme.Catalog
	Gatherer    prometheus.Gatherer
}

// Server serves the browser API plus /healthz, /readyz and /metrics.
type Server struct {
	httpServer *http.Server
	sess       Session
	registry   *registry.Registry
	themes     *theme.Catalog
	log        *zap.Logger
}

// New builds the router. Call Start to listen.
func New(cfg Config, sess Session) *Server {
	if cfg.Registry == nil {
		cfg.Registry = registry.Default()
	}
	if cfg.Themes == nil {
		cfg.Themes = theme.Default()
	}
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = []string{"*"}
	}

	s := &Server{
		sess:     sess,
		registry: cfg.Registry,
		themes:   cfg.Themes,
		log:      zap.L().With(zap.String("component", "server")),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	} else {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/municipalities", s.handleMunicipalities)
		r.Get("/themes", s.handleThemes)
		r.Get("/state", s.handleState)
		r.Get("/view", s.handleView)
		r.Get("/features", s.handleFeatures)
		r.Get("/outline", s.handleOutline)
		r.Post("/reload", s.handleReload)

		r.Route("/select", func(r chi.Router) {
			r.Post("/municipality/{id}", s.handleSelectMunicipality)
			r.Delete("/municipality", s.handleClearMunicipality)
			r.Post("/theme/{id}", s.handleSelectTheme)
			r.Post("/year/{year}", s.handleSelectYear)
		})
	})

	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.log.Info("http server starting", zap.String("addr", s.httpServer.Addr))
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	v := s.sess.View()
	if v.Status != session.StatusReady {
		body := map[string]string{"status": "not ready", "session": string(v.Status)}
		if v.Error != "" {
			body["error"] = v.Error
		}
		writeJSON(w, http.StatusServiceUnavailable, body)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleMunicipalities(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.All())
}

func (s *Server) handleThemes(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.themes.All())
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.sess.View())
}

func (s *Server) handleView(w http.ResponseWriter, _ *http.Request) {
	ev := s.sess.LastEvent()
	if ev == nil {
		s.writeError(w, &session.DataNotReady{Status: s.sess.View().Status})
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (s *Server) handleSelectMunicipality(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "id")
	id, err := registry.ParseID(raw)
	if err != nil {
		s.writeError(w, &session.InvalidSelection{Kind: session.KindMunicipality, Value: raw, Reason: "not a municipality id"})
		return
	}
	s.command(w, r, func(ctx context.Context) error { return s.sess.SelectMunicipality(ctx, id) })
}

func (s *Server) handleClearMunicipality(w http.ResponseWriter, r *http.Request) {
	s.command(w, r, s.sess.ClearSelection)
}

func (s *Server) handleSelectTheme(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.command(w, r, func(ctx context.Context) error { return s.sess.SelectTheme(ctx, id) })
}

func (s *Server) handleSelectYear(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "year")
	year, err := strconv.Atoi(raw)
	if err != nil {
		s.writeError(w, &session.InvalidSelection{Kind: session.KindYear, Value: raw, Reason: "not a year"})
		return
	}
	s.command(w, r, func(ctx context.Context) error { return s.sess.RequestYear(ctx, dataset.Year(year)) })
}

// handleReload retries the initial load after it failed. The load outlives a
// dropped client so the session never stalls in Loading.
func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	s.command(w, r, func(ctx context.Context) error {
		return s.sess.Initialize(context.WithoutCancel(ctx))
	})
}

// command runs a selection and answers with the resulting update event.
func (s *Server) command(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context) error) {
	if err := fn(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.sess.LastEvent())
}

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// statusFor maps session errors to HTTP statuses.
func statusFor(err error) (int, string) {
	var (
		inv *session.InvalidSelection
		dnr *session.DataNotReady
	)
	switch {
	case errors.As(err, &inv):
		return http.StatusBadRequest, "invalid_selection"
	case errors.As(err, &dnr):
		return http.StatusConflict, "data_not_ready"
	case eris.Is(err, session.ErrSuperseded):
		return http.StatusConflict, "superseded"
	case eris.Is(err, session.ErrAlreadyInitialized):
		return http.StatusConflict, "already_initialized"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status, kind := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("http: request failed", zap.Error(err))
	}
	writeJSON(w, status, errorBody{Error: err.Error(), Kind: kind})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	writeBody(w, status, "application/json", v)
}

func writeBody(w http.ResponseWriter, status int, contentType string, v any) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("http: encode response", zap.Error(err))
	}
}
