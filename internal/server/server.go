// Package server exposes the current registry over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"plugdisc/internal/logging"
	"plugdisc/internal/plugin"
	"plugdisc/internal/registry"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// DefaultInvokeTimeout bounds a single extension call.
const DefaultInvokeTimeout = 30 * time.Second

// Server serves the registry of the most recent discovery pass.
type Server struct {
	current       atomic.Pointer[registry.Registry]
	metrics       http.Handler
	invokeTimeout time.Duration
	validate      *validator.Validate
	logger        *zap.Logger
	router        chi.Router
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics mounts h on /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithInvokeTimeout bounds each invocation. Zero disables the bound.
func WithInvokeTimeout(d time.Duration) Option {
	return func(s *Server) { s.invokeTimeout = d }
}

// WithLogger sets the request logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) { s.logger = logging.For(logger, logging.CategoryServer) }
}

// New creates a server serving reg. reg may be nil until the first pass
// completes.
func New(reg *registry.Registry, opts ...Option) *Server {
	s := &Server{
		invokeTimeout: DefaultInvokeTimeout,
		validate:      validator.New(),
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.current.Store(reg)
	s.router = s.routes()
	return s
}

// SetRegistry swaps the served registry. In-flight requests keep the
// registry they started with.
func (s *Server) SetRegistry(reg *registry.Registry) {
	s.current.Store(reg)
}

// Registry returns the served registry.
func (s *Server) Registry() *registry.Registry {
	return s.current.Load()
}

// ObservePass implements registry.Observer by serving the new registry.
func (s *Server) ObservePass(report *registry.Report) {
	if report != nil && report.Registry != nil {
		s.SetRegistry(report.Registry)
	}
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		s.logger.Info("HTTP server stopped")
		return nil
	}
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/healthz", s.health)

	r.Route("/plugins", func(r chi.Router) {
		r.Get("/", s.listPlugins)
		r.Get("/{name}", s.getPlugin)
		r.Post("/{name}/invoke", s.invokePlugin)
	})

	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}
	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

// PluginView is the JSON shape of one extension.
type PluginView struct {
	Name        string `json:"name"`
	Module      string `json:"module"`
	Path        string `json:"path"`
	Kind        string `json:"kind"`
	Description string `json:"description,omitempty"`
}

func viewOf(ext *plugin.Extension) PluginView {
	return PluginView{
		Name:        ext.Name,
		Module:      ext.Module.Name,
		Path:        ext.Module.Path,
		Kind:        string(ext.Module.Kind),
		Description: ext.Description,
	}
}

// InvokeRequest is the body of POST /plugins/{name}/invoke.
type InvokeRequest struct {
	Input string `json:"input" validate:"max=1048576"`
}

// InvokeResponse is the result of an invocation.
type InvokeResponse struct {
	Name   string `json:"name"`
	Output string `json:"output"`
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

func sendJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

func sendError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	sendJSON(w, status, errorBody{Error: errorDetail{
		Code:      code,
		Message:   message,
		RequestID: middleware.GetReqID(r.Context()),
	}})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	reg := s.Registry()
	if reg == nil {
		sendJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "discovering"})
		return
	}
	sendJSON(w, http.StatusOK, map[string]any{"status": "ok", "plugins": reg.Len()})
}

func (s *Server) listPlugins(w http.ResponseWriter, r *http.Request) {
	reg := s.Registry()
	views := []PluginView{}
	if reg != nil {
		for _, ext := range reg.List() {
			views = append(views, viewOf(ext))
		}
	}
	sendJSON(w, http.StatusOK, map[string]any{"data": views, "total": len(views)})
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*plugin.Extension, bool) {
	name := chi.URLParam(r, "name")
	reg := s.Registry()
	if reg == nil {
		sendError(w, r, http.StatusServiceUnavailable, "NOT_READY", "discovery has not completed")
		return nil, false
	}
	ext, ok := reg.Get(name)
	if !ok {
		sendError(w, r, http.StatusNotFound, "NOT_FOUND", "plugin "+name+" not found")
		return nil, false
	}
	return ext, true
}

func (s *Server) getPlugin(w http.ResponseWriter, r *http.Request) {
	ext, ok := s.lookup(w, r)
	if !ok {
		return
	}
	sendJSON(w, http.StatusOK, viewOf(ext))
}

func (s *Server) invokePlugin(w http.ResponseWriter, r *http.Request) {
	ext, ok := s.lookup(w, r)
	if !ok {
		return
	}

	var req InvokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, r, http.StatusBadRequest, "INVALID_BODY", "invalid JSON body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		sendError(w, r, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}

	ctx := r.Context()
	if s.invokeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.invokeTimeout)
		defer cancel()
	}

	out, err := ext.Invoke(ctx, req.Input)
	if err != nil {
		status := http.StatusUnprocessableEntity
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusGatewayTimeout
		}
		s.logger.Warn("Plugin invocation failed", zap.String("plugin", ext.Name), zap.Error(err))
		sendError(w, r, status, "INVOKE_FAILED", err.Error())
		return
	}
	sendJSON(w, http.StatusOK, InvokeResponse{Name: ext.Name, Output: out})
}
