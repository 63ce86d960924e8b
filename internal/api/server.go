package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/loksewa/noticemirror/internal/config"
	"github.com/loksewa/noticemirror/internal/metrics"
	"github.com/loksewa/noticemirror/internal/ratelimit"
	"github.com/loksewa/noticemirror/internal/reader"
	"github.com/loksewa/noticemirror/internal/refresh"
	"github.com/loksewa/noticemirror/internal/web"
)

// FailureMessage is the fixed message of every error envelope.
const FailureMessage = "Something went wrong. Please check and try again."

const readyTimeout = 3 * time.Second

// Refresher runs one mirror refresh.
type Refresher interface {
	Refresh(ctx context.Context) (refresh.Result, error)
}

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Dependencies are the collaborators the handlers call into. Refresher and
// Store are only used by the store variant and may be nil otherwise.
type Dependencies struct {
	Reader    reader.Reader
	Refresher Refresher
	Store     Pinger
}

// Server wires HTTP handlers to the reader and the refresh synchronizer.
type Server struct {
	router    chi.Router
	reader    reader.Reader
	refresher Refresher
	store     Pinger
	renderer  *web.Renderer
	limiter   *ratelimit.Limiter
	cfg       config.Config
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Dependencies, cfg config.Config, logger *zap.Logger) (*Server, error) {
	if deps.Reader == nil {
		return nil, fmt.Errorf("api server requires a reader")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	renderer, err := web.New(web.Page{Title: cfg.Page.Title, Heading: cfg.Page.Heading}, cfg.App.ServerURL())
	if err != nil {
		return nil, fmt.Errorf("build renderer: %w", err)
	}
	static, err := web.Static()
	if err != nil {
		return nil, err
	}

	s := &Server{
		reader:    deps.Reader,
		refresher: deps.Refresher,
		store:     deps.Store,
		renderer:  renderer,
		cfg:       cfg,
		logger:    logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(poweredByMiddleware(cfg.Server.Operator))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodHead, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-API-Key", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID", "Retry-After"},
		MaxAge:         300,
	}))
	if cfg.RateLimit.Enabled {
		s.limiter = ratelimit.New(ratelimit.Config{Max: cfg.RateLimit.Max, Window: cfg.RateLimit.Window})
		r.Use(ratelimit.Middleware(s.limiter, logger.Named("ratelimit")))
	}
	r.Use(metrics.Middleware)

	r.Get("/", s.index)
	r.Get("/api/notices", s.listNotices)
	r.Get("/api-docs", s.docs)
	r.Get("/api-docs/openapi.json", s.openapi)
	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Handle("/public/*", http.StripPrefix("/public/", static))

	if s.reader.Variant() == reader.VariantStore && s.refresher != nil {
		r.Group(func(r chi.Router) {
			if cfg.Admin.APIKey != "" {
				r.Use(apiKeyMiddleware(cfg.Admin.APIKey))
			}
			r.Get("/update-data", s.updateData)
		})
	}

	s.router = r
	return s, nil
}

// Handler returns the Router for use with http.Server, wrapped for tracing.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.router, "http.server",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestID returns the id assigned to the request carried by ctx.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
				zap.String("request_id", RequestID(r.Context())),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered",
						zap.Any("panic", rec),
						zap.Bool("response_started", rw.wroteHeader),
						zap.String("request_id", RequestID(r.Context())),
					)
					if rw.wroteHeader {
						return
					}
					writeFailure(rw, fmt.Errorf("internal error: %v", rec))
				}
			}()
			next.ServeHTTP(rw, r)
		})
	}
}

func poweredByMiddleware(operator string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if operator != "" {
				w.Header().Set("X-Powered-By", operator)
			}
			next.ServeHTTP(w, r)
		})
	}
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if subtle.ConstantTimeCompare([]byte(key), []byte(expected)) != 1 {
				writeEnvelope(w, http.StatusForbidden, "invalid or missing API key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if rw.wroteHeader {
		return
	}
	rw.status = code
	rw.wroteHeader = true
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

type requestIDKey struct{}

// errorEnvelope is the body of every failed request.
type errorEnvelope struct {
	Message      string `json:"message"`
	ErrorMessage string `json:"errorMessage"`
	Status       int    `json:"status"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

// writeFailure reports err as a 400 envelope.
func writeFailure(w http.ResponseWriter, err error) {
	writeEnvelope(w, http.StatusBadRequest, err.Error())
}

func writeEnvelope(w http.ResponseWriter, status int, errMsg string) {
	writeJSON(w, status, errorEnvelope{
		Message:      FailureMessage,
		ErrorMessage: errMsg,
		Status:       status,
	})
}
