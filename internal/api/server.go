package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/docverify/internal/classify"
	"github.com/JakeFAU/docverify/internal/clock/system"
	"github.com/JakeFAU/docverify/internal/config"
	"github.com/JakeFAU/docverify/internal/document"
	"github.com/JakeFAU/docverify/internal/metrics"
	"github.com/JakeFAU/docverify/internal/readability"
	"github.com/JakeFAU/docverify/internal/verify"
)

// DefaultRequestTimeout bounds every request. It leaves room for a direct
// attempt followed by a proxy attempt at their default timeouts.
const DefaultRequestTimeout = 90 * time.Second

// maxBodyBytes caps JSON request bodies; evaluate requests carry whole documents.
const maxBodyBytes = 32 << 20

var validate = validator.New()

// Verifier runs acquisitions and end-to-end verifications. *verify.Service
// satisfies it.
type Verifier interface {
	Acquire(ctx context.Context, sheet string, row int, rawURL string, timeout time.Duration) (document.Outcome, error)
	Verify(ctx context.Context, req verify.Request) (verify.Result, error)
}

// RecordStore keeps failure records so they can be overridden by ID.
type RecordStore interface {
	Save(ctx context.Context, rec document.FailureRecord) error
	Get(ctx context.Context, id string) (document.FailureRecord, error)
}

// Deps are the collaborators behind the routes. Proxy is mounted only when
// non-nil; Cache and Records may be nil, in which case their routes answer 503.
type Deps struct {
	Verifier   Verifier
	Cache      CacheAdmin
	Records    RecordStore
	Classifier *classify.Classifier
	Evaluator  *readability.Evaluator
	Proxy      http.Handler
	Clock      document.Clock
}

// Server wires HTTP handlers to the pipeline.
type Server struct {
	router     chi.Router
	verifier   Verifier
	records    RecordStore
	classifier *classify.Classifier
	evaluator  *readability.Evaluator
	clock      document.Clock
	logger     *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, auth config.AuthConfig, requestTimeout time.Duration, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Clock == nil {
		deps.Clock = system.New()
	}
	if deps.Classifier == nil {
		deps.Classifier = classify.New(deps.Clock, nil)
	}
	if deps.Evaluator == nil {
		deps.Evaluator = readability.New(readability.Config{})
	}
	if requestTimeout <= 0 {
		requestTimeout = DefaultRequestTimeout
	}
	s := &Server{
		verifier:   deps.Verifier,
		records:    deps.Records,
		classifier: deps.Classifier,
		evaluator:  deps.Evaluator,
		clock:      deps.Clock,
		logger:     logger.Named("api"),
	}
	cacheHandler := NewCacheHandler(deps.Cache, logger)

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	if deps.Proxy != nil {
		// The intermediary is reached by proxy clients that carry no API key;
		// the host allow-list is its access control.
		r.Method(http.MethodGet, "/v1/proxy", deps.Proxy)
	}

	r.Group(func(r chi.Router) {
		r.Use(timeoutMiddleware(requestTimeout))
		if auth.Enabled {
			r.Use(apiKeyMiddleware(auth.APIKey))
		}
		r.Route("/v1", func(r chi.Router) {
			r.Route("/documents", func(r chi.Router) {
				r.Post("/acquire", s.acquireDocument)
				r.Get("/content", s.documentContent)
			})
			r.Route("/readability", func(r chi.Router) {
				r.Post("/evaluate", s.evaluateReadability)
				r.Post("/eligible", s.eligibleFields)
			})
			r.Route("/failures", func(r chi.Router) {
				r.Post("/classify", s.classifyFailure)
				r.Post("/override", s.overrideFailure)
				r.Get("/{id}", s.getFailure)
			})
			r.Post("/verify", s.verifyRow)
			r.Route("/cache", func(r chi.Router) {
				r.Get("/stats", cacheHandler.Stats)
				r.Delete("/", cacheHandler.Clear)
				r.Delete("/rows/{sheet}/{row}", cacheHandler.ClearRow)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if s.verifier == nil {
		writeError(w, http.StatusServiceUnavailable, "verifier not configured")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// decodeJSON reads a bounded JSON body into dst and validates it.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errors.New("invalid JSON")
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return validationError(verrs)
		}
		return fmt.Errorf("validate request: %w", err)
	}
	return nil
}

func validationError(verrs validator.ValidationErrors) error {
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return errors.New(strings.Join(parts, "; "))
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			reqID, _ := r.Context().Value(requestIDKey{}).(string)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
				zap.String("request_id", reqID),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec), zap.String("path", r.URL.Path))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
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

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
