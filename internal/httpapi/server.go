// Package httpapi exposes the submission pipeline and the verifier over HTTP
// with the route layout of the Let's eSign reference server.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/vocdoni/gofirma/esign/internal/apperr"
	"github.com/vocdoni/gofirma/esign/internal/metrics"
	"github.com/vocdoni/gofirma/esign/internal/pipeline"
	"github.com/vocdoni/gofirma/esign/internal/verify"
)

const (
	Banner           = "Let's eSign Server is running"
	DefaultBodyLimit = 40 << 20
)

// Config holds what the handlers check before touching the pipeline. Only the
// presence of the credentials matters here; the pipeline owns their values.
type Config struct {
	APIKey       string
	BearerSecret string
	HasPublicKey bool
	BodyLimit    int64
}

type Server struct {
	cfg      Config
	pipe     *pipeline.Pipeline
	verifier *verify.Verifier
	metrics  *metrics.Metrics
	log      *zap.Logger
}

type Option func(*Server)

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.log = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

func New(cfg Config, pipe *pipeline.Pipeline, verifier *verify.Verifier, opts ...Option) *Server {
	if cfg.BodyLimit <= 0 {
		cfg.BodyLimit = DefaultBodyLimit
	}
	s := &Server{cfg: cfg, pipe: pipe, verifier: verifier}
	for _, o := range opts {
		o(s)
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	return s
}

// Handler returns the router. Unknown GET paths redirect to the banner.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.observe)

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(Banner))
	})
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(s.requireCredentials)
		r.Post("/send/", s.handleSend)
		r.Post("/send_with_template/", s.handleSendWithTemplate)
		r.Post("/bulk_send/", s.handleBulkSend)
		r.Post("/bulk_send_with_template/", s.handleBulkSendWithTemplate)
		r.Post("/preview_send/", s.handlePreviewSend)
		r.Post("/preview_send_with_template/", s.handlePreviewSendWithTemplate)
		r.Post("/preview_bulk_send/", s.handlePreviewBulkSend)
		r.Post("/preview_bulk_send_with_template/", s.handlePreviewBulkSendWithTemplate)
	})
	r.Group(func(r chi.Router) {
		r.Use(s.requireAPIKey)
		r.Get("/task_status/{taskID}", s.handleTaskStatus)
	})
	r.Post("/create_send_template/", s.handleCreateSendTemplate)
	r.Post("/create_bulk_send_template/", s.handleCreateBulkSendTemplate)
	r.Post("/verify_pdf/", s.handleVerify)
	r.Post("/verify_pdf_with_human/", s.handleVerifyWithHuman)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			http.Redirect(w, r, "/", http.StatusFound)
			return
		}
		writeErrorMsg(w, http.StatusNotFound, "Not found")
	})
	return r
}

// observe counts requests per route pattern and logs them at debug level.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.metrics.HTTPRequest(route, status)
		s.log.Debug("http request",
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("elapsed", time.Since(start)))
	})
}

func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.APIKey == "" {
			s.log.Error("Invalid API Key setting")
			writeErrorMsg(w, http.StatusConflict, "Invalid API Key setting")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireCredentials(next http.Handler) http.Handler {
	return s.requireAPIKey(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case s.cfg.BearerSecret == "":
			s.log.Error("Invalid bearerSecret setting")
			writeErrorMsg(w, http.StatusConflict, "Invalid bearerSecret setting")
		case !s.cfg.HasPublicKey:
			s.log.Error("Invalid KMS public key setting")
			writeErrorMsg(w, http.StatusConflict, "Invalid KMS public key setting")
		default:
			next.ServeHTTP(w, r)
		}
	}))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErrorMsg(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"errorMsg": msg})
}

// StatusOf maps an error kind to the HTTP status the reference server uses.
func StatusOf(e *apperr.Error) int {
	switch e.Kind {
	case apperr.KindCallerInput:
		return http.StatusBadRequest
	case apperr.KindCrypto:
		return http.StatusConflict
	case apperr.KindRemote:
		if e.Status > 0 {
			return e.Status
		}
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	e := apperr.As(err)
	if e.Kind == apperr.KindInternal {
		s.log.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	writeErrorMsg(w, StatusOf(e), e.Public())
}

// decode reads a JSON body capped at the configured limit.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.BodyLimit)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeErrorMsg(w, http.StatusRequestEntityTooLarge, "Invalid parameter: request body meets the limit")
			return false
		}
		writeErrorMsg(w, http.StatusBadRequest, "Invalid parameter: request body is not valid JSON")
		return false
	}
	return true
}
