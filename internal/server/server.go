// Package server exposes the prediction registry over HTTP.
package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"winpredict/internal/predict"
)

// MaxBodySize limits the size of request bodies to 1MB
const MaxBodySize = 1048576

type Config struct {
	Models         *predict.Holder
	Logger         *zap.Logger
	AllowedOrigins []string
	Timeout        time.Duration
}

type Handler struct {
	models    *predict.Holder
	logger    *zap.SugaredLogger
	validator *validator.Validate
	origins   []string
	timeout   time.Duration
}

func New(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Handler{
		models:    cfg.Models,
		logger:    logger.Sugar().Named("server"),
		validator: validator.New(),
		origins:   cfg.AllowedOrigins,
		timeout:   timeout,
	}
}

// Routes builds the router
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(h.timeout))

	if len(h.origins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: h.origins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		}))
	}

	r.Get("/healthz", h.Health)
	r.Get("/models", h.Models)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/predict", func(r chi.Router) {
		r.Post("/draft", h.PredictDraft)
		r.Post("/snapshot", h.PredictSnapshot)
		r.Post("/game-state", h.PredictGameState)
	})

	return r
}

// requestLogger logs one line per request and records request metrics
func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)
		observeRequest(r.Method, route, status, elapsed)

		h.logger.Debugw("request",
			"method", r.Method,
			"route", route,
			"status", status,
			"bytes", ww.BytesWritten(),
			"duration", elapsed,
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
