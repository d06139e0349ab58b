// Package api exposes the recommender over HTTP.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sells-group/urban-recommender/internal/recommender"
	"github.com/sells-group/urban-recommender/internal/store"
)

// ServiceName and ServiceVersion are reported by the health endpoints.
const (
	ServiceName    = "Urban PCA Recommender"
	ServiceVersion = "1.0"
)

// Config holds the dependencies and limits of a Server.
type Config struct {
	Engine *recommender.Engine
	// Store is optional. Without it fits are not persisted and the /models
	// routes answer 503.
	Store    store.ModelStore
	IDColumn string

	FitRatePerSec float64
	FitBurst      int
	CORSOrigins   []string
	MaxBodyBytes  int64
}

// Server serves the recommender API.
type Server struct {
	engine      *recommender.Engine
	store       store.ModelStore
	idColumn    string
	fitLimiter  *rate.Limiter
	corsOrigins []string
	maxBody     int64
}

// NewServer creates a Server. Zero limits take defaults.
func NewServer(cfg Config) *Server {
	if cfg.FitRatePerSec <= 0 {
		cfg.FitRatePerSec = 1
	}
	if cfg.FitBurst < 1 {
		cfg.FitBurst = 2
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 32 << 20
	}
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = []string{"*"}
	}
	return &Server{
		engine:      cfg.Engine,
		store:       cfg.Store,
		idColumn:    cfg.IDColumn,
		fitLimiter:  rate.NewLimiter(rate.Limit(cfg.FitRatePerSec), cfg.FitBurst),
		corsOrigins: cfg.CORSOrigins,
		maxBody:     cfg.MaxBodyBytes,
	}
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		requestLogger,
		middleware.Recoverer,
		cors.Handler(cors.Options{
			AllowedOrigins: s.corsOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
			ExposedHeaders: []string{"X-Request-Id"},
			MaxAge:         300,
		}),
	)

	r.Get("/", s.handleHealth)
	r.Get("/health", s.handleHealth)
	r.Post("/fit", s.handleFit)
	r.Post("/recommend", s.handleRecommend)
	r.Get("/model", s.handleModel)
	r.Route("/models", func(r chi.Router) {
		r.Get("/", s.handleListModels)
		r.Get("/{id}", s.handleGetModel)
		r.Post("/{id}/activate", s.handleActivate)
	})
	return r
}

// ListenAndServe serves on port until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, port int) error {
	eg, egctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s.Routes(),
		BaseContext: func(_ net.Listener) context.Context {
			return egctx
		},
		ReadHeaderTimeout: 10 * time.Second,
	}

	eg.Go(func() error {
		zap.L().Info("api: starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "api: listen")
		}
		return nil
	})

	eg.Go(func() error {
		<-egctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		zap.L().Info("api: shutting down server")
		return eris.Wrap(srv.Shutdown(shutdownCtx), "api: shutdown")
	})

	return eg.Wait()
}

// requestLogger logs one line per request with the chi request id.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			zap.L().Info("api: request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		}()
		next.ServeHTTP(ww, r)
	})
}
