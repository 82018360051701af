// Пакет server — HTTP-сервер Directory Sync с graceful shutdown.
// Без TLS — HTTP внутри кластера, TLS termination на API Gateway.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/bigkaa/goartstore/directory-sync/internal/api/handlers"
	"github.com/bigkaa/goartstore/directory-sync/internal/api/middleware"
	"github.com/bigkaa/goartstore/directory-sync/internal/config"
)

// Server — HTTP-сервер Directory Sync.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// New создаёт HTTP-сервер с настроенными маршрутами и middleware.
// jwtAuth == nil: API-маршруты не монтируются, доступны только health и metrics.
// validator может быть nil (запросы не проверяются по OpenAPI-контракту).
func New(
	cfg *config.Config,
	logger *slog.Logger,
	handler *handlers.APIHandler,
	jwtAuth *middleware.JWTAuth,
	validator *middleware.RequestValidator,
) *Server {
	router := NewRouter(logger, handler, jwtAuth, validator)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
		cfg:        cfg,
	}
}

// NewRouter собирает chi-роутер. Health и metrics проверяются Kubernetes
// напрямую, без API Gateway, поэтому не требуют JWT и не трассируются.
func NewRouter(
	logger *slog.Logger,
	handler *handlers.APIHandler,
	jwtAuth *middleware.JWTAuth,
	validator *middleware.RequestValidator,
) http.Handler {
	router := chi.NewRouter()

	// Глобальные middleware (применяются ко ВСЕМ маршрутам)
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.RequestLogger(logger))

	router.Get("/health/live", handler.HealthLive)
	router.Get("/health/ready", handler.HealthReady)
	router.Get("/metrics", handler.GetMetrics)

	if jwtAuth == nil {
		logger.Warn("JWT не настроен, API синхронизации недоступно")
	} else {
		router.Route("/api/v1/directory", func(r chi.Router) {
			r.Use(jwtAuth.Middleware())
			if validator != nil {
				r.Use(validator.Middleware())
			}

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireAdmin())
				r.Post("/sync", handler.TriggerSync)
				r.Get("/runs", handler.ListSyncRuns)
				r.Get("/runs/{id}", handler.GetSyncRun)
				r.Get("/status", handler.GetIntegrationStatus)
			})

			r.With(middleware.RequireAdminOrScope(middleware.ScopeLoginSync)).
				Post("/login-sync", handler.LoginSync)
		})
	}

	return otelhttp.NewHandler(router, "directory-sync",
		otelhttp.WithFilter(func(r *http.Request) bool {
			return !strings.HasPrefix(r.URL.Path, "/health/") && r.URL.Path != "/metrics"
		}),
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}

// Run запускает сервер и ожидает сигнала завершения (SIGINT, SIGTERM).
// При получении сигнала выполняется graceful shutdown.
func (s *Server) Run() error {
	// Канал для ошибок сервера
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен",
			slog.String("addr", s.httpServer.Addr),
		)

		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Ожидание сигнала завершения
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		s.logger.Info("Получен сигнал завершения", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
	}

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
