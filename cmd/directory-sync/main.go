// Точка входа Directory Sync — синхронизация учётных записей с корпоративным каталогом.
// Загружает конфигурацию и секреты KSM, подключается к PostgreSQL, применяет миграции,
// создаёт провайдер каталога и сервисный слой, запускает фоновые задачи
// (планировщик синхронизации, topologymetrics) и HTTP-сервер с JWT middleware.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/bigkaa/goartstore/directory-sync/internal/api/handlers"
	"github.com/bigkaa/goartstore/directory-sync/internal/api/middleware"
	"github.com/bigkaa/goartstore/directory-sync/internal/api/openapi"
	"github.com/bigkaa/goartstore/directory-sync/internal/app"
	"github.com/bigkaa/goartstore/directory-sync/internal/config"
	"github.com/bigkaa/goartstore/directory-sync/internal/server"
	"github.com/bigkaa/goartstore/directory-sync/internal/service"
)

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("Directory Sync запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("provider", cfg.DirectoryProvider),
	)

	if os.Getenv("DS_DEPHEALTH_GROUP") == "" {
		logger.Warn("DS_DEPHEALTH_GROUP не задана, используется значение по умолчанию",
			slog.String("default", cfg.DephealthGroup),
		)
	}

	// 3. Секреты, трассировка, миграции, PostgreSQL, каталог, сервисы
	ctx := context.Background()
	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка инициализации", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer a.Close()

	// 4. OpenAPI-контракт и валидатор запросов
	doc, err := openapi.Load(ctx)
	if err != nil {
		logger.Error("Ошибка загрузки OpenAPI-контракта", slog.String("error", err.Error()))
		os.Exit(1)
	}
	validator, err := middleware.NewRequestValidator(doc, logger)
	if err != nil {
		logger.Error("Ошибка создания валидатора запросов", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 5. Health и API handlers
	healthHandler := handlers.NewHealthHandler(a.PostgresChecker(), a.Directory)
	apiHandler := handlers.NewAPIHandler(healthHandler, a.Sync, a.Login, a.Integration, logger)

	// 6. JWT middleware (без DS_JWT_JWKS_URL API не монтируется)
	var jwtAuth *middleware.JWTAuth
	if cfg.JWTJWKSURL != "" {
		jwtAuth, err = middleware.NewJWTAuth(
			cfg.JWTJWKSURL,
			cfg.JWTIssuer,
			cfg.JWTAdminGroups,
			cfg.JWKSRefreshInterval,
			cfg.JWTLeeway,
			logger,
		)
		if err != nil {
			logger.Error("Ошибка создания JWT middleware", slog.String("error", err.Error()))
			os.Exit(1)
		}
		logger.Info("JWT middleware инициализирован",
			slog.String("jwks_url", cfg.JWTJWKSURL),
			slog.String("issuer", cfg.JWTIssuer),
		)
	}

	// 7. Фоновая синхронизация (DS_SYNC_INTERVAL=0 — только ручной или внешний запуск)
	a.Sync.Start(ctx)

	// 7.1 topologymetrics — мониторинг зависимостей (PostgreSQL + каталог)
	dephealthSvc, dephealthErr := service.NewDephealthService(
		"directory-sync",
		cfg.DephealthGroup,
		a.DB,
		cfg.DatabaseURL(),
		cfg.DirectoryHealthURL(),
		a.Directory.ProviderName(),
		cfg.DephealthCheckInterval,
		logger,
	)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
		dephealthSvc = nil
	} else if startErr := dephealthSvc.Start(ctx); startErr != nil {
		logger.Warn("Ошибка запуска topologymetrics",
			slog.String("error", startErr.Error()),
		)
	} else {
		logger.Info("topologymetrics запущен",
			slog.String("group", cfg.DephealthGroup),
			slog.String("check_interval", cfg.DephealthCheckInterval.String()),
		)
	}

	// 8. HTTP-сервер
	srv := server.New(cfg, logger, apiHandler, jwtAuth, validator)
	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		a.Close()
		os.Exit(1)
	}

	// 9. Graceful shutdown фоновых задач
	logger.Info("Останавливаем фоновые задачи...")
	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}
	a.Sync.Stop()

	logger.Info("Directory Sync остановлен")
}
