// Пакет app — сборка зависимостей Directory Sync.
// Общая для HTTP-сервиса (cmd/directory-sync) и Cloud Function (gcpfunction).
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/bigkaa/goartstore/directory-sync/internal/config"
	"github.com/bigkaa/goartstore/directory-sync/internal/database"
	"github.com/bigkaa/goartstore/directory-sync/internal/directory"
	"github.com/bigkaa/goartstore/directory-sync/internal/events"
	"github.com/bigkaa/goartstore/directory-sync/internal/repository"
	"github.com/bigkaa/goartstore/directory-sync/internal/retry"
	"github.com/bigkaa/goartstore/directory-sync/internal/service"
	"github.com/bigkaa/goartstore/directory-sync/internal/tracing"
)

// App — собранный граф зависимостей.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	// DB — адаптер *sql.DB поверх пула pgx (для topologymetrics)
	DB  *sql.DB
	pgx *pgxpool.Pool

	Directory   *directory.Client
	Sync        *service.DirectorySyncService
	Login       *service.LoginSyncService
	Integration *service.IntegrationService
	// Publisher — nil, если DS_REDIS_URL не задан или Redis недоступен
	Publisher *events.Publisher

	shutdownTracing tracing.ShutdownFunc
}

// Build загружает секреты, применяет миграции, подключается к PostgreSQL
// и создаёт сервисный слой. Ошибка Redis не фатальна: запуск продолжается без событий.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger}

	if err := config.ApplyKeeperSecrets(cfg); err != nil {
		return nil, err
	}

	shutdown, err := tracing.Init(ctx, cfg.OTLPEndpoint, "directory-sync", config.Version, cfg.Environment, logger)
	if err != nil {
		return nil, fmt.Errorf("инициализация трассировки: %w", err)
	}
	a.shutdownTracing = shutdown

	logger.Info("Применение миграций БД...")
	if err := database.Migrate(cfg, logger); err != nil {
		a.Close()
		return nil, fmt.Errorf("миграции БД: %w", err)
	}

	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("подключение к PostgreSQL: %w", err)
	}
	a.pgx = pool
	// Адаптер pgxpool → *sql.DB для topologymetrics (connection pool mode).
	a.DB = stdlib.OpenDBFromPool(pool)

	provider, err := NewProvider(ctx, cfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	if !provider.Configured() {
		logger.Warn("Учётные данные каталога не заданы, синхронизация будет завершаться с FAILURE",
			slog.String("provider", provider.Name()),
		)
	}

	policy := retry.DefaultPolicy(nil)
	policy.MaxRetries = cfg.RetryMax
	policy.BaseDelay = cfg.RetryBaseDelay
	a.Directory = directory.NewClient(provider, policy, logger)

	accounts := repository.NewAccountRepository(pool)
	runs := repository.NewSyncRunRepository(pool)
	lifecycle := repository.NewLifecycleRepository(repository.NewTxRunner(pool))

	roles := service.NewRoleResolver(a.Directory, cfg.AdminGroupID, cfg.IssuerGroupID, logger)
	linker := service.NewManagerLinker(a.Directory, accounts, logger)

	var publisher service.RunPublisher
	if cfg.RedisURL != "" {
		pub, pubErr := events.NewPublisher(ctx, cfg.RedisURL, cfg.RedisChannel, logger)
		if pubErr != nil {
			logger.Warn("Redis недоступен, события запусков не публикуются",
				slog.String("error", pubErr.Error()),
			)
		} else {
			a.Publisher = pub
			publisher = pub
		}
	}

	a.Sync = service.NewDirectorySyncService(service.DirectorySyncDeps{
		Directory:    a.Directory,
		Runs:         runs,
		Accounts:     accounts,
		Reconciler:   service.NewAccountReconciler(accounts, lifecycle, roles, logger),
		Linker:       linker,
		Deactivation: service.NewDeactivationReconciler(accounts, lifecycle, logger),
		Roles:        roles,
		Publisher:    publisher,
	}, cfg.SyncInterval, cfg.SyncOnStart, logger)

	a.Login = service.NewLoginSyncService(
		a.Directory, accounts, lifecycle, roles, linker,
		cfg.LoginDegradationWindow, cfg.LoginSyncMinInterval,
		logger,
	)
	a.Integration = service.NewIntegrationService(a.Directory, runs, logger)

	return a, nil
}

// NewProvider создаёт провайдер каталога по DS_DIRECTORY_PROVIDER.
// HTTP-транспорт Graph инструментирован OpenTelemetry.
func NewProvider(ctx context.Context, cfg *config.Config, logger *slog.Logger) (directory.Provider, error) {
	switch cfg.DirectoryProvider {
	case config.ProviderGoogle:
		p, err := directory.NewGoogleProvider(ctx,
			cfg.GoogleCredentialsJSON, cfg.GoogleAdminSubject, cfg.GoogleCustomer,
			cfg.DirectoryPageSize, logger)
		if err != nil {
			return nil, err
		}
		return p, nil

	case config.ProviderGraph, "":
		httpClient := &http.Client{
			Timeout:   cfg.DirectoryTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
		token := directory.NewClientCredentialsToken(
			cfg.GraphTokenURL, cfg.GraphClientID, cfg.GraphClientSecret, cfg.GraphScopes, httpClient,
		)
		return directory.NewGraphProvider(cfg.GraphBaseURL, token, cfg.DirectoryPageSize, httpClient, logger), nil

	default:
		return nil, fmt.Errorf("неизвестный провайдер каталога: %s", cfg.DirectoryProvider)
	}
}

// PostgresChecker возвращает проверку готовности PostgreSQL.
func (a *App) PostgresChecker() *database.ReadinessChecker {
	return database.NewReadinessChecker(a.pgx)
}

// Close освобождает ресурсы в обратном порядке создания.
func (a *App) Close() {
	if a.Publisher != nil {
		if err := a.Publisher.Close(); err != nil {
			a.Logger.Warn("Ошибка закрытия Redis", slog.String("error", err.Error()))
		}
	}
	if a.DB != nil {
		_ = a.DB.Close()
	}
	if a.pgx != nil {
		a.pgx.Close()
	}
	if a.shutdownTracing != nil {
		ctx, cancel := context.WithTimeout(context.Background(), a.Config.ShutdownTimeout)
		defer cancel()
		if err := a.shutdownTracing(ctx); err != nil {
			a.Logger.Warn("Ошибка остановки трассировки", slog.String("error", err.Error()))
		}
	}
}
