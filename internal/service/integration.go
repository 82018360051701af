// integration.go — сведения об интеграции с каталогом: журнал запусков и статус.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bigkaa/goartstore/directory-sync/internal/directory"
	"github.com/bigkaa/goartstore/directory-sync/internal/domain/model"
	"github.com/bigkaa/goartstore/directory-sync/internal/repository"
)

// Границы limit для журнала запусков.
const (
	DefaultRunHistoryLimit = 20
	MaxRunHistoryLimit     = 200
)

// IntegrationStatus — состояние интеграции с каталогом.
type IntegrationStatus struct {
	// Available — провайдер настроен
	Available bool
	// Provider — имя провайдера (graph, google)
	Provider string
	// LastRun — последний запуск (nil — запусков не было)
	LastRun *model.SyncRun
	// LastStatus — статус последнего запуска ("" — запусков не было)
	LastStatus model.RunStatus
}

// IntegrationService — чтение журнала запусков и статуса интеграции.
type IntegrationService struct {
	dir    *directory.Client
	runs   repository.SyncRunRepository
	logger *slog.Logger
}

// NewIntegrationService создаёт IntegrationService.
func NewIntegrationService(dir *directory.Client, runs repository.SyncRunRepository, logger *slog.Logger) *IntegrationService {
	return &IntegrationService{
		dir:    dir,
		runs:   runs,
		logger: logger.With(slog.String("component", "integration")),
	}
}

// GetRunHistory возвращает последние запуски, новые первыми.
// limit <= 0 заменяется значением по умолчанию, больше максимума — обрезается.
func (s *IntegrationService) GetRunHistory(ctx context.Context, limit int) ([]*model.SyncRun, error) {
	switch {
	case limit <= 0:
		limit = DefaultRunHistoryLimit
	case limit > MaxRunHistoryLimit:
		limit = MaxRunHistoryLimit
	}

	runs, err := s.runs.ListRecent(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("получение журнала запусков: %w", err)
	}
	return runs, nil
}

// GetRunByID возвращает запуск по идентификатору.
func (s *IntegrationService) GetRunByID(ctx context.Context, id string) (*model.SyncRun, error) {
	run, err := s.runs.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: запуск %s", ErrNotFound, id)
		}
		return nil, err
	}
	return run, nil
}

// GetIntegrationStatus возвращает состояние интеграции.
func (s *IntegrationService) GetIntegrationStatus(ctx context.Context) (*IntegrationStatus, error) {
	status := &IntegrationStatus{
		Available: s.dir.Configured(),
		Provider:  s.dir.ProviderName(),
	}

	last, err := s.runs.Latest(ctx)
	switch {
	case err == nil:
		status.LastRun = last
		status.LastStatus = last.Status
	case errors.Is(err, repository.ErrNotFound):
		s.logger.Debug("Запусков синхронизации ещё не было")
	default:
		return nil, fmt.Errorf("получение последнего запуска: %w", err)
	}

	return status, nil
}
