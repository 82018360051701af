// handler.go — основной обработчик API Directory Sync.
// Объединяет доменные обработчики и делегирует запросы в сервисный слой.
package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/bigkaa/goartstore/directory-sync/internal/domain/model"
	"github.com/bigkaa/goartstore/directory-sync/internal/service"
)

// SyncRunner — запуск синхронизации (реализуется service.DirectorySyncService).
type SyncRunner interface {
	RunFullSync(ctx context.Context, initiator string) (*model.SyncRunResult, error)
	RunGroupsOnlySync(ctx context.Context, initiator string) (*model.SyncRunResult, error)
}

// LoginSyncer — синхронизация при входе (реализуется service.LoginSyncService).
type LoginSyncer interface {
	SyncOnLogin(ctx context.Context, accountID string) (*model.LoginSyncResult, error)
	SyncOnLoginByExternalID(ctx context.Context, externalID string) (*model.LoginSyncResult, error)
}

// IntegrationReader — журнал запусков и статус интеграции (реализуется service.IntegrationService).
type IntegrationReader interface {
	GetRunHistory(ctx context.Context, limit int) ([]*model.SyncRun, error)
	GetRunByID(ctx context.Context, id string) (*model.SyncRun, error)
	GetIntegrationStatus(ctx context.Context) (*service.IntegrationStatus, error)
}

// APIHandler — основной обработчик API Directory Sync.
type APIHandler struct {
	health      *HealthHandler
	sync        SyncRunner
	login       LoginSyncer
	integration IntegrationReader
	logger      *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
func NewAPIHandler(
	health *HealthHandler,
	sync SyncRunner,
	login LoginSyncer,
	integration IntegrationReader,
	logger *slog.Logger,
) *APIHandler {
	return &APIHandler{
		health:      health,
		sync:        sync,
		login:       login,
		integration: integration,
		logger:      logger.With(slog.String("component", "api_handler")),
	}
}

// HealthLive — liveness probe (делегируется в HealthHandler).
func (h *APIHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	h.health.HealthLive(w, r)
}

// HealthReady — readiness probe (делегируется в HealthHandler).
func (h *APIHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	h.health.HealthReady(w, r)
}

// GetMetrics — Prometheus метрики (делегируется в HealthHandler).
func (h *APIHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.health.GetMetrics(w, r)
}

// --- Вспомогательные функции ---

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// decodeJSON читает тело запроса в dst. Неизвестные поля отклоняются.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
