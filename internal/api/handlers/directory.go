// directory.go — обработчики /api/v1/directory endpoints.
// Ручной запуск синхронизации, журнал запусков, статус интеграции, синхронизация при входе.
package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"
	openapi_types "github.com/oapi-codegen/runtime/types"

	apierrors "github.com/bigkaa/goartstore/directory-sync/internal/api/errors"
	"github.com/bigkaa/goartstore/directory-sync/internal/api/middleware"
	"github.com/bigkaa/goartstore/directory-sync/internal/domain/model"
	"github.com/bigkaa/goartstore/directory-sync/internal/service"
)

// Режимы ручного запуска.
const (
	SyncModeFull       = "full"
	SyncModeGroupsOnly = "groups_only"
)

// triggerSyncRequest — тело POST /api/v1/directory/sync.
type triggerSyncRequest struct {
	Mode string `json:"mode"`
}

// loginSyncRequest — тело POST /api/v1/directory/login-sync.
// Должно быть задано ровно одно из полей.
type loginSyncRequest struct {
	AccountID  *string `json:"account_id"`
	ExternalID *string `json:"external_id"`
}

// TriggerSync — POST /api/v1/directory/sync.
// Выполняет запуск синхронно и возвращает его итог.
// Доступ: администратор.
func (h *APIHandler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	req := triggerSyncRequest{Mode: SyncModeFull}
	// Пустое тело означает полную синхронизацию.
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		apierrors.ValidationError(w, "Некорректное тело запроса")
		return
	}

	initiator := middleware.InitiatorFromContext(r.Context())

	var (
		res *model.SyncRunResult
		err error
	)
	switch req.Mode {
	case SyncModeFull, "":
		res, err = h.sync.RunFullSync(r.Context(), initiator)
	case SyncModeGroupsOnly:
		res, err = h.sync.RunGroupsOnlySync(r.Context(), initiator)
	default:
		apierrors.ValidationError(w, "Неизвестный режим синхронизации: "+req.Mode)
		return
	}

	if err != nil {
		h.logger.Error("Ошибка запуска синхронизации",
			slog.String("mode", req.Mode),
			slog.String("initiated_by", initiator),
			slog.String("error", err.Error()),
		)
		msg := "Ошибка выполнения синхронизации"
		if res != nil && res.Run != nil {
			msg += ": запуск " + res.Run.ID + " завершён со статусом " + string(res.Run.Status)
		}
		apierrors.InternalError(w, msg)
		return
	}

	writeJSON(w, http.StatusOK, mapSyncResult(res))
}

// ListSyncRuns — GET /api/v1/directory/runs?limit=.
// Доступ: администратор.
func (h *APIHandler) ListSyncRuns(w http.ResponseWriter, r *http.Request) {
	var limit *int
	if err := runtime.BindQueryParameter("form", true, false, "limit", r.URL.Query(), &limit); err != nil {
		apierrors.ValidationError(w, "Некорректный параметр limit")
		return
	}

	requested := 0
	if limit != nil {
		requested = *limit
	}

	runs, err := h.integration.GetRunHistory(r.Context(), requested)
	if err != nil {
		h.logger.Error("Ошибка получения журнала запусков", slog.String("error", err.Error()))
		apierrors.InternalError(w, "Ошибка получения журнала запусков")
		return
	}

	items := make([]syncRunResponse, len(runs))
	for i, run := range runs {
		items[i] = mapSyncRun(run)
	}

	writeJSON(w, http.StatusOK, runListResponse{Items: items, Limit: effectiveLimit(requested)})
}

// GetSyncRun — GET /api/v1/directory/runs/{id}.
// Доступ: администратор.
func (h *APIHandler) GetSyncRun(w http.ResponseWriter, r *http.Request) {
	var id openapi_types.UUID
	err := runtime.BindStyledParameterWithOptions("simple", "id", chi.URLParam(r, "id"), &id,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		apierrors.ValidationError(w, "Некорректный идентификатор запуска")
		return
	}

	run, err := h.integration.GetRunByID(r.Context(), id.String())
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			apierrors.NotFound(w, "Запуск синхронизации не найден")
			return
		}
		h.logger.Error("Ошибка получения запуска",
			slog.String("run_id", id.String()),
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Ошибка получения запуска")
		return
	}

	writeJSON(w, http.StatusOK, mapSyncRun(run))
}

// GetIntegrationStatus — GET /api/v1/directory/status.
// Доступ: администратор.
func (h *APIHandler) GetIntegrationStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.integration.GetIntegrationStatus(r.Context())
	if err != nil {
		h.logger.Error("Ошибка получения статуса интеграции", slog.String("error", err.Error()))
		apierrors.InternalError(w, "Ошибка получения статуса интеграции")
		return
	}

	writeJSON(w, http.StatusOK, mapIntegrationStatus(st))
}

// LoginSync — POST /api/v1/directory/login-sync.
// Вызывается сервисом аутентификации перед выдачей сессии.
// Отказ во входе возвращается как 200 с rejected=true.
// Доступ: scope directory:login-sync или администратор.
func (h *APIHandler) LoginSync(w http.ResponseWriter, r *http.Request) {
	var req loginSyncRequest
	if err := decodeJSON(r, &req); err != nil {
		apierrors.ValidationError(w, "Некорректное тело запроса")
		return
	}

	hasAccount := req.AccountID != nil && *req.AccountID != ""
	hasExternal := req.ExternalID != nil && *req.ExternalID != ""
	if hasAccount == hasExternal {
		apierrors.ValidationError(w, "Требуется ровно одно из полей: account_id, external_id")
		return
	}

	var (
		res *model.LoginSyncResult
		err error
	)
	if hasAccount {
		res, err = h.login.SyncOnLogin(r.Context(), *req.AccountID)
	} else {
		res, err = h.login.SyncOnLoginByExternalID(r.Context(), *req.ExternalID)
	}

	if err != nil {
		switch {
		case errors.Is(err, service.ErrNotFound):
			apierrors.NotFound(w, "Аккаунт не найден")
		case errors.Is(err, service.ErrValidation):
			apierrors.ValidationError(w, err.Error())
		case errors.Is(err, service.ErrDirectoryUnavailable):
			apierrors.DirectoryUnavailable(w, "Каталог недоступен, создание аккаунта невозможно")
		default:
			h.logger.Error("Ошибка синхронизации при входе", slog.String("error", err.Error()))
			apierrors.InternalError(w, "Ошибка синхронизации при входе")
		}
		return
	}

	writeJSON(w, http.StatusOK, mapLoginSync(res))
}

// effectiveLimit повторяет нормализацию limit сервисного слоя для ответа.
func effectiveLimit(limit int) int {
	switch {
	case limit <= 0:
		return service.DefaultRunHistoryLimit
	case limit > service.MaxRunHistoryLimit:
		return service.MaxRunHistoryLimit
	default:
		return limit
	}
}
