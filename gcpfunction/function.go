// Пакет gcpfunction — точки входа Cloud Functions для внешнего планировщика.
// DirectorySyncHTTP вызывается Cloud Scheduler по HTTP,
// DirectorySyncPubSub — сообщением Pub/Sub.
package gcpfunction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/cloudevents/sdk-go/v2/event"

	"github.com/bigkaa/goartstore/directory-sync/internal/app"
	"github.com/bigkaa/goartstore/directory-sync/internal/config"
	"github.com/bigkaa/goartstore/directory-sync/internal/domain/model"
)

func init() {
	functions.HTTP("DirectorySyncHTTP", directorySyncHTTP)
	functions.CloudEvent("DirectorySyncPubSub", directorySyncPubSub)
}

// Режимы запуска.
const (
	ModeFull       = "full"
	ModeGroupsOnly = "groups_only"

	defaultInitiator = "cloud-function"
)

// SyncRequest — тело HTTP-запроса или данные сообщения Pub/Sub.
// Пустой запрос означает полную синхронизацию.
type SyncRequest struct {
	Mode      string `json:"mode"`
	Initiator string `json:"initiator"`
}

// syncRunner — запуск синхронизации (service.DirectorySyncService).
type syncRunner interface {
	RunFullSync(ctx context.Context, initiator string) (*model.SyncRunResult, error)
	RunGroupsOnlySync(ctx context.Context, initiator string) (*model.SyncRunResult, error)
}

// errInvalidMode — неизвестный режим запуска.
var errInvalidMode = errors.New("неизвестный режим синхронизации")

var (
	runnerMu sync.Mutex
	runner   syncRunner
	logger   = slog.Default()

	// newRunner собирает зависимости при первом вызове (холодный старт).
	// Подменяется в тестах.
	newRunner = func(ctx context.Context) (syncRunner, *slog.Logger, error) {
		cfg, err := config.Load()
		if err != nil {
			return nil, nil, fmt.Errorf("загрузка конфигурации: %w", err)
		}
		log := config.SetupLogger(cfg)
		a, err := app.Build(ctx, cfg, log)
		if err != nil {
			return nil, nil, err
		}
		return a.Sync, log, nil
	}
)

// getRunner возвращает собранный оркестратор. Неудачная сборка повторяется при следующем вызове.
func getRunner(ctx context.Context) (syncRunner, error) {
	runnerMu.Lock()
	defer runnerMu.Unlock()

	if runner != nil {
		return runner, nil
	}

	r, log, err := newRunner(ctx)
	if err != nil {
		logger.Error("Ошибка инициализации функции", slog.String("error", err.Error()))
		return nil, err
	}
	runner, logger = r, log
	return runner, nil
}

// runSync выполняет запуск в запрошенном режиме.
func runSync(ctx context.Context, req SyncRequest) (*model.SyncRunResult, error) {
	if req.Initiator == "" {
		req.Initiator = defaultInitiator
	}

	var run func(context.Context, string) (*model.SyncRunResult, error)
	switch req.Mode {
	case "", ModeFull:
		req.Mode = ModeFull
	case ModeGroupsOnly:
	default:
		return nil, fmt.Errorf("%w: %s", errInvalidMode, req.Mode)
	}

	r, err := getRunner(ctx)
	if err != nil {
		return nil, err
	}
	if req.Mode == ModeGroupsOnly {
		run = r.RunGroupsOnlySync
	} else {
		run = r.RunFullSync
	}

	res, err := run(ctx, req.Initiator)
	if err != nil {
		return res, err
	}

	logger.Info("Запуск из Cloud Function завершён",
		slog.String("run_id", res.Run.ID),
		slog.String("mode", req.Mode),
		slog.String("status", string(res.Run.Status)),
		slog.Int("total", res.Run.TotalUsers),
		slog.Int("failed", res.Run.FailedUsers),
	)
	return res, nil
}

// syncResponse — ответ HTTP-триггера.
type syncResponse struct {
	RunID            string `json:"run_id"`
	Status           string `json:"status"`
	TotalUsers       int    `json:"total_users"`
	CreatedUsers     int    `json:"created_users"`
	UpdatedUsers     int    `json:"updated_users"`
	DeactivatedUsers int    `json:"deactivated_users"`
	FailedUsers      int    `json:"failed_users"`
}

func directorySyncHTTP(w http.ResponseWriter, r *http.Request) {
	var req SyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "некорректное тело запроса", http.StatusBadRequest)
		return
	}

	res, err := runSync(r.Context(), req)
	if err != nil {
		if errors.Is(err, errInvalidMode) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		logger.Error("Ошибка запуска синхронизации", slog.String("error", err.Error()))
		http.Error(w, "ошибка синхронизации", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(syncResponse{
		RunID:            res.Run.ID,
		Status:           string(res.Run.Status),
		TotalUsers:       res.Run.TotalUsers,
		CreatedUsers:     res.Run.CreatedUsers,
		UpdatedUsers:     res.Run.UpdatedUsers,
		DeactivatedUsers: res.Run.DeactivatedUsers,
		FailedUsers:      res.Run.FailedUsers,
	})
}

// messagePublishedData — данные события google.cloud.pubsub.topic.v1.messagePublished.
type messagePublishedData struct {
	Message struct {
		Data []byte `json:"data"`
	} `json:"message"`
}

// directorySyncPubSub обрабатывает сообщение Pub/Sub.
// Ошибка возвращается только при непредвиденном сбое: запуск со статусом FAILURE
// уже записан в журнал, повторная доставка его не исправит.
func directorySyncPubSub(ctx context.Context, e event.Event) error {
	var msg messagePublishedData
	if err := e.DataAs(&msg); err != nil {
		return fmt.Errorf("разбор события Pub/Sub: %w", err)
	}

	var req SyncRequest
	if len(msg.Message.Data) > 0 {
		if err := json.Unmarshal(msg.Message.Data, &req); err != nil {
			logger.Warn("Данные сообщения не JSON, выполняется полная синхронизация",
				slog.String("event_id", e.ID()),
			)
			req = SyncRequest{}
		}
	}

	_, err := runSync(ctx, req)
	if errors.Is(err, errInvalidMode) {
		logger.Error("Сообщение с неизвестным режимом отброшено", slog.String("error", err.Error()))
		return nil
	}
	return err
}
