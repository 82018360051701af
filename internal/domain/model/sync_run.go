package model

import "time"

// RunType — тип запуска синхронизации.
type RunType string

const (
	// RunTypeFull — полная синхронизация (все проходы).
	RunTypeFull RunType = "FULL"
	// RunTypeGroupsOnly — только роли и руководители существующих аккаунтов.
	RunTypeGroupsOnly RunType = "GROUPS_ONLY"
)

// RunStatus — статус запуска синхронизации.
type RunStatus string

const (
	RunStatusInProgress     RunStatus = "IN_PROGRESS"
	RunStatusSuccess        RunStatus = "SUCCESS"
	RunStatusPartialSuccess RunStatus = "PARTIAL_SUCCESS"
	RunStatusFailure        RunStatus = "FAILURE"
)

// SyncRun — запись журнала запусков синхронизации.
// Создаётся до первого обращения к каталогу, обновляется один раз при завершении.
type SyncRun struct {
	// ID — UUID запуска
	ID string
	// Type — тип запуска
	Type RunType
	// Status — статус
	Status RunStatus
	// StartedAt — время начала
	StartedAt time.Time
	// FinishedAt — время завершения (nil, пока запуск выполняется)
	FinishedAt *time.Time
	// TotalUsers — сколько записей обработано
	TotalUsers int
	// SyncedUsers — создано + обновлено
	SyncedUsers int
	// CreatedUsers — создано новых аккаунтов
	CreatedUsers int
	// UpdatedUsers — обновлено аккаунтов
	UpdatedUsers int
	// DeactivatedUsers — деактивировано аккаунтов
	DeactivatedUsers int
	// FailedUsers — ошибок уровня записи
	FailedUsers int
	// ErrorSummary — сводка ошибок (усечённая)
	ErrorSummary *string
	// InitiatedBy — инициатор запуска (username, "scheduler", "cloud-function")
	InitiatedBy string
	// Metadata — произвольные счётчики (страницы, повторы, связи)
	Metadata map[string]any
}

// RecordAction — результат обработки одной записи каталога.
type RecordAction string

const (
	ActionCreated RecordAction = "created"
	ActionUpdated RecordAction = "updated"
	ActionSkipped RecordAction = "skipped"
	ActionFailed  RecordAction = "failed"
)

// RecordResult — результат обработки одной записи в проходе 1.
// Ошибка записи не прерывает проход, а возвращается в Err.
type RecordResult struct {
	ExternalID string
	Email      string
	Action     RecordAction
	Err        error
}

// SyncRunResult — итог запуска: запись журнала и результаты по записям.
type SyncRunResult struct {
	Run     *SyncRun
	Records []RecordResult
}

// LoginSyncResult — результат синхронизации при входе.
type LoginSyncResult struct {
	// Rejected — вход должен быть отклонён
	Rejected bool
	// Reason — причина отказа или деградации
	Reason string
	// Degraded — использованы кэшированные данные (каталог недоступен)
	Degraded bool
	// Account — актуальное состояние аккаунта
	Account *Account
}
