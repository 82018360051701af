package model

import "time"

// Действия, фиксируемые в журнале аудита.
const (
	AuditActionDeactivated = "ACCOUNT_DEACTIVATED"
	AuditActionProvisioned = "ACCOUNT_PROVISIONED"
)

// Источники изменений.
const (
	AuditSourceDirectorySync = "DIRECTORY_SYNC"
	AuditSourceSystem        = "SYSTEM"
)

// AuditEntry — неизменяемая запись аудита изменения аккаунта.
type AuditEntry struct {
	ID        string
	AccountID string
	Action    string
	// Changes — структурированное описание изменений (jsonb)
	Changes map[string]any
	Source  string
	// ActorID — nil для системных действий
	ActorID   *string
	CreatedAt time.Time
}
