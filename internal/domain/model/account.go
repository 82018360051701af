// Пакет model — доменные модели Directory Sync.
package model

import (
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Account — локальная учётная запись, синхронизируемая с каталогом.
// Хранится в таблице accounts.
type Account struct {
	// ID — UUID записи
	ID string
	// ExternalID — идентификатор в каталоге (nil — аккаунт создан локально и не управляется синхронизацией)
	ExternalID *string
	// Email — адрес электронной почты (уникален без учёта регистра)
	Email string
	// FirstName — имя
	FirstName string
	// LastName — фамилия
	LastName string
	// DisplayName — отображаемое имя
	DisplayName string
	// Department — подразделение
	Department *string
	// Role — роль (ADMIN, ISSUER, MANAGER, EMPLOYEE)
	Role string
	// RoleManuallySet — роль назначена администратором
	RoleManuallySet bool
	// ManagerID — UUID руководителя (nil — руководитель не задан)
	ManagerID *string
	// Active — аккаунт активен
	Active bool
	// PasswordHash — хэш пароля (nil для аккаунтов из каталога)
	PasswordHash *string
	// LastSyncAt — время последней синхронизации с каталогом
	LastSyncAt *time.Time
	// CreatedAt — время создания записи
	CreatedAt time.Time
	// UpdatedAt — время последнего обновления
	UpdatedAt time.Time
}

// IsLinked сообщает, управляется ли аккаунт синхронизацией.
func (a *Account) IsLinked() bool {
	return a.ExternalID != nil && *a.ExternalID != ""
}

// NormalizeEmail приводит email к нижнему регистру и убирает пробелы.
func NormalizeEmail(email string) string {
	return cases.Lower(language.Und).String(strings.TrimSpace(email))
}
