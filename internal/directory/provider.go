package directory

import "context"

// Provider — операции конкретного каталога (Graph API, Google Workspace).
// Реализации не повторяют запросы: повторы выполняет Client.
type Provider interface {
	// Name — имя провайдера для логов и метаданных запуска.
	Name() string
	// Configured сообщает, есть ли учётные данные для обращения к каталогу.
	Configured() bool
	// ListAccounts возвращает страницу учётных записей, начиная с cursor ("" — первая).
	ListAccounts(ctx context.Context, cursor string) (*AccountPage, error)
	// GetProfile возвращает учётную запись по external id.
	GetProfile(ctx context.Context, externalID string) (*Account, error)
	// GetGroupMemberships возвращает идентификаторы групп учётной записи.
	GetGroupMemberships(ctx context.Context, externalID string) ([]string, error)
	// GetManager возвращает external id руководителя или ErrNotFound.
	GetManager(ctx context.Context, externalID string) (string, error)
	// ListGroupMembers возвращает external id всех пользователей группы.
	ListGroupMembers(ctx context.Context, groupID string) ([]string, error)
}
