// errors.go — ошибки бизнес-логики сервисного слоя.
package service

import "errors"

var (
	// ErrNotFound — ресурс не найден.
	ErrNotFound = errors.New("ресурс не найден")
	// ErrValidation — ошибка валидации входных данных.
	ErrValidation = errors.New("ошибка валидации")
	// ErrDirectoryUnavailable — каталог недоступен или не настроен.
	ErrDirectoryUnavailable = errors.New("каталог недоступен")
)
