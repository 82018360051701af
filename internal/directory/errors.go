package directory

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"

	"golang.org/x/oauth2"
)

var (
	// ErrNotConfigured — провайдер каталога не настроен (нет учётных данных).
	ErrNotConfigured = errors.New("провайдер каталога не настроен")
	// ErrNotFound — объект отсутствует в каталоге (в т.ч. «руководитель не задан»).
	ErrNotFound = errors.New("объект не найден в каталоге")
)

// APIError — ответ каталога с неуспешным HTTP-статусом.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("каталог вернул статус %d: %s", e.StatusCode, e.Body)
}

// Is сопоставляет 404 с ErrNotFound.
func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// IsNotFound сообщает, что ошибка означает отсутствие объекта.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsRetryable классифицирует ошибку как временную:
// 429, любой 5xx, сброс или отказ соединения, таймаут, ошибка DNS.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, ErrNotConfigured) || errors.Is(err, context.Canceled) {
		return false
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return retryableStatus(apiErr.StatusCode)
	}

	var tokenErr *oauth2.RetrieveError
	if errors.As(err, &tokenErr) && tokenErr.Response != nil {
		return retryableStatus(tokenErr.Response.StatusCode)
	}

	return isTransientNetworkError(err)
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

func isTransientNetworkError(err error) bool {
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
