// client.go — клиент каталога: постраничная выборка и повторы поверх Provider.
// Все вызовы проходят через retry.Do; если провайдер не настроен,
// ErrNotConfigured возвращается до входа в цикл повторов.
package directory

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/directory-sync/internal/retry"
)

// directoryRetries — количество повторов запросов к каталогу.
var directoryRetries = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "ds_directory_retries_total",
		Help: "Количество повторов запросов к каталогу",
	},
	[]string{"operation"},
)

// Client — клиент каталога с повторами.
type Client struct {
	provider Provider
	policy   retry.Policy
	logger   *slog.Logger

	retries atomic.Int64
}

// NewClient создаёт клиент каталога.
// Если policy.Retryable не задан, используется IsRetryable.
func NewClient(provider Provider, policy retry.Policy, logger *slog.Logger) *Client {
	if policy.Retryable == nil {
		policy.Retryable = IsRetryable
	}

	return &Client{
		provider: provider,
		policy:   policy,
		logger:   logger.With(slog.String("component", "directory_client"), slog.String("provider", provider.Name())),
	}
}

// Configured сообщает, настроен ли провайдер.
func (c *Client) Configured() bool {
	return c.provider.Configured()
}

// ProviderName возвращает имя провайдера.
func (c *Client) ProviderName() string {
	return c.provider.Name()
}

// Retries возвращает общее число повторов с момента создания клиента.
func (c *Client) Retries() int64 {
	return c.retries.Load()
}

// call выполняет операцию провайдера с повторами.
func call[T any](ctx context.Context, c *Client, op string, fn retry.Func[T]) (T, error) {
	if !c.provider.Configured() {
		var zero T
		return zero, ErrNotConfigured
	}

	policy := c.policy
	onRetry := policy.OnRetry
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		c.retries.Add(1)
		directoryRetries.WithLabelValues(op).Inc()
		if onRetry != nil {
			onRetry(attempt, delay, err)
		}
	}

	return retry.Do(ctx, policy, c.logger, op, fn)
}

// FetchAllAccounts обходит все страницы каталога по курсору.
// Ошибка любой страницы (после повторов) прерывает выборку.
func (c *Client) FetchAllAccounts(ctx context.Context) (*Snapshot, error) {
	before := c.retries.Load()
	snap := &Snapshot{}
	cursor := ""

	for {
		page, err := call(ctx, c, "list_accounts", func(ctx context.Context) (*AccountPage, error) {
			return c.provider.ListAccounts(ctx, cursor)
		})
		if err != nil {
			return nil, err
		}

		snap.Pages++
		snap.Accounts = append(snap.Accounts, page.Accounts...)

		if page.NextCursor == "" {
			break
		}
		if page.NextCursor == cursor {
			return nil, fmt.Errorf("каталог вернул тот же курсор на странице %d", snap.Pages)
		}
		cursor = page.NextCursor
	}

	snap.Retries = int(c.retries.Load() - before)

	c.logger.Debug("Снимок каталога получен",
		slog.Int("accounts", len(snap.Accounts)),
		slog.Int("pages", snap.Pages),
		slog.Int("retries", snap.Retries),
	)

	return snap, nil
}

// GetProfile возвращает учётную запись по external id.
func (c *Client) GetProfile(ctx context.Context, externalID string) (*Account, error) {
	return call(ctx, c, "get_profile", func(ctx context.Context) (*Account, error) {
		return c.provider.GetProfile(ctx, externalID)
	})
}

// GetGroupMemberships возвращает группы учётной записи.
func (c *Client) GetGroupMemberships(ctx context.Context, externalID string) ([]string, error) {
	return call(ctx, c, "get_group_memberships", func(ctx context.Context) ([]string, error) {
		return c.provider.GetGroupMemberships(ctx, externalID)
	})
}

// GetManager возвращает external id руководителя.
// Отсутствие руководителя — ErrNotFound (не повторяется).
func (c *Client) GetManager(ctx context.Context, externalID string) (string, error) {
	return call(ctx, c, "get_manager", func(ctx context.Context) (string, error) {
		return c.provider.GetManager(ctx, externalID)
	})
}

// ListGroupMembers возвращает участников группы.
func (c *Client) ListGroupMembers(ctx context.Context, groupID string) ([]string, error) {
	return call(ctx, c, "list_group_members", func(ctx context.Context) ([]string, error) {
		return c.provider.ListGroupMembers(ctx, groupID)
	})
}

// CheckReady проверяет доступность каталога запросом первой страницы без повторов.
// Реализует handlers.ReadinessChecker.
func (c *Client) CheckReady() (string, string) {
	if !c.provider.Configured() {
		return "degraded", "провайдер каталога не настроен"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := c.provider.ListAccounts(ctx, ""); err != nil {
		return "degraded", fmt.Sprintf("каталог %s недоступен: %v", c.provider.Name(), err)
	}

	return "ok", fmt.Sprintf("каталог %s доступен", c.provider.Name())
}
