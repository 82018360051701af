// Пакет retry — повтор операций с экспоненциальной задержкой.
// Задержка перед повтором n (с нуля): BaseDelay × 2^n, не больше MaxDelay.
// После исчерпания попыток возвращается последняя ошибка без обёртки.
package retry

import (
	"context"
	"log/slog"
	"math"
	"time"
)

// Policy — параметры повторов.
type Policy struct {
	// MaxRetries — число повторов после первой попытки (всего вызовов MaxRetries+1)
	MaxRetries int
	// BaseDelay — задержка перед первым повтором
	BaseDelay time.Duration
	// MaxDelay — верхняя граница задержки (0 — без ограничения)
	MaxDelay time.Duration
	// Retryable решает, стоит ли повторять после ошибки (nil — не повторять)
	Retryable func(error) bool
	// OnRetry вызывается перед каждым ожиданием (может быть nil)
	OnRetry func(attempt int, delay time.Duration, err error)
	// Sleep — ожидание (nil — таймер с учётом ctx)
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultPolicy возвращает политику по умолчанию: 3 повтора, базовая задержка 1s.
func DefaultPolicy(retryable func(error) bool) Policy {
	return Policy{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		MaxDelay:   30 * time.Second,
		Retryable:  retryable,
	}
}

// Func — повторяемая операция.
type Func[T any] func(ctx context.Context) (T, error)

// Do выполняет fn, повторяя её при ошибках, признанных Retryable.
// Ожидание блокирует вызывающую горутину.
func Do[T any](ctx context.Context, p Policy, logger *slog.Logger, op string, fn Func[T]) (T, error) {
	var zero T

	for attempt := 0; ; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}

		if attempt >= p.MaxRetries || p.Retryable == nil || !p.Retryable(err) {
			return zero, err
		}

		delay := p.Backoff(attempt)
		if logger != nil {
			logger.Warn("Операция завершилась ошибкой, повтор",
				slog.String("operation", op),
				slog.Int("attempt", attempt+1),
				slog.Int("max_retries", p.MaxRetries),
				slog.Duration("backoff", delay),
				slog.String("error", err.Error()),
			)
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt+1, delay, err)
		}

		sleep := p.Sleep
		if sleep == nil {
			sleep = sleepCtx
		}
		if sleepErr := sleep(ctx, delay); sleepErr != nil {
			return zero, err
		}
	}
}

// Backoff возвращает задержку перед повтором с номером attempt (с нуля).
func (p Policy) Backoff(attempt int) time.Duration {
	d := time.Duration(float64(p.BaseDelay) * math.Pow(2, float64(attempt)))
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// sleepCtx ждёт d или отмены ctx.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
