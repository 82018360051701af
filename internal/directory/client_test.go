package directory

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/bigkaa/goartstore/directory-sync/internal/retry"
)

// fakeProvider — провайдер в памяти со сценарием ошибок по курсору.
type fakeProvider struct {
	mu         sync.Mutex
	configured bool
	pages      [][]Account
	// failures — ошибки, которые вернёт ListAccounts для курсора (по очереди)
	failures map[string][]error
	calls    map[string]int
	// sameCursor — каталог возвращает тот же курсор бесконечно
	sameCursor bool
}

func newFakeProvider(pages ...[]Account) *fakeProvider {
	return &fakeProvider{
		configured: true,
		pages:      pages,
		failures:   make(map[string][]error),
		calls:      make(map[string]int),
	}
}

func (f *fakeProvider) Name() string     { return "fake" }
func (f *fakeProvider) Configured() bool { return f.configured }

func (f *fakeProvider) ListAccounts(_ context.Context, cursor string) (*AccountPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls[cursor]++
	if errs := f.failures[cursor]; len(errs) > 0 {
		f.failures[cursor] = errs[1:]
		return nil, errs[0]
	}

	if f.sameCursor {
		return &AccountPage{NextCursor: "loop"}, nil
	}

	idx := 0
	if cursor != "" {
		idx, _ = strconv.Atoi(cursor)
	}
	page := &AccountPage{Accounts: f.pages[idx]}
	if idx+1 < len(f.pages) {
		page.NextCursor = strconv.Itoa(idx + 1)
	}
	return page, nil
}

func (f *fakeProvider) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, n := range f.calls {
		total += n
	}
	return total
}

func (f *fakeProvider) GetProfile(_ context.Context, externalID string) (*Account, error) {
	return &Account{ID: externalID, Enabled: true}, nil
}

func (f *fakeProvider) GetGroupMemberships(context.Context, string) ([]string, error) {
	return nil, nil
}

func (f *fakeProvider) GetManager(context.Context, string) (string, error) {
	return "", ErrNotFound
}

func (f *fakeProvider) ListGroupMembers(context.Context, string) ([]string, error) {
	return nil, nil
}

// newTestClient создаёт клиент без реальных задержек и фиксирует запрошенные задержки.
func newTestClient(p Provider, maxRetries int) (*Client, *[]time.Duration) {
	var delays []time.Duration
	policy := retry.Policy{
		MaxRetries: maxRetries,
		BaseDelay:  time.Second,
		MaxDelay:   30 * time.Second,
		Sleep: func(_ context.Context, d time.Duration) error {
			delays = append(delays, d)
			return nil
		},
	}
	return NewClient(p, policy, testLogger()), &delays
}

// TestClient_FetchAllAccounts_Pagination проверяет: N страниц — ровно N запросов.
func TestClient_FetchAllAccounts_Pagination(t *testing.T) {
	provider := newFakeProvider(
		[]Account{{ID: "u1", Enabled: true}, {ID: "u2", Enabled: true}},
		[]Account{{ID: "u3", Enabled: false}},
		[]Account{{ID: "u4", Enabled: true}},
	)
	client, _ := newTestClient(provider, 3)

	snap, err := client.FetchAllAccounts(context.Background())
	if err != nil {
		t.Fatalf("FetchAllAccounts: %v", err)
	}

	if snap.Pages != 3 {
		t.Errorf("Pages = %d, ожидалось 3", snap.Pages)
	}
	if got := provider.totalCalls(); got != 3 {
		t.Errorf("ожидалось 3 запроса, получено %d", got)
	}
	if len(snap.Accounts) != 4 {
		t.Errorf("ожидалось 4 записи, получено %d", len(snap.Accounts))
	}

	all, disabled := snap.Index()
	if len(all) != 4 || len(disabled) != 1 {
		t.Errorf("Index: all=%d disabled=%d, ожидалось 4 и 1", len(all), len(disabled))
	}
	if _, ok := disabled["u3"]; !ok {
		t.Error("u3 должна быть в множестве отключённых")
	}
}

// TestClient_FetchAllAccounts_Retry проверяет повторы страниц.
func TestClient_FetchAllAccounts_Retry(t *testing.T) {
	tests := []struct {
		name       string
		failures   []error
		wantErr    bool
		wantCalls  int
		wantDelays []time.Duration
	}{
		{
			name:       "429 на второй странице — один повтор",
			failures:   []error{&APIError{StatusCode: http.StatusTooManyRequests}},
			wantCalls:  3,
			wantDelays: []time.Duration{time.Second},
		},
		{
			name:      "400 — без повторов",
			failures:  []error{&APIError{StatusCode: http.StatusBadRequest}},
			wantErr:   true,
			wantCalls: 2,
		},
		{
			name: "503 до исчерпания попыток",
			failures: []error{
				&APIError{StatusCode: 503}, &APIError{StatusCode: 503},
				&APIError{StatusCode: 503}, &APIError{StatusCode: 503},
			},
			wantErr:    true,
			wantCalls:  5,
			wantDelays: []time.Duration{time.Second, 2 * time.Second, 4 * time.Second},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := newFakeProvider(
				[]Account{{ID: "u1", Enabled: true}},
				[]Account{{ID: "u2", Enabled: true}},
			)
			provider.failures["1"] = tt.failures
			client, delays := newTestClient(provider, 3)

			snap, err := client.FetchAllAccounts(context.Background())
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr = %v", err, tt.wantErr)
			}
			if got := provider.totalCalls(); got != tt.wantCalls {
				t.Errorf("ожидалось %d запросов, получено %d", tt.wantCalls, got)
			}
			if len(*delays) != len(tt.wantDelays) {
				t.Fatalf("задержки = %v, ожидалось %v", *delays, tt.wantDelays)
			}
			for i, d := range tt.wantDelays {
				if (*delays)[i] != d {
					t.Errorf("задержка %d = %v, ожидалось %v", i, (*delays)[i], d)
				}
			}

			if tt.wantErr {
				// Последняя ошибка возвращается без обёртки
				var apiErr *APIError
				if !errors.As(err, &apiErr) {
					t.Errorf("ожидалась *APIError, получено %T", err)
				}
				return
			}
			if snap.Retries != len(tt.wantDelays) {
				t.Errorf("Retries = %d, ожидалось %d", snap.Retries, len(tt.wantDelays))
			}
			if len(snap.Accounts) != 2 {
				t.Errorf("ожидалось 2 записи, получено %d", len(snap.Accounts))
			}
		})
	}
}

// TestClient_NotConfigured проверяет, что ненастроенный провайдер не вызывается.
func TestClient_NotConfigured(t *testing.T) {
	provider := newFakeProvider([]Account{{ID: "u1"}})
	provider.configured = false
	client, delays := newTestClient(provider, 3)

	_, err := client.FetchAllAccounts(context.Background())
	if !errors.Is(err, ErrNotConfigured) {
		t.Errorf("ожидалась ErrNotConfigured, получено %v", err)
	}
	if got := provider.totalCalls(); got != 0 {
		t.Errorf("ожидалось 0 запросов, получено %d", got)
	}
	if len(*delays) != 0 {
		t.Errorf("ожидалось 0 задержек, получено %v", *delays)
	}

	status, _ := client.CheckReady()
	if status != "degraded" {
		t.Errorf("CheckReady = %q, ожидалось degraded", status)
	}
}

// TestClient_RepeatedCursor проверяет защиту от зацикливания курсора.
func TestClient_RepeatedCursor(t *testing.T) {
	provider := newFakeProvider()
	provider.sameCursor = true
	client, _ := newTestClient(provider, 0)

	if _, err := client.FetchAllAccounts(context.Background()); err == nil {
		t.Fatal("ожидалась ошибка повторяющегося курсора")
	}
	if got := provider.totalCalls(); got != 2 {
		t.Errorf("ожидалось 2 запроса, получено %d", got)
	}
}

// TestClient_CheckReady проверяет проверку готовности каталога.
func TestClient_CheckReady(t *testing.T) {
	provider := newFakeProvider([]Account{{ID: "u1"}})
	client, _ := newTestClient(provider, 3)

	if status, _ := client.CheckReady(); status != "ok" {
		t.Errorf("CheckReady = %q, ожидалось ok", status)
	}

	provider.failures[""] = []error{&APIError{StatusCode: 503}}
	if status, _ := client.CheckReady(); status != "degraded" {
		t.Errorf("CheckReady = %q, ожидалось degraded", status)
	}
}
