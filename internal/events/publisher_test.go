package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/bigkaa/goartstore/directory-sync/internal/domain/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testRun() *model.SyncRun {
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	finished := started.Add(90 * time.Second)
	return &model.SyncRun{
		ID:               "run-1",
		Type:             model.RunTypeFull,
		Status:           model.RunStatusPartialSuccess,
		StartedAt:        started,
		FinishedAt:       &finished,
		TotalUsers:       10,
		CreatedUsers:     2,
		UpdatedUsers:     6,
		DeactivatedUsers: 1,
		FailedUsers:      1,
		InitiatedBy:      "scheduler",
	}
}

func TestNewRunFinishedEvent(t *testing.T) {
	payload, err := json.Marshal(NewRunFinishedEvent(testRun()))
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal(payload, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	want := map[string]any{
		"type":              EventRunFinished,
		"run_id":            "run-1",
		"run_type":          "FULL",
		"status":            "PARTIAL_SUCCESS",
		"finished_at":       "2026-03-01T10:01:30Z",
		"deactivated_users": float64(1),
		"initiated_by":      "scheduler",
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %v, ожидалось %v", k, got[k], v)
		}
	}
}

// setupRedis запускает Redis в контейнере.
func setupRedis(t *testing.T) *redis.Client {
	t.Helper()

	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("Пропуск интеграционного теста: TEST_INTEGRATION не установлена")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "docker.io/redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("Не удалось запустить Redis контейнер: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Ошибка остановки контейнера: %v", err)
		}
	})

	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("Не удалось получить адрес контейнера: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: endpoint})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestPublishRunFinished(t *testing.T) {
	rdb := setupRedis(t)
	ctx := context.Background()

	sub := rdb.Subscribe(ctx, "directory-sync.events")
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	pub := NewPublisherWithClient(rdb, "directory-sync.events", testLogger())
	if err := pub.PublishRunFinished(ctx, testRun()); err != nil {
		t.Fatalf("PublishRunFinished: %v", err)
	}

	select {
	case msg := <-sub.Channel():
		var ev RunFinishedEvent
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			t.Fatalf("Unmarshal: %v", err)
		}
		if ev.RunID != "run-1" || ev.Status != model.RunStatusPartialSuccess {
			t.Errorf("событие %+v", ev)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("событие не получено")
	}
}

func TestNewPublisher_InvalidURL(t *testing.T) {
	if _, err := NewPublisher(context.Background(), "http://not-redis", "ch", testLogger()); err == nil {
		t.Fatal("ожидалась ошибка разбора URL")
	}
}
