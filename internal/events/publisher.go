// Пакет events — публикация событий Directory Sync в Redis (pub/sub).
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bigkaa/goartstore/directory-sync/internal/domain/model"
)

// EventRunFinished — тип события о завершении запуска синхронизации.
const EventRunFinished = "sync_run.finished"

// RunFinishedEvent — тело события о завершении запуска.
type RunFinishedEvent struct {
	Type        string          `json:"type"`
	RunID       string          `json:"run_id"`
	RunType     model.RunType   `json:"run_type"`
	Status      model.RunStatus `json:"status"`
	StartedAt   time.Time       `json:"started_at"`
	FinishedAt  *time.Time      `json:"finished_at,omitempty"`
	Total       int             `json:"total_users"`
	Created     int             `json:"created_users"`
	Updated     int             `json:"updated_users"`
	Deactivated int             `json:"deactivated_users"`
	Failed      int             `json:"failed_users"`
	InitiatedBy string          `json:"initiated_by"`
}

// NewRunFinishedEvent формирует событие по записи запуска.
func NewRunFinishedEvent(run *model.SyncRun) RunFinishedEvent {
	return RunFinishedEvent{
		Type:        EventRunFinished,
		RunID:       run.ID,
		RunType:     run.Type,
		Status:      run.Status,
		StartedAt:   run.StartedAt,
		FinishedAt:  run.FinishedAt,
		Total:       run.TotalUsers,
		Created:     run.CreatedUsers,
		Updated:     run.UpdatedUsers,
		Deactivated: run.DeactivatedUsers,
		Failed:      run.FailedUsers,
		InitiatedBy: run.InitiatedBy,
	}
}

// Publisher публикует события в канал Redis.
type Publisher struct {
	rdb     *redis.Client
	channel string
	logger  *slog.Logger
}

// NewPublisher подключается к Redis по URL (redis://...) и проверяет соединение.
func NewPublisher(ctx context.Context, url, channel string, logger *slog.Logger) (*Publisher, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("некорректный URL Redis: %w", err)
	}

	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("подключение к Redis: %w", err)
	}

	logger.Info("Публикация событий в Redis включена",
		slog.String("addr", opts.Addr),
		slog.String("channel", channel),
	)

	return NewPublisherWithClient(rdb, channel, logger), nil
}

// NewPublisherWithClient создаёт Publisher поверх готового клиента.
func NewPublisherWithClient(rdb *redis.Client, channel string, logger *slog.Logger) *Publisher {
	return &Publisher{
		rdb:     rdb,
		channel: channel,
		logger:  logger.With(slog.String("component", "events")),
	}
}

// PublishRunFinished публикует событие sync_run.finished.
func (p *Publisher) PublishRunFinished(ctx context.Context, run *model.SyncRun) error {
	payload, err := json.Marshal(NewRunFinishedEvent(run))
	if err != nil {
		return fmt.Errorf("сериализация события: %w", err)
	}

	receivers, err := p.rdb.Publish(ctx, p.channel, payload).Result()
	if err != nil {
		return fmt.Errorf("публикация события: %w", err)
	}

	p.logger.Debug("Событие опубликовано",
		slog.String("type", EventRunFinished),
		slog.String("run_id", run.ID),
		slog.Int64("receivers", receivers),
	)
	return nil
}

// Ping проверяет соединение с Redis.
func (p *Publisher) Ping(ctx context.Context) error {
	return p.rdb.Ping(ctx).Err()
}

// Close закрывает соединение.
func (p *Publisher) Close() error {
	return p.rdb.Close()
}
