package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/goartstore/directory-sync/internal/domain/model"
)

// SyncRunRepository — журнал запусков синхронизации (таблица sync_runs).
type SyncRunRepository interface {
	// Create записывает запуск в статусе IN_PROGRESS.
	Create(ctx context.Context, run *model.SyncRun) error
	// Finish фиксирует итог запуска. Завершённый запуск не перезаписывается (ErrNotFound).
	Finish(ctx context.Context, run *model.SyncRun) error
	// GetByID возвращает запуск по UUID.
	GetByID(ctx context.Context, id string) (*model.SyncRun, error)
	// ListRecent возвращает последние запуски, новые первыми.
	ListRecent(ctx context.Context, limit int) ([]*model.SyncRun, error)
	// Latest возвращает последний запуск или ErrNotFound.
	Latest(ctx context.Context) (*model.SyncRun, error)
}

type syncRunRepo struct {
	db DBTX
}

// NewSyncRunRepository создаёт репозиторий журнала запусков.
func NewSyncRunRepository(db DBTX) SyncRunRepository {
	return &syncRunRepo{db: db}
}

const syncRunColumns = `id, run_type, status, started_at, finished_at,
	total_users, synced_users, created_users, updated_users, deactivated_users, failed_users,
	error_summary, initiated_by, metadata`

func scanSyncRun(row pgx.Row) (*model.SyncRun, error) {
	run := &model.SyncRun{}
	err := row.Scan(
		&run.ID, &run.Type, &run.Status, &run.StartedAt, &run.FinishedAt,
		&run.TotalUsers, &run.SyncedUsers, &run.CreatedUsers, &run.UpdatedUsers,
		&run.DeactivatedUsers, &run.FailedUsers,
		&run.ErrorSummary, &run.InitiatedBy, &run.Metadata,
	)
	return run, err
}

func metadataOrEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func (r *syncRunRepo) Create(ctx context.Context, run *model.SyncRun) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO sync_runs (id, run_type, status, started_at, initiated_by, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		run.ID, run.Type, run.Status, run.StartedAt, run.InitiatedBy, metadataOrEmpty(run.Metadata),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: запуск %s уже существует", ErrConflict, run.ID)
		}
		return fmt.Errorf("ошибка создания запуска синхронизации: %w", err)
	}
	return nil
}

func (r *syncRunRepo) Finish(ctx context.Context, run *model.SyncRun) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE sync_runs
		SET status = $2, finished_at = $3, total_users = $4, synced_users = $5,
			created_users = $6, updated_users = $7, deactivated_users = $8,
			failed_users = $9, error_summary = $10, metadata = $11
		WHERE id = $1 AND status = 'IN_PROGRESS'`,
		run.ID, run.Status, run.FinishedAt, run.TotalUsers, run.SyncedUsers,
		run.CreatedUsers, run.UpdatedUsers, run.DeactivatedUsers,
		run.FailedUsers, run.ErrorSummary, metadataOrEmpty(run.Metadata),
	)
	if err != nil {
		return fmt.Errorf("ошибка завершения запуска синхронизации: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *syncRunRepo) GetByID(ctx context.Context, id string) (*model.SyncRun, error) {
	query := fmt.Sprintf(`SELECT %s FROM sync_runs WHERE id = $1`, syncRunColumns)
	run, err := scanSyncRun(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения запуска: %w", err)
	}
	return run, nil
}

func (r *syncRunRepo) ListRecent(ctx context.Context, limit int) ([]*model.SyncRun, error) {
	query := fmt.Sprintf(`SELECT %s FROM sync_runs ORDER BY started_at DESC LIMIT $1`, syncRunColumns)

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения истории запусков: %w", err)
	}
	defer rows.Close()

	var result []*model.SyncRun
	for rows.Next() {
		run, err := scanSyncRun(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования запуска: %w", err)
		}
		result = append(result, run)
	}
	return result, rows.Err()
}

func (r *syncRunRepo) Latest(ctx context.Context) (*model.SyncRun, error) {
	runs, err := r.ListRecent(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, ErrNotFound
	}
	return runs[0], nil
}
