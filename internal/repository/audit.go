package repository

import (
	"context"
	"fmt"

	"github.com/bigkaa/goartstore/directory-sync/internal/domain/model"
)

// AuditRepository — журнал аудита аккаунтов (только вставка и чтение).
type AuditRepository interface {
	Create(ctx context.Context, entry *model.AuditEntry) error
	// ListByAccount возвращает записи аккаунта, новые первыми.
	ListByAccount(ctx context.Context, accountID string, limit int) ([]*model.AuditEntry, error)
}

type auditRepo struct {
	db DBTX
}

// NewAuditRepository создаёт репозиторий аудита.
func NewAuditRepository(db DBTX) AuditRepository {
	return &auditRepo{db: db}
}

func (r *auditRepo) Create(ctx context.Context, entry *model.AuditEntry) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO audit_entries (id, account_id, action, changes, source, actor_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`,
		entry.ID, entry.AccountID, entry.Action, metadataOrEmpty(entry.Changes), entry.Source, entry.ActorID,
	).Scan(&entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("ошибка записи аудита: %w", err)
	}
	return nil
}

func (r *auditRepo) ListByAccount(ctx context.Context, accountID string, limit int) ([]*model.AuditEntry, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, account_id, action, changes, source, actor_id, created_at
		FROM audit_entries
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения аудита: %w", err)
	}
	defer rows.Close()

	var result []*model.AuditEntry
	for rows.Next() {
		e := &model.AuditEntry{}
		if err := rows.Scan(&e.ID, &e.AccountID, &e.Action, &e.Changes, &e.Source, &e.ActorID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("ошибка сканирования аудита: %w", err)
		}
		result = append(result, e)
	}
	return result, rows.Err()
}
