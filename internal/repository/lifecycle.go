package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/goartstore/directory-sync/internal/domain/model"
)

// LifecycleRepository — изменения жизненного цикла аккаунта вместе с записью аудита.
// Аккаунт и запись аудита сохраняются в одной транзакции.
type LifecycleRepository interface {
	// Provision создаёт аккаунт и запись ACCOUNT_PROVISIONED.
	// ErrConflict — аккаунт уже создан параллельно.
	Provision(ctx context.Context, acc *model.Account, entry *model.AuditEntry) error
	// Deactivate выключает аккаунт и пишет ACCOUNT_DEACTIVATED.
	// false — аккаунт уже был неактивен, аудит не пишется.
	Deactivate(ctx context.Context, accountID string, at time.Time, entry *model.AuditEntry) (bool, error)
}

type lifecycleRepo struct {
	tx *TxRunner
}

// NewLifecycleRepository создаёт репозиторий жизненного цикла.
func NewLifecycleRepository(tx *TxRunner) LifecycleRepository {
	return &lifecycleRepo{tx: tx}
}

func (r *lifecycleRepo) Provision(ctx context.Context, acc *model.Account, entry *model.AuditEntry) error {
	return r.tx.RunInTx(ctx, func(tx pgx.Tx) error {
		if err := NewAccountRepository(tx).Create(ctx, acc); err != nil {
			return err
		}
		entry.AccountID = acc.ID
		return NewAuditRepository(tx).Create(ctx, entry)
	})
}

func (r *lifecycleRepo) Deactivate(ctx context.Context, accountID string, at time.Time, entry *model.AuditEntry) (bool, error) {
	var changed bool
	err := r.tx.RunInTx(ctx, func(tx pgx.Tx) error {
		var err error
		changed, err = NewAccountRepository(tx).Deactivate(ctx, accountID, at)
		if err != nil || !changed {
			return err
		}
		entry.AccountID = accountID
		return NewAuditRepository(tx).Create(ctx, entry)
	})
	if err != nil {
		return false, err
	}
	return changed, nil
}
