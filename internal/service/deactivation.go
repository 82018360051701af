// deactivation.go — проход 3: деактивация аккаунтов, отсутствующих или отключённых в каталоге.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/goartstore/directory-sync/internal/directory"
	"github.com/bigkaa/goartstore/directory-sync/internal/domain/model"
	"github.com/bigkaa/goartstore/directory-sync/internal/repository"
)

// Причины деактивации (пишутся в аудит).
const (
	ReasonNotFound = "account not found in directory"
	ReasonDisabled = "account disabled in directory"
)

// DeactivationResult — итог прохода 3.
type DeactivationResult struct {
	Deactivated int
	Errors      []string
}

// DeactivationReconciler деактивирует связанные аккаунты по полному снимку каталога.
type DeactivationReconciler struct {
	accounts  repository.AccountRepository
	lifecycle repository.LifecycleRepository
	logger    *slog.Logger
	now       func() time.Time
}

// NewDeactivationReconciler создаёт DeactivationReconciler.
func NewDeactivationReconciler(
	accounts repository.AccountRepository,
	lifecycle repository.LifecycleRepository,
	logger *slog.Logger,
) *DeactivationReconciler {
	return &DeactivationReconciler{
		accounts:  accounts,
		lifecycle: lifecycle,
		logger:    logger.With(slog.String("component", "deactivation")),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// ReconcileDeactivations проверяет все активные связанные аккаунты по снимку.
// Снимок должен быть полным: неполный снимок деактивирует лишние аккаунты.
// Ошибка возвращается, только если не удалось получить список аккаунтов.
func (d *DeactivationReconciler) ReconcileDeactivations(ctx context.Context, snap *directory.Snapshot) (DeactivationResult, error) {
	var res DeactivationResult

	active, err := d.accounts.ListLinked(ctx, true)
	if err != nil {
		return res, fmt.Errorf("получение активных аккаунтов: %w", err)
	}

	all, disabled := snap.Index()

	for _, acc := range active {
		extID := *acc.ExternalID

		var reason string
		if _, ok := all[extID]; !ok {
			reason = ReasonNotFound
		} else if _, ok := disabled[extID]; ok {
			reason = ReasonDisabled
		} else {
			continue
		}

		entry := &model.AuditEntry{
			ID:     uuid.New().String(),
			Action: model.AuditActionDeactivated,
			Changes: map[string]any{
				"active": map[string]any{"from": true, "to": false},
				"reason": reason,
			},
			Source: model.AuditSourceDirectorySync,
		}

		changed, err := d.lifecycle.Deactivate(ctx, acc.ID, d.now(), entry)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", acc.Email, err))
			d.logger.Warn("Ошибка деактивации аккаунта",
				slog.String("account_id", acc.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if changed {
			res.Deactivated++
			d.logger.Info("Аккаунт деактивирован",
				slog.String("account_id", acc.ID),
				slog.String("external_id", extID),
				slog.String("reason", reason),
			)
		}
	}

	return res, nil
}
