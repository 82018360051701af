// account_reconciler.go — проход 1: создание и обновление аккаунтов по записям каталога.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/goartstore/directory-sync/internal/directory"
	"github.com/bigkaa/goartstore/directory-sync/internal/domain/model"
	"github.com/bigkaa/goartstore/directory-sync/internal/repository"
)

// AccountReconciler сопоставляет запись каталога с локальным аккаунтом.
type AccountReconciler struct {
	accounts  repository.AccountRepository
	lifecycle repository.LifecycleRepository
	roles     *RoleResolver
	logger    *slog.Logger
	now       func() time.Time
}

// NewAccountReconciler создаёт AccountReconciler.
func NewAccountReconciler(
	accounts repository.AccountRepository,
	lifecycle repository.LifecycleRepository,
	roles *RoleResolver,
	logger *slog.Logger,
) *AccountReconciler {
	return &AccountReconciler{
		accounts:  accounts,
		lifecycle: lifecycle,
		roles:     roles,
		logger:    logger.With(slog.String("component", "account_reconciler")),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// ReconcileOne обрабатывает одну запись каталога.
// Ошибки не прерывают проход: они возвращаются в RecordResult с Action=failed.
func (r *AccountReconciler) ReconcileOne(ctx context.Context, upstream *directory.Account) model.RecordResult {
	email := model.NormalizeEmail(upstream.PrimaryEmail())
	result := model.RecordResult{ExternalID: upstream.ID, Email: email}

	if !upstream.Enabled {
		result.Action = model.ActionSkipped
		return result
	}

	if email == "" {
		return r.fail(result, errors.New("у записи каталога нет ни mail, ни userPrincipalName"))
	}

	existing, err := r.findExisting(ctx, upstream.ID, email)
	if err != nil {
		return r.fail(result, err)
	}

	if existing == nil {
		created, err := r.create(ctx, upstream, email)
		if err == nil {
			result.Action = model.ActionCreated
			r.logger.Info("Аккаунт создан из каталога",
				slog.String("account_id", created.ID),
				slog.String("external_id", upstream.ID),
				slog.String("role", created.Role),
			)
			return result
		}
		if !errors.Is(err, repository.ErrConflict) {
			return r.fail(result, err)
		}

		// Параллельный запуск успел создать аккаунт — переходим к обновлению
		r.logger.Debug("Конфликт при создании, аккаунт перечитан",
			slog.String("external_id", upstream.ID),
		)
		existing, err = r.findExisting(ctx, upstream.ID, email)
		if err != nil {
			return r.fail(result, err)
		}
		if existing == nil {
			return r.fail(result, fmt.Errorf("аккаунт не найден после конфликта уникальности"))
		}
	}

	if err := r.update(ctx, existing, upstream, email); err != nil {
		return r.fail(result, err)
	}
	result.Action = model.ActionUpdated
	return result
}

// findExisting ищет аккаунт по external id, затем по email.
// Аккаунт, связанный с другой записью каталога, считается конфликтом данных.
func (r *AccountReconciler) findExisting(ctx context.Context, externalID, email string) (*model.Account, error) {
	acc, err := r.accounts.GetByExternalID(ctx, externalID)
	if err == nil {
		return acc, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	acc, err = r.accounts.GetByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if acc.IsLinked() && *acc.ExternalID != externalID {
		return nil, fmt.Errorf("email %s уже связан с записью каталога %s", email, *acc.ExternalID)
	}
	return acc, nil
}

// create создаёт аккаунт и запись аудита ACCOUNT_PROVISIONED в одной транзакции.
func (r *AccountReconciler) create(ctx context.Context, upstream *directory.Account, email string) (*model.Account, error) {
	now := r.now()
	externalID := upstream.ID

	acc := &model.Account{
		ID:         uuid.New().String(),
		ExternalID: &externalID,
		Email:      email,
		Role:       r.roles.Resolve(ctx, upstream.ID, nil, false),
		Active:     true,
		LastSyncAt: &now,
	}
	applyProfile(acc, upstream)

	entry := &model.AuditEntry{
		ID:     uuid.New().String(),
		Action: model.AuditActionProvisioned,
		Changes: map[string]any{
			"external_id": externalID,
			"email":       email,
			"role":        acc.Role,
		},
		Source: model.AuditSourceDirectorySync,
	}

	if err := r.lifecycle.Provision(ctx, acc, entry); err != nil {
		return nil, err
	}
	return acc, nil
}

// update обновляет профиль, роль и связь с каталогом.
// Признак active не меняется: деактивированный аккаунт остаётся неактивным.
func (r *AccountReconciler) update(ctx context.Context, acc *model.Account, upstream *directory.Account, email string) error {
	// Роль вычисляется до привязки external id: аккаунт, найденный по email,
	// ещё считается локальным и сохраняет свою роль.
	// Подчинённые здесь не учитываются: связи обновит проход 2, MANAGER выставит проход 2b.
	role := r.roles.Resolve(ctx, upstream.ID, acc, false)

	if !acc.IsLinked() {
		r.logger.Info("Локальный аккаунт связан с каталогом",
			slog.String("account_id", acc.ID),
			slog.String("external_id", upstream.ID),
		)
	}

	now := r.now()
	externalID := upstream.ID
	acc.ExternalID = &externalID
	acc.Email = email
	acc.Role = role
	acc.LastSyncAt = &now
	applyProfile(acc, upstream)

	return r.accounts.Update(ctx, acc)
}

func (r *AccountReconciler) fail(result model.RecordResult, err error) model.RecordResult {
	r.logger.Warn("Ошибка обработки записи каталога",
		slog.String("external_id", result.ExternalID),
		slog.String("email", result.Email),
		slog.String("error", err.Error()),
	)
	result.Action = model.ActionFailed
	result.Err = err
	return result
}

// applyProfile переносит поля профиля из записи каталога.
func applyProfile(acc *model.Account, upstream *directory.Account) {
	acc.FirstName = upstream.GivenName
	acc.LastName = upstream.Surname
	acc.DisplayName = upstream.DisplayName
	if acc.DisplayName == "" {
		acc.DisplayName = strings.TrimSpace(upstream.GivenName + " " + upstream.Surname)
	}
	if upstream.Department != "" {
		dept := upstream.Department
		acc.Department = &dept
	} else {
		acc.Department = nil
	}
}
