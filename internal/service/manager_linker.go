// manager_linker.go — проходы 2 и 2b: связи «руководитель — подчинённый» и повышение до MANAGER.
package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/bigkaa/goartstore/directory-sync/internal/directory"
	"github.com/bigkaa/goartstore/directory-sync/internal/domain/model"
	"github.com/bigkaa/goartstore/directory-sync/internal/domain/rbac"
	"github.com/bigkaa/goartstore/directory-sync/internal/repository"
)

// LinkResult — итог прохода 2.
type LinkResult struct {
	// Linked — установлено или изменено ссылок на руководителя
	Linked int
	// Cleared — сброшено устаревших ссылок
	Cleared int
	// Errors — ошибок по записям
	Errors int
	// Failures — описания ошибок для сводки запуска
	Failures []string
}

// ManagerLinker устанавливает руководителей по данным каталога.
type ManagerLinker struct {
	dir      *directory.Client
	accounts repository.AccountRepository
	logger   *slog.Logger
}

// NewManagerLinker создаёт ManagerLinker.
func NewManagerLinker(dir *directory.Client, accounts repository.AccountRepository, logger *slog.Logger) *ManagerLinker {
	return &ManagerLinker{
		dir:      dir,
		accounts: accounts,
		logger:   logger.With(slog.String("component", "manager_linker")),
	}
}

// managerOutcome — результат запроса руководителя в каталоге.
type managerOutcome struct {
	externalID string // "" — руководитель не задан
	err        error  // ошибка, отличная от «не найдено»
}

// fetchManager запрашивает руководителя; 404 означает «руководителя нет».
func (l *ManagerLinker) fetchManager(ctx context.Context, externalID string) managerOutcome {
	managerExt, err := l.dir.GetManager(ctx, externalID)
	if err != nil {
		if directory.IsNotFound(err) {
			l.logger.Debug("Руководитель в каталоге не задан", slog.String("external_id", externalID))
			return managerOutcome{}
		}
		return managerOutcome{err: err}
	}
	return managerOutcome{externalID: managerExt}
}

// applyManager записывает руководителя аккаунта по результату запроса.
// Руководитель, отсутствующий локально, сбрасывает ссылку.
// Возвращает (установлено, сброшено, ошибка).
func (l *ManagerLinker) applyManager(ctx context.Context, acc *model.Account, outcome managerOutcome) (bool, bool, error) {
	if outcome.err != nil {
		return false, false, outcome.err
	}

	var managerID *string
	if outcome.externalID != "" {
		mgr, err := l.accounts.GetByExternalID(ctx, outcome.externalID)
		switch {
		case err == nil:
			managerID = &mgr.ID
		case errors.Is(err, repository.ErrNotFound):
			l.logger.Debug("Руководитель отсутствует локально, ссылка сбрасывается",
				slog.String("external_id", derefOr(acc.ExternalID, "")),
				slog.String("manager_external_id", outcome.externalID),
			)
		default:
			return false, false, err
		}
	}

	changed, err := l.accounts.SetManager(ctx, acc.ID, managerID)
	if err != nil || !changed {
		return false, false, err
	}
	if managerID != nil {
		acc.ManagerID = managerID
		return true, false, nil
	}
	acc.ManagerID = nil
	return false, true, nil
}

// LinkManagers обрабатывает руководителей для перечисленных external id.
func (l *ManagerLinker) LinkManagers(ctx context.Context, externalIDs []string) LinkResult {
	var res LinkResult

	for _, extID := range externalIDs {
		acc, err := l.accounts.GetByExternalID(ctx, extID)
		if err != nil {
			res.addError(l.logger, extID, err)
			continue
		}

		linked, cleared, err := l.applyManager(ctx, acc, l.fetchManager(ctx, extID))
		if err != nil {
			res.addError(l.logger, extID, err)
			continue
		}
		if linked {
			res.Linked++
		}
		if cleared {
			res.Cleared++
		}
	}

	return res
}

// PromoteManagers повышает до MANAGER аккаунты EMPLOYEE с подчинёнными.
// Аккаунты с ролью, назначенной вручную, не затрагиваются.
func (l *ManagerLinker) PromoteManagers(ctx context.Context, externalIDs []string) (promoted, errs int, failures []string) {
	for _, extID := range externalIDs {
		acc, err := l.accounts.GetByExternalID(ctx, extID)
		if err != nil {
			errs++
			failures = append(failures, extID+": "+err.Error())
			continue
		}
		if acc.Role != rbac.RoleEmployee || acc.RoleManuallySet {
			continue
		}

		reports, err := l.accounts.CountDirectReports(ctx, acc.ID)
		if err == nil && reports > 0 {
			err = l.accounts.UpdateRole(ctx, acc.ID, rbac.RoleManager)
			if err == nil {
				promoted++
				l.logger.Info("Аккаунт повышен до MANAGER",
					slog.String("account_id", acc.ID),
					slog.Int("direct_reports", reports),
				)
			}
		}
		if err != nil {
			errs++
			failures = append(failures, extID+": "+err.Error())
			l.logger.Warn("Ошибка повышения до MANAGER",
				slog.String("external_id", extID),
				slog.String("error", err.Error()),
			)
		}
	}
	return promoted, errs, failures
}

func (r *LinkResult) addError(logger *slog.Logger, externalID string, err error) {
	r.Errors++
	r.Failures = append(r.Failures, externalID+": "+err.Error())
	logger.Warn("Ошибка установки руководителя",
		slog.String("external_id", externalID),
		slog.String("error", err.Error()),
	)
}

func derefOr(s *string, def string) string {
	if s == nil {
		return def
	}
	return *s
}
