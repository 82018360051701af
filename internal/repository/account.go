package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/goartstore/directory-sync/internal/domain/model"
)

// AccountRepository — доступ к таблице accounts.
type AccountRepository interface {
	// Create создаёт аккаунт. ErrConflict — external_id или email уже заняты.
	Create(ctx context.Context, acc *model.Account) error
	// GetByID возвращает аккаунт по UUID.
	GetByID(ctx context.Context, id string) (*model.Account, error)
	// GetByExternalID возвращает аккаунт по идентификатору в каталоге.
	GetByExternalID(ctx context.Context, externalID string) (*model.Account, error)
	// GetByEmail возвращает аккаунт по email без учёта регистра.
	GetByEmail(ctx context.Context, email string) (*model.Account, error)
	// Update сохраняет профиль, роль, external_id и last_sync_at.
	Update(ctx context.Context, acc *model.Account) error
	// SetManager устанавливает руководителя. Возвращает false, если значение не изменилось.
	SetManager(ctx context.Context, id string, managerID *string) (bool, error)
	// UpdateRole меняет роль без изменения признака ручного назначения.
	UpdateRole(ctx context.Context, id, role string) error
	// Deactivate выключает аккаунт. Возвращает false, если он уже неактивен.
	Deactivate(ctx context.Context, id string, at time.Time) (bool, error)
	// ListLinked возвращает аккаунты с external_id (activeOnly — только активные).
	ListLinked(ctx context.Context, activeOnly bool) ([]*model.Account, error)
	// CountDirectReports возвращает число аккаунтов, у которых id указан руководителем.
	CountDirectReports(ctx context.Context, id string) (int, error)
}

// accountRepo — реализация AccountRepository.
type accountRepo struct {
	db DBTX
}

// NewAccountRepository создаёт репозиторий аккаунтов.
func NewAccountRepository(db DBTX) AccountRepository {
	return &accountRepo{db: db}
}

const accountColumns = `id, external_id, email, first_name, last_name, display_name,
	department, role, role_manually_set, manager_id, active, password_hash,
	last_sync_at, created_at, updated_at`

// scanAccount сканирует строку результата в модель Account.
func scanAccount(row pgx.Row) (*model.Account, error) {
	a := &model.Account{}
	err := row.Scan(
		&a.ID, &a.ExternalID, &a.Email, &a.FirstName, &a.LastName, &a.DisplayName,
		&a.Department, &a.Role, &a.RoleManuallySet, &a.ManagerID, &a.Active, &a.PasswordHash,
		&a.LastSyncAt, &a.CreatedAt, &a.UpdatedAt,
	)
	return a, err
}

func (r *accountRepo) Create(ctx context.Context, acc *model.Account) error {
	query := `
		INSERT INTO accounts (id, external_id, email, first_name, last_name, display_name,
			department, role, role_manually_set, manager_id, active, password_hash, last_sync_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		acc.ID, acc.ExternalID, acc.Email, acc.FirstName, acc.LastName, acc.DisplayName,
		acc.Department, acc.Role, acc.RoleManuallySet, acc.ManagerID, acc.Active, acc.PasswordHash,
		acc.LastSyncAt,
	).Scan(&acc.CreatedAt, &acc.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: аккаунт %s уже существует", ErrConflict, acc.Email)
		}
		return fmt.Errorf("ошибка создания аккаунта: %w", err)
	}
	return nil
}

func (r *accountRepo) getOne(ctx context.Context, where string, arg any) (*model.Account, error) {
	query := fmt.Sprintf(`SELECT %s FROM accounts WHERE %s`, accountColumns, where)
	acc, err := scanAccount(r.db.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения аккаунта: %w", err)
	}
	return acc, nil
}

func (r *accountRepo) GetByID(ctx context.Context, id string) (*model.Account, error) {
	return r.getOne(ctx, "id = $1", id)
}

func (r *accountRepo) GetByExternalID(ctx context.Context, externalID string) (*model.Account, error) {
	return r.getOne(ctx, "external_id = $1", externalID)
}

func (r *accountRepo) GetByEmail(ctx context.Context, email string) (*model.Account, error) {
	return r.getOne(ctx, "LOWER(email) = LOWER($1)", email)
}

func (r *accountRepo) Update(ctx context.Context, acc *model.Account) error {
	query := `
		UPDATE accounts
		SET external_id = $2, email = $3, first_name = $4, last_name = $5,
			display_name = $6, department = $7, role = $8, last_sync_at = $9,
			updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`

	err := r.db.QueryRow(ctx, query,
		acc.ID, acc.ExternalID, acc.Email, acc.FirstName, acc.LastName,
		acc.DisplayName, acc.Department, acc.Role, acc.LastSyncAt,
	).Scan(&acc.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: email или external_id заняты другим аккаунтом", ErrConflict)
		}
		return fmt.Errorf("ошибка обновления аккаунта: %w", err)
	}
	return nil
}

func (r *accountRepo) SetManager(ctx context.Context, id string, managerID *string) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE accounts SET manager_id = $2, updated_at = NOW()
		WHERE id = $1 AND manager_id IS DISTINCT FROM $2::uuid`, id, managerID)
	if err != nil {
		return false, fmt.Errorf("ошибка установки руководителя: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *accountRepo) UpdateRole(ctx context.Context, id, role string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE accounts SET role = $2, updated_at = NOW() WHERE id = $1`, id, role)
	if err != nil {
		return fmt.Errorf("ошибка обновления роли: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *accountRepo) Deactivate(ctx context.Context, id string, at time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE accounts SET active = FALSE, last_sync_at = $2, updated_at = NOW()
		WHERE id = $1 AND active`, id, at)
	if err != nil {
		return false, fmt.Errorf("ошибка деактивации аккаунта: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *accountRepo) ListLinked(ctx context.Context, activeOnly bool) ([]*model.Account, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM accounts
		WHERE external_id IS NOT NULL AND ($1 = FALSE OR active)
		ORDER BY email`, accountColumns)

	rows, err := r.db.Query(ctx, query, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка аккаунтов: %w", err)
	}
	defer rows.Close()

	var result []*model.Account
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования аккаунта: %w", err)
		}
		result = append(result, acc)
	}
	return result, rows.Err()
}

func (r *accountRepo) CountDirectReports(ctx context.Context, id string) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM accounts WHERE manager_id = $1`, id).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("ошибка подсчёта подчинённых: %w", err)
	}
	return count, nil
}
