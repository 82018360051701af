// login_sync.go — синхронизация одного аккаунта при входе.
//
// Три запроса к каталогу (профиль, группы, руководитель) выполняются параллельно.
// Если профиль получить не удалось, вход разрешается по кэшированным данным,
// пока last_sync_at не старше окна деградации; иначе вход отклоняется.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/bigkaa/goartstore/directory-sync/internal/directory"
	"github.com/bigkaa/goartstore/directory-sync/internal/domain/model"
	"github.com/bigkaa/goartstore/directory-sync/internal/repository"
)

// Причины решения при входе.
const (
	LoginReasonDisabled    = "account disabled in directory"
	LoginReasonExpired     = "expired cached data: directory unavailable"
	LoginReasonDegraded    = "directory unavailable: using cached data"
	LoginReasonDeactivated = "account deactivated"
)

// loginThrottleSize — число аккаунтов в кэше ограничения частоты.
const loginThrottleSize = 10000

// LoginSyncService — синхронизация при входе и JIT-создание аккаунтов.
type LoginSyncService struct {
	dir       *directory.Client
	accounts  repository.AccountRepository
	lifecycle repository.LifecycleRepository
	roles     *RoleResolver
	linker    *ManagerLinker
	window    time.Duration
	// throttle — время последней успешной синхронизации по id аккаунта (nil — выключен)
	throttle *expirable.LRU[string, time.Time]
	logger   *slog.Logger
	now      func() time.Time
}

// NewLoginSyncService создаёт сервис синхронизации при входе.
// window — окно деградации (обычно 24h).
// minInterval — минимальный интервал между синхронизациями одного аккаунта (0 — без ограничения).
func NewLoginSyncService(
	dir *directory.Client,
	accounts repository.AccountRepository,
	lifecycle repository.LifecycleRepository,
	roles *RoleResolver,
	linker *ManagerLinker,
	window, minInterval time.Duration,
	logger *slog.Logger,
) *LoginSyncService {
	s := &LoginSyncService{
		dir:       dir,
		accounts:  accounts,
		lifecycle: lifecycle,
		roles:     roles,
		linker:    linker,
		window:    window,
		logger:    logger.With(slog.String("component", "login_sync")),
		now:       func() time.Time { return time.Now().UTC() },
	}
	if minInterval > 0 {
		s.throttle = expirable.NewLRU[string, time.Time](loginThrottleSize, nil, minInterval)
	}
	return s
}

// loginLookups — результаты параллельных запросов к каталогу.
type loginLookups struct {
	profile    *directory.Account
	profileErr error
	groups     []string
	groupsErr  error
	manager    managerOutcome
}

// SyncOnLogin синхронизирует аккаунт при входе и решает, разрешить ли вход.
// Ошибка возвращается только при сбое локального хранилища или отсутствии аккаунта.
func (s *LoginSyncService) SyncOnLogin(ctx context.Context, accountID string) (*model.LoginSyncResult, error) {
	acc, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: аккаунт %s", ErrNotFound, accountID)
		}
		return nil, err
	}
	return s.syncAccount(ctx, acc)
}

// SyncOnLoginByExternalID находит аккаунт по external id и синхронизирует его.
// Если аккаунта нет, выполняется JIT-создание.
func (s *LoginSyncService) SyncOnLoginByExternalID(ctx context.Context, externalID string) (*model.LoginSyncResult, error) {
	acc, err := s.accounts.GetByExternalID(ctx, externalID)
	if errors.Is(err, repository.ErrNotFound) {
		return s.ProvisionOnLogin(ctx, externalID)
	}
	if err != nil {
		return nil, err
	}
	return s.syncAccount(ctx, acc)
}

func (s *LoginSyncService) syncAccount(ctx context.Context, acc *model.Account) (*model.LoginSyncResult, error) {
	// Локальный аккаунт каталогом не управляется
	if !acc.IsLinked() {
		loginSyncTotal.WithLabelValues("local").Inc()
		return &model.LoginSyncResult{Account: acc}, nil
	}
	if !acc.Active {
		loginSyncTotal.WithLabelValues("rejected").Inc()
		return &model.LoginSyncResult{Rejected: true, Reason: LoginReasonDeactivated, Account: acc}, nil
	}
	if s.throttle != nil {
		if _, ok := s.throttle.Get(acc.ID); ok {
			loginSyncTotal.WithLabelValues("throttled").Inc()
			return &model.LoginSyncResult{Account: acc}, nil
		}
	}

	extID := *acc.ExternalID
	lk := s.lookup(ctx, extID)

	if lk.profileErr != nil {
		return s.degrade(acc, lk.profileErr), nil
	}
	if !lk.profile.Enabled {
		s.logger.Info("Вход отклонён: аккаунт отключён в каталоге",
			slog.String("account_id", acc.ID),
		)
		loginSyncTotal.WithLabelValues("rejected").Inc()
		return &model.LoginSyncResult{Rejected: true, Reason: LoginReasonDisabled, Account: acc}, nil
	}

	if lk.groupsErr != nil {
		s.logger.Warn("Не удалось получить группы при входе, роль определяется без них",
			slog.String("account_id", acc.ID),
			slog.String("error", lk.groupsErr.Error()),
		)
	}

	if err := s.apply(ctx, acc, lk); err != nil {
		return nil, err
	}

	if s.throttle != nil {
		s.throttle.Add(acc.ID, s.now())
	}
	loginSyncTotal.WithLabelValues("allowed").Inc()
	return &model.LoginSyncResult{Account: acc}, nil
}

// lookup выполняет три запроса к каталогу параллельно.
func (s *LoginSyncService) lookup(ctx context.Context, externalID string) loginLookups {
	var lk loginLookups
	var wg sync.WaitGroup

	wg.Add(3)
	go func() {
		defer wg.Done()
		lk.profile, lk.profileErr = s.dir.GetProfile(ctx, externalID)
	}()
	go func() {
		defer wg.Done()
		if len(s.roles.RoleGroups()) > 0 {
			lk.groups, lk.groupsErr = s.dir.GetGroupMemberships(ctx, externalID)
		}
	}()
	go func() {
		defer wg.Done()
		lk.manager = s.linker.fetchManager(ctx, externalID)
	}()
	wg.Wait()

	return lk
}

// degrade решает по кэшированным данным, когда профиль недоступен.
func (s *LoginSyncService) degrade(acc *model.Account, cause error) *model.LoginSyncResult {
	if acc.LastSyncAt != nil && s.now().Sub(*acc.LastSyncAt) < s.window {
		s.logger.Warn("Каталог недоступен, вход разрешён по кэшированным данным",
			slog.String("account_id", acc.ID),
			slog.Time("last_sync_at", *acc.LastSyncAt),
			slog.String("error", cause.Error()),
		)
		loginSyncTotal.WithLabelValues("degraded").Inc()
		return &model.LoginSyncResult{Degraded: true, Reason: LoginReasonDegraded, Account: acc}
	}

	s.logger.Warn("Каталог недоступен, кэшированные данные устарели: вход отклонён",
		slog.String("account_id", acc.ID),
		slog.String("error", cause.Error()),
	)
	loginSyncTotal.WithLabelValues("rejected").Inc()
	return &model.LoginSyncResult{Rejected: true, Reason: LoginReasonExpired, Account: acc}
}

// apply применяет профиль, роль и руководителя и сохраняет аккаунт.
func (s *LoginSyncService) apply(ctx context.Context, acc *model.Account, lk loginLookups) error {
	reports, err := s.accounts.CountDirectReports(ctx, acc.ID)
	if err != nil {
		return fmt.Errorf("подсчёт подчинённых: %w", err)
	}

	groups := lk.groups
	if lk.groupsErr != nil {
		groups = nil
	}
	acc.Role = s.roles.ResolveWithGroups(groups, acc, reports > 0)

	prevEmail := acc.Email
	if email := model.NormalizeEmail(lk.profile.PrimaryEmail()); email != "" {
		acc.Email = email
	}
	applyProfile(acc, lk.profile)
	now := s.now()
	acc.LastSyncAt = &now

	err = s.accounts.Update(ctx, acc)
	if errors.Is(err, repository.ErrConflict) && acc.Email != prevEmail {
		// Новый email занят другим аккаунтом: сохраняется прежний, вход не блокируется
		s.logger.Warn("Email из каталога занят другим аккаунтом, оставлен прежний",
			slog.String("account_id", acc.ID),
			slog.String("email", acc.Email),
			slog.String("kept_email", prevEmail),
		)
		acc.Email = prevEmail
		err = s.accounts.Update(ctx, acc)
	}
	if err != nil {
		return fmt.Errorf("сохранение аккаунта: %w", err)
	}

	if lk.manager.err != nil {
		s.logger.Warn("Не удалось получить руководителя при входе",
			slog.String("account_id", acc.ID),
			slog.String("error", lk.manager.err.Error()),
		)
		return nil
	}
	if _, _, err := s.linker.applyManager(ctx, acc, lk.manager); err != nil {
		return fmt.Errorf("установка руководителя: %w", err)
	}
	return nil
}

// ProvisionOnLogin создаёт аккаунт при первом входе через SSO и синхронизирует его.
// Отключённая в каталоге учётная запись не создаётся.
func (s *LoginSyncService) ProvisionOnLogin(ctx context.Context, externalID string) (*model.LoginSyncResult, error) {
	profile, err := s.dir.GetProfile(ctx, externalID)
	if err != nil {
		if directory.IsNotFound(err) {
			return nil, fmt.Errorf("%w: запись каталога %s", ErrNotFound, externalID)
		}
		return nil, fmt.Errorf("%w: %v", ErrDirectoryUnavailable, err)
	}
	if !profile.Enabled {
		loginSyncTotal.WithLabelValues("rejected").Inc()
		return &model.LoginSyncResult{Rejected: true, Reason: LoginReasonDisabled}, nil
	}

	email := model.NormalizeEmail(profile.PrimaryEmail())
	if email == "" {
		return nil, fmt.Errorf("%w: у записи каталога %s нет email", ErrValidation, externalID)
	}

	// Локальный аккаунт с тем же email связывается при синхронизации, а не создаётся заново
	if existing, err := s.accounts.GetByEmail(ctx, email); err == nil {
		if existing.IsLinked() {
			return nil, fmt.Errorf("%w: email %s связан с другой записью каталога", ErrValidation, email)
		}
		ext := externalID
		existing.ExternalID = &ext
		if err := s.accounts.Update(ctx, existing); err != nil {
			return nil, fmt.Errorf("связывание аккаунта: %w", err)
		}
		return s.syncAccount(ctx, existing)
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	ext := externalID
	acc := &model.Account{
		ID:         uuid.New().String(),
		ExternalID: &ext,
		Email:      email,
		Role:       s.roles.ResolveWithGroups(nil, nil, false),
		Active:     true,
	}
	applyProfile(acc, profile)

	entry := &model.AuditEntry{
		ID:     uuid.New().String(),
		Action: model.AuditActionProvisioned,
		Changes: map[string]any{
			"external_id": externalID,
			"email":       email,
			"trigger":     "login",
		},
		Source: model.AuditSourceSystem,
	}

	if err := s.lifecycle.Provision(ctx, acc, entry); err != nil {
		if !errors.Is(err, repository.ErrConflict) {
			return nil, err
		}
		// Аккаунт создан параллельно
		acc, err = s.accounts.GetByExternalID(ctx, externalID)
		if err != nil {
			return nil, err
		}
	} else {
		s.logger.Info("Аккаунт создан при первом входе",
			slog.String("account_id", acc.ID),
			slog.String("external_id", externalID),
		)
	}

	return s.syncAccount(ctx, acc)
}
