// directory_sync.go — оркестратор синхронизации с каталогом.
//
// Полный запуск:
//  1. Записать запуск IN_PROGRESS (до обращения к каталогу)
//  2. Получить полный снимок каталога
//  3. Проход 1: создать/обновить аккаунты
//  4. Проход 2: руководители; проход 2b: повышение до MANAGER
//  5. Проход 3: деактивация (пропускается при пустом снимке)
//  6. Завершить запуск со статусом и счётчиками
//
// Запуск «только группы» не запрашивает список пользователей: роли
// пересчитываются по составу ролевых групп, затем выполняются проходы 2 и 2b.
//
// Взаимное исключение запусков не обеспечивается: их сериализует планировщик.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/bigkaa/goartstore/directory-sync/internal/directory"
	"github.com/bigkaa/goartstore/directory-sync/internal/domain/model"
	"github.com/bigkaa/goartstore/directory-sync/internal/repository"
)

// maxErrorSummary — предел длины сводки ошибок запуска (в символах).
const maxErrorSummary = 2000

// RunPublisher публикует событие о завершении запуска.
type RunPublisher interface {
	PublishRunFinished(ctx context.Context, run *model.SyncRun) error
}

// DirectorySyncService — оркестратор запусков синхронизации.
type DirectorySyncService struct {
	dir          *directory.Client
	runs         repository.SyncRunRepository
	accounts     repository.AccountRepository
	reconciler   *AccountReconciler
	linker       *ManagerLinker
	deactivation *DeactivationReconciler
	roles        *RoleResolver
	publisher    RunPublisher
	tracer       trace.Tracer
	logger       *slog.Logger
	now          func() time.Time

	// Планировщик
	interval    time.Duration
	syncOnStart bool
	cancel      context.CancelFunc
	done        chan struct{}
}

// DirectorySyncDeps — зависимости оркестратора.
type DirectorySyncDeps struct {
	Directory    *directory.Client
	Runs         repository.SyncRunRepository
	Accounts     repository.AccountRepository
	Reconciler   *AccountReconciler
	Linker       *ManagerLinker
	Deactivation *DeactivationReconciler
	Roles        *RoleResolver
	// Publisher — может быть nil
	Publisher RunPublisher
}

// NewDirectorySyncService создаёт оркестратор.
// interval — период фонового запуска (0 — планировщик не запускается).
func NewDirectorySyncService(deps DirectorySyncDeps, interval time.Duration, syncOnStart bool, logger *slog.Logger) *DirectorySyncService {
	return &DirectorySyncService{
		dir:          deps.Directory,
		runs:         deps.Runs,
		accounts:     deps.Accounts,
		reconciler:   deps.Reconciler,
		linker:       deps.Linker,
		deactivation: deps.Deactivation,
		roles:        deps.Roles,
		publisher:    deps.Publisher,
		tracer:       otel.Tracer("directory-sync/service"),
		logger:       logger.With(slog.String("component", "directory_sync")),
		now:          func() time.Time { return time.Now().UTC() },
		interval:     interval,
		syncOnStart:  syncOnStart,
	}
}

// runState — счётчики выполняемого запуска.
type runState struct {
	records []model.RecordResult

	total       int
	created     int
	updated     int
	skipped     int
	failed      int
	succeeded   int
	deactivated int

	linkErrors       int
	promoteErrors    int
	deactivateErrors int

	// fetchFailed — не удалось получить исходные данные каталога
	fetchFailed bool
	errors      []string
	metadata    map[string]any
}

func (st *runState) addError(msg string) {
	st.errors = append(st.errors, msg)
}

func (st *runState) recordErrors() int {
	return st.failed + st.linkErrors + st.promoteErrors + st.deactivateErrors
}

// status вычисляет итоговый статус запуска.
func (st *runState) status() model.RunStatus {
	switch {
	case st.fetchFailed:
		return model.RunStatusFailure
	case st.recordErrors() == 0:
		return model.RunStatusSuccess
	case st.succeeded > 0:
		return model.RunStatusPartialSuccess
	default:
		return model.RunStatusFailure
	}
}

// RunFullSync выполняет полный запуск.
// Недоступность каталога даёт запуск FAILURE без ошибки Go;
// ошибка возвращается только при непредвиденном сбое (например, БД).
func (s *DirectorySyncService) RunFullSync(ctx context.Context, initiator string) (*model.SyncRunResult, error) {
	return s.execute(ctx, model.RunTypeFull, initiator, s.fullSync)
}

// RunGroupsOnlySync пересчитывает роли и руководителей существующих аккаунтов.
func (s *DirectorySyncService) RunGroupsOnlySync(ctx context.Context, initiator string) (*model.SyncRunResult, error) {
	return s.execute(ctx, model.RunTypeGroupsOnly, initiator, s.groupsOnlySync)
}

// execute создаёт запись запуска, выполняет body и гарантированно завершает запуск.
// Паника фиксируется как FAILURE и пробрасывается дальше.
func (s *DirectorySyncService) execute(
	ctx context.Context,
	runType model.RunType,
	initiator string,
	body func(ctx context.Context, st *runState) error,
) (result *model.SyncRunResult, err error) {
	if initiator == "" {
		initiator = "system"
	}

	run := &model.SyncRun{
		ID:          uuid.New().String(),
		Type:        runType,
		Status:      model.RunStatusInProgress,
		StartedAt:   s.now(),
		InitiatedBy: initiator,
		Metadata:    map[string]any{},
	}
	if err := s.runs.Create(ctx, run); err != nil {
		return nil, fmt.Errorf("создание записи запуска: %w", err)
	}

	ctx, span := s.tracer.Start(ctx, "directory_sync.run", trace.WithAttributes(
		attribute.String("run.id", run.ID),
		attribute.String("run.type", string(runType)),
		attribute.String("run.initiator", initiator),
	))
	defer span.End()

	s.logger.Info("Запуск синхронизации начат",
		slog.String("run_id", run.ID),
		slog.String("type", string(runType)),
		slog.String("initiated_by", initiator),
	)

	st := &runState{metadata: run.Metadata}
	st.metadata["provider"] = s.dir.ProviderName()
	retriesBefore := s.dir.Retries()

	defer func() {
		if p := recover(); p != nil {
			st.fetchFailed = true
			st.addError(fmt.Sprintf("panic: %v", p))
			span.SetStatus(codes.Error, "panic")
			s.finalize(ctx, run, st, retriesBefore)
			panic(p)
		}
	}()

	if bodyErr := body(ctx, st); bodyErr != nil {
		st.fetchFailed = true
		st.addError(bodyErr.Error())
		span.RecordError(bodyErr)
		err = fmt.Errorf("запуск синхронизации %s: %w", run.ID, bodyErr)
	}

	s.finalize(ctx, run, st, retriesBefore)
	if run.Status != model.RunStatusSuccess {
		span.SetStatus(codes.Error, string(run.Status))
	}

	return &model.SyncRunResult{Run: run, Records: st.records}, err
}

// finalize записывает итог запуска. Использует контекст без отмены,
// чтобы запись не осталась IN_PROGRESS при отмене запроса.
func (s *DirectorySyncService) finalize(ctx context.Context, run *model.SyncRun, st *runState, retriesBefore int64) {
	ctx = context.WithoutCancel(ctx)
	finishedAt := s.now()

	st.metadata["retries"] = int(s.dir.Retries() - retriesBefore)
	st.metadata["skipped"] = st.skipped

	run.Status = st.status()
	run.FinishedAt = &finishedAt
	run.TotalUsers = st.total
	run.CreatedUsers = st.created
	run.UpdatedUsers = st.updated
	run.SyncedUsers = st.created + st.updated
	run.DeactivatedUsers = st.deactivated
	run.FailedUsers = st.recordErrors()
	if summary := summarizeErrors(st.errors); summary != "" {
		run.ErrorSummary = &summary
	}

	if err := s.runs.Finish(ctx, run); err != nil {
		s.logger.Error("Не удалось завершить запись запуска",
			slog.String("run_id", run.ID),
			slog.String("error", err.Error()),
		)
	}

	duration := finishedAt.Sub(run.StartedAt)
	syncRunsTotal.WithLabelValues(string(run.Type), string(run.Status)).Inc()
	syncDuration.WithLabelValues(string(run.Type)).Observe(duration.Seconds())

	s.logger.Info("Запуск синхронизации завершён",
		slog.String("run_id", run.ID),
		slog.String("status", string(run.Status)),
		slog.Int("total", run.TotalUsers),
		slog.Int("created", run.CreatedUsers),
		slog.Int("updated", run.UpdatedUsers),
		slog.Int("deactivated", run.DeactivatedUsers),
		slog.Int("failed", run.FailedUsers),
		slog.Duration("duration", duration),
	)

	if s.publisher != nil {
		if err := s.publisher.PublishRunFinished(ctx, run); err != nil {
			s.logger.Warn("Не удалось опубликовать событие о завершении запуска",
				slog.String("run_id", run.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// fullSync — тело полного запуска.
func (s *DirectorySyncService) fullSync(ctx context.Context, st *runState) error {
	fetchCtx, span := s.tracer.Start(ctx, "directory_sync.fetch")
	snap, err := s.dir.FetchAllAccounts(fetchCtx)
	if err != nil {
		span.RecordError(err)
		span.End()
		st.fetchFailed = true
		st.addError("получение снимка каталога: " + err.Error())
		s.logger.Error("Не удалось получить снимок каталога", slog.String("error", err.Error()))
		return nil
	}
	span.SetAttributes(attribute.Int("accounts", len(snap.Accounts)), attribute.Int("pages", snap.Pages))
	span.End()

	st.total = len(snap.Accounts)
	st.metadata["pages"] = snap.Pages

	// Проход 1
	passCtx, span := s.tracer.Start(ctx, "directory_sync.pass1")
	var synced []string
	for i := range snap.Accounts {
		if err := ctx.Err(); err != nil {
			span.End()
			return err
		}
		res := s.reconciler.ReconcileOne(passCtx, &snap.Accounts[i])
		st.records = append(st.records, res)
		syncAccountsTotal.WithLabelValues(string(res.Action)).Inc()

		switch res.Action {
		case model.ActionCreated:
			st.created++
			st.succeeded++
			synced = append(synced, res.ExternalID)
		case model.ActionUpdated:
			st.updated++
			st.succeeded++
			synced = append(synced, res.ExternalID)
		case model.ActionSkipped:
			st.skipped++
		case model.ActionFailed:
			st.failed++
			st.addError(fmt.Sprintf("%s: %v", recordLabel(res), res.Err))
		}
	}
	span.End()

	// Проходы 2 и 2b
	s.linkAndPromote(ctx, st, synced)

	// Проход 3
	if len(snap.Accounts) == 0 {
		st.metadata["deactivation_skipped"] = true
		s.logger.Warn("Каталог вернул пустой список, деактивация пропущена")
		return nil
	}

	passCtx, span = s.tracer.Start(ctx, "directory_sync.pass3")
	defer span.End()
	deact, err := s.deactivation.ReconcileDeactivations(passCtx, snap)
	if err != nil {
		return err
	}
	st.deactivated = deact.Deactivated
	st.deactivateErrors = len(deact.Errors)
	st.succeeded += deact.Deactivated
	for _, e := range deact.Errors {
		st.addError(e)
	}
	syncAccountsTotal.WithLabelValues("deactivated").Add(float64(deact.Deactivated))

	return nil
}

// groupsOnlySync — тело запуска «только группы».
func (s *DirectorySyncService) groupsOnlySync(ctx context.Context, st *runState) error {
	if !s.dir.Configured() {
		st.fetchFailed = true
		st.addError(directory.ErrNotConfigured.Error())
		return nil
	}

	// Состав ролевых групп запрашивается один раз на группу
	members := make(map[string]map[string]struct{})
	for _, groupID := range s.roles.RoleGroups() {
		ids, err := s.dir.ListGroupMembers(ctx, groupID)
		if err != nil {
			st.fetchFailed = true
			st.addError(fmt.Sprintf("получение состава группы %s: %v", groupID, err))
			s.logger.Error("Не удалось получить состав группы",
				slog.String("group_id", groupID),
				slog.String("error", err.Error()),
			)
			return nil
		}
		set := make(map[string]struct{}, len(ids))
		for _, id := range ids {
			set[id] = struct{}{}
		}
		members[groupID] = set
	}
	inGroup := func(groupID, extID string) bool {
		_, ok := members[groupID][extID]
		return groupID != "" && ok
	}

	accounts, err := s.accounts.ListLinked(ctx, true)
	if err != nil {
		return fmt.Errorf("получение активных аккаунтов: %w", err)
	}
	st.total = len(accounts)

	passCtx, span := s.tracer.Start(ctx, "directory_sync.roles")
	ids := make([]string, 0, len(accounts))
	for _, acc := range accounts {
		extID := *acc.ExternalID
		ids = append(ids, extID)
		res := model.RecordResult{ExternalID: extID, Email: acc.Email, Action: model.ActionSkipped}

		var err error
		// MANAGER восстанавливается проходом 2b после обновления связей
		role := s.roles.ResolveFacts(acc, inGroup(s.roles.adminGroup, extID), inGroup(s.roles.issuerGroup, extID), false)
		if role != acc.Role {
			err = s.accounts.UpdateRole(passCtx, acc.ID, role)
			res.Action = model.ActionUpdated
		}

		if err != nil {
			res.Action = model.ActionFailed
			res.Err = err
			st.failed++
			st.addError(fmt.Sprintf("%s: %v", recordLabel(res), err))
		} else {
			st.succeeded++
			if res.Action == model.ActionUpdated {
				st.updated++
			} else {
				st.skipped++
			}
		}
		st.records = append(st.records, res)
		syncAccountsTotal.WithLabelValues(string(res.Action)).Inc()
	}
	span.End()

	s.linkAndPromote(ctx, st, ids)
	return nil
}

// linkAndPromote выполняет проходы 2 и 2b.
func (s *DirectorySyncService) linkAndPromote(ctx context.Context, st *runState, externalIDs []string) {
	passCtx, span := s.tracer.Start(ctx, "directory_sync.pass2")
	link := s.linker.LinkManagers(passCtx, externalIDs)
	span.End()

	st.linkErrors = link.Errors
	st.metadata["linked"] = link.Linked
	st.metadata["cleared"] = link.Cleared
	st.metadata["link_errors"] = link.Errors
	for _, f := range link.Failures {
		st.addError("руководитель " + f)
	}

	passCtx, span = s.tracer.Start(ctx, "directory_sync.pass2b")
	promoted, errs, failures := s.linker.PromoteManagers(passCtx, externalIDs)
	span.End()

	st.promoteErrors = errs
	st.metadata["promoted"] = promoted
	for _, f := range failures {
		st.addError("повышение " + f)
	}
}

// Start запускает фоновую синхронизацию с периодом interval.
// При interval == 0 выполняется только запуск при старте (если включён).
func (s *DirectorySyncService) Start(ctx context.Context) {
	if s.interval <= 0 && !s.syncOnStart {
		s.logger.Info("Фоновая синхронизация выключена")
		return
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)

		s.logger.Info("Фоновая синхронизация запущена",
			slog.String("interval", s.interval.String()),
			slog.Bool("sync_on_start", s.syncOnStart),
		)

		if s.syncOnStart {
			s.scheduledRun(ctx)
		}
		if s.interval <= 0 {
			return
		}

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info("Фоновая синхронизация остановлена")
				return
			case <-ticker.C:
				s.scheduledRun(ctx)
			}
		}
	}()
}

// Stop останавливает фоновую синхронизацию и ждёт завершения текущего запуска.
func (s *DirectorySyncService) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.done != nil {
		<-s.done
	}
}

func (s *DirectorySyncService) scheduledRun(ctx context.Context) {
	if _, err := s.RunFullSync(ctx, "scheduler"); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("Ошибка фоновой синхронизации", slog.String("error", err.Error()))
	}
}

// summarizeErrors объединяет ошибки и усекает результат до maxErrorSummary символов.
func summarizeErrors(errs []string) string {
	summary := strings.Join(errs, "; ")
	if utf8.RuneCountInString(summary) <= maxErrorSummary {
		return summary
	}
	runes := []rune(summary)
	return string(runes[:maxErrorSummary-3]) + "..."
}

func recordLabel(res model.RecordResult) string {
	if res.Email != "" {
		return res.Email
	}
	return res.ExternalID
}
