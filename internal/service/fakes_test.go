// fakes_test.go — in-memory реализации репозиториев и провайдера каталога для unit-тестов.
package service

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/goartstore/directory-sync/internal/directory"
	"github.com/bigkaa/goartstore/directory-sync/internal/domain/model"
	"github.com/bigkaa/goartstore/directory-sync/internal/repository"
	"github.com/bigkaa/goartstore/directory-sync/internal/retry"
)

const (
	testAdminGroup  = "grp-admin"
	testIssuerGroup = "grp-issuer"
)

// testLogger создаёт логгер для тестов (только ошибки).
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// --- Хранилище ---

// memStore реализует AccountRepository, SyncRunRepository и LifecycleRepository в памяти.
type memStore struct {
	mu       sync.Mutex
	accounts map[string]*model.Account
	runs     map[string]*model.SyncRun
	audit    []*model.AuditEntry

	// conflictOnProvision — следующий Provision имитирует параллельное создание
	conflictOnProvision bool
	// updateErr — ошибка Update по id аккаунта
	updateErr map[string]error
	// listErr — ошибка ListLinked
	listErr error
	// panicOnList — ListLinked паникует
	panicOnList bool
}

func newMemStore() *memStore {
	return &memStore{
		accounts:  make(map[string]*model.Account),
		runs:      make(map[string]*model.SyncRun),
		updateErr: make(map[string]error),
	}
}

func copyAccount(a *model.Account) *model.Account {
	c := *a
	return &c
}

func copyRun(r *model.SyncRun) *model.SyncRun {
	c := *r
	c.Metadata = make(map[string]any, len(r.Metadata))
	for k, v := range r.Metadata {
		c.Metadata[k] = v
	}
	return &c
}

// seed добавляет аккаунт напрямую, минуя проверки.
func (m *memStore) seed(acc *model.Account) *model.Account {
	m.mu.Lock()
	defer m.mu.Unlock()
	if acc.ID == "" {
		acc.ID = uuid.New().String()
	}
	m.accounts[acc.ID] = copyAccount(acc)
	return acc
}

// byExt возвращает копию аккаунта по external id (nil — нет).
func (m *memStore) byExt(extID string) *model.Account {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.accounts {
		if a.ExternalID != nil && *a.ExternalID == extID {
			return copyAccount(a)
		}
	}
	return nil
}

func (m *memStore) byID(id string) *model.Account {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.accounts[id]; ok {
		return copyAccount(a)
	}
	return nil
}

func (m *memStore) auditFor(accountID, action string) []*model.AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.AuditEntry
	for _, e := range m.audit {
		if e.AccountID == accountID && e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

func (m *memStore) createLocked(acc *model.Account) error {
	for _, a := range m.accounts {
		if acc.ExternalID != nil && a.ExternalID != nil && *a.ExternalID == *acc.ExternalID {
			return repository.ErrConflict
		}
		if strings.EqualFold(a.Email, acc.Email) {
			return repository.ErrConflict
		}
	}
	now := time.Now().UTC()
	acc.CreatedAt = now
	acc.UpdatedAt = now
	m.accounts[acc.ID] = copyAccount(acc)
	return nil
}

func (m *memStore) Create(_ context.Context, acc *model.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createLocked(acc)
}

func (m *memStore) find(match func(a *model.Account) bool) (*model.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.accounts {
		if match(a) {
			return copyAccount(a), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memStore) GetByID(_ context.Context, id string) (*model.Account, error) {
	return m.find(func(a *model.Account) bool { return a.ID == id })
}

func (m *memStore) GetByExternalID(_ context.Context, externalID string) (*model.Account, error) {
	return m.find(func(a *model.Account) bool { return a.ExternalID != nil && *a.ExternalID == externalID })
}

func (m *memStore) GetByEmail(_ context.Context, email string) (*model.Account, error) {
	return m.find(func(a *model.Account) bool { return strings.EqualFold(a.Email, email) })
}

func (m *memStore) Update(_ context.Context, acc *model.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.updateErr[acc.ID]; err != nil {
		return err
	}
	stored, ok := m.accounts[acc.ID]
	if !ok {
		return repository.ErrNotFound
	}
	for id, a := range m.accounts {
		if id != acc.ID && strings.EqualFold(a.Email, acc.Email) {
			return repository.ErrConflict
		}
	}
	stored.ExternalID = acc.ExternalID
	stored.Email = acc.Email
	stored.FirstName = acc.FirstName
	stored.LastName = acc.LastName
	stored.DisplayName = acc.DisplayName
	stored.Department = acc.Department
	stored.Role = acc.Role
	stored.LastSyncAt = acc.LastSyncAt
	stored.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *memStore) SetManager(_ context.Context, id string, managerID *string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.accounts[id]
	if !ok {
		return false, repository.ErrNotFound
	}
	if derefOr(stored.ManagerID, "") == derefOr(managerID, "") {
		return false, nil
	}
	stored.ManagerID = managerID
	return true, nil
}

func (m *memStore) UpdateRole(_ context.Context, id, role string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.accounts[id]
	if !ok {
		return repository.ErrNotFound
	}
	stored.Role = role
	return nil
}

func (m *memStore) deactivateLocked(id string) (bool, error) {
	stored, ok := m.accounts[id]
	if !ok {
		return false, repository.ErrNotFound
	}
	if !stored.Active {
		return false, nil
	}
	stored.Active = false
	return true, nil
}

func (m *memStore) Deactivate(_ context.Context, id string, _ time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deactivateLocked(id)
}

func (m *memStore) ListLinked(_ context.Context, activeOnly bool) ([]*model.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.panicOnList {
		panic("сбой хранилища")
	}
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []*model.Account
	for _, a := range m.accounts {
		if !a.IsLinked() || (activeOnly && !a.Active) {
			continue
		}
		out = append(out, copyAccount(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, nil
}

func (m *memStore) CountDirectReports(_ context.Context, id string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, a := range m.accounts {
		if a.ManagerID != nil && *a.ManagerID == id {
			n++
		}
	}
	return n, nil
}

// --- LifecycleRepository ---

func (m *memStore) Provision(_ context.Context, acc *model.Account, entry *model.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conflictOnProvision {
		m.conflictOnProvision = false
		rival := copyAccount(acc)
		rival.ID = uuid.New().String()
		if err := m.createLocked(rival); err != nil {
			return err
		}
		return repository.ErrConflict
	}
	if err := m.createLocked(acc); err != nil {
		return err
	}
	entry.AccountID = acc.ID
	entry.CreatedAt = time.Now().UTC()
	m.audit = append(m.audit, entry)
	return nil
}

// lifecycleView — LifecycleRepository поверх memStore (методы Deactivate конфликтуют по сигнатуре).
type lifecycleView struct{ m *memStore }

func (l lifecycleView) Provision(ctx context.Context, acc *model.Account, entry *model.AuditEntry) error {
	return l.m.Provision(ctx, acc, entry)
}

func (l lifecycleView) Deactivate(_ context.Context, accountID string, _ time.Time, entry *model.AuditEntry) (bool, error) {
	l.m.mu.Lock()
	defer l.m.mu.Unlock()
	changed, err := l.m.deactivateLocked(accountID)
	if err != nil || !changed {
		return changed, err
	}
	entry.AccountID = accountID
	entry.CreatedAt = time.Now().UTC()
	l.m.audit = append(l.m.audit, entry)
	return true, nil
}

// runView — SyncRunRepository поверх memStore (Create и GetByID конфликтуют с AccountRepository).
type runView struct{ m *memStore }

func (r runView) Create(_ context.Context, run *model.SyncRun) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	r.m.runs[run.ID] = copyRun(run)
	return nil
}

func (r runView) Finish(_ context.Context, run *model.SyncRun) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	stored, ok := r.m.runs[run.ID]
	if !ok || stored.Status != model.RunStatusInProgress {
		return repository.ErrNotFound
	}
	r.m.runs[run.ID] = copyRun(run)
	return nil
}

func (r runView) GetByID(_ context.Context, id string) (*model.SyncRun, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if run, ok := r.m.runs[id]; ok {
		return copyRun(run), nil
	}
	return nil, repository.ErrNotFound
}

func (r runView) ListRecent(_ context.Context, limit int) ([]*model.SyncRun, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	out := make([]*model.SyncRun, 0, len(r.m.runs))
	for _, run := range r.m.runs {
		out = append(out, copyRun(run))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r runView) Latest(ctx context.Context) (*model.SyncRun, error) {
	runs, _ := r.ListRecent(ctx, 1)
	if len(runs) == 0 {
		return nil, repository.ErrNotFound
	}
	return runs[0], nil
}

// --- Каталог ---

// fakeDirectory — провайдер каталога в памяти.
type fakeDirectory struct {
	mu sync.Mutex

	unconfigured bool
	pageSize     int
	users        []directory.Account
	groups       map[string][]string
	managers     map[string]string
	groupMembers map[string][]string

	listErr    error
	profileErr error
	groupsErr  error
	managerErr error

	calls map[string]int
}

func newFakeDirectory(users ...directory.Account) *fakeDirectory {
	return &fakeDirectory{
		pageSize:     2,
		users:        users,
		groups:       make(map[string][]string),
		managers:     make(map[string]string),
		groupMembers: make(map[string][]string),
		calls:        make(map[string]int),
	}
}

func (f *fakeDirectory) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeDirectory) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func (f *fakeDirectory) record(op string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++
}

func (f *fakeDirectory) Name() string     { return "fake" }
func (f *fakeDirectory) Configured() bool { return !f.unconfigured }

func (f *fakeDirectory) ListAccounts(_ context.Context, cursor string) (*directory.AccountPage, error) {
	f.record("list")
	if f.listErr != nil {
		return nil, f.listErr
	}
	start := 0
	if cursor != "" {
		start, _ = strconv.Atoi(cursor)
	}
	end := start + f.pageSize
	page := &directory.AccountPage{}
	if end < len(f.users) {
		page.NextCursor = strconv.Itoa(end)
	} else {
		end = len(f.users)
	}
	page.Accounts = append(page.Accounts, f.users[start:end]...)
	return page, nil
}

func (f *fakeDirectory) GetProfile(_ context.Context, externalID string) (*directory.Account, error) {
	f.record("profile")
	if f.profileErr != nil {
		return nil, f.profileErr
	}
	for i := range f.users {
		if f.users[i].ID == externalID {
			u := f.users[i]
			return &u, nil
		}
	}
	return nil, &directory.APIError{StatusCode: 404, Body: "not found"}
}

func (f *fakeDirectory) GetGroupMemberships(_ context.Context, externalID string) ([]string, error) {
	f.record("groups")
	if f.groupsErr != nil {
		return nil, f.groupsErr
	}
	return f.groups[externalID], nil
}

func (f *fakeDirectory) GetManager(_ context.Context, externalID string) (string, error) {
	f.record("manager")
	if f.managerErr != nil {
		return "", f.managerErr
	}
	if m, ok := f.managers[externalID]; ok {
		return m, nil
	}
	return "", directory.ErrNotFound
}

func (f *fakeDirectory) ListGroupMembers(_ context.Context, groupID string) ([]string, error) {
	f.record("members")
	if f.groupsErr != nil {
		return nil, f.groupsErr
	}
	return f.groupMembers[groupID], nil
}

// user создаёт включённую учётную запись каталога.
func user(id, email string) directory.Account {
	return directory.Account{
		ID:          id,
		Mail:        email,
		GivenName:   "Имя " + id,
		Surname:     "Фамилия",
		DisplayName: "Пользователь " + id,
		Department:  "ИТ",
		Enabled:     true,
	}
}

// transient — ошибка, которую клиент каталога повторяет.
var transient = &directory.APIError{StatusCode: 503, Body: "service unavailable"}

var errStorage = errors.New("хранилище недоступно")

// --- Окружение ---

type testEnv struct {
	store      *memStore
	provider   *fakeDirectory
	dir        *directory.Client
	roles      *RoleResolver
	reconciler *AccountReconciler
	linker     *ManagerLinker
	deact      *DeactivationReconciler
	sync       *DirectorySyncService
	login      *LoginSyncService
	runs       runView
}

// newTestEnv собирает сервисы поверх in-memory хранилища и fakeDirectory.
// Повторы каталога выполняются без ожидания.
func newTestEnv(t *testing.T, provider *fakeDirectory) *testEnv {
	t.Helper()

	logger := testLogger()
	store := newMemStore()
	dir := directory.NewClient(provider, retry.Policy{
		MaxRetries: 2,
		BaseDelay:  time.Millisecond,
		Sleep:      func(context.Context, time.Duration) error { return nil },
	}, logger)

	lifecycle := lifecycleView{m: store}
	runs := runView{m: store}
	roles := NewRoleResolver(dir, testAdminGroup, testIssuerGroup, logger)
	reconciler := NewAccountReconciler(store, lifecycle, roles, logger)
	linker := NewManagerLinker(dir, store, logger)
	deact := NewDeactivationReconciler(store, lifecycle, logger)

	syncSvc := NewDirectorySyncService(DirectorySyncDeps{
		Directory:    dir,
		Runs:         runs,
		Accounts:     store,
		Reconciler:   reconciler,
		Linker:       linker,
		Deactivation: deact,
		Roles:        roles,
	}, 0, false, logger)

	login := NewLoginSyncService(dir, store, lifecycle, roles, linker, 24*time.Hour, 0, logger)

	return &testEnv{
		store:      store,
		provider:   provider,
		dir:        dir,
		roles:      roles,
		reconciler: reconciler,
		linker:     linker,
		deact:      deact,
		sync:       syncSvc,
		login:      login,
		runs:       runs,
	}
}

func strPtr(s string) *string { return &s }
