package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bigkaa/goartstore/directory-sync/internal/domain/model"
	"github.com/bigkaa/goartstore/directory-sync/internal/domain/rbac"
)

// seedSynced добавляет связанный аккаунт, синхронизированный age назад.
func seedSynced(s *memStore, extID string, age time.Duration) *model.Account {
	at := time.Now().UTC().Add(-age)
	return s.seed(&model.Account{
		ExternalID: strPtr(extID),
		Email:      extID + "@example.com",
		Role:       rbac.RoleEmployee,
		Active:     true,
		LastSyncAt: &at,
	})
}

func TestSyncOnLogin_Allowed(t *testing.T) {
	p := newFakeDirectory(user("u1", "u1@example.com"))
	p.groups["u1"] = []string{testAdminGroup}
	p.managers["u1"] = "m1"
	env := newTestEnv(t, p)
	mgr := seedLinked(env.store, "m1", rbac.RoleManager)
	acc := seedSynced(env.store, "u1", 72*time.Hour)

	res, err := env.login.SyncOnLogin(context.Background(), acc.ID)
	if err != nil {
		t.Fatalf("SyncOnLogin: %v", err)
	}
	if res.Rejected || res.Degraded {
		t.Fatalf("результат %+v, ожидался обычный вход", res)
	}

	got := env.store.byID(acc.ID)
	if got.Role != rbac.RoleAdmin {
		t.Errorf("Role = %s, ожидалось ADMIN", got.Role)
	}
	if got.ManagerID == nil || *got.ManagerID != mgr.ID {
		t.Errorf("ManagerID = %v, ожидалось %s", got.ManagerID, mgr.ID)
	}
	if got.FirstName != "Имя u1" {
		t.Errorf("FirstName = %q, профиль не обновлён", got.FirstName)
	}
	if time.Since(*got.LastSyncAt) > time.Minute {
		t.Error("LastSyncAt не обновлён")
	}
	for _, op := range []string{"profile", "groups", "manager"} {
		if p.count(op) != 1 {
			t.Errorf("%s: вызовов %d, ожидался 1", op, p.count(op))
		}
	}
}

func TestSyncOnLogin_EmailTaken(t *testing.T) {
	p := newFakeDirectory(user("u1", "taken@example.com"))
	env := newTestEnv(t, p)
	env.store.seed(&model.Account{Email: "taken@example.com", Role: rbac.RoleEmployee, Active: true})
	acc := seedSynced(env.store, "u1", time.Hour)

	res, err := env.login.SyncOnLogin(context.Background(), acc.ID)
	if err != nil {
		t.Fatalf("SyncOnLogin: %v", err)
	}
	if res.Rejected || res.Degraded {
		t.Fatalf("результат %+v, ожидался обычный вход", res)
	}

	got := env.store.byID(acc.ID)
	if got.Email != acc.Email {
		t.Errorf("Email = %q, ожидался прежний %q", got.Email, acc.Email)
	}
	if got.FirstName != "Имя u1" {
		t.Errorf("FirstName = %q, профиль не обновлён", got.FirstName)
	}
}

func TestSyncOnLogin_Rejections(t *testing.T) {
	t.Run("отключён в каталоге", func(t *testing.T) {
		off := user("u1", "u1@example.com")
		off.Enabled = false
		env := newTestEnv(t, newFakeDirectory(off))
		acc := seedSynced(env.store, "u1", time.Hour)

		res, err := env.login.SyncOnLogin(context.Background(), acc.ID)
		if err != nil {
			t.Fatalf("SyncOnLogin: %v", err)
		}
		if !res.Rejected || res.Reason != LoginReasonDisabled {
			t.Errorf("результат %+v, ожидался отказ %q", res, LoginReasonDisabled)
		}
	})

	t.Run("деактивирован локально", func(t *testing.T) {
		p := newFakeDirectory(user("u1", "u1@example.com"))
		env := newTestEnv(t, p)
		acc := env.store.seed(&model.Account{ExternalID: strPtr("u1"), Email: "u1@example.com", Role: rbac.RoleEmployee})

		res, err := env.login.SyncOnLogin(context.Background(), acc.ID)
		if err != nil {
			t.Fatalf("SyncOnLogin: %v", err)
		}
		if !res.Rejected {
			t.Errorf("результат %+v, ожидался отказ", res)
		}
		if p.totalCalls() != 0 {
			t.Errorf("вызовов каталога: %d, ожидалось 0", p.totalCalls())
		}
	})

	t.Run("аккаунт не найден", func(t *testing.T) {
		env := newTestEnv(t, newFakeDirectory())
		if _, err := env.login.SyncOnLogin(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("err = %v, ожидалось ErrNotFound", err)
		}
	})
}

func TestSyncOnLogin_LocalOnly(t *testing.T) {
	p := newFakeDirectory()
	env := newTestEnv(t, p)
	acc := env.store.seed(&model.Account{Email: "local@example.com", Role: rbac.RoleIssuer, Active: true})

	res, err := env.login.SyncOnLogin(context.Background(), acc.ID)
	if err != nil {
		t.Fatalf("SyncOnLogin: %v", err)
	}
	if res.Rejected || res.Degraded {
		t.Errorf("результат %+v, ожидался вход", res)
	}
	if p.totalCalls() != 0 {
		t.Errorf("вызовов каталога: %d, ожидалось 0", p.totalCalls())
	}
}

func TestSyncOnLogin_DirectoryUnavailable(t *testing.T) {
	tests := []struct {
		name     string
		age      time.Duration
		never    bool
		rejected bool
		degraded bool
		reason   string
	}{
		{name: "синхронизирован 2 часа назад", age: 2 * time.Hour, degraded: true, reason: LoginReasonDegraded},
		{name: "синхронизирован 48 часов назад", age: 48 * time.Hour, rejected: true, reason: LoginReasonExpired},
		{name: "никогда не синхронизирован", never: true, rejected: true, reason: LoginReasonExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newFakeDirectory(user("u1", "u1@example.com"))
			p.profileErr = transient
			env := newTestEnv(t, p)
			acc := seedSynced(env.store, "u1", tt.age)
			if tt.never {
				acc = env.store.seed(&model.Account{ExternalID: strPtr("u2"), Email: "u2@example.com", Role: rbac.RoleEmployee, Active: true})
			}

			res, err := env.login.SyncOnLogin(context.Background(), acc.ID)
			if err != nil {
				t.Fatalf("SyncOnLogin: %v", err)
			}
			if res.Rejected != tt.rejected || res.Degraded != tt.degraded || res.Reason != tt.reason {
				t.Errorf("результат %+v, ожидалось rejected=%v degraded=%v reason=%q", res, tt.rejected, tt.degraded, tt.reason)
			}
			// Повторы профиля: 1 попытка + 2 повтора
			if p.count("profile") != 3 {
				t.Errorf("запросов профиля: %d, ожидалось 3", p.count("profile"))
			}
		})
	}
}

func TestSyncOnLogin_GroupsFailureIgnored(t *testing.T) {
	p := newFakeDirectory(user("u1", "u1@example.com"))
	p.groupsErr = errors.New("forbidden")
	env := newTestEnv(t, p)
	acc := env.store.seed(&model.Account{ExternalID: strPtr("u1"), Email: "u1@example.com", Role: rbac.RoleAdmin, Active: true})

	res, err := env.login.SyncOnLogin(context.Background(), acc.ID)
	if err != nil {
		t.Fatalf("SyncOnLogin: %v", err)
	}
	if res.Rejected {
		t.Fatalf("результат %+v, ожидался вход", res)
	}
	if got := env.store.byID(acc.ID).Role; got != rbac.RoleEmployee {
		t.Errorf("Role = %s, ожидалось EMPLOYEE", got)
	}
}

func TestSyncOnLogin_Throttle(t *testing.T) {
	p := newFakeDirectory(user("u1", "u1@example.com"))
	env := newTestEnv(t, p)
	login := NewLoginSyncService(env.dir, env.store, lifecycleView{m: env.store}, env.roles, env.linker, 24*time.Hour, time.Hour, testLogger())
	acc := seedSynced(env.store, "u1", time.Hour)

	for i := 0; i < 3; i++ {
		res, err := login.SyncOnLogin(context.Background(), acc.ID)
		if err != nil || res.Rejected {
			t.Fatalf("попытка %d: res=%+v err=%v", i, res, err)
		}
	}
	if p.count("profile") != 1 {
		t.Errorf("запросов профиля: %d, ожидался 1", p.count("profile"))
	}
}

func TestProvisionOnLogin(t *testing.T) {
	t.Run("новый аккаунт", func(t *testing.T) {
		p := newFakeDirectory(user("u1", "U1@Example.com"))
		p.groups["u1"] = []string{testIssuerGroup}
		env := newTestEnv(t, p)

		res, err := env.login.ProvisionOnLogin(context.Background(), "u1")
		if err != nil {
			t.Fatalf("ProvisionOnLogin: %v", err)
		}
		if res.Rejected || res.Account == nil {
			t.Fatalf("результат %+v, ожидался вход", res)
		}

		acc := env.store.byExt("u1")
		if acc == nil || acc.Email != "u1@example.com" || acc.Role != rbac.RoleIssuer {
			t.Fatalf("аккаунт %+v, ожидался u1@example.com с ролью ISSUER", acc)
		}
		entries := env.store.auditFor(acc.ID, model.AuditActionProvisioned)
		if len(entries) != 1 || entries[0].Source != model.AuditSourceSystem {
			t.Errorf("аудит %+v, ожидалась одна запись с источником SYSTEM", entries)
		}
	})

	t.Run("отключён в каталоге", func(t *testing.T) {
		off := user("u1", "u1@example.com")
		off.Enabled = false
		env := newTestEnv(t, newFakeDirectory(off))

		res, err := env.login.ProvisionOnLogin(context.Background(), "u1")
		if err != nil {
			t.Fatalf("ProvisionOnLogin: %v", err)
		}
		if !res.Rejected || res.Reason != LoginReasonDisabled {
			t.Errorf("результат %+v, ожидался отказ", res)
		}
		if env.store.byExt("u1") != nil {
			t.Error("аккаунт создан для отключённой записи")
		}
	})

	t.Run("нет в каталоге", func(t *testing.T) {
		env := newTestEnv(t, newFakeDirectory())
		if _, err := env.login.ProvisionOnLogin(context.Background(), "ghost"); !errors.Is(err, ErrNotFound) {
			t.Errorf("err = %v, ожидалось ErrNotFound", err)
		}
	})

	t.Run("каталог недоступен", func(t *testing.T) {
		p := newFakeDirectory(user("u1", "u1@example.com"))
		p.profileErr = transient
		env := newTestEnv(t, p)
		if _, err := env.login.ProvisionOnLogin(context.Background(), "u1"); !errors.Is(err, ErrDirectoryUnavailable) {
			t.Errorf("err = %v, ожидалось ErrDirectoryUnavailable", err)
		}
	})

	t.Run("локальный аккаунт связывается по email", func(t *testing.T) {
		env := newTestEnv(t, newFakeDirectory(user("u1", "u1@example.com")))
		local := env.store.seed(&model.Account{Email: "U1@example.com", Role: rbac.RoleEmployee, Active: true})

		if _, err := env.login.ProvisionOnLogin(context.Background(), "u1"); err != nil {
			t.Fatalf("ProvisionOnLogin: %v", err)
		}
		got := env.store.byID(local.ID)
		if !got.IsLinked() || *got.ExternalID != "u1" {
			t.Errorf("ExternalID = %v, ожидалось u1", got.ExternalID)
		}
	})

	t.Run("повторный вход по external id", func(t *testing.T) {
		p := newFakeDirectory(user("u1", "u1@example.com"))
		env := newTestEnv(t, p)
		seedSynced(env.store, "u1", time.Hour)

		if _, err := env.login.SyncOnLoginByExternalID(context.Background(), "u1"); err != nil {
			t.Fatalf("SyncOnLoginByExternalID: %v", err)
		}
		accounts, _ := env.store.ListLinked(context.Background(), false)
		if len(accounts) != 1 {
			t.Errorf("аккаунтов: %d, ожидался 1", len(accounts))
		}
	})
}
